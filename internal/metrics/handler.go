package metrics

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/echoclone/echoclone-go/internal/queue"
)

// QueueStats supplies the inference queue gauges.
type QueueStats interface {
	Stats() queue.Stats
}

// Handler exposes metrics using a Prometheus-compatible text format.
func Handler(m *Metrics, q QueueStats) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		b := &strings.Builder{}

		writeMetric(b, "echoclone_clone_requests_total", "counter", m.CloneRequests())
		writeMetric(b, "echoclone_clone_success_total", "counter", m.CloneSuccess())

		failures := m.CloneFailures()
		fmt.Fprintf(b, "# TYPE echoclone_clone_failures_total counter\n")
		for _, kind := range sortedKeys(failures) {
			fmt.Fprintf(b, "echoclone_clone_failures_total{kind=%q} %d\n", kind, failures[kind])
		}

		total, count := m.Synthesis()
		fmt.Fprintf(b, "# TYPE echoclone_synthesis_seconds summary\n")
		fmt.Fprintf(b, "echoclone_synthesis_seconds_sum %g\n", total.Seconds())
		fmt.Fprintf(b, "echoclone_synthesis_seconds_count %d\n", count)

		if q != nil {
			stats := q.Stats()
			writeMetric(b, "echoclone_queue_workers", "gauge", int64(stats.Workers))
			writeMetric(b, "echoclone_queue_pending", "gauge", stats.Pending)
			writeMetric(b, "echoclone_queue_active", "gauge", stats.Active)
		}

		writeMetric(b, "echoclone_clip_fetches_total", "counter", m.ClipFetches())
		writeMetric(b, "echoclone_clip_not_found_total", "counter", m.ClipNotFound())
		writeMetric(b, "echoclone_retention_removed_total", "counter", m.RetentionRemoved())

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(b.String()))
	})
}

func writeMetric(b *strings.Builder, name, metricType string, value int64) {
	fmt.Fprintf(b, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(b, "%s %d\n", name, value)
}
