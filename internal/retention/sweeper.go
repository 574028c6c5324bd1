// Package retention evicts old reference samples and clips in the background.
package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/echoclone/echoclone-go/internal/archive"
	"github.com/echoclone/echoclone-go/internal/config"
	"github.com/echoclone/echoclone-go/internal/metrics"
	"github.com/echoclone/echoclone-go/internal/storage"
)

// firstPassDelay is how long after Start the first sweep runs.
const firstPassDelay = 10 * time.Second

// Archive is the remote copy of published clips.
type Archive interface {
	List(ctx context.Context) ([]archive.ClipInfo, error)
	Delete(ctx context.Context, name string) error
}

// Sweeper periodically removes expired files.
//
// Age is measured from when a file was written; fetching a clip does not extend it.
// Clips beyond MaxClips are removed locally only, least recently fetched first, and
// stay retrievable from the archive until they reach MaxAge there.
type Sweeper struct {
	store   *storage.Local
	cfg     config.RetentionConfig
	archive Archive
	metrics *metrics.Metrics
	logger  zerolog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper builds a Sweeper. archive and m may be nil.
func NewSweeper(store *storage.Local, cfg config.RetentionConfig, archive Archive, m *metrics.Metrics, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		cfg:      cfg,
		archive:  archive,
		metrics:  m,
		logger:   logger.With().Str("component", "retention").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start runs the sweep loop in the background. A non-positive interval disables it.
func (s *Sweeper) Start() {
	if s.cfg.Interval <= 0 {
		s.logger.Info().Msg("retention sweeper disabled")
		return
	}

	s.wg.Add(1)
	go s.loop()
	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Dur("max_age", s.cfg.MaxAge).
		Int("max_clips", s.cfg.MaxClips).
		Msg("retention sweeper started")
}

// Stop ends the loop and waits for a running pass to finish. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	delay := firstPassDelay
	if s.cfg.Interval < delay {
		delay = s.cfg.Interval
	}
	initialTimer := time.NewTimer(delay)
	defer initialTimer.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-initialTimer.C:
			s.run()
		case <-ticker.C:
			s.run()
		}
	}
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval)
	defer cancel()

	removed, err := s.RunOnce(ctx, time.Now())
	if err != nil {
		s.logger.Error().Err(err).Int("removed", removed).Msg("retention sweep finished with errors")
		return
	}
	s.logger.Info().Int("removed", removed).Msg("retention sweep finished")
}

// RunOnce performs one sweep relative to now and returns the number of local files
// and archived clips removed.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) (int, error) {
	var errs []error
	removed := 0

	refs, err := listFiles(s.store.RefsDir())
	if err != nil {
		errs = append(errs, err)
	}
	for _, f := range refs {
		temp := strings.HasPrefix(f.name, ".")
		if (temp && s.expired(f, now, s.cfg.PartialGrace)) || (!temp && s.expired(f, now, s.cfg.MaxAge)) {
			if s.remove(f, "reference", &errs) {
				removed++
			}
		}
	}

	clips, err := listFiles(s.store.GeneratedDir())
	if err != nil {
		errs = append(errs, err)
	}
	kept := clips[:0]
	for _, f := range clips {
		if strings.HasPrefix(f.name, ".") || !strings.HasSuffix(f.name, storage.Extension) {
			continue
		}
		if !s.expired(f, now, s.cfg.MaxAge) {
			kept = append(kept, f)
			continue
		}
		if s.remove(f, "clip", &errs) {
			removed++
		}
	}

	if s.cfg.MaxClips > 0 && len(kept) > s.cfg.MaxClips {
		sort.Slice(kept, func(i, j int) bool { return kept[i].lastAccess.Before(kept[j].lastAccess) })
		for _, f := range kept[:len(kept)-s.cfg.MaxClips] {
			if s.remove(f, "clip", &errs) {
				removed++
			}
		}
	}

	partials, err := listFiles(s.store.PartialDir())
	if err != nil {
		errs = append(errs, err)
	}
	for _, f := range partials {
		if s.expired(f, now, s.cfg.PartialGrace) {
			if s.remove(f, "partial", &errs) {
				removed++
			}
		}
	}

	removed += s.sweepArchive(ctx, now, &errs)

	s.metrics.AddRetentionRemoved(removed)
	return removed, errors.Join(errs...)
}

// sweepArchive deletes archived clips older than MaxAge, including those already
// evicted locally by the count cap.
func (s *Sweeper) sweepArchive(ctx context.Context, now time.Time, errs *[]error) int {
	if s.archive == nil || s.cfg.MaxAge <= 0 {
		return 0
	}

	clips, err := s.archive.List(ctx)
	if err != nil {
		*errs = append(*errs, err)
		return 0
	}

	removed := 0
	for _, c := range clips {
		if now.Sub(c.ModTime) <= s.cfg.MaxAge {
			continue
		}
		if err := s.archive.Delete(ctx, c.Name); err != nil {
			*errs = append(*errs, err)
			continue
		}
		s.logger.Debug().Str("kind", "archive").Str("name", c.Name).Time("mod_time", c.ModTime).Msg("removed")
		removed++
	}
	return removed
}

func (s *Sweeper) expired(f file, now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && now.Sub(f.modTime) > maxAge
}

func (s *Sweeper) remove(f file, what string, errs *[]error) bool {
	if err := os.Remove(f.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false
		}
		*errs = append(*errs, err)
		return false
	}
	s.logger.Debug().Str("kind", what).Str("name", f.name).Time("mod_time", f.modTime).Msg("removed")
	return true
}

type file struct {
	name       string
	path       string
	modTime    time.Time
	lastAccess time.Time
}

func listFiles(dir string) ([]file, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	files := make([]file, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{
			name:       e.Name(),
			path:       filepath.Join(dir, e.Name()),
			modTime:    info.ModTime(),
			lastAccess: storage.LastAccess(info),
		})
	}
	return files, nil
}
