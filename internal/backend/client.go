package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/echoclone/echoclone-go/internal/config"
	"github.com/echoclone/echoclone-go/internal/schema"
)

const maxErrorBody = 64 << 10

// BackendClient talks to the Python model server that holds the loaded voice model.
type BackendClient struct {
	httpClient *http.Client
	endpoint   string
	model      string
	timeout    time.Duration
}

// NewBackendClient creates a new backend client with connection pooling.
func NewBackendClient(cfg *config.BackendConfig) *BackendClient {
	transport := &http.Transport{
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}

	return &BackendClient{
		httpClient: client,
		endpoint:   strings.TrimRight(cfg.URL, "/"),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
	}
}

// Health checks if the model server is reachable and has its model loaded.
func (c *BackendClient) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// Synthesize asks the model server to render req.Text in the voice of req.SpeakerWav
// into req.FilePath. Both paths must be visible to the model server.
func (c *BackendClient) Synthesize(ctx context.Context, req *schema.SynthesisRequest) error {
	if req != nil && req.Model == "" {
		req.Model = c.model
	}

	body, err := EncodeSynthesisRequest(req)
	if err != nil {
		return &BackendError{Kind: KindInputRejected, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/synthesize", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/msgpack")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &BackendError{
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    errorDetail(bodyBytes),
		}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// errorDetail extracts FastAPI's {"detail": ...} message, falling back to the raw body.
func errorDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			return s
		}
		return string(payload.Detail)
	}

	var errResp schema.ErrorResponse
	if err := DecodeMsgpack(body, &errResp); err == nil && errResp.Detail != "" {
		return errResp.Detail
	}

	return strings.TrimSpace(string(body))
}
