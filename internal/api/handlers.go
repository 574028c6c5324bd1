package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/echoclone/echoclone-go/internal/archive"
	"github.com/echoclone/echoclone-go/internal/auth"
	"github.com/echoclone/echoclone-go/internal/backend"
	"github.com/echoclone/echoclone-go/internal/clone"
	"github.com/echoclone/echoclone-go/internal/metrics"
	"github.com/echoclone/echoclone-go/internal/schema"
	"github.com/echoclone/echoclone-go/internal/storage"
)

// LiveMessage is returned by GET /.
const LiveMessage = "EchoClone live 🚀"

const healthTimeout = 5 * time.Second

// ClipSource serves clips that are no longer on local disk.
type ClipSource interface {
	Open(ctx context.Context, name string) (io.ReadCloser, *archive.ClipInfo, error)
}

// Deps are the components the HTTP layer calls into. Archive, Tokens and Metrics are optional.
type Deps struct {
	Clone          *clone.Service
	Store          *storage.Local
	Archive        ClipSource
	Tokens         *auth.ClipTokens
	Synthesizer    backend.Synthesizer
	Queue          metrics.QueueStats
	Metrics        *metrics.Metrics
	MaxUploadBytes int64
}

// Handler implements the HTTP endpoints.
type Handler struct {
	deps   Deps
	logger zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(deps Deps, logger zerolog.Logger) *Handler {
	return &Handler{deps: deps, logger: logger}
}

// HandleRoot is the liveness probe.
func (h *Handler) HandleRoot(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, schema.RootResponse{Message: LiveMessage})
}

// HandleClone accepts a reference sample and text and returns the URL of the generated clip.
func (h *Handler) HandleClone(w http.ResponseWriter, r *http.Request) {
	form, err := ParseCloneForm(w, r, h.deps.MaxUploadBytes)
	if err != nil {
		if httpErr, ok := IsHTTPError(err); ok {
			h.deps.Metrics.IncCloneRequests()
			h.deps.Metrics.IncCloneFailure(string(clone.KindValidation))
			WriteError(w, httpErr.Status, httpErr.Message)
			return
		}
		WriteError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	defer form.Close()

	res, err := h.deps.Clone.Clone(r.Context(), clone.Input{
		Filename: form.Filename,
		Audio:    form.File,
		Text:     form.Text,
		Language: form.Language,
	})
	if err != nil {
		h.writeCloneError(w, err)
		return
	}

	resp := schema.CloneResponse{
		ClonedAudioURL: res.URL,
		Message:        schema.CloneMessage,
	}
	if res.ExpiresAt != nil {
		resp.ClipID = res.ClipID
		resp.ExpiresAt = res.ExpiresAt
	}
	WriteJSON(w, http.StatusOK, resp)
}

// writeCloneError is the single place clone failures become HTTP statuses.
func (h *Handler) writeCloneError(w http.ResponseWriter, err error) {
	var ve *clone.ValidationError
	if errors.As(err, &ve) {
		WriteError(w, ve.Status, ve.Message)
		return
	}

	var ce *clone.Error
	if !errors.As(err, &ce) {
		WriteError(w, http.StatusInternalServerError, "voice cloning failed")
		return
	}

	switch ce.Kind {
	case clone.KindInputRejected:
		WriteError(w, http.StatusUnprocessableEntity, ce.Message)
	case clone.KindResourceExhausted, clone.KindCanceled:
		w.Header().Set("Retry-After", "5")
		WriteError(w, http.StatusServiceUnavailable, ce.Message)
	case clone.KindDiskFull:
		WriteError(w, http.StatusInsufficientStorage, ce.Message)
	case clone.KindUnavailable:
		WriteError(w, http.StatusBadGateway, ce.Message)
	case clone.KindTimeout:
		WriteError(w, http.StatusGatewayTimeout, ce.Message)
	default:
		WriteError(w, http.StatusInternalServerError, ce.Message)
	}
}

// HandleGenerated serves a generated clip by file name.
func (h *Handler) HandleGenerated(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !storage.ValidClipName(name) {
		h.notFound(w)
		return
	}

	if h.deps.Tokens.Enabled() {
		clipID := strings.TrimSuffix(name, storage.Extension)
		if err := h.deps.Tokens.Verify(clipToken(r), clipID); err != nil {
			WriteError(w, http.StatusForbidden, "Invalid or expired token")
			return
		}
	}

	f, info, err := h.deps.Store.OpenClip(name)
	if err == nil {
		defer f.Close()
		if err := h.deps.Store.Touch(name); err != nil {
			h.logger.Debug().Err(err).Str("clip", name).Msg("failed to record clip access")
		}
		h.deps.Metrics.IncClipFetches()
		w.Header().Set("Content-Type", AudioContentType)
		http.ServeContent(w, r, name, info.ModTime(), f)
		return
	}
	if !errors.Is(err, storage.ErrNotFound) {
		h.logger.Error().Err(err).Str("clip", name).Msg("failed to open clip")
		WriteError(w, http.StatusInternalServerError, "failed to read clip")
		return
	}

	if h.deps.Archive != nil && h.serveArchived(w, r, name) {
		return
	}

	h.notFound(w)
}

func (h *Handler) serveArchived(w http.ResponseWriter, r *http.Request, name string) bool {
	rc, info, err := h.deps.Archive.Open(r.Context(), name)
	if err != nil {
		if !errors.Is(err, archive.ErrNotFound) {
			h.logger.Warn().Err(err).Str("clip", name).Msg("archive lookup failed")
		}
		return false
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		h.logger.Warn().Err(err).Str("clip", name).Msg("failed to read archived clip")
		return false
	}

	h.deps.Metrics.IncClipFetches()
	w.Header().Set("Content-Type", AudioContentType)
	http.ServeContent(w, r, name, info.ModTime, bytes.NewReader(data))
	return true
}

func (h *Handler) notFound(w http.ResponseWriter) {
	h.deps.Metrics.IncClipNotFound()
	WriteError(w, http.StatusNotFound, "Not Found")
}

func clipToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	return ""
}

// HandleHealth reports liveness, and model and queue state when ?detailed=true.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	detailed, _ := strconv.ParseBool(r.URL.Query().Get("detailed"))
	if !detailed {
		WriteJSON(w, http.StatusOK, schema.HealthResponse{Status: "ok"})
		return
	}

	resp := schema.HealthResponse{Status: "ok"}

	if h.deps.Synthesizer != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		start := time.Now()
		err := h.deps.Synthesizer.Health(ctx)
		bh := &schema.BackendHealth{
			Status:    "ok",
			LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
		}
		if err != nil {
			bh.Status = "unavailable"
			bh.Error = err.Error()
			resp.Status = "degraded"
		}
		resp.Backend = bh
	}

	if h.deps.Queue != nil {
		stats := h.deps.Queue.Stats()
		resp.Queue = &schema.QueueHealth{
			Workers: stats.Workers,
			Pending: stats.Pending,
			Active:  stats.Active,
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}
