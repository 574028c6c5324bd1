// Package clone implements the voice cloning operation: store the reference sample,
// run the model through the inference queue and publish the generated clip.
package clone

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/echoclone/echoclone-go/internal/auth"
	"github.com/echoclone/echoclone-go/internal/backend"
	"github.com/echoclone/echoclone-go/internal/metrics"
	"github.com/echoclone/echoclone-go/internal/schema"
	"github.com/echoclone/echoclone-go/internal/storage"
)

// URLPrefix is the public path clips are served under.
const URLPrefix = "/generated/"

// Submitter runs a job on the inference queue.
type Submitter interface {
	Submit(ctx context.Context, fn func(context.Context) error) error
}

// Archive receives a copy of every published clip.
type Archive interface {
	PutFile(ctx context.Context, name, path string) error
}

// Input is one clone request.
type Input struct {
	Filename string
	Audio    io.Reader
	Text     string
	Language string
}

// Result describes a published clip.
type Result struct {
	ClipID    string
	FileName  string
	URL       string
	Size      int64
	ExpiresAt *time.Time
}

// Options wires a Service. Archive, Tokens and Metrics are optional.
type Options struct {
	Store       *storage.Local
	Synthesizer backend.Synthesizer
	Queue       Submitter
	Archive     Archive
	Tokens      *auth.ClipTokens
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger

	MaxTextLength          int
	RemoveFailedReferences bool
}

// Service runs clone requests.
type Service struct {
	store        *storage.Local
	synth        backend.Synthesizer
	queue        Submitter
	archive      Archive
	tokens       *auth.ClipTokens
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	maxText      int
	removeFailed bool
}

// NewService builds a Service from opts.
func NewService(opts Options) *Service {
	return &Service{
		store:        opts.Store,
		synth:        opts.Synthesizer,
		queue:        opts.Queue,
		archive:      opts.Archive,
		tokens:       opts.Tokens,
		metrics:      opts.Metrics,
		logger:       opts.Logger.With().Str("component", "clone").Logger(),
		maxText:      opts.MaxTextLength,
		removeFailed: opts.RemoveFailedReferences,
	}
}

// Clone speaks in.Text in the voice of in.Audio and returns where the clip is served.
// Errors are *ValidationError or *Error.
func (s *Service) Clone(ctx context.Context, in Input) (*Result, error) {
	s.metrics.IncCloneRequests()

	res, err := s.clone(ctx, in)
	if err != nil {
		kind := KindOf(err)
		s.metrics.IncCloneFailure(string(kind))

		event := s.logger.Error()
		if kind == KindValidation || kind == KindCanceled {
			event = s.logger.Info()
		}
		event.Err(err).Str("kind", string(kind)).Msg("clone failed")
		return nil, err
	}

	s.metrics.IncCloneSuccess()
	return res, nil
}

func (s *Service) clone(ctx context.Context, in Input) (*Result, error) {
	if !strings.HasSuffix(in.Filename, storage.Extension) {
		return nil, ErrWrongExtension
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, Invalid(http.StatusUnprocessableEntity, "text is required")
	}
	if s.maxText > 0 && utf8.RuneCountInString(in.Text) > s.maxText {
		return nil, Invalid(http.StatusBadRequest, "text exceeds %d characters", s.maxText)
	}
	language := in.Language
	if strings.TrimSpace(language) == "" {
		language = schema.DefaultLanguage
	}

	refID := storage.NewID()
	refPath, err := s.store.SaveReference(refID, in.Audio)
	if err != nil {
		return nil, classify(err)
	}

	clipID := storage.NewID()
	logger := s.logger.With().Str("reference_id", refID).Str("clip_id", clipID).Logger()

	req := &schema.SynthesisRequest{
		Text:       in.Text,
		SpeakerWav: refPath,
		Language:   language,
		FilePath:   s.store.StagingPath(clipID),
	}
	if err := req.Validate(); err != nil {
		s.cleanup(refID, clipID)
		return nil, &Error{Kind: KindInternal, Message: "voice cloning failed", Err: err}
	}

	logger.Debug().Str("language", language).Int("text_length", len(in.Text)).Msg("submitting synthesis")

	// The queue detaches a started job from ctx, so the model call is bounded by the
	// backend timeout only and cleanup never races a running inference.
	var took time.Duration
	err = s.queue.Submit(ctx, func(jobCtx context.Context) error {
		start := time.Now()
		err := s.synth.Synthesize(jobCtx, req)
		took = time.Since(start)
		s.metrics.ObserveSynthesis(took)
		return err
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.cleanup(refID, clipID)
		return nil, classify(err)
	}

	size, err := s.store.Publish(clipID)
	if err != nil {
		s.cleanup(refID, clipID)
		return nil, classify(err)
	}

	fileName := storage.FileName(clipID)
	if s.archive != nil {
		if err := s.archive.PutFile(ctx, fileName, s.store.ClipPath(clipID)); err != nil {
			logger.Warn().Err(err).Msg("failed to archive clip")
		}
	}

	res := &Result{
		ClipID:   clipID,
		FileName: fileName,
		URL:      URLPrefix + fileName,
		Size:     size,
	}

	if s.tokens.Enabled() {
		token, expiresAt, err := s.tokens.Issue(clipID)
		if err != nil {
			return nil, &Error{Kind: KindInternal, Message: "failed to issue clip token", Err: err}
		}
		res.URL += "?token=" + url.QueryEscape(token)
		res.ExpiresAt = &expiresAt
	}

	logger.Info().
		Str("language", language).
		Int("text_length", len(in.Text)).
		Int64("bytes", size).
		Dur("synthesis", took).
		Msg("clip generated")

	return res, nil
}

func (s *Service) cleanup(refID, clipID string) {
	s.store.Discard(clipID)
	if s.removeFailed {
		if err := s.store.RemoveReference(refID); err != nil {
			s.logger.Warn().Err(err).Str("reference_id", refID).Msg("failed to remove reference")
		}
	}
}
