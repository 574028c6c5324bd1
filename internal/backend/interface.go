package backend

import (
	"context"

	"github.com/echoclone/echoclone-go/internal/config"
	"github.com/echoclone/echoclone-go/internal/schema"
)

// Synthesizer is the external voice-cloning model. Synthesize blocks until the audio
// has been written to req.FilePath or the model failed.
type Synthesizer interface {
	Health(ctx context.Context) error
	Synthesize(ctx context.Context, req *schema.SynthesisRequest) error
}

// Ensure both implementations satisfy Synthesizer.
var (
	_ Synthesizer = (*BackendClient)(nil)
	_ Synthesizer = (*CommandRunner)(nil)
)

// New builds the Synthesizer selected by cfg.Kind.
func New(cfg *config.BackendConfig) Synthesizer {
	if cfg.Kind == config.BackendExec {
		return NewCommandRunner(cfg)
	}
	return NewBackendClient(cfg)
}
