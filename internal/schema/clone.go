package schema

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultLanguage is used when a clone request omits the language.
	DefaultLanguage = "en"
	// CloneMessage is the confirmation returned with every generated clip.
	CloneMessage = "Voice cloned 🔥 Say whatever, whenever."
)

// CloneResponse is returned by POST /clone.
type CloneResponse struct {
	ClonedAudioURL string     `json:"cloned_audio_url"`
	Message        string     `json:"message"`
	ClipID         string     `json:"clip_id,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// SynthesisRequest is the call contract of the external voice model:
// speak Text in the voice of SpeakerWav, in Language, writing audio to FilePath.
type SynthesisRequest struct {
	Text       string `json:"text" msgpack:"text"`
	SpeakerWav string `json:"speaker_wav" msgpack:"speaker_wav"`
	Language   string `json:"language" msgpack:"language"`
	FilePath   string `json:"file_path" msgpack:"file_path"`
	Model      string `json:"model,omitempty" msgpack:"model,omitempty"`
}

// Validate checks the fields the model cannot run without. Language is not checked
// against a supported set; the model decides.
func (r *SynthesisRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return errors.New("text is required")
	}
	if r.SpeakerWav == "" {
		return errors.New("speaker_wav is required")
	}
	if r.FilePath == "" {
		return errors.New("file_path is required")
	}
	if !filepath.IsAbs(r.SpeakerWav) || !filepath.IsAbs(r.FilePath) {
		return fmt.Errorf("paths must be absolute: speaker_wav=%q file_path=%q", r.SpeakerWav, r.FilePath)
	}
	if r.Language == "" {
		r.Language = DefaultLanguage
	}
	return nil
}
