package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend kinds.
const (
	BackendHTTP = "http"
	BackendExec = "exec"
)

// DefaultModel is the multilingual voice-cloning model requested from the backend.
const DefaultModel = "tts_models/multilingual/multi-dataset/xtts_v2"

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Retention RetentionConfig `mapstructure:"retention"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BackendConfig selects and configures the speech model.
type BackendConfig struct {
	Kind    string        `mapstructure:"kind"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Model   string        `mapstructure:"model"`
	Command string        `mapstructure:"command"`
	Args    []string      `mapstructure:"args"`
}

// StorageConfig holds the on-disk layout.
type StorageConfig struct {
	RefsDir                string `mapstructure:"refs_dir"`
	GeneratedDir           string `mapstructure:"generated_dir"`
	RemoveFailedReferences bool   `mapstructure:"remove_failed_references"`
}

// ArchiveConfig configures the optional NATS object-store mirror of generated clips.
type ArchiveConfig struct {
	NatsURL string        `mapstructure:"nats_url"`
	Bucket  string        `mapstructure:"bucket"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// Enabled reports whether clips are mirrored to NATS.
func (a ArchiveConfig) Enabled() bool {
	return a.NatsURL != ""
}

// QueueConfig bounds concurrent access to the model.
type QueueConfig struct {
	Workers    int `mapstructure:"workers"`
	MaxPending int `mapstructure:"max_pending"`
}

// RetentionConfig controls the background sweep of stored files.
type RetentionConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	MaxClips     int           `mapstructure:"max_clips"`
	PartialGrace time.Duration `mapstructure:"partial_grace"`
}

// AuthConfig holds clip capability token settings.
type AuthConfig struct {
	ClipTokenSecret string        `mapstructure:"clip_token_secret"`
	ClipTokenTTL    time.Duration `mapstructure:"clip_token_ttl"`
}

// LimitsConfig holds request limit settings.
type LimitsConfig struct {
	MaxTextLength  int   `mapstructure:"max_text_length"`
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultExecArgs invoke the Coqui TTS command line with the stored reference.
func DefaultExecArgs() []string {
	return []string{
		"--model_name", "{model}",
		"--text", "{text}",
		"--speaker_wav", "{reference}",
		"--language_idx", "{language}",
		"--out_path", "{output}",
	}
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          "0.0.0.0:8000",
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    15 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Backend: BackendConfig{
			Kind:    BackendHTTP,
			URL:     "http://127.0.0.1:8081",
			Timeout: 10 * time.Minute,
			Model:   DefaultModel,
			Command: "tts",
			Args:    DefaultExecArgs(),
		},
		Storage: StorageConfig{
			RefsDir:                "refs",
			GeneratedDir:           "generated",
			RemoveFailedReferences: true,
		},
		Archive: ArchiveConfig{
			Bucket: "echoclone-clips",
		},
		Queue: QueueConfig{
			Workers:    1,
			MaxPending: 16,
		},
		Retention: RetentionConfig{
			Interval:     10 * time.Minute,
			MaxAge:       24 * time.Hour,
			PartialGrace: time.Hour,
		},
		Auth: AuthConfig{
			ClipTokenTTL: 24 * time.Hour,
		},
		Limits: LimitsConfig{
			MaxUploadBytes: 50 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// SetDefaults registers every key with its default so env lookups and Unmarshal see it.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("backend.kind", d.Backend.Kind)
	v.SetDefault("backend.url", d.Backend.URL)
	v.SetDefault("backend.timeout", d.Backend.Timeout)
	v.SetDefault("backend.model", d.Backend.Model)
	v.SetDefault("backend.command", d.Backend.Command)
	v.SetDefault("backend.args", d.Backend.Args)

	v.SetDefault("storage.refs_dir", d.Storage.RefsDir)
	v.SetDefault("storage.generated_dir", d.Storage.GeneratedDir)
	v.SetDefault("storage.remove_failed_references", d.Storage.RemoveFailedReferences)

	v.SetDefault("archive.nats_url", d.Archive.NatsURL)
	v.SetDefault("archive.bucket", d.Archive.Bucket)
	v.SetDefault("archive.ttl", d.Archive.TTL)

	v.SetDefault("queue.workers", d.Queue.Workers)
	v.SetDefault("queue.max_pending", d.Queue.MaxPending)

	v.SetDefault("retention.interval", d.Retention.Interval)
	v.SetDefault("retention.max_age", d.Retention.MaxAge)
	v.SetDefault("retention.max_clips", d.Retention.MaxClips)
	v.SetDefault("retention.partial_grace", d.Retention.PartialGrace)

	v.SetDefault("auth.clip_token_secret", d.Auth.ClipTokenSecret)
	v.SetDefault("auth.clip_token_ttl", d.Auth.ClipTokenTTL)

	v.SetDefault("limits.max_text_length", d.Limits.MaxTextLength)
	v.SetDefault("limits.max_upload_bytes", d.Limits.MaxUploadBytes)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// BindEnv enables ECHOCLONE_* environment overrides for every key, plus the short aliases.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("ECHOCLONE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("server.listen", "ECHOCLONE_LISTEN", "ECHOCLONE_SERVER_LISTEN")
	_ = v.BindEnv("backend.url", "ECHOCLONE_BACKEND", "ECHOCLONE_BACKEND_URL")
}

// FromViper decodes the viper state into a validated Config.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Backend.Args) == 0 {
		cfg.Backend.Args = DefaultExecArgs()
	}
	// Archived clips expire with their local copies unless the bucket sets its own TTL.
	if cfg.Archive.TTL == 0 {
		cfg.Archive.TTL = cfg.Retention.MaxAge
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend.Kind {
	case BackendHTTP:
		if c.Backend.URL == "" {
			errs = append(errs, errors.New("backend.url is required for the http backend"))
		}
	case BackendExec:
		if c.Backend.Command == "" {
			errs = append(errs, errors.New("backend.command is required for the exec backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend.kind %q (want %q or %q)", c.Backend.Kind, BackendHTTP, BackendExec))
	}

	if c.Backend.Timeout < 0 {
		errs = append(errs, errors.New("backend.timeout must not be negative"))
	}
	if c.Storage.RefsDir == "" || c.Storage.GeneratedDir == "" {
		errs = append(errs, errors.New("storage.refs_dir and storage.generated_dir are required"))
	}
	if c.Queue.Workers <= 0 {
		errs = append(errs, errors.New("queue.workers must be positive"))
	}
	if c.Queue.MaxPending < 0 {
		errs = append(errs, errors.New("queue.max_pending must not be negative"))
	}
	if c.Archive.TTL < 0 {
		errs = append(errs, errors.New("archive.ttl must not be negative"))
	}
	if c.Retention.MaxAge < 0 || c.Retention.MaxClips < 0 || c.Retention.Interval < 0 {
		errs = append(errs, errors.New("retention settings must not be negative"))
	}
	if c.Limits.MaxTextLength < 0 || c.Limits.MaxUploadBytes < 0 {
		errs = append(errs, errors.New("limits must not be negative"))
	}
	if c.Archive.Enabled() && c.Archive.Bucket == "" {
		errs = append(errs, errors.New("archive.bucket is required when archive.nats_url is set"))
	}

	return errors.Join(errs...)
}
