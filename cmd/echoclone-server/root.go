package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/echoclone/echoclone-go/internal/config"
)

var (
	cfgFile string

	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "echoclone-server",
	Short: "Voice cloning HTTP service",
	Long: `EchoClone accepts a short reference recording and a piece of text, runs a
voice-cloning model, and serves the generated clip over HTTP.

Start the server:
  echoclone-server

Point it at a model server and keep at most 500 clips on disk:
  echoclone-server --backend http://localhost:8081 --max-clips 500

Run the Coqui tts command line instead of a model server:
  echoclone-server --backend-kind exec

Use environment variables (a .env file in the working directory is loaded too):
  ECHOCLONE_LISTEN=0.0.0.0:9000 ECHOCLONE_BACKEND=http://model:8081 echoclone-server`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("echoclone-server %s\n", Version)
		fmt.Printf("  Commit:     %s\n", Commit)
		fmt.Printf("  Build Date: %s\n", BuildDate)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := config.Default()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	rootCmd.Flags().String("listen", defaults.Server.Listen, "Server listen address")
	rootCmd.Flags().Duration("read-timeout", defaults.Server.ReadTimeout, "HTTP read timeout")
	rootCmd.Flags().Duration("write-timeout", defaults.Server.WriteTimeout, "HTTP write timeout")

	rootCmd.Flags().String("backend-kind", defaults.Backend.Kind, "Model backend: http or exec")
	rootCmd.Flags().String("backend", defaults.Backend.URL, "Model server URL")
	rootCmd.Flags().Duration("backend-timeout", defaults.Backend.Timeout, "Maximum time for one synthesis")
	rootCmd.Flags().String("model", defaults.Backend.Model, "Model name passed to the backend")

	rootCmd.Flags().String("refs-dir", defaults.Storage.RefsDir, "Directory for uploaded reference samples")
	rootCmd.Flags().String("generated-dir", defaults.Storage.GeneratedDir, "Directory for generated clips")

	rootCmd.Flags().Int("workers", defaults.Queue.Workers, "Concurrent model calls")
	rootCmd.Flags().Int("max-pending", defaults.Queue.MaxPending, "Requests allowed to wait for a worker")

	rootCmd.Flags().Duration("max-age", defaults.Retention.MaxAge, "Remove files older than this (0 = keep)")
	rootCmd.Flags().Int("max-clips", defaults.Retention.MaxClips, "Keep at most this many clips on disk (0 = unlimited)")

	rootCmd.Flags().String("nats-url", defaults.Archive.NatsURL, "NATS server for the clip archive (empty = disabled)")
	rootCmd.Flags().String("clip-token-secret", defaults.Auth.ClipTokenSecret, "Require signed tokens to fetch clips (empty = open)")

	rootCmd.Flags().Int("max-text-length", defaults.Limits.MaxTextLength, "Maximum text length (0 = unlimited)")

	rootCmd.Flags().String("log-level", defaults.Logging.Level, "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", defaults.Logging.Format, "Log format (json, text)")

	bindFlags()

	rootCmd.AddCommand(versionCmd)
}

func bindFlags() {
	bindings := []struct {
		key  string
		flag string
	}{
		{"server.listen", "listen"},
		{"server.read_timeout", "read-timeout"},
		{"server.write_timeout", "write-timeout"},
		{"backend.kind", "backend-kind"},
		{"backend.url", "backend"},
		{"backend.timeout", "backend-timeout"},
		{"backend.model", "model"},
		{"storage.refs_dir", "refs-dir"},
		{"storage.generated_dir", "generated-dir"},
		{"queue.workers", "workers"},
		{"queue.max_pending", "max-pending"},
		{"retention.max_age", "max-age"},
		{"retention.max_clips", "max-clips"},
		{"archive.nats_url", "nats-url"},
		{"auth.clip_token_secret", "clip-token-secret"},
		{"limits.max_text_length", "max-text-length"},
		{"logging.level", "log-level"},
		{"logging.format", "log-format"},
	}

	for _, b := range bindings {
		flag := rootCmd.Flags().Lookup(b.flag)
		if flag == nil {
			continue
		}
		_ = viper.BindPFlag(b.key, flag)
	}
}

func initConfig() {
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())

	bindFlags()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// startupCheckTimeout bounds the backend probe at startup.
const startupCheckTimeout = 5 * time.Second

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
