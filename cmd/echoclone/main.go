package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	output    string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "echoclone",
	Short: "Command-line client for an EchoClone server",
	Long: `echoclone talks to a running echoclone-server.

Examples:
  # Clone a voice and download the result
  echoclone clone --reference me.wav -o hello.wav "Hello from Go"

  # Spanish, print only the clip URL
  echoclone clone --reference me.wav --language es "Hola"

  # Download a clip by URL or file name
  echoclone fetch -o clip.wav /generated/3f0c5d1e-8e33-4b9e-9a57-0d3f1c2b4a5e.wav

  # Check the server
  echoclone health --detailed`,
}

var cloneCmd = &cobra.Command{
	Use:   "clone [text]",
	Short: "Speak text in the voice of a reference recording",
	Args:  cobra.ExactArgs(1),
	RunE:  runClone,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [clip-url-or-name]",
	Short: "Download a generated clip",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	RunE:  runHealth,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8000", "EchoClone server URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Minute, "Request timeout")

	cloneCmd.Flags().String("reference", "", "Reference recording (.wav)")
	cloneCmd.Flags().String("language", "", "Language code (server default: en)")
	cloneCmd.Flags().StringP("output", "o", "", "Also download the clip to this file")
	_ = cloneCmd.MarkFlagRequired("reference")

	fetchCmd.Flags().StringP("output", "o", "", "Output file (default: the clip's file name)")

	healthCmd.Flags().Bool("detailed", false, "Show model and queue status")
	healthCmd.Flags().StringVar(&output, "format", "text", "Output format: text, json")

	rootCmd.AddCommand(cloneCmd, fetchCmd, healthCmd)
}

func runClone(cmd *cobra.Command, args []string) error {
	reference, _ := cmd.Flags().GetString("reference")
	language, _ := cmd.Flags().GetString("language")
	outFile, _ := cmd.Flags().GetString("output")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := NewClient(serverURL, timeout)
	resp, err := client.Clone(ctx, reference, args[0], language)
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, resp.Message)
	fmt.Println(resp.ClonedAudioURL)
	if resp.ExpiresAt != nil {
		fmt.Fprintf(os.Stderr, "Link expires at %s\n", resp.ExpiresAt.Format(time.RFC3339))
	}

	if outFile == "" {
		return nil
	}
	return download(ctx, client, resp.ClonedAudioURL, outFile)
}

func runFetch(cmd *cobra.Command, args []string) error {
	outFile, _ := cmd.Flags().GetString("output")
	if outFile == "" {
		outFile = path.Base(strings.SplitN(args[0], "?", 2)[0])
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return download(ctx, NewClient(serverURL, timeout), args[0], outFile)
}

func download(ctx context.Context, client *Client, ref, outFile string) error {
	audio, err := client.Fetch(ctx, ref)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outFile, audio, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Audio saved to %s (%d bytes)\n", outFile, len(audio))
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	detailed, _ := cmd.Flags().GetBool("detailed")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	health, err := NewClient(serverURL, timeout).Health(ctx, detailed)
	if err != nil {
		return err
	}

	if output == "json" {
		data, _ := json.MarshalIndent(health, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Status: %s\n", health.Status)
	if b := health.Backend; b != nil {
		fmt.Printf("Backend: %s (latency: %.0fms)\n", b.Status, b.LatencyMs)
		if b.Error != "" {
			fmt.Printf("Backend Error: %s\n", b.Error)
		}
	}
	if q := health.Queue; q != nil {
		fmt.Printf("Queue: %d workers, %d active, %d pending\n", q.Workers, q.Active, q.Pending)
	}

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
