package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/echoclone/echoclone-go/internal/schema"
)

// Client talks to an EchoClone server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Clone uploads the reference sample at refPath and asks for text to be spoken in its voice.
func (c *Client) Clone(ctx context.Context, refPath, text, language string) (*schema.CloneResponse, error) {
	f, err := os.Open(refPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference file: %w", err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("reference_audio", filepath.Base(refPath))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to read reference file: %w", err)
	}
	if err := mw.WriteField("text", text); err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/clone", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	data, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp schema.CloneResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// Fetch downloads a clip. ref is either a URL returned by Clone or a bare file name.
func (c *Client) Fetch(ctx context.Context, ref string) ([]byte, error) {
	target, err := c.resolve(ref)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

// Health fetches the server health, with model and queue state when detailed.
func (c *Client) Health(ctx context.Context, detailed bool) (*schema.HealthResponse, error) {
	target := c.baseURL + "/health"
	if detailed {
		target += "?detailed=true"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	data, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var health schema.HealthResponse
	if err := json.Unmarshal(data, &health); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &health, nil
}

func (c *Client) resolve(ref string) (string, error) {
	if !strings.Contains(ref, "/") {
		ref = "/generated/" + ref
	}
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	u, err := base.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid clip reference %q: %w", ref, err)
	}
	return u.String(), nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		var errResp schema.ErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Detail != "" {
			return nil, fmt.Errorf("server error (status %d): %s", resp.StatusCode, errResp.Detail)
		}
		return nil, fmt.Errorf("server error (status %d): %s", resp.StatusCode, string(data))
	}

	return data, nil
}
