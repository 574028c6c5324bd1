package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echoclone/echoclone-go/internal/schema"
)

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/clone", func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		file, header, err := r.FormFile("reference_audio")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)

		assert.Equal(t, "me.wav", header.Filename)
		assert.Equal(t, "RIFF", string(data))
		assert.Equal(t, "Hola", r.FormValue("text"))
		assert.Equal(t, "es", r.FormValue("language"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(schema.CloneResponse{
			ClonedAudioURL: "/generated/abc.wav",
			Message:        schema.CloneMessage,
		})
	})
	mux.HandleFunc("/generated/abc.wav", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("audio"))
	})
	mux.HandleFunc("/generated/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Not Found"}`))
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := schema.HealthResponse{Status: "ok"}
		if r.URL.Query().Get("detailed") == "true" {
			resp.Queue = &schema.QueueHealth{Workers: 1}
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientCloneAndFetch(t *testing.T) {
	srv := fakeServer(t)
	ref := filepath.Join(t.TempDir(), "me.wav")
	require.NoError(t, os.WriteFile(ref, []byte("RIFF"), 0o644))

	c := NewClient(srv.URL+"/", time.Second)
	resp, err := c.Clone(context.Background(), ref, "Hola", "es")
	require.NoError(t, err)
	assert.Equal(t, "/generated/abc.wav", resp.ClonedAudioURL)

	audio, err := c.Fetch(context.Background(), resp.ClonedAudioURL)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(audio))

	audio, err = c.Fetch(context.Background(), "abc.wav")
	require.NoError(t, err)
	assert.Equal(t, "audio", string(audio))
}

func TestClientFetchNotFound(t *testing.T) {
	c := NewClient(fakeServer(t).URL, time.Second)

	_, err := c.Fetch(context.Background(), "missing.wav")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "Not Found")
}

func TestClientCloneMissingFile(t *testing.T) {
	c := NewClient(fakeServer(t).URL, time.Second)

	_, err := c.Clone(context.Background(), filepath.Join(t.TempDir(), "nope.wav"), "hi", "")
	assert.Error(t, err)
}

func TestClientHealth(t *testing.T) {
	c := NewClient(fakeServer(t).URL, time.Second)

	health, err := c.Health(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Nil(t, health.Queue)

	health, err = c.Health(context.Background(), true)
	require.NoError(t, err)
	require.NotNil(t, health.Queue)
	assert.Equal(t, 1, health.Queue.Workers)
}
