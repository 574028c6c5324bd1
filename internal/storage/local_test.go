package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *Local {
	t.Helper()
	root := t.TempDir()
	l, err := NewLocal(filepath.Join(root, "refs"), filepath.Join(root, "generated"))
	require.NoError(t, err)
	return l
}

func TestNewLocalCreatesDirsAndClearsStaging(t *testing.T) {
	root := t.TempDir()
	generated := filepath.Join(root, "generated")
	leftover := filepath.Join(generated, PartialDirName, "crashed.wav")
	require.NoError(t, os.MkdirAll(filepath.Dir(leftover), 0o755))
	require.NoError(t, os.WriteFile(leftover, []byte("half"), 0o644))

	l, err := NewLocal(filepath.Join(root, "refs"), generated)
	require.NoError(t, err)

	for _, dir := range []string{l.RefsDir(), l.GeneratedDir(), l.PartialDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.True(t, filepath.IsAbs(dir))
	}
	assert.NoFileExists(t, leftover)
}

func TestNewIDIsUniqueUUID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := NewID()
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestSaveReferenceWritesVerbatim(t *testing.T) {
	l := newLocal(t)
	payload := []byte("RIFF$\x00\x00\x00WAVEfmt ")

	path, err := l.SaveReference("abc", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, l.ReferencePath("abc"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	entries, err := os.ReadDir(l.RefsDir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary upload file should be renamed, not left behind")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("client went away") }

func TestSaveReferenceFailureLeavesNothing(t *testing.T) {
	l := newLocal(t)

	_, err := l.SaveReference("abc", io.MultiReader(bytes.NewReader([]byte("RIFF")), failingReader{}))
	require.Error(t, err)

	entries, err := os.ReadDir(l.RefsDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPublishMovesStagedOutput(t *testing.T) {
	l := newLocal(t)
	require.NoError(t, os.WriteFile(l.StagingPath("clip"), []byte("audio"), 0o644))

	size, err := l.Publish("clip")
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)

	assert.NoFileExists(t, l.StagingPath("clip"))
	data, err := os.ReadFile(l.ClipPath("clip"))
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), data)
}

func TestPublishMissingOrEmptyOutput(t *testing.T) {
	l := newLocal(t)

	_, err := l.Publish("missing")
	assert.ErrorIs(t, err, ErrNoOutput)

	require.NoError(t, os.WriteFile(l.StagingPath("empty"), nil, 0o644))
	_, err = l.Publish("empty")
	assert.ErrorIs(t, err, ErrEmptyOutput)
	assert.NoFileExists(t, l.StagingPath("empty"))
	assert.NoFileExists(t, l.ClipPath("empty"))
}

func TestDiscardAndRemoveReference(t *testing.T) {
	l := newLocal(t)
	require.NoError(t, os.WriteFile(l.StagingPath("x"), []byte("a"), 0o644))
	_, err := l.SaveReference("x", bytes.NewReader([]byte("b")))
	require.NoError(t, err)

	l.Discard("x")
	require.NoError(t, l.RemoveReference("x"))
	require.NoError(t, l.RemoveReference("x"))

	assert.NoFileExists(t, l.StagingPath("x"))
	assert.NoFileExists(t, l.ReferencePath("x"))
}

func TestValidClipName(t *testing.T) {
	valid := []string{"3f0c5d1e-8e33-4b9e-9a57-0d3f1c2b4a5e.wav", "clip.wav"}
	invalid := []string{"", ".", "..", ".partial", "../refs/a.wav", "a/b.wav", `a\b.wav`, "a..wav", ".hidden.wav"}

	for _, name := range valid {
		assert.True(t, ValidClipName(name), name)
	}
	for _, name := range invalid {
		assert.False(t, ValidClipName(name), name)
	}
}

func TestOpenClip(t *testing.T) {
	l := newLocal(t)
	require.NoError(t, os.WriteFile(l.ClipPath("id"), []byte("audio"), 0o644))

	f, info, err := l.OpenClip(FileName("id"))
	require.NoError(t, err)
	defer f.Close()
	assert.EqualValues(t, 5, info.Size())

	_, _, err = l.OpenClip("nope.wav")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = l.OpenClip(PartialDirName)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = l.OpenClip("../refs/id.wav")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTouchRecordsAccessOnly(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("access times are not read on " + runtime.GOOS)
	}
	l := newLocal(t)
	path := l.ClipPath("id")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
	old := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, old, old))

	require.NoError(t, l.Touch(FileName("id")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old), "modification time keeps the clip's age")
	assert.WithinDuration(t, time.Now(), LastAccess(info), time.Minute)
}

func TestTouchMissingClip(t *testing.T) {
	l := newLocal(t)
	assert.ErrorIs(t, l.Touch(FileName("missing")), os.ErrNotExist)
	assert.ErrorIs(t, l.Touch("../x.wav"), ErrNotFound)
}

func TestLastAccessNeverBeforeModTime(t *testing.T) {
	l := newLocal(t)
	path := l.ClipPath("id")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
	mod := time.Now().Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, mod.Add(-time.Hour), mod))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, LastAccess(info).Equal(mod))
}

func TestIsNoSpace(t *testing.T) {
	assert.True(t, IsNoSpace(fmt.Errorf("write: %w", syscall.ENOSPC)))
	assert.True(t, IsNoSpace(&os.PathError{Op: "write", Path: "x", Err: syscall.ENOSPC}))
	assert.False(t, IsNoSpace(errors.New("boom")))
}
