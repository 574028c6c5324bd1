// Package storage keeps reference samples and generated clips on the local filesystem.
//
// Layout:
//
//	<refs>/<id>.wav               uploaded reference samples
//	<generated>/<id>.wav          published clips, served by name
//	<generated>/.partial/<id>.wav model output that has not been published yet
//
// Files only appear under their public names once complete: uploads are copied to a
// temporary file and renamed, model output is renamed out of .partial after the model
// returned successfully.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// PartialDirName is the staging directory inside the generated directory.
const PartialDirName = ".partial"

// Extension is the only audio container the service stores.
const Extension = ".wav"

var (
	// ErrNotFound is returned for missing or unservable clip names.
	ErrNotFound = errors.New("clip not found")
	// ErrNoOutput means the model returned without writing its output file.
	ErrNoOutput = errors.New("model produced no output")
	// ErrEmptyOutput means the model wrote a zero-byte output file.
	ErrEmptyOutput = errors.New("model produced an empty output file")
)

// Local stores files under two directories on one filesystem.
type Local struct {
	refsDir      string
	generatedDir string
	partialDir   string
}

// NewLocal resolves the directories to absolute paths, creates them if absent and
// clears staging leftovers from a previous run.
func NewLocal(refsDir, generatedDir string) (*Local, error) {
	refs, err := filepath.Abs(refsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve refs dir: %w", err)
	}
	generated, err := filepath.Abs(generatedDir)
	if err != nil {
		return nil, fmt.Errorf("resolve generated dir: %w", err)
	}

	l := &Local{
		refsDir:      refs,
		generatedDir: generated,
		partialDir:   filepath.Join(generated, PartialDirName),
	}

	if err := os.RemoveAll(l.partialDir); err != nil {
		return nil, fmt.Errorf("clear staging dir: %w", err)
	}
	for _, dir := range []string{l.refsDir, l.generatedDir, l.partialDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	return l, nil
}

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

// FileName is the on-disk and URL name for an identifier.
func FileName(id string) string {
	return id + Extension
}

func (l *Local) RefsDir() string      { return l.refsDir }
func (l *Local) GeneratedDir() string { return l.generatedDir }
func (l *Local) PartialDir() string   { return l.partialDir }

// ReferencePath is where the reference sample for id is stored.
func (l *Local) ReferencePath(id string) string {
	return filepath.Join(l.refsDir, FileName(id))
}

// StagingPath is where the model writes the clip for id.
func (l *Local) StagingPath(id string) string {
	return filepath.Join(l.partialDir, FileName(id))
}

// ClipPath is the published location of the clip for id.
func (l *Local) ClipPath(id string) string {
	return filepath.Join(l.generatedDir, FileName(id))
}

// SaveReference copies r verbatim to the reference path for id and returns that path.
func (l *Local) SaveReference(id string, r io.Reader) (string, error) {
	tmp, err := os.CreateTemp(l.refsDir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create reference file: %w", err)
	}
	tmpName := tmp.Name()

	_, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write reference file: %w", err)
	}

	dst := l.ReferencePath(id)
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("publish reference file: %w", err)
	}

	return dst, nil
}

// RemoveReference deletes the reference sample for id. Missing files are not an error.
func (l *Local) RemoveReference(id string) error {
	if err := os.Remove(l.ReferencePath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Publish moves the staged model output for id to its public name and returns its size.
func (l *Local) Publish(id string) (int64, error) {
	staged := l.StagingPath(id)

	info, err := os.Stat(staged)
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNoOutput
	}
	if err != nil {
		return 0, fmt.Errorf("stat model output: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(staged)
		return 0, ErrEmptyOutput
	}

	if err := os.Rename(staged, l.ClipPath(id)); err != nil {
		return 0, fmt.Errorf("publish clip: %w", err)
	}

	return info.Size(), nil
}

// Discard removes any staged output for id.
func (l *Local) Discard(id string) {
	_ = os.Remove(l.StagingPath(id))
}

// ValidClipName reports whether name may be served from the generated directory.
func ValidClipName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}

// OpenClip opens a published clip by file name. The caller closes the file.
func (l *Local) OpenClip(name string) (*os.File, os.FileInfo, error) {
	if !ValidClipName(name) {
		return nil, nil, ErrNotFound
	}

	f, err := os.Open(filepath.Join(l.generatedDir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, ErrNotFound
	}

	return f, info, nil
}

// Touch records a fetch of the clip in its access time so count-based eviction keeps
// it longer. The modification time, which ages the clip and backs Last-Modified, is
// left alone.
func (l *Local) Touch(name string) error {
	if !ValidClipName(name) {
		return ErrNotFound
	}
	path := filepath.Join(l.generatedDir, name)
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chtimes(path, time.Now(), info.ModTime())
}

// LastAccess is the later of the file's access and modification times.
func LastAccess(info os.FileInfo) time.Time {
	if at := accessTime(info); at.After(info.ModTime()) {
		return at
	}
	return info.ModTime()
}

// IsNoSpace reports whether err was caused by a full disk or exhausted quota.
func IsNoSpace(err error) bool {
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT)
}
