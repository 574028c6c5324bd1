// Package archive mirrors published clips into a NATS JetStream object store so they
// can still be served after the local copy is gone.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/echoclone/echoclone-go/internal/config"
)

// ErrNotFound is returned when a clip is not in the bucket.
var ErrNotFound = errors.New("clip not archived")

// ClipInfo describes an archived clip.
type ClipInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// NatsStore stores clips as objects keyed by their file name.
type NatsStore struct {
	bucket string
	store  nats.ObjectStore
}

// Connect dials the configured NATS server and opens the clip bucket.
// The caller owns the returned connection.
func Connect(cfg config.ArchiveConfig) (*nats.Conn, *NatsStore, error) {
	nc, err := nats.Connect(cfg.NatsURL, nats.Name("echoclone"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.NatsURL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to open jetstream context: %w", err)
	}

	store, err := New(js, cfg.Bucket, cfg.TTL)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	return nc, store, nil
}

// New creates the bucket, or binds to it if it already exists.
func New(js nats.JetStreamContext, bucket string, ttl time.Duration) (*NatsStore, error) {
	store, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "Generated voice clips.",
		TTL:         ttl,
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		var bindErr error
		store, bindErr = js.ObjectStore(bucket)
		if bindErr != nil {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucket, errors.Join(err, bindErr))
		}
	}

	return &NatsStore{bucket: bucket, store: store}, nil
}

// PutFile uploads the file at path under name.
func (n *NatsStore) PutFile(ctx context.Context, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open clip '%s': %w", path, err)
	}
	defer f.Close()

	return n.Put(ctx, name, f)
}

// Put uploads r under name, replacing any previous object.
func (n *NatsStore) Put(ctx context.Context, name string, r io.Reader) error {
	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        name,
		Description: "audio/wav",
	}, r, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", name, n.bucket, err)
	}
	return nil
}

// Open streams an archived clip. The caller closes the reader.
func (n *NatsStore) Open(ctx context.Context, name string) (io.ReadCloser, *ClipInfo, error) {
	obj, err := n.store.Get(name, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", name, n.bucket, err)
	}

	info, err := obj.Info()
	if err != nil {
		obj.Close()
		return nil, nil, fmt.Errorf("failed to stat object '%s': %w", name, err)
	}

	return obj, &ClipInfo{
		Name:    info.Name,
		Size:    int64(info.Size),
		ModTime: info.ModTime,
	}, nil
}

// Delete removes a clip. Missing clips are not an error.
func (n *NatsStore) Delete(_ context.Context, name string) error {
	if err := n.store.Delete(name); err != nil && !errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", name, n.bucket, err)
	}
	return nil
}

// List returns every clip in the bucket. An empty bucket yields no clips and no error.
func (n *NatsStore) List(ctx context.Context) ([]ClipInfo, error) {
	infos, err := n.store.List(nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrNoObjectsFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list bucket '%s': %w", n.bucket, err)
	}

	clips := make([]ClipInfo, 0, len(infos))
	for _, info := range infos {
		if info.Deleted {
			continue
		}
		clips = append(clips, ClipInfo{
			Name:    info.Name,
			Size:    int64(info.Size),
			ModTime: info.ModTime,
		})
	}
	return clips, nil
}
