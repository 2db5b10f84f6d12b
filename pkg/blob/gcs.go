package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/cybershield/custody/pkg/crypto"
)

// GCSStore implements Store on Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig holds configuration for GCSStore.
type GCSConfig struct {
	Bucket string
	Prefix string // optional object prefix
}

// NewGCSStore creates a GCS-backed blob store using application default
// credentials.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) object(rawHash string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + rawHash + ".blob")
}

func (s *GCSStore) Put(ctx context.Context, r io.Reader) (string, int64, error) {
	var buf bytes.Buffer
	hasher := crypto.NewHasher()
	n, err := io.Copy(io.MultiWriter(&buf, hasher), r)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read blob: %w", err)
	}
	hash := hasher.Sum()
	obj := s.object(strings.TrimPrefix(hash, crypto.HashPrefix))

	if _, err := obj.Attrs(ctx); err == nil {
		return hash, n, nil // already stored
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(buf.Bytes()); err != nil {
		_ = w.Close()
		return "", 0, fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", 0, fmt.Errorf("gcs close failed: %w", err)
	}
	return hash, n, nil
}

func (s *GCSStore) Open(ctx context.Context, hash string) (io.ReadCloser, error) {
	raw, err := parseHash(hash)
	if err != nil {
		return nil, err
	}
	rdr, err := s.object(raw).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("gcs read failed: %w", err)
	}
	return rdr, nil
}

func (s *GCSStore) Exists(ctx context.Context, hash string) (bool, error) {
	raw, err := parseHash(hash)
	if err != nil {
		return false, err
	}
	_, err = s.object(raw).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("gcs attrs failed: %w", err)
}
