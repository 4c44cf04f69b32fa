package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GCSStore хранит артефакты в бакете Google Cloud Storage.
type GCSStore struct {
	logger  *zap.Logger
	client  *storage.Client
	bucket  string
	baseURL string
}

// NewGCSStore подключается к GCS. credentialsFile может быть пустым,
// тогда используются application default credentials окружения.
func NewGCSStore(ctx context.Context, bucket, credentialsFile, baseURL string, logger *zap.Logger) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com/" + bucket
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GCSStore{logger: logger.Named("GCSStore"), client: client, bucket: bucket, baseURL: baseURL}, nil
}

func (s *GCSStore) Save(ctx context.Context, key string, data []byte) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(cleanKey).NewWriter(ctx)
	w.ContentType = ContentTypeForKey(cleanKey)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer: %w", err)
	}
	s.logger.Debug("Object stored", zap.String("key", cleanKey), zap.Int("size_bytes", len(data)))
	return cleanKey, nil
}

func (s *GCSStore) Read(ctx context.Context, key string) ([]byte, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	r, err := s.client.Bucket(s.bucket).Object(cleanKey).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS object %q: %w", cleanKey, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err = s.client.Bucket(s.bucket).Object(cleanKey).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", cleanKey, s.bucket, err)
	}
	return nil
}

func (s *GCSStore) URL(key string) string {
	return joinURL(s.baseURL, key)
}

// Close освобождает нижележащий клиент.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
