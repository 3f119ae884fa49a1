package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/eventops/knowledge-service/internal/knowledge/interfaces"
	"github.com/minio/minio-go/v7"
)

// MinioObjectStore archives original uploads in object storage so a document
// can always be re-ingested from its source bytes.
type MinioObjectStore struct {
	client *minio.Client
	bucket string
}

// NewMinioObjectStore creates an object store over an initialized MinIO client.
func NewMinioObjectStore(client *minio.Client, bucket string) *MinioObjectStore {
	return &MinioObjectStore{client: client, bucket: bucket}
}

// Put stores the raw upload under the given key.
func (s *MinioObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to archive upload %s: %w", key, err)
	}
	return nil
}

// Remove deletes the archived upload for a deleted document.
func (s *MinioObjectStore) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove archived upload %s: %w", key, err)
	}
	return nil
}

// compile-time check to ensure MinioObjectStore implements the ObjectStore interface
var _ interfaces.ObjectStore = (*MinioObjectStore)(nil)
