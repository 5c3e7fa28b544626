// Package redis implements the file and trace stores on Redis. Files are
// hashes keyed per user, traces JSON documents with a per-user index list,
// matching how the rest of the service treats Redis as its only state.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/davidbz/markl/internal/domain"
	"github.com/davidbz/markl/internal/observability"
)

// FileStore implements the domain.FileStore interface.
type FileStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewFileStore creates a Redis-backed file store. A zero ttl keeps files
// until explicit deletion.
func NewFileStore(client *redis.Client, ttl time.Duration) *FileStore {
	return &FileStore{client: client, ttl: ttl}
}

func fileKey(userID, fileID string) string {
	return fmt.Sprintf("files:%s:%s", userID, fileID)
}

// Upload persists raw bytes under a fresh id and returns the metadata.
func (s *FileStore) Upload(ctx context.Context, userID string, up domain.FileUpload) (*domain.FileMeta, error) {
	if userID == "" {
		return nil, domain.ValidationError("user id is required")
	}

	fileID := uuid.NewString()
	key := fileKey(userID, fileID)

	logger := observability.FromContext(ctx)
	logger.Debug("uploading file",
		observability.String("file_id", fileID),
		observability.String("mime_type", up.MimeType),
		observability.Int64("size", up.Size))

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"name", up.OriginalName,
		"mime", up.MimeType,
		"size", up.Size,
		"data", string(up.Data),
		"created_at", time.Now().Unix(),
	)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("file upload failed", observability.Error(err))
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	return &domain.FileMeta{
		ID:           fileID,
		OriginalName: up.OriginalName,
		MimeType:     up.MimeType,
		Size:         up.Size,
	}, nil
}

// Download fetches a file owned by the user. A missing hash is a not-found
// failure: unknown ids and other users' files are indistinguishable.
func (s *FileStore) Download(ctx context.Context, userID, fileID string) (*domain.StoredFile, error) {
	if userID == "" || fileID == "" {
		return nil, domain.ValidationError("user id and file id are required")
	}

	fields, err := s.client.HGetAll(ctx, fileKey(userID, fileID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch file: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.NotFoundError(fmt.Sprintf("file not found: %s", fileID), nil)
	}

	size, _ := strconv.ParseInt(fields["size"], 10, 64)

	return &domain.StoredFile{
		Meta: domain.FileMeta{
			ID:           fileID,
			OriginalName: fields["name"],
			MimeType:     fields["mime"],
			Size:         size,
		},
		Data: []byte(fields["data"]),
	}, nil
}
