// Package storage persists generated artifacts into an S3-compatible object
// store and serves presigned download URLs.
package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

// Store is the storage adapter contract consumed by the workflow and the
// status endpoint.
type Store interface {
	// UploadFromURL fetches the artifact and stores it under a job-scoped
	// key, returning that key.
	UploadFromURL(ctx context.Context, artifactURL, jobID string) (string, error)
	// PresignedURL returns a time-limited download URL for a stored key.
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// S3Store implements Store on a minio client.
type S3Store struct {
	client     *minio.Client
	bucket     string
	httpClient *http.Client
	logger     infra.Logger
}

// NewS3Store wraps the client and ensures the bucket exists.
func NewS3Store(ctx context.Context, client *minio.Client, bucket string, logger infra.Logger) (*S3Store, error) {
	s := &S3Store{
		client:     client,
		bucket:     bucket,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, &domain.StorageError{Op: "bucket_check", Err: err}
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, &domain.StorageError{Op: "bucket_create", Err: err}
		}
		logger.Info().Str("bucket", bucket).Msg("storage: created bucket")
	}
	return s, nil
}

// UploadFromURL streams the artifact into the bucket under
// jobs/{jobID}/{uuid}{ext}.
func (s *S3Store) UploadFromURL(ctx context.Context, artifactURL, jobID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, nil)
	if err != nil {
		return "", &domain.StorageError{Op: "fetch", Err: err}
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &domain.StorageError{Op: "fetch", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", &domain.StorageError{Op: "fetch", Err: fmt.Errorf("artifact responded %d", resp.StatusCode)}
	}

	key := ObjectKey(jobID, artifactURL)
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, resp.Body, resp.ContentLength, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", &domain.StorageError{Op: "put", Key: key, Err: err}
	}

	s.logger.Info().Str("job_id", jobID).Str("storage_key", key).Msg("storage: uploaded artifact")
	return key, nil
}

// PresignedURL returns a presigned GET URL for the key.
func (s *S3Store) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", &domain.StorageError{Op: "presign", Key: key, Err: err}
	}
	return u.String(), nil
}

var _ Store = (*S3Store)(nil)
