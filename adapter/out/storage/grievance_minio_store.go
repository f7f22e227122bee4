// Package storage holds attachment blobs in an S3-compatible object store,
// or on local disk when no object store is configured.
//
// Keys are content addressed (see AttachmentKey), so writing the same
// attachment twice is harmless.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"grievance_server/core/port/out"
	"grievance_server/pkg/logger"
	"grievance_server/pkg/metrics"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var _ out.AttachmentStore = (*MinioStore)(nil)

// MinioConfig configures the S3 attachment store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore stores attachments in a single bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects and creates the bucket when it is missing.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("[MinioStore] created bucket %s", cfg.Bucket)
	}

	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinioStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	if !ValidKey(key) {
		return fmt.Errorf("invalid attachment key %q", key)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType, SendContentMd5: true})
	metrics.StorageOps.WithLabelValues("s3", "put", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Open returns the object body and its size. Missing keys yield
// out.ErrObjectNotFound.
func (s *MinioStore) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if !ValidKey(key) {
		return nil, 0, out.ErrObjectNotFound
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		metrics.StorageOps.WithLabelValues("s3", "get", "error").Inc()
		return nil, 0, classify(key, err)
	}
	// GetObject is lazy; Stat surfaces a missing key.
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		metrics.StorageOps.WithLabelValues("s3", "get", "error").Inc()
		return nil, 0, classify(key, err)
	}
	metrics.StorageOps.WithLabelValues("s3", "get", "success").Inc()
	return obj, info.Size, nil
}

// Ping checks the bucket is reachable for readiness probes.
func (s *MinioStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

func classify(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" {
		return out.ErrObjectNotFound
	}
	return fmt.Errorf("get %s: %w", key, err)
}
