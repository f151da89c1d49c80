// Package store provides the Function Store collaborator (spec.md §6.2).
//
// This package wraps the MinIO Go SDK to store and retrieve function
// records from S3-compatible storage: kept from the teacher's BlobStore
// almost unchanged (the retry/backoff connection logic, the bucket-exists
// check, the object-key convention), generalized from a bare code string to
// the {id, owner_id, source_code, enabled} record spec.md §6.2 requires.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// FunctionRecord is the Function Store's read shape (spec.md §6.2).
type FunctionRecord struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	SourceCode string    `json:"source_code"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

// BlobStore wraps a MinIO client to store and retrieve function records.
type BlobStore struct {
	client     *minio.Client
	bucketName string
	log        zerolog.Logger
}

// BlobStoreConfig holds configuration for connecting to MinIO.
type BlobStoreConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
}

// NewBlobStore creates a new BlobStore with connection retry logic.
//
// The retry logic is crucial because in containerized environments, MinIO
// may not be immediately available when our service starts. We implement
// exponential backoff to handle this gracefully, exactly as the teacher's
// NewBlobStore does.
func NewBlobStore(ctx context.Context, cfg BlobStoreConfig, log zerolog.Logger) (*BlobStore, error) {
	var client *minio.Client
	var err error

	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			backoff := time.Duration(1<<i) * time.Second
			log.Warn().Err(err).Int("attempt", i+1).Int("max_retries", maxRetries).Dur("backoff", backoff).Msg("failed to create MinIO client, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				continue
			}
		}

		exists, err := client.BucketExists(ctx, cfg.BucketName)
		if err != nil {
			backoff := time.Duration(1<<i) * time.Second
			log.Warn().Err(err).Int("attempt", i+1).Int("max_retries", maxRetries).Dur("backoff", backoff).Msg("cannot reach MinIO, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				continue
			}
		}

		if !exists {
			log.Info().Str("bucket", cfg.BucketName).Msg("bucket does not exist, creating")
			if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
				return nil, fmt.Errorf("failed to create bucket: %w", err)
			}
		}

		log.Info().Str("bucket", cfg.BucketName).Msg("connected to MinIO")
		return &BlobStore{client: client, bucketName: cfg.BucketName, log: log}, nil
	}

	return nil, fmt.Errorf("failed to connect to MinIO after %d retries: %w", maxRetries, err)
}

func objectName(functionID string) string {
	return fmt.Sprintf("functions/%s.json", functionID)
}

// SaveFunction stores a function record in MinIO, keyed by function ID.
func (s *BlobStore) SaveFunction(ctx context.Context, rec FunctionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode function %s: %w", rec.ID, err)
	}

	_, err = s.client.PutObject(
		ctx,
		s.bucketName,
		objectName(rec.ID),
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	if err != nil {
		return fmt.Errorf("failed to save function %s: %w", rec.ID, err)
	}

	s.log.Info().Str("function_id", rec.ID).Int("bytes", len(rec.SourceCode)).Msg("saved function")
	return nil
}

// GetFunction retrieves a function record from MinIO by ID.
func (s *BlobStore) GetFunction(ctx context.Context, functionID string) (FunctionRecord, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, objectName(functionID), minio.GetObjectOptions{})
	if err != nil {
		return FunctionRecord{}, fmt.Errorf("failed to get function %s: %w", functionID, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return FunctionRecord{}, fmt.Errorf("failed to read function %s: %w", functionID, err)
	}

	var rec FunctionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return FunctionRecord{}, fmt.Errorf("failed to decode function %s: %w", functionID, err)
	}
	return rec, nil
}

// FunctionExists checks if a function exists in MinIO.
func (s *BlobStore) FunctionExists(ctx context.Context, functionID string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucketName, objectName(functionID), minio.StatObjectOptions{})
	if err != nil {
		errResponse := minio.ToErrorResponse(err)
		if errResponse.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to check function %s: %w", functionID, err)
	}
	return true, nil
}
