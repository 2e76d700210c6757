package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"endpoint-reconciler/internal/reconcile"
)

// Uploader stores a finished run's summary somewhere an auditor can find
// it later.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte) (string, error)
}

// Publish serializes the summary and hands it to the uploader, keyed by
// run id and date.
func Publish(ctx context.Context, up Uploader, sum reconcile.Summary) (string, error) {
	body, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	key := fmt.Sprintf("reconciliation/%s/%s.json", time.Now().UTC().Format("2006-01-02"), sum.RunID)
	loc, err := up.Upload(ctx, key, body)
	if err != nil {
		return "", fmt.Errorf("upload summary: %w", err)
	}
	return loc, nil
}

// S3Uploader writes summaries to an S3 bucket.
type S3Uploader struct {
	client *s3.Client
	bucket string
}

// NewS3Uploader builds an uploader for the given bucket.
func NewS3Uploader(cfg aws.Config, bucket string) *S3Uploader {
	return &S3Uploader{client: s3.NewFromConfig(cfg), bucket: bucket}
}

func (s *S3Uploader) Upload(ctx context.Context, key string, body []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// LocalUploader writes summaries under a base directory, for dev use.
type LocalUploader struct {
	BaseDir string
}

func (l *LocalUploader) Upload(_ context.Context, key string, body []byte) (string, error) {
	path := filepath.Join(l.BaseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}
