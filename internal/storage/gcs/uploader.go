// Package gcs uploads result files to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	// Bucket is used when Upload is called without a container.
	Bucket string
}

// Uploader writes files to a GCS bucket.
type Uploader struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed uploader from an existing client.
func New(client *storage.Client, cfg Config) (*Uploader, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return &Uploader{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Dial creates a client using Application Default Credentials.
func Dial(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Uploader, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return New(client, cfg)
}

// Upload copies localPath to gs://<container>/<objectName>.
func (u *Uploader) Upload(ctx context.Context, localPath, container, objectName string) (string, error) {
	bucket := container
	if bucket == "" {
		bucket = u.bucket
	}
	if bucket == "" {
		return "", fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(objectName) == "" {
		return "", fmt.Errorf("object name is required")
	}

	// #nosec G304 -- the path is a result file produced by this process.
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close() //nolint:errcheck

	writer := u.client.Bucket(bucket).Object(objectName).NewWriter(ctx)
	writer.ContentType = "text/csv"
	if _, err := io.Copy(writer, f); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", bucket, objectName), nil
}

// Close releases the underlying client.
func (u *Uploader) Close() error {
	if err := u.client.Close(); err != nil {
		return fmt.Errorf("close GCS client: %w", err)
	}
	return nil
}
