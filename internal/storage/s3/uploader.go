// Package s3 uploads result files to S3-compatible object storage through
// the MinIO client.
package s3

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config describes the endpoint and static credentials.
type Config struct {
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
	// Bucket is used when Upload is called without a container.
	Bucket string
}

type objectPutter interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Uploader writes files with FPutObject.
type Uploader struct {
	client   objectPutter
	endpoint string
	bucket   string
}

// New creates a MinIO/S3 client from cfg.
func New(cfg Config) (*Uploader, error) {
	if cfg.EndpointURL == "" {
		return nil, fmt.Errorf("endpoint url is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("credentials are required")
	}
	endpoint, secure, err := resolveEndpoint(cfg.EndpointURL, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Uploader{client: client, endpoint: endpoint, bucket: cfg.Bucket}, nil
}

// resolveEndpoint splits raw into the host:port MinIO expects and whether to
// use TLS. A URL scheme decides TLS; useSSL only applies to a bare host:port.
func resolveEndpoint(raw string, useSSL bool) (string, bool, error) {
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("invalid endpoint url: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid endpoint url %q: missing host", raw)
	}
	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("invalid endpoint url %q: unsupported scheme %q", raw, u.Scheme)
	}
}

// Upload copies localPath to s3://<container>/<objectName>.
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
	info, err := u.client.FPutObject(ctx, bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return "", fmt.Errorf("put object %s/%s: %w", bucket, objectName, err)
	}
	key := info.Key
	if key == "" {
		key = objectName
	}
	return fmt.Sprintf("s3://%s/%s", bucket, key), nil
}
