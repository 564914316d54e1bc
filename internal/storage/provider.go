// Package storage defines the upload collaborator used to hand finished
// result files to remote object storage. Concrete providers live in the
// sub-packages (azure, gcs, s3, local, memory).
package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Uploader copies a local file into a container (bucket) under objectName
// and returns the resulting object URI.
type Uploader interface {
	Upload(ctx context.Context, localPath, container, objectName string) (string, error)
}

// StorageError reports a failed upload. The local file is left in place.
type StorageError struct {
	Provider  string
	Container string
	Object    string
	LocalPath string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s upload of %s to %s/%s failed: %v", e.Provider, e.LocalPath, e.Container, e.Object, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NoOpUploader accepts every upload without copying anything. It backs runs
// where export is disabled.
type NoOpUploader struct{}

// Upload for NoOpUploader does nothing and returns an empty URI.
func (NoOpUploader) Upload(_ context.Context, _, _, _ string) (string, error) {
	return "", nil
}

// ObjectName builds the remote name for a local file: the file's base name
// under the optional prefix.
func ObjectName(prefix, localPath string) string {
	base := filepath.Base(localPath)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return base
	}
	return path.Join(prefix, base)
}
