// Package memory keeps uploaded files in memory for tests.
package memory

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Uploader stores file contents keyed by container/object and returns pseudo URIs.
type Uploader struct {
	mu   sync.RWMutex
	data map[string][]byte
	err  error
}

// New creates a new in-memory uploader.
func New() *Uploader {
	return &Uploader{data: make(map[string][]byte)}
}

// FailWith makes every following Upload return err. Passing nil clears it.
func (u *Uploader) FailWith(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.err = err
}

// Upload reads localPath and keeps a copy of its contents.
func (u *Uploader) Upload(_ context.Context, localPath, container, objectName string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}

	// #nosec G304 -- the path is a result file produced by this process.
	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", localPath, err)
	}
	key := container + "/" + objectName
	u.data[key] = content
	return "memory://" + key, nil
}

// Object returns the stored contents for container/objectName.
func (u *Uploader) Object(container, objectName string) ([]byte, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	content, ok := u.data[container+"/"+objectName]
	return append([]byte(nil), content...), ok
}

// Len returns the number of stored objects.
func (u *Uploader) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.data)
}
