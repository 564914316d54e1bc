package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockUploader is a mock implementation of the Uploader interface for testing.
type MockUploader struct {
	mock.Mock
}

// Upload is the mock implementation of the Upload method.
func (m *MockUploader) Upload(ctx context.Context, localPath, container, objectName string) (string, error) {
	args := m.Called(ctx, localPath, container, objectName)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}
