package azure

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlobClient struct {
	container string
	blob      string
	content   string
	err       error
}

func (f *fakeBlobClient) UploadFile(_ context.Context, containerName, blobName string, file *os.File, _ *azblob.UploadFileOptions) (azblob.UploadFileResponse, error) {
	if f.err != nil {
		return azblob.UploadFileResponse{}, f.err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return azblob.UploadFileResponse{}, err
	}
	f.container, f.blob, f.content = containerName, blobName, string(data)
	return azblob.UploadFileResponse{}, nil
}

func TestUploaderUpload(t *testing.T) {
	t.Parallel()

	local := filepath.Join(t.TempDir(), "20240101T000000Z-1.csv")
	require.NoError(t, os.WriteFile(local, []byte("HR;x\n"), 0o600))

	client := &fakeBlobClient{}
	u := newUploader(client, Config{StorageAccount: "auditacct", ResourceGroup: "rg-audit"}, nil)

	uri, err := u.Upload(context.Background(), local, "reports", "20240101T000000Z-1.csv")
	require.NoError(t, err)
	assert.Equal(t, "https://auditacct.blob.core.windows.net/reports/20240101T000000Z-1.csv", uri)
	assert.Equal(t, "reports", client.container)
	assert.Equal(t, "20240101T000000Z-1.csv", client.blob)
	assert.Equal(t, "HR;x\n", client.content)
}

func TestUploaderErrors(t *testing.T) {
	t.Parallel()

	local := filepath.Join(t.TempDir(), "a.csv")
	require.NoError(t, os.WriteFile(local, []byte("x\n"), 0o600))

	boom := errors.New("AuthorizationFailure")
	u := newUploader(&fakeBlobClient{err: boom}, Config{ServiceURL: "http://127.0.0.1:10000/devstoreaccount1"}, nil)

	_, err := u.Upload(context.Background(), local, "reports", "a.csv")
	require.ErrorIs(t, err, boom)

	_, err = u.Upload(context.Background(), local, "", "a.csv")
	require.Error(t, err)

	_, err = u.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), "reports", "a.csv")
	require.Error(t, err)
}

func TestServiceURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "http://127.0.0.1:10000/devstoreaccount1/", serviceURLFor(Config{ServiceURL: "http://127.0.0.1:10000/devstoreaccount1"}))
	assert.Equal(t, "https://acct.blob.core.windows.net/", serviceURLFor(Config{StorageAccount: "acct"}))

	_, err := New(Config{}, nil)
	require.Error(t, err)
}
