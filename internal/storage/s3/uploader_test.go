package s3

import (
	"context"
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	bucket, object, path string
	opts                 minio.PutObjectOptions
	err                  error
}

func (f *fakePutter) FPutObject(_ context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	f.bucket, f.object, f.path, f.opts = bucketName, objectName, filePath, opts
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: 10}, nil
}

func TestUploaderUpload(t *testing.T) {
	t.Parallel()

	putter := &fakePutter{}
	u := &Uploader{client: putter, bucket: "fallback"}

	uri, err := u.Upload(context.Background(), "/tmp/out/a.csv", "audits", "2024/a.csv")
	require.NoError(t, err)
	assert.Equal(t, "s3://audits/2024/a.csv", uri)
	assert.Equal(t, "/tmp/out/a.csv", putter.path)
	assert.Equal(t, "text/csv", putter.opts.ContentType)

	uri, err = u.Upload(context.Background(), "/tmp/out/b.csv", "", "b.csv")
	require.NoError(t, err)
	assert.Equal(t, "s3://fallback/b.csv", uri)
}

func TestUploaderErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("NoSuchBucket")
	u := &Uploader{client: &fakePutter{err: boom}}

	_, err := u.Upload(context.Background(), "/tmp/a.csv", "audits", "a.csv")
	require.ErrorIs(t, err, boom)

	_, err = u.Upload(context.Background(), "/tmp/a.csv", "", "a.csv")
	require.Error(t, err)

	_, err = u.Upload(context.Background(), "/tmp/a.csv", "audits", "")
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{EndpointURL: "http://localhost:9000"})
	require.Error(t, err)

	u, err := New(Config{EndpointURL: "https://minio.internal:9000", AccessKeyID: "id", SecretAccessKey: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "minio.internal:9000", u.endpoint)
}

func TestResolveEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		useSSL   bool
		wantHost string
		wantTLS  bool
		wantErr  bool
	}{
		{name: "http scheme overrides use_ssl", raw: "http://localhost:9000", useSSL: true, wantHost: "localhost:9000", wantTLS: false},
		{name: "https scheme", raw: "https://s3.amazonaws.com", useSSL: false, wantHost: "s3.amazonaws.com", wantTLS: true},
		{name: "bare host uses use_ssl", raw: "minio.internal:9000", useSSL: true, wantHost: "minio.internal:9000", wantTLS: true},
		{name: "bare host without tls", raw: "minio.internal:9000", useSSL: false, wantHost: "minio.internal:9000", wantTLS: false},
		{name: "unsupported scheme", raw: "ftp://minio.internal", wantErr: true},
		{name: "missing host", raw: "http://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			host, secure, err := resolveEndpoint(tt.raw, tt.useSSL)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantTLS, secure)
		})
	}
}
