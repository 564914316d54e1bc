// Package azure uploads result files to Azure Blob Storage.
package azure

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"go.uber.org/zap"
)

// Config identifies the storage account.
type Config struct {
	StorageAccount string
	// ResourceGroup is informational; the data plane addresses the account directly.
	ResourceGroup string
	// ServiceURL overrides https://<account>.blob.core.windows.net/.
	ServiceURL string
}

type blobClient interface {
	UploadFile(ctx context.Context, containerName, blobName string, file *os.File, o *azblob.UploadFileOptions) (azblob.UploadFileResponse, error)
}

// Uploader writes files as block blobs.
type Uploader struct {
	client     blobClient
	serviceURL string
	cfg        Config
	logger     *zap.Logger
}

// New builds an Uploader authenticated with the default Azure credential
// chain (environment, workload identity, managed identity, Azure CLI).
func New(cfg Config, logger *zap.Logger) (*Uploader, error) {
	if strings.TrimSpace(cfg.StorageAccount) == "" && cfg.ServiceURL == "" {
		return nil, fmt.Errorf("storage account is required")
	}
	serviceURL := serviceURLFor(cfg)
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create blob client for %s: %w", serviceURL, err)
	}
	return newUploader(client, cfg, logger), nil
}

func newUploader(client blobClient, cfg Config, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		client:     client,
		serviceURL: serviceURLFor(cfg),
		cfg:        cfg,
		logger:     logger,
	}
}

func serviceURLFor(cfg Config) string {
	if cfg.ServiceURL != "" {
		return strings.TrimSuffix(cfg.ServiceURL, "/") + "/"
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.StorageAccount)
}

// Upload copies localPath into container as objectName and returns the blob URL.
func (u *Uploader) Upload(ctx context.Context, localPath, container, objectName string) (string, error) {
	if container == "" {
		return "", fmt.Errorf("container is required")
	}
	// #nosec G304 -- the path is a result file produced by this process.
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close() //nolint:errcheck

	if _, err := u.client.UploadFile(ctx, container, objectName, f, nil); err != nil {
		return "", fmt.Errorf("upload blob %s/%s: %w", container, objectName, err)
	}
	uri := u.serviceURL + container + "/" + objectName
	u.logger.Debug("Uploaded blob",
		zap.String("account", u.cfg.StorageAccount),
		zap.String("resource_group", u.cfg.ResourceGroup),
		zap.String("uri", uri),
	)
	return uri, nil
}
