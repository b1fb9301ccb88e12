package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"

	"github.com/Azure/azure-storage-blob-go/azblob"

	apperrors "site-guardian/internal/errors"
)

// AzureBackend stores objects as block blobs in an Azure container
type AzureBackend struct {
	containerURL azblob.ContainerURL
	prefix       string
}

// NewAzureBackend creates a new AzureBackend instance
func NewAzureBackend(config *AzureConfig) (*AzureBackend, error) {
	if config == nil || config.AccountName == "" || config.ContainerName == "" {
		return nil, apperrors.NewValidationError("Azure account name and container are required", nil)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, apperrors.NewConfigurationError("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, apperrors.NewConfigurationError("failed to parse Azure service URL", err)
	}

	return &AzureBackend{
		containerURL: azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		prefix:       config.Prefix,
	}, nil
}

func (b *AzureBackend) blob(key string) azblob.BlockBlobURL {
	return b.containerURL.NewBlockBlobURL(withPrefix(b.prefix, key))
}

// Put uploads an object as a block blob
func (b *AzureBackend) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	_, err := azblob.UploadBufferToBlockBlob(ctx, data, b.blob(key), azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
	})
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to upload %s to Azure", key))
	}
	return nil
}

// Get downloads an object
func (b *AzureBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	response, err := b.blob(key).Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		}
		return nil, apperrors.WrapError(err, fmt.Sprintf("failed to download %s from Azure", key))
	}

	body := response.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, apperrors.WrapError(err, fmt.Sprintf("failed to read %s from Azure", key))
	}
	return data, nil
}

// Exists checks the blob's properties
func (b *AzureBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}

	_, err := b.blob(key).GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, apperrors.WrapError(err, fmt.Sprintf("failed to check %s in Azure", key))
	}
	return true, nil
}

// Delete removes a blob and its snapshots
func (b *AzureBackend) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	_, err := b.blob(key).Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil && !isAzureNotFound(err) {
		return apperrors.WrapError(err, fmt.Sprintf("failed to delete %s from Azure", key))
	}
	return nil
}

// List pages through the flat blob listing for prefix
func (b *AzureBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	for marker := (azblob.Marker{}); marker.NotDone(); {
		listResponse, err := b.containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: withPrefix(b.prefix, prefix),
		})
		if err != nil {
			return nil, apperrors.WrapError(err, "failed to list objects in Azure")
		}

		for _, item := range listResponse.Segment.BlobItems {
			var size int64
			if item.Properties.ContentLength != nil {
				size = *item.Properties.ContentLength
			}
			objects = append(objects, ObjectInfo{
				Key:     trimPrefix(b.prefix, item.Name),
				Size:    size,
				ModTime: item.Properties.LastModified,
			})
		}

		marker = listResponse.NextMarker
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func isAzureNotFound(err error) bool {
	var storageErr azblob.StorageError
	if errors.As(err, &storageErr) {
		return storageErr.ServiceCode() == azblob.ServiceCodeBlobNotFound
	}
	return false
}
