package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	apperrors "site-guardian/internal/errors"
)

// GCSBackend stores objects in a Google Cloud Storage bucket
type GCSBackend struct {
	client     *gcs.Client
	bucketName string
	prefix     string
}

// NewGCSBackend creates a new GCSBackend instance
func NewGCSBackend(ctx context.Context, config *GCSConfig) (*GCSBackend, error) {
	if config == nil || config.Bucket == "" {
		return nil, apperrors.NewValidationError("GCS bucket is required", nil)
	}

	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, apperrors.NewConfigurationError("failed to create GCS client", err)
	}

	return &GCSBackend{
		client:     client,
		bucketName: config.Bucket,
		prefix:     config.Prefix,
	}, nil
}

func (b *GCSBackend) object(key string) *gcs.ObjectHandle {
	return b.client.Bucket(b.bucketName).Object(withPrefix(b.prefix, key))
}

// Put uploads an object
func (b *GCSBackend) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	writer := b.object(key).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return apperrors.WrapError(err, fmt.Sprintf("failed to upload %s to GCS", key))
	}
	if err := writer.Close(); err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to finalize %s in GCS", key))
	}
	return nil
}

// Get downloads an object
func (b *GCSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	reader, err := b.object(key).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
	}
	if err != nil {
		return nil, apperrors.WrapError(err, fmt.Sprintf("failed to open %s in GCS", key))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, apperrors.WrapError(err, fmt.Sprintf("failed to read %s from GCS", key))
	}
	return data, nil
}

// Exists checks the object's attributes
func (b *GCSBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}

	_, err := b.object(key).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.WrapError(err, fmt.Sprintf("failed to check %s in GCS", key))
	}
	return true, nil
}

// Delete removes an object
func (b *GCSBackend) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	err := b.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return apperrors.WrapError(err, fmt.Sprintf("failed to delete %s from GCS", key))
	}
	return nil
}

// List iterates the bucket objects under prefix
func (b *GCSBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	it := b.client.Bucket(b.bucketName).Objects(ctx, &gcs.Query{Prefix: withPrefix(b.prefix, prefix)})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, apperrors.WrapError(err, "failed to list objects in GCS")
		}
		objects = append(objects, ObjectInfo{
			Key:     trimPrefix(b.prefix, attrs.Name),
			Size:    attrs.Size,
			ModTime: attrs.Updated,
		})
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Close releases the GCS client
func (b *GCSBackend) Close() error {
	return b.client.Close()
}
