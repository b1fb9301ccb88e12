package storage

import (
	"context"
	"fmt"

	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/logging"
)

// NewBackend creates the backend for the configured provider. Remote
// providers are wrapped so that recoverable failures are retried.
func NewBackend(ctx context.Context, config Config, retry *apperrors.RetryHandler, logger *logging.Logger) (Backend, error) {
	var (
		backend Backend
		err     error
	)

	switch config.Provider {
	case ProviderLocal, "":
		local, err := NewLocalBackend(config.Local)
		if err != nil {
			return nil, err
		}
		return local, nil
	case ProviderS3:
		backend, err = NewS3Backend(config.S3)
	case ProviderGCS:
		backend, err = NewGCSBackend(ctx, config.GCS)
	case ProviderAzure:
		backend, err = NewAzureBackend(config.Azure)
	default:
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("unsupported storage provider: %s", config.Provider), nil)
	}
	if err != nil {
		return nil, err
	}

	if retry == nil {
		retry = apperrors.NewDefaultRetryHandler()
	}
	logging.OrDefault(logger).WithField("provider", config.Provider).Debug("Remote storage backend initialized")
	return &retryingBackend{backend: backend, retry: retry}, nil
}

// Open builds the backend, codec and encryptor described by config
func Open(ctx context.Context, config Config, retry *apperrors.RetryHandler, logger *logging.Logger) (*ObjectStore, error) {
	backend, err := NewBackend(ctx, config, retry, logger)
	if err != nil {
		return nil, err
	}
	codec, err := NewCodec(config.Compression)
	if err != nil {
		return nil, err
	}
	encryptor, err := NewEncryptorFromConfig(config.Encryption)
	if err != nil {
		return nil, err
	}
	return NewObjectStore(backend, codec, encryptor), nil
}

type retryingBackend struct {
	backend Backend
	retry   *apperrors.RetryHandler
}

func (b *retryingBackend) Put(ctx context.Context, key string, data []byte) error {
	return b.retry.Retry(ctx, func() error {
		return b.backend.Put(ctx, key, data)
	})
}

func (b *retryingBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.retry.Retry(ctx, func() error {
		var err error
		data, err = b.backend.Get(ctx, key)
		return err
	})
	return data, err
}

func (b *retryingBackend) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := b.retry.Retry(ctx, func() error {
		var err error
		exists, err = b.backend.Exists(ctx, key)
		return err
	})
	return exists, err
}

func (b *retryingBackend) Delete(ctx context.Context, key string) error {
	return b.retry.Retry(ctx, func() error {
		return b.backend.Delete(ctx, key)
	})
}

func (b *retryingBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := b.retry.Retry(ctx, func() error {
		var err error
		objects, err = b.backend.List(ctx, prefix)
		return err
	})
	return objects, err
}
