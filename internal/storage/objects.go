package storage

import (
	"context"
	"fmt"

	apperrors "site-guardian/internal/errors"
)

// ObjectStore layers compression and optional encryption over a Backend.
// Callers append Extension() to keys of encoded objects.
type ObjectStore struct {
	backend   Backend
	codec     Codec
	encryptor *Encryptor
}

// NewObjectStore creates an ObjectStore; a nil codec stores objects uncompressed
func NewObjectStore(backend Backend, codec Codec, encryptor *Encryptor) *ObjectStore {
	if codec == nil {
		codec = noneCodec{}
	}
	return &ObjectStore{
		backend:   backend,
		codec:     codec,
		encryptor: encryptor,
	}
}

// Backend returns the underlying raw backend
func (s *ObjectStore) Backend() Backend {
	return s.backend
}

// Extension returns the key suffix of the configured codec
func (s *ObjectStore) Extension() string {
	return s.codec.Extension()
}

// Put encodes and stores raw under key
func (s *ObjectStore) Put(ctx context.Context, key string, raw []byte) error {
	data, err := s.codec.Encode(raw)
	if err != nil {
		return apperrors.NewIOFailureError(fmt.Sprintf("failed to compress %s", key), err)
	}
	if s.encryptor != nil {
		if data, err = s.encryptor.Seal(data); err != nil {
			return apperrors.NewIOFailureError(fmt.Sprintf("failed to encrypt %s", key), err)
		}
	}
	return s.backend.Put(ctx, key, data)
}

// Get loads and decodes key. Objects that fail to decrypt or decompress are
// reported as NOT_FOUND, since callers recover from both the same way.
func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if s.encryptor != nil {
		if data, err = s.encryptor.Open(data); err != nil {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("object %s is unreadable", key), err).
				WithContext("corrupt", true)
		}
	}
	raw, err := s.codec.Decode(data)
	if err != nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("object %s is corrupt", key), err).
			WithContext("corrupt", true)
	}
	return raw, nil
}

// Exists reports whether key is stored
func (s *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.backend.Exists(ctx, key)
}

// Delete removes key
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// List lists stored objects under prefix
func (s *ObjectStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	return s.backend.List(ctx, prefix)
}
