// Package blobstore stores file contents by the sha256 of their bytes.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/logging"
	"site-guardian/internal/storage"
)

const keyPrefix = "blobs"

// Store is a content-addressed blob store. Blobs are only ever added;
// removing them is left to out-of-band retention.
type Store struct {
	objects *storage.ObjectStore
	logger  *logging.Logger
}

// New creates a Store on top of objects
func New(objects *storage.ObjectStore, logger *logging.Logger) *Store {
	return &Store{
		objects: objects,
		logger:  logging.OrDefault(logger),
	}
}

// Key returns the storage key for hash: blobs/<hash[:2]>/<hash><ext>
func Key(hash, ext string) string {
	return fmt.Sprintf("%s/%s/%s%s", keyPrefix, hash[:2], hash, ext)
}

// Hash returns the hex sha256 of data
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile streams the file at path through sha256
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *Store) key(hash string) (string, error) {
	if len(hash) != sha256.Size*2 {
		return "", apperrors.NewValidationError("invalid content hash", nil).WithContext("hash", hash)
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return "", apperrors.NewValidationError("invalid content hash", err).WithContext("hash", hash)
	}
	return Key(hash, s.objects.Extension()), nil
}

// Put stores raw under hash unless a blob with that hash already exists.
// written reports whether this call created the blob.
func (s *Store) Put(ctx context.Context, hash string, raw []byte) (bool, error) {
	key, err := s.key(hash)
	if err != nil {
		return false, err
	}

	exists, err := s.objects.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if got := Hash(raw); got != hash {
		return false, apperrors.NewValidationError("content does not match hash", nil).
			WithContext("expected", hash).
			WithContext("actual", got)
	}

	if err := s.objects.Put(ctx, key, raw); err != nil {
		return false, apperrors.WrapError(err, "failed to store blob")
	}
	s.logger.WithFields(map[string]interface{}{
		"hash": hash,
		"size": len(raw),
	}).Debug("Blob stored")
	return true, nil
}

// Exists reports whether a blob for hash is stored
func (s *Store) Exists(ctx context.Context, hash string) (bool, error) {
	key, err := s.key(hash)
	if err != nil {
		return false, err
	}
	return s.objects.Exists(ctx, key)
}

// Get returns the content stored under hash. Absent, undecodable and
// mismatching blobs are all reported as NOT_FOUND.
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	key, err := s.key(hash)
	if err != nil {
		return nil, err
	}

	raw, err := s.objects.Get(ctx, key)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("blob %s not found", hash), err)
		}
		return nil, err
	}
	if Hash(raw) != hash {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("blob %s is corrupt", hash), nil).
			WithContext("corrupt", true)
	}
	return raw, nil
}
