package storage

import (
	"context"
	"path"
	"strings"
	"time"

	apperrors "site-guardian/internal/errors"
)

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Backend is a flat key/value object store. Keys are slash separated and
// relative; Put replaces an object atomically.
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns a NOT_FOUND engine error when the key is absent
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	// List returns the objects whose key starts with prefix, sorted by key
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// ValidateKey rejects keys that are empty, absolute or escape the store root
func ValidateKey(key string) error {
	if key == "" {
		return apperrors.NewValidationError("object key is empty", nil)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return apperrors.NewValidationError("object key must be relative and slash separated", nil).
			WithContext("key", key)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." || segment == "." {
			return apperrors.NewValidationError("object key contains a relative segment", nil).
				WithContext("key", key)
		}
	}
	return nil
}

// JoinKey joins key segments with slashes
func JoinKey(parts ...string) string {
	return path.Join(parts...)
}

func withPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}

func trimPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, strings.TrimSuffix(prefix, "/")+"/")
}
