package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "site-guardian/internal/errors"
)

const tempFilePrefix = ".tmp-"

// LocalBackend stores objects as files under a base directory
type LocalBackend struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalBackend creates a new LocalBackend and ensures its base directory exists
func NewLocalBackend(config *LocalConfig) (*LocalBackend, error) {
	if config == nil || config.BasePath == "" {
		return nil, apperrors.NewValidationError("local storage base path is required", nil)
	}

	permissions := config.Permissions
	if permissions == 0 {
		permissions = 0755
	}

	backend := &LocalBackend{
		basePath:    filepath.Clean(config.BasePath),
		permissions: permissions,
	}

	if err := os.MkdirAll(backend.basePath, backend.permissions); err != nil {
		return nil, apperrors.NewIOFailureError("failed to create base directory", err).
			WithContext("path", backend.basePath)
	}

	return backend, nil
}

// BasePath returns the directory objects are stored under
func (lb *LocalBackend) BasePath() string {
	return lb.basePath
}

func (lb *LocalBackend) filePath(key string) string {
	return filepath.Join(lb.basePath, filepath.FromSlash(key))
}

// Put writes data to a temporary file and renames it over the key, so readers
// never observe a partially written object
func (lb *LocalBackend) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	target := lb.filePath(key)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, lb.permissions); err != nil {
		return apperrors.NewIOFailureError("failed to create object directory", err).WithContext("key", key)
	}

	tmp, err := os.CreateTemp(dir, tempFilePrefix+"*")
	if err != nil {
		return apperrors.NewIOFailureError("failed to create temporary file", err).WithContext("key", key)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperrors.NewIOFailureError("failed to write object", err).WithContext("key", key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperrors.NewIOFailureError("failed to close object", err).WithContext("key", key)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return apperrors.NewIOFailureError("failed to set object permissions", err).WithContext("key", key)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return apperrors.NewIOFailureError("failed to move object into place", err).WithContext("key", key)
	}

	return nil
}

// Get reads an object
func (lb *LocalBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(lb.filePath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
	}
	if err != nil {
		return nil, apperrors.NewIOFailureError("failed to read object", err).WithContext("key", key)
	}
	return data, nil
}

// Exists reports whether a regular file exists for key
func (lb *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}

	info, err := os.Stat(lb.filePath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.NewIOFailureError("failed to stat object", err).WithContext("key", key)
	}
	return info.Mode().IsRegular(), nil
}

// Delete removes an object; deleting a missing object is not an error
func (lb *LocalBackend) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	err := os.Remove(lb.filePath(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperrors.NewIOFailureError("failed to delete object", err).WithContext("key", key)
	}
	return nil
}

// List walks the directory containing prefix and returns matching objects
func (lb *LocalBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	dir := lb.basePath
	if idx := strings.LastIndex(prefix, "/"); idx >= 0 {
		dir = lb.filePath(prefix[:idx])
	}

	var objects []ObjectInfo
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() || strings.HasPrefix(d.Name(), tempFilePrefix) {
			return nil
		}

		rel, err := filepath.Rel(lb.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, apperrors.NewIOFailureError("failed to list objects", err).WithContext("prefix", prefix)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}
