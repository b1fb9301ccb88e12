package restorepoint

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"site-guardian/internal/blobstore"
	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/logging"
)

// DefaultMaxBlobBytes is the per-file ceiling when none is configured
const DefaultMaxBlobBytes int64 = 20 * 1024 * 1024

// ScanResult is the file part of a manifest
type ScanResult struct {
	Files  map[string]Entry
	Counts Counts
}

// Scanner walks a file tree and stores unseen file contents in the blob store
type Scanner struct {
	blobs        *blobstore.Store
	maxBlobBytes int64
	logger       *logging.Logger
}

// NewScanner creates a Scanner. Files larger than maxBlobBytes are recorded
// as skipped.
func NewScanner(blobs *blobstore.Store, maxBlobBytes int64, logger *logging.Logger) *Scanner {
	if maxBlobBytes <= 0 {
		maxBlobBytes = DefaultMaxBlobBytes
	}
	return &Scanner{
		blobs:        blobs,
		maxBlobBytes: maxBlobBytes,
		logger:       logging.OrDefault(logger),
	}
}

// Scan records every regular file under the scope paths of root. Symlinks
// are ignored. Files that disappear while scanning are counted as missing.
func (s *Scanner) Scan(ctx context.Context, root string, scope Scope) (*ScanResult, error) {
	result := &ScanResult{Files: make(map[string]Entry)}

	for _, p := range scope.Paths {
		rel := strings.Trim(filepath.ToSlash(p), "/")
		if rel == "" || hasTraversal(rel) {
			return nil, apperrors.NewInvalidPathError("invalid scope path", nil).WithContext("path", p)
		}

		full := filepath.Join(root, filepath.FromSlash(rel))
		info, err := os.Lstat(full)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, apperrors.NewIOFailureError("failed to stat scope path", err).WithContext("path", rel)
		}

		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			continue
		case info.Mode().IsRegular():
			if scope.Excluded(rel, false) {
				continue
			}
			if err := s.scanFile(ctx, full, rel, result); err != nil {
				return nil, err
			}
		case info.IsDir():
			if err := s.scanDir(ctx, root, full, scope, result); err != nil {
				return nil, err
			}
		}
	}

	return result, nil
}

func (s *Scanner) scanDir(ctx context.Context, root, dir string, scope Scope, result *ScanResult) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			s.logger.WithField("path", p).WithError(walkErr).Warn("Skipping unreadable path")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		relOS, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(relOS)

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			if p != dir && scope.Excluded(rel, true) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || scope.Excluded(rel, false) {
			return nil
		}
		return s.scanFile(ctx, p, rel, result)
	})
}

func (s *Scanner) scanFile(ctx context.Context, full, rel string, result *ScanResult) error {
	if _, seen := result.Files[rel]; seen {
		return nil
	}

	info, err := os.Lstat(full)
	if err != nil || !info.Mode().IsRegular() {
		result.Counts.Missing++
		return nil
	}

	if info.Size() > s.maxBlobBytes {
		result.Files[rel] = Entry{Size: info.Size(), MTime: info.ModTime().Unix(), Skipped: true}
		result.Counts.Files++
		result.Counts.SkippedLarge++
		return nil
	}

	hash, err := blobstore.HashFile(full)
	if err != nil {
		result.Counts.Missing++
		return nil
	}
	size := info.Size()

	exists, err := s.blobs.Exists(ctx, hash)
	if err != nil {
		return apperrors.NewIOFailureError("failed to query blob store", err).WithContext("path", rel)
	}
	if !exists {
		data, err := os.ReadFile(full)
		if err != nil {
			result.Counts.Missing++
			return nil
		}
		// the file may have changed since it was hashed
		hash = blobstore.Hash(data)
		size = int64(len(data))

		written, err := s.blobs.Put(ctx, hash, data)
		if err != nil {
			return apperrors.NewIOFailureError("failed to store blob", err).WithContext("path", rel)
		}
		if written {
			result.Counts.BlobsNew++
		}
	}

	result.Files[rel] = Entry{Hash: hash, Size: size, MTime: info.ModTime().Unix()}
	result.Counts.Files++
	return nil
}

func hasTraversal(rel string) bool {
	for _, segment := range strings.Split(rel, "/") {
		if segment == ".." {
			return true
		}
	}
	return false
}
