package restorepoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"site-guardian/internal/blobstore"
	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/logging"
)

// RestoreResult counts the entries a restore wrote and the ones it could not
type RestoreResult struct {
	Restored int `json:"restored"`
	Skipped  int `json:"skipped"`
}

// Restorer writes restore point entries back to disk
type Restorer struct {
	manifests *Store
	blobs     *blobstore.Store
	siteRoot  string
	logger    *logging.Logger
}

// NewRestorer creates a Restorer writing under siteRoot
func NewRestorer(manifests *Store, blobs *blobstore.Store, siteRoot string, logger *logging.Logger) *Restorer {
	return &Restorer{
		manifests: manifests,
		blobs:     blobs,
		siteRoot:  siteRoot,
		logger:    logging.OrDefault(logger),
	}
}

// NormalizeTarget converts target to a slash separated path relative to the
// site root. A trailing slash is kept; it marks a directory.
func NormalizeTarget(target string) (string, error) {
	t := strings.ReplaceAll(target, `\`, "/")
	t = strings.TrimLeft(t, "/")
	if strings.Trim(t, "/") == "" {
		return "", apperrors.NewInvalidPathError("restore target is empty", nil)
	}
	for _, segment := range strings.Split(t, "/") {
		if segment == ".." {
			return "", apperrors.NewInvalidPathError("restore target must not contain ..", nil).WithContext("target", target)
		}
	}
	return t, nil
}

// Restore writes the entries of restore point id matching target back under
// the site root. A target ending in "/" selects a directory, anything else a
// single file. With deleteFirst the existing target is removed beforehand.
func (r *Restorer) Restore(ctx context.Context, id, target string, deleteFirst bool) (*RestoreResult, error) {
	target, err := NormalizeTarget(target)
	if err != nil {
		return nil, err
	}

	m, err := r.manifests.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	isDir := strings.HasSuffix(target, "/")
	var paths []string
	for p := range m.Files {
		if (isDir && strings.HasPrefix(p, target)) || (!isDir && p == target) {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("restore point %s has no entries for %s", id, target), nil)
	}
	sort.Strings(paths)

	if deleteFirst {
		existing := filepath.Join(r.siteRoot, filepath.FromSlash(strings.TrimSuffix(target, "/")))
		if err := os.RemoveAll(existing); err != nil {
			return nil, apperrors.NewIOFailureError("failed to remove restore target", err).WithContext("target", target)
		}
	}

	result, err := r.restoreEntries(ctx, m, paths, r.siteRoot)
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(map[string]interface{}{
		"restore_point": id,
		"target":        target,
		"delete_first":  deleteFirst,
		"restored":      result.Restored,
		"skipped":       result.Skipped,
	}).Info("Restore finished")
	return result, nil
}

// RestoreScope puts every scope path of restore point id back to its
// recorded state, removing whatever was added since. Scope paths without
// entries are left alone.
func (r *Restorer) RestoreScope(ctx context.Context, id string) (*RestoreResult, error) {
	m, err := r.manifests.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	total := &RestoreResult{}
	for _, p := range m.Scope.Paths {
		target := strings.TrimSuffix(p, "/")
		if _, ok := m.Files[target]; !ok {
			target += "/"
		}
		result, err := r.Restore(ctx, id, target, true)
		if err != nil {
			if apperrors.IsNotFound(err) {
				continue
			}
			return total, err
		}
		total.Restored += result.Restored
		total.Skipped += result.Skipped
	}
	return total, nil
}

// RestoreAll writes every entry of restore point id under destRoot
func (r *Restorer) RestoreAll(ctx context.Context, id, destRoot string) (*RestoreResult, error) {
	m, err := r.manifests.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(m.Files))
	for p := range m.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	result, err := r.restoreEntries(ctx, m, paths, destRoot)
	if err != nil {
		return nil, err
	}
	r.logger.WithFields(map[string]interface{}{
		"restore_point": id,
		"destination":   destRoot,
		"restored":      result.Restored,
		"skipped":       result.Skipped,
	}).Info("Full restore finished")
	return result, nil
}

func (r *Restorer) restoreEntries(ctx context.Context, m *Manifest, paths []string, destRoot string) (*RestoreResult, error) {
	result := &RestoreResult{}

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry := m.Files[p]
		if entry.Skipped || entry.Hash == "" {
			result.Skipped++
			continue
		}
		if _, err := NormalizeTarget(p); err != nil {
			result.Skipped++
			continue
		}

		data, err := r.blobs.Get(ctx, entry.Hash)
		if err != nil {
			if apperrors.IsNotFound(err) {
				r.logger.WithField("path", p).Warn("Blob missing, entry skipped")
				result.Skipped++
				continue
			}
			return nil, err
		}

		dest := filepath.Join(destRoot, filepath.FromSlash(p))
		if err := writeFile(dest, data, entry.MTime); err != nil {
			return nil, apperrors.NewIOFailureError("failed to write restored file", err).WithContext("path", p)
		}
		result.Restored++
	}

	return result, nil
}

func writeFile(dest string, data []byte, mtime int64) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return err
	}
	if mtime > 0 {
		t := time.Unix(mtime, 0)
		if err := os.Chtimes(dest, t, t); err != nil {
			return err
		}
	}
	return nil
}
