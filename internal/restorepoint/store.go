package restorepoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/logging"
	"site-guardian/internal/storage"
)

const manifestPrefix = "restore-points/"

// Store persists manifests. A manifest is written once and never modified.
type Store struct {
	objects *storage.ObjectStore
	logger  *logging.Logger
}

// NewStore creates a manifest store
func NewStore(objects *storage.ObjectStore, logger *logging.Logger) *Store {
	return &Store{objects: objects, logger: logging.OrDefault(logger)}
}

// Key returns the storage key of manifest id
func (s *Store) Key(id string) string {
	return manifestPrefix + id + ".json" + s.objects.Extension()
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return apperrors.NewValidationError("invalid restore point id", nil).WithContext("id", id)
	}
	return nil
}

// Save writes m. Saving an id that already exists is an error.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	if err := validateID(m.ID); err != nil {
		return err
	}
	key := s.Key(m.ID)

	exists, err := s.objects.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return apperrors.NewValidationError(fmt.Sprintf("restore point %s already exists", m.ID), nil)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return apperrors.NewIOFailureError("failed to encode manifest", err)
	}
	if err := s.objects.Put(ctx, key, data); err != nil {
		return apperrors.WrapError(err, "failed to write manifest")
	}
	return nil
}

// Load reads manifest id
func (s *Store) Load(ctx context.Context, id string) (*Manifest, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	data, err := s.objects.Get(ctx, s.Key(id))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("restore point %s not found", id), err)
		}
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("restore point %s is corrupt", id), err)
	}
	if m.Files == nil {
		m.Files = make(map[string]Entry)
	}
	return &m, nil
}

// IDs lists the stored manifest ids in key order
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	objects, err := s.objects.List(ctx, manifestPrefix)
	if err != nil {
		return nil, err
	}

	suffix := ".json" + s.objects.Extension()
	var ids []string
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, manifestPrefix)
		if strings.Contains(name, "/") || !strings.HasSuffix(name, suffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, suffix))
	}
	return ids, nil
}

// List returns the readable manifests, newest first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]*Manifest, error) {
	ids, err := s.IDs(ctx)
	if err != nil {
		return nil, err
	}

	manifests := make([]*Manifest, 0, len(ids))
	for _, id := range ids {
		m, err := s.Load(ctx, id)
		if err != nil {
			s.logger.WithField("restore_point", id).WithError(err).Warn("Skipping unreadable restore point")
			continue
		}
		manifests = append(manifests, m)
	}

	sort.SliceStable(manifests, func(i, j int) bool {
		if manifests[i].CreatedAt.Equal(manifests[j].CreatedAt) {
			return manifests[i].ID > manifests[j].ID
		}
		return manifests[i].CreatedAt.After(manifests[j].CreatedAt)
	})

	if limit > 0 && len(manifests) > limit {
		manifests = manifests[:limit]
	}
	return manifests, nil
}

// Prune deletes every manifest beyond the keepLast newest and returns the
// deleted ids. Blobs are left in place.
func (s *Store) Prune(ctx context.Context, keepLast int) ([]string, error) {
	if keepLast <= 0 {
		return nil, nil
	}

	manifests, err := s.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	if len(manifests) <= keepLast {
		return nil, nil
	}

	var deleted []string
	for _, m := range manifests[keepLast:] {
		if err := s.objects.Delete(ctx, s.Key(m.ID)); err != nil {
			return deleted, apperrors.WrapError(err, fmt.Sprintf("failed to delete restore point %s", m.ID))
		}
		deleted = append(deleted, m.ID)
	}

	s.logger.WithFields(map[string]interface{}{
		"keep_last": keepLast,
		"deleted":   len(deleted),
	}).Info("Pruned old restore points")
	return deleted, nil
}
