package dbjob

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/storage"
)

// Store persists job records as plain JSON. Each save replaces the whole
// record, and steps of the same job are serialised in process.
type Store struct {
	backend storage.Backend

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a job store on backend
func NewStore(backend storage.Backend) *Store {
	return &Store{backend: backend, locks: make(map[string]*sync.Mutex)}
}

// lock takes the in-process lock of job id and returns its release
func (s *Store) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func validateJobID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return apperrors.NewValidationError("invalid job id", nil).WithContext("id", id)
	}
	return nil
}

func (s *Store) save(ctx context.Context, prefix, id string, record any) error {
	if err := validateJobID(id); err != nil {
		return err
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return apperrors.NewIOFailureError("failed to encode job record", err)
	}
	if err := s.backend.Put(ctx, prefix+id+".json", data); err != nil {
		return apperrors.NewIOFailureError(fmt.Sprintf("failed to write job %s", id), err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, prefix, id string, record any) error {
	if err := validateJobID(id); err != nil {
		return err
	}
	data, err := s.backend.Get(ctx, prefix+id+".json")
	if err != nil {
		if apperrors.IsNotFound(err) {
			return apperrors.NewNotFoundError(fmt.Sprintf("job %s not found", id), err)
		}
		return err
	}
	if err := json.Unmarshal(data, record); err != nil {
		return apperrors.NewNotFoundError(fmt.Sprintf("job %s is corrupt", id), err)
	}
	return nil
}

func (s *Store) ids(ctx context.Context, prefix string) ([]string, error) {
	objects, err := s.backend.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, prefix)
		if strings.Contains(name, "/") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// SaveExport writes an export job record
func (s *Store) SaveExport(ctx context.Context, job *ExportJob) error {
	return s.save(ctx, jobsPrefix, job.ID, job)
}

// LoadExport reads an export job record
func (s *Store) LoadExport(ctx context.Context, id string) (*ExportJob, error) {
	var job ExportJob
	if err := s.load(ctx, jobsPrefix, id, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListExports returns export jobs, newest first
func (s *Store) ListExports(ctx context.Context) ([]*ExportJob, error) {
	ids, err := s.ids(ctx, jobsPrefix)
	if err != nil {
		return nil, err
	}
	jobs := make([]*ExportJob, 0, len(ids))
	for _, id := range ids {
		job, err := s.LoadExport(ctx, id)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

// SaveRestore writes a restore job record
func (s *Store) SaveRestore(ctx context.Context, job *RestoreJob) error {
	return s.save(ctx, restoreJobsPrefix, job.ID, job)
}

// LoadRestore reads a restore job record
func (s *Store) LoadRestore(ctx context.Context, id string) (*RestoreJob, error) {
	var job RestoreJob
	if err := s.load(ctx, restoreJobsPrefix, id, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListRestores returns restore jobs, newest first
func (s *Store) ListRestores(ctx context.Context) ([]*RestoreJob, error) {
	ids, err := s.ids(ctx, restoreJobsPrefix)
	if err != nil {
		return nil, err
	}
	jobs := make([]*RestoreJob, 0, len(ids))
	for _, id := range ids {
		job, err := s.LoadRestore(ctx, id)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}
