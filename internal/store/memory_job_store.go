package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dunamismax/pixelnorm/internal/domain"
)

// MemoryJobStore keeps jobs and usage in process memory. Used when no
// Postgres DSN is configured and in tests.
type MemoryJobStore struct {
	mu    sync.RWMutex
	jobs  map[string]domain.Job
	usage []domain.UsageLog
}

var (
	_ JobStore   = (*MemoryJobStore)(nil)
	_ UsageStore = (*MemoryJobStore)(nil)
)

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.Job),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false, nil
	}
	return cloneJob(job), true, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id, status string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return cloneJob(job), nil
}

func (s *MemoryJobStore) Finish(_ context.Context, id, status string, outputs []domain.VariantOutput, errMsg string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	job.Status = status
	job.Outputs = slices.Clone(outputs)
	job.Error = errMsg
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return cloneJob(job), nil
}

func (s *MemoryJobStore) CreateUsageLog(_ context.Context, usage domain.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, usage)
	return nil
}

func (s *MemoryJobStore) UsageTotals(_ context.Context, userID string) (domain.UsageTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := domain.UsageTotals{UserID: userID}
	for _, entry := range s.usage {
		if entry.UserID != userID {
			continue
		}
		totals.Jobs++
		totals.PixelsProcessed += entry.PixelsProcessed
		totals.BytesSaved += entry.BytesSaved
		totals.ComputeTimeMS += entry.ComputeTimeMS
	}
	return totals, nil
}

func cloneJob(job domain.Job) domain.Job {
	job.Variants = slices.Clone(job.Variants)
	job.Outputs = slices.Clone(job.Outputs)
	return job
}
