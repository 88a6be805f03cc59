package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/ledgerops/report-relay/internal/domain/reports"
)

// JobRepository is the in-memory download log. It enforces the same state
// rules as the database repos: finalize only from pending, upload flag only
// on success.
type JobRepository struct {
	mu   sync.Mutex
	jobs map[domain.JobID]*domain.JobRecord
}

func NewJobRepository() *JobRepository {
	return &JobRepository{jobs: make(map[domain.JobID]*domain.JobRecord)}
}

func (r *JobRepository) Append(_ context.Context, j *domain.JobRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[j.ID]; ok {
		return fmt.Errorf("duplicate job id %s", j.ID)
	}
	cp := *j
	r.jobs[j.ID] = &cp
	return nil
}

func (r *JobRepository) Finalize(_ context.Context, id domain.JobID, out domain.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if j.Status != domain.StatusPending {
		return fmt.Errorf("finalize %s: %w", id, domain.ErrAlreadyFinal)
	}
	j.Status = out.Status
	j.FilePath = out.FilePath
	j.FileName = out.FileName
	j.SizeBytes = out.SizeBytes
	j.ErrorDetail = out.ErrorDetail
	j.ScreenshotPath = out.ScreenshotPath
	if !out.StartedAt.IsZero() {
		j.StartedAt = out.StartedAt
	}
	t := out.CompletedAt
	j.CompletedAt = &t
	return nil
}

func (r *JobRepository) MarkUploaded(_ context.Context, id domain.JobID, remotePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if j.Status != domain.StatusSuccess {
		return fmt.Errorf("mark uploaded %s: %w", id, domain.ErrNotUploadable)
	}
	j.Uploaded = true
	j.RemotePath = remotePath
	return nil
}

func (r *JobRepository) ListUnuploaded(_ context.Context, limit int) ([]*domain.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []*domain.JobRecord
	for _, j := range r.jobs {
		if j.Status == domain.StatusSuccess && !j.Uploaded {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CompletedAt.Before(*out[k].CompletedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobRepository) HasSuccessOn(_ context.Context, tenantExternalID string, rt domain.ReportType, day time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	y, m, d := day.Date()
	for _, j := range r.jobs {
		if j.TenantExternalID != tenantExternalID || j.ReportType != rt || j.Status != domain.StatusSuccess {
			continue
		}
		jy, jm, jd := j.StartedAt.Date()
		if jy == y && jm == m && jd == d {
			return true, nil
		}
	}
	return false, nil
}

func (r *JobRepository) Get(_ context.Context, id domain.JobID) (*domain.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (r *JobRepository) Latest(_ context.Context, tenantExternalID string, limit int) ([]*domain.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	var out []*domain.JobRecord
	for _, j := range r.jobs {
		if tenantExternalID == "" || j.TenantExternalID == tenantExternalID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.After(out[k].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobRepository) Summary(_ context.Context, sinceDays int) (total, success, failed, pending int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sinceDays <= 0 {
		sinceDays = 7
	}
	cut := time.Now().AddDate(0, 0, -sinceDays)
	for _, j := range r.jobs {
		if j.StartedAt.Before(cut) {
			continue
		}
		total++
		switch j.Status {
		case domain.StatusSuccess:
			success++
		case domain.StatusFailed:
			failed++
		case domain.StatusPending:
			pending++
		}
	}
	return total, success, failed, pending, nil
}

// All returns a snapshot of every record, for assertions.
func (r *JobRepository) All() []*domain.JobRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.JobRecord, 0, len(r.jobs))
	for _, j := range r.jobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.Before(out[k].StartedAt) })
	return out
}
