// Package runs implements the download orchestrator: it enumerates
// (tenant × report type) work items, drives each through the session
// manager's critical section, and records every attempt in the job log.
package runs

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ledgerops/report-relay/internal/application"
	appsession "github.com/ledgerops/report-relay/internal/application/session"
	"github.com/ledgerops/report-relay/internal/domain/reports"
	"github.com/ledgerops/report-relay/internal/domain/tenants"
)

// Service implements the run and upload-sweep use cases. Safe for concurrent
// use; the session manager serializes the platform-facing part of every item.
type Service struct {
	Tenants    tenants.Repository
	Jobs       reports.Repository
	Session    *appsession.Manager
	Downloader reports.Downloader
	Artifacts  reports.ArtifactStore
	Clock      application.Clock
	Log        zerolog.Logger

	// Workers sizes the pool pulling work items. Only the non-platform tail
	// of each item (finalization) actually overlaps; defaults to 1.
	Workers int

	// SkipDownloadedToday short-circuits items that already have a success
	// record for the same tenant/report/day, so manual re-runs do not
	// duplicate downloads.
	SkipDownloadedToday bool
}

// RunCommand triggers one orchestrator pass.
type RunCommand struct {
	// Period defaults to the month before the trigger time.
	Period      *reports.Period
	TriggeredBy string
}

// RunReport summarises one pass.
type RunReport struct {
	RunID      string         `json:"run_id"`
	Period     reports.Period `json:"period"`
	Tenants    int            `json:"tenants"`
	Total      int            `json:"total_items"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	Aborted    int            `json:"aborted"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

type workItem struct {
	tenant *tenants.Tenant
	rt     reports.ReportType
}

type itemOutcome int

const (
	outcomeSucceeded itemOutcome = iota
	outcomeFailed
	outcomeSkipped
	outcomeAborted
)

// RunOnce executes one full pass: active tenants × report types, in registry
// order, one JobRecord per attempt, no internal retry. Item failures never
// abort the run; an authentication failure does, since no further item can
// proceed without a session.
func (s *Service) RunOnce(ctx context.Context, cmd RunCommand) (*RunReport, error) {
	started := s.Clock.Now()
	period := reports.PreviousMonth(started)
	if cmd.Period != nil {
		period = *cmd.Period
	}

	active, err := s.Tenants.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]workItem, 0, len(active)*len(reports.TypeOrder))
	for _, t := range active {
		for _, rt := range reports.TypeOrder {
			items = append(items, workItem{tenant: t, rt: rt})
		}
	}

	report := &RunReport{
		RunID:     uuid.New().String(),
		Period:    period,
		Tenants:   len(active),
		Total:     len(items),
		StartedAt: started,
	}
	log := s.Log.With().Str("run_id", report.RunID).Str("period", period.String()).Logger()
	log.Info().Int("tenants", len(active)).Int("items", len(items)).Msg("run started")

	// runCtx is cancelled on authentication failure so workers stop pulling
	// new items; the in-flight critical section still runs to completion.
	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	workers := s.Workers
	if workers <= 0 {
		workers = 1
	}

	queue := make(chan workItem)
	results := make(chan itemOutcome, len(items))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				if runCtx.Err() != nil {
					results <- outcomeAborted
					continue
				}
				out, authFailed := s.processItem(runCtx, log, report.RunID, item, period)
				if authFailed {
					abort()
				}
				results <- out
			}
		}()
	}

	for _, item := range items {
		queue <- item
	}
	close(queue)
	wg.Wait()
	close(results)

	for out := range results {
		switch out {
		case outcomeSucceeded:
			report.Succeeded++
		case outcomeFailed:
			report.Failed++
		case outcomeSkipped:
			report.Skipped++
		case outcomeAborted:
			report.Aborted++
		}
	}

	report.FinishedAt = s.Clock.Now()
	log.Info().
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Int("aborted", report.Aborted).
		Msg("run finished")
	return report, ctx.Err()
}

// processItem drives a single (tenant, report type) attempt: append a
// pending record, run the critical section, finalize exactly once. The
// second return value reports an authentication failure, which aborts the
// remainder of the run.
func (s *Service) processItem(ctx context.Context, log zerolog.Logger, runID string, item workItem, period reports.Period) (itemOutcome, bool) {
	now := s.Clock.Now()
	ilog := log.With().
		Str("tenant", item.tenant.ExternalID).
		Str("report_type", string(item.rt)).
		Logger()

	if s.SkipDownloadedToday {
		done, err := s.Jobs.HasSuccessOn(ctx, item.tenant.ExternalID, item.rt, now)
		if err != nil {
			ilog.Warn().Err(err).Msg("same-day check failed, attempting anyway")
		} else if done {
			ilog.Debug().Msg("already downloaded today, skipping")
			return outcomeSkipped, false
		}
	}

	job := &reports.JobRecord{
		ID:               reports.JobID(uuid.New().String()),
		RunID:            runID,
		TenantExternalID: item.tenant.ExternalID,
		ReportType:       item.rt,
		Period:           period,
		Status:           reports.StatusPending,
		StartedAt:        now,
	}
	if err := s.Jobs.Append(ctx, job); err != nil {
		ilog.Error().Err(err).Msg("appending job record failed")
		return outcomeFailed, false
	}

	var res reports.FetchResult
	var sectionStart time.Time
	err := s.Session.WithTenant(ctx, navigationCode(item.tenant), func(cctx context.Context) error {
		// The session is live from here on. Re-stamp the start so the record
		// never predates a session that had to be re-established.
		sectionStart = s.Clock.Now()
		r, derr := s.Downloader.Download(cctx, reports.FetchRequest{
			TenantExternalID: item.tenant.ExternalID,
			TenantName:       item.tenant.Name,
			TenantShortCode:  item.tenant.ShortCode,
			ReportType:       item.rt,
			Period:           period,
		})
		if derr != nil {
			return derr
		}
		res = r
		return nil
	})

	// Finalization is detached from cancellation: every appended record must
	// reach a terminal state.
	fctx := context.WithoutCancel(ctx)
	out := reports.Outcome{CompletedAt: s.Clock.Now(), StartedAt: sectionStart}
	if err != nil {
		out.Status = reports.StatusFailed
		out.ErrorDetail = err.Error()
		out.ScreenshotPath = reports.ScreenshotOf(err)
		if ferr := s.Jobs.Finalize(fctx, job.ID, out); ferr != nil {
			ilog.Error().Err(ferr).Msg("finalizing failed job record failed")
		}
		ilog.Warn().Err(err).Str("kind", string(reports.KindOf(err))).Msg("work item failed")
		if reports.IsAuthFailure(err) {
			ilog.Error().Msg("session cannot be established, aborting remaining items")
			return outcomeFailed, true
		}
		return outcomeFailed, false
	}

	out.Status = reports.StatusSuccess
	out.FilePath = res.FilePath
	out.FileName = res.FileName
	out.SizeBytes = res.SizeBytes
	if ferr := s.Jobs.Finalize(fctx, job.ID, out); ferr != nil {
		ilog.Error().Err(ferr).Msg("finalizing job record failed")
		return outcomeFailed, false
	}
	ilog.Info().Str("file", res.FileName).Int64("size", res.SizeBytes).Msg("report downloaded")
	return outcomeSucceeded, false
}

// navigationCode falls back to the external identifier when a tenant has no
// short code assigned; the browser collaborator resolves either.
func navigationCode(t *tenants.Tenant) string {
	if t.ShortCode != "" {
		return t.ShortCode
	}
	return t.ExternalID
}

// Latest returns recent job records, newest first.
func (s *Service) Latest(ctx context.Context, tenantExternalID string, limit int) ([]*reports.JobRecord, error) {
	return s.Jobs.Latest(ctx, tenantExternalID, limit)
}

// GetJob returns one job record by id.
func (s *Service) GetJob(ctx context.Context, id reports.JobID) (*reports.JobRecord, error) {
	return s.Jobs.Get(ctx, id)
}

// Summary aggregates job outcomes over the last N days.
func (s *Service) Summary(ctx context.Context, sinceDays int) (map[string]any, error) {
	total, success, failed, pending, err := s.Jobs.Summary(ctx, sinceDays)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total_jobs": total,
		"success":    success,
		"failed":     failed,
		"pending":    pending,
	}, nil
}

// SweepReport summarises one upload sweep.
type SweepReport struct {
	Examined int `json:"examined"`
	Uploaded int `json:"uploaded"`
	Failures int `json:"failures"`
}

// SweepUploads pushes success-but-unuploaded files to each tenant's
// destination folder. An upload failure leaves the record untouched for a
// future sweep; it never downgrades the download status. Safe to run
// back-to-back and concurrently with an in-progress run.
func (s *Service) SweepUploads(ctx context.Context) (*SweepReport, error) {
	const batch = 500
	jobs, err := s.Jobs.ListUnuploaded(ctx, batch)
	if err != nil {
		return nil, err
	}

	rep := &SweepReport{Examined: len(jobs)}
	for _, job := range jobs {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		jlog := s.Log.With().
			Str("job_id", string(job.ID)).
			Str("tenant", job.TenantExternalID).
			Logger()

		tenant, err := s.Tenants.GetByExternalID(ctx, job.TenantExternalID)
		if err != nil {
			jlog.Warn().Err(err).Msg("tenant lookup failed, leaving for next sweep")
			rep.Failures++
			continue
		}

		key := path.Join(tenant.StorageFolder, job.FileName)
		remote, err := s.Artifacts.Upload(ctx, job.FilePath, key)
		if err != nil {
			jlog.Warn().Err(err).Msg("upload failed, leaving for next sweep")
			rep.Failures++
			continue
		}
		if err := s.Jobs.MarkUploaded(ctx, job.ID, remote); err != nil {
			jlog.Error().Err(err).Msg("marking uploaded failed")
			rep.Failures++
			continue
		}
		jlog.Info().Str("remote", remote).Msg("report uploaded")
		rep.Uploaded++
	}
	return rep, nil
}
