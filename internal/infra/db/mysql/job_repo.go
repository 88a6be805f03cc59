package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/ledgerops/report-relay/internal/domain/reports"
)

// JobRepository is the append-only download log. Finalize and MarkUploaded
// guard their WHERE clauses so a record can never regress: pending is the
// only state Finalize accepts, success the only state MarkUploaded accepts.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `
id, run_id, tenant_external_id, report_type, period_year, period_month, status,
file_path, file_name, size_bytes, error_detail, screenshot_path,
started_at, completed_at, uploaded_to_onedrive, remote_path`

func (r *JobRepository) Append(ctx context.Context, j *domain.JobRecord) error {
	const q = `
INSERT INTO download_jobs
(id, run_id, tenant_external_id, report_type, period_year, period_month, status,
 file_path, file_name, size_bytes, error_detail, screenshot_path,
 started_at, completed_at, uploaded_to_onedrive, remote_path)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?);
`
	_, err := r.db.ExecContext(ctx, q,
		j.ID, j.RunID, j.TenantExternalID, j.ReportType,
		j.Period.Year, int(j.Period.Month), j.Status,
		j.FilePath, j.FileName, j.SizeBytes, j.ErrorDetail, j.ScreenshotPath,
		j.StartedAt, j.CompletedAt, j.Uploaded, j.RemotePath,
	)
	return err
}

func (r *JobRepository) Finalize(ctx context.Context, id domain.JobID, out domain.Outcome) error {
	const q = `
UPDATE download_jobs
SET status = ?, file_path = ?, file_name = ?, size_bytes = ?,
    error_detail = ?, screenshot_path = ?, completed_at = ?,
    started_at = COALESCE(?, started_at)
WHERE id = ? AND status = ?;
`
	res, err := r.db.ExecContext(ctx, q,
		out.Status, out.FilePath, out.FileName, out.SizeBytes,
		out.ErrorDetail, out.ScreenshotPath, out.CompletedAt,
		nullTime(out.StartedAt),
		id, domain.StatusPending,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, gerr := r.Get(ctx, id); errors.Is(gerr, domain.ErrJobNotFound) {
			return domain.ErrJobNotFound
		}
		return fmt.Errorf("finalize %s: %w", id, domain.ErrAlreadyFinal)
	}
	return nil
}

func (r *JobRepository) MarkUploaded(ctx context.Context, id domain.JobID, remotePath string) error {
	const q = `
UPDATE download_jobs
SET uploaded_to_onedrive = TRUE, remote_path = ?
WHERE id = ? AND status = ?;
`
	res, err := r.db.ExecContext(ctx, q, remotePath, id, domain.StatusSuccess)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, gerr := r.Get(ctx, id); errors.Is(gerr, domain.ErrJobNotFound) {
			return domain.ErrJobNotFound
		}
		return fmt.Errorf("mark uploaded %s: %w", id, domain.ErrNotUploadable)
	}
	return nil
}

func (r *JobRepository) ListUnuploaded(ctx context.Context, limit int) ([]*domain.JobRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
SELECT ` + jobColumns + `
FROM download_jobs
WHERE status = ? AND uploaded_to_onedrive = FALSE
ORDER BY completed_at ASC
LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, domain.StatusSuccess, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *JobRepository) HasSuccessOn(ctx context.Context, tenantExternalID string, rt domain.ReportType, day time.Time) (bool, error) {
	const q = `
SELECT COUNT(*)
FROM download_jobs
WHERE tenant_external_id = ? AND report_type = ? AND status = ?
  AND started_at >= ? AND started_at < ?;
`
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	var n int
	err := r.db.QueryRowContext(ctx, q,
		tenantExternalID, rt, domain.StatusSuccess, dayStart, dayStart.AddDate(0, 0, 1),
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *JobRepository) Get(ctx context.Context, id domain.JobID) (*domain.JobRecord, error) {
	q := `
SELECT ` + jobColumns + `
FROM download_jobs
WHERE id = ? LIMIT 1;
`
	j, err := scanJob(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (r *JobRepository) Latest(ctx context.Context, tenantExternalID string, limit int) ([]*domain.JobRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `
SELECT ` + jobColumns + `
FROM download_jobs
`
	args := []any{}
	if tenantExternalID != "" {
		q += "WHERE tenant_external_id = ?\n"
		args = append(args, tenantExternalID)
	}
	q += "ORDER BY started_at DESC LIMIT ?;"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *JobRepository) Summary(ctx context.Context, sinceDays int) (total, success, failed, pending int, err error) {
	if sinceDays <= 0 {
		sinceDays = 7
	}
	cut := time.Now().AddDate(0, 0, -sinceDays)

	const q = `
SELECT COUNT(*),
       COALESCE(SUM(status = 'success'),0),
       COALESCE(SUM(status = 'failed'),0),
       COALESCE(SUM(status = 'pending'),0)
FROM download_jobs
WHERE started_at >= ?;
`
	err = r.db.QueryRowContext(ctx, q, cut).Scan(&total, &success, &failed, &pending)
	return total, success, failed, pending, err
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func collectJobs(rows *sql.Rows) ([]*domain.JobRecord, error) {
	var out []*domain.JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row rowScanner) (*domain.JobRecord, error) {
	var j domain.JobRecord
	var month int
	var completed sql.NullTime
	var filePath, fileName, errDetail, screenshot, remote sql.NullString
	if err := row.Scan(
		&j.ID, &j.RunID, &j.TenantExternalID, &j.ReportType,
		&j.Period.Year, &month, &j.Status,
		&filePath, &fileName, &j.SizeBytes, &errDetail, &screenshot,
		&j.StartedAt, &completed, &j.Uploaded, &remote,
	); err != nil {
		return nil, err
	}
	j.Period.Month = time.Month(month)
	j.FilePath = filePath.String
	j.FileName = fileName.String
	j.ErrorDetail = errDetail.String
	j.ScreenshotPath = screenshot.String
	j.RemotePath = remote.String
	if completed.Valid {
		t := completed.Time
		j.CompletedAt = &t
	}
	return &j, nil
}
