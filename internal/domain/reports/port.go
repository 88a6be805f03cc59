package reports

import (
	"context"
	"time"
)

// Repository port (the append-only download log). Records are never deleted
// by the core; retention is an operational concern.
type Repository interface {
	Append(ctx context.Context, j *JobRecord) error

	// Finalize applies the terminal outcome to a pending record. It must be
	// called exactly once per record.
	Finalize(ctx context.Context, id JobID, out Outcome) error

	// MarkUploaded sets the upload flag and remote path. Valid only for
	// records already in success state.
	MarkUploaded(ctx context.Context, id JobID, remotePath string) error

	// ListUnuploaded returns success records not yet uploaded, oldest first.
	ListUnuploaded(ctx context.Context, limit int) ([]*JobRecord, error)

	// HasSuccessOn reports whether a success record exists for the tenant and
	// report type started on the given calendar day.
	HasSuccessOn(ctx context.Context, tenantExternalID string, rt ReportType, day time.Time) (bool, error)

	Get(ctx context.Context, id JobID) (*JobRecord, error)

	// Latest returns recent records, newest first. Empty tenant matches all.
	Latest(ctx context.Context, tenantExternalID string, limit int) ([]*JobRecord, error)

	// Summary counts records by status since N days ago.
	Summary(ctx context.Context, sinceDays int) (total, success, failed, pending int, err error)
}

// Downloader port: the browser collaborator that fetches one report while
// the session is bound to the right tenant.
type Downloader interface {
	Download(ctx context.Context, req FetchRequest) (FetchResult, error)
}

// ArtifactStore port: remote storage for completed report files.
type ArtifactStore interface {
	// Upload pushes a local file under the given key and returns the remote
	// path.
	Upload(ctx context.Context, localPath, key string) (string, error)
}
