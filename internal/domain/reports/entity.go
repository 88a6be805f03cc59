package reports

import (
	"fmt"
	"time"
)

// JobID type for download jobs
type JobID string

// ReportType enum, the closed set of downloadable document kinds.
type ReportType string

const (
	ReportActivityStatement ReportType = "activity_statement"
	ReportPayrollSummary    ReportType = "payroll_summary"
	ReportConsolidated      ReportType = "consolidated_report"
)

// TypeOrder is the fixed processing order of report types within a run.
var TypeOrder = []ReportType{
	ReportActivityStatement,
	ReportPayrollSummary,
	ReportConsolidated,
}

// ValidType reports whether t is a member of the closed enumeration.
func ValidType(t ReportType) bool {
	for _, rt := range TypeOrder {
		if rt == t {
			return true
		}
	}
	return false
}

// Status enum. Pending is the only non-terminal state; a terminal record is
// never reopened; a retry is always a new JobRecord.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Period is the reporting month a download targets.
type Period struct {
	Month time.Month `json:"month"`
	Year  int        `json:"year"`
}

// PreviousMonth returns the period immediately before now, the default when a
// trigger omits one.
func PreviousMonth(now time.Time) Period {
	prev := now.AddDate(0, -1, 0)
	return Period{Month: prev.Month(), Year: prev.Year()}
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// JobRecord is one audited attempt to download one report type for one
// tenant. The log is append-only; the orchestrator finalizes each record
// exactly once and the upload relay touches it exactly once more.
type JobRecord struct {
	ID               JobID      `json:"id"`
	RunID            string     `json:"run_id"`
	TenantExternalID string     `json:"tenant_external_id"`
	ReportType       ReportType `json:"report_type"`
	Period           Period     `json:"period"`
	Status           Status     `json:"status"`

	// Set on success.
	FilePath  string `json:"file_path,omitempty"`
	FileName  string `json:"file_name,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`

	// Set on failure. ScreenshotPath is an opaque diagnostic reference; the
	// log stores it but never interprets it.
	ErrorDetail    string `json:"error_detail,omitempty"`
	ScreenshotPath string `json:"screenshot_path,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Upload state, written by the relay only after Status is success.
	Uploaded   bool   `json:"uploaded"`
	RemotePath string `json:"remote_path,omitempty"`
}

// Outcome carries the terminal state applied by Finalize.
type Outcome struct {
	Status         Status
	FilePath       string
	FileName       string
	SizeBytes      int64
	ErrorDetail    string
	ScreenshotPath string
	CompletedAt    time.Time

	// StartedAt, when set, re-stamps the record with the moment the download
	// actually began inside the session critical section, so started_at never
	// precedes the session that served the attempt.
	StartedAt time.Time
}
