package files

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ledgerops/report-relay/internal/domain/reports"
)

// Downloader wraps the raw browser downloader with local housekeeping: the
// file the sidecar wrote is validated and moved to the standard name under
// the managed download directory before it is reported upstream.
type Downloader struct {
	Next    reports.Downloader
	Manager *Manager

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewDownloader(next reports.Downloader, m *Manager) *Downloader {
	return &Downloader{Next: next, Manager: m, Now: time.Now}
}

func (d *Downloader) Download(ctx context.Context, req reports.FetchRequest) (reports.FetchResult, error) {
	res, err := d.Next.Download(ctx, req)
	if err != nil {
		return res, err
	}

	if verr := d.Manager.ValidateExcel(res.FilePath); verr != nil {
		return reports.FetchResult{}, &reports.FetchError{
			Kind:   reports.FailureDownload,
			Detail: fmt.Sprintf("downloaded file failed validation: %v", verr),
			Err:    verr,
		}
	}

	name := d.Manager.ReportFileName(req.ReportType, req.TenantName, req.Period, d.Now())
	dest := filepath.Join(d.Manager.Dir(), name)
	if dest != res.FilePath {
		if rerr := os.Rename(res.FilePath, dest); rerr != nil {
			return reports.FetchResult{}, &reports.FetchError{
				Kind:   reports.FailureDownload,
				Detail: fmt.Sprintf("moving downloaded file: %v", rerr),
				Err:    rerr,
			}
		}
	}

	info, serr := os.Stat(dest)
	if serr != nil {
		return reports.FetchResult{}, &reports.FetchError{
			Kind:   reports.FailureDownload,
			Detail: fmt.Sprintf("stat after move: %v", serr),
			Err:    serr,
		}
	}
	return reports.FetchResult{
		FilePath:  dest,
		FileName:  name,
		SizeBytes: info.Size(),
	}, nil
}
