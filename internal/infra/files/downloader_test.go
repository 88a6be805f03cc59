package files

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerops/report-relay/internal/domain/reports"
)

type stubDownloader struct {
	res reports.FetchResult
	err error
}

func (s *stubDownloader) Download(context.Context, reports.FetchRequest) (reports.FetchResult, error) {
	return s.res, s.err
}

func TestDownloaderMovesAndRenames(t *testing.T) {
	m := newTestManager(t)
	raw := writeFile(t, t.TempDir(), "raw-download.xlsx", xlsxBytes())

	d := NewDownloader(&stubDownloader{res: reports.FetchResult{FilePath: raw}}, m)
	d.Now = func() time.Time { return time.Date(2026, time.August, 5, 9, 0, 0, 0, time.UTC) }

	res, err := d.Download(context.Background(), reports.FetchRequest{
		TenantName: "Acme Pty Ltd",
		ReportType: reports.ReportPayrollSummary,
		Period:     reports.Period{Month: time.July, Year: 2026},
	})
	require.NoError(t, err)
	require.Equal(t, "Payroll_Summary_Acme_Pty_Ltd_2026-07_20260805_090000.xlsx", res.FileName)
	require.Equal(t, filepath.Join(m.Dir(), res.FileName), res.FilePath)
	require.EqualValues(t, 2048, res.SizeBytes)

	_, err = os.Stat(raw)
	require.True(t, os.IsNotExist(err))
}

func TestDownloaderRejectsInvalidFile(t *testing.T) {
	m := newTestManager(t)
	raw := writeFile(t, t.TempDir(), "truncated.xlsx", []byte("PK"))

	d := NewDownloader(&stubDownloader{res: reports.FetchResult{FilePath: raw}}, m)
	_, err := d.Download(context.Background(), reports.FetchRequest{
		TenantName: "Acme",
		ReportType: reports.ReportActivityStatement,
		Period:     reports.Period{Month: time.July, Year: 2026},
	})
	require.Error(t, err)
	require.Equal(t, reports.FailureDownload, reports.KindOf(err))
}

func TestDownloaderPassesThroughErrors(t *testing.T) {
	m := newTestManager(t)
	want := &reports.FetchError{Kind: reports.FailureSessionExpired, Detail: "login page"}

	d := NewDownloader(&stubDownloader{err: want}, m)
	_, err := d.Download(context.Background(), reports.FetchRequest{})
	require.True(t, reports.IsSessionExpired(err))
}
