// Package files handles local file housekeeping for downloaded reports:
// naming, validation and retention cleanup.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ledgerops/report-relay/internal/domain/reports"
)

type Manager struct {
	downloadDir string
	log         zerolog.Logger
}

func NewManager(downloadDir string, log zerolog.Logger) (*Manager, error) {
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating download dir: %w", err)
	}
	return &Manager{
		downloadDir: downloadDir,
		log:         log.With().Str("component", "files").Logger(),
	}, nil
}

func (m *Manager) Dir() string { return m.downloadDir }

// ReportFileName builds the standard name for a downloaded report:
// ReportType_TenantName_Period_Timestamp.xlsx, with the tenant name
// sanitized for the filesystem.
func (m *Manager) ReportFileName(rt reports.ReportType, tenantName string, period reports.Period, now time.Time) string {
	reportName := titleUnderscored(string(rt))
	return fmt.Sprintf("%s_%s_%s_%s.xlsx",
		reportName,
		SanitizeName(tenantName),
		period.String(),
		now.Format("20060102_150405"),
	)
}

// SanitizeName strips characters that are invalid in filenames and collapses
// whitespace to single underscores. The result is capped at 100 characters.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			// drop
		case ' ':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}

func titleUnderscored(s string) string {
	parts := strings.Split(s, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "_")
}

// ValidateExcel checks that a downloaded file looks like a real xlsx: it
// exists, is not suspiciously small, carries an Excel extension, and starts
// with the ZIP magic.
func (m *Manager) ValidateExcel(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() < 1000 {
		return fmt.Errorf("file too small to be a valid report: %d bytes", info.Size())
	}
	lower := strings.ToLower(path)
	if !strings.HasSuffix(lower, ".xlsx") && !strings.HasSuffix(lower, ".xls") {
		return fmt.Errorf("unexpected extension: %s", filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	header := make([]byte, 2)
	if _, err := f.Read(header); err != nil {
		return err
	}
	// xlsx files are ZIP archives, so they start with PK
	if header[0] != 'P' || header[1] != 'K' {
		return fmt.Errorf("file does not have a valid xlsx header")
	}
	return nil
}

// CleanupOld removes downloads older than maxAge and returns how many were
// deleted. Run periodically; uploaded files stay on disk until this reaps
// them.
func (m *Manager) CleanupOld(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	entries, err := os.ReadDir(m.downloadDir)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(m.downloadDir, e.Name())
			if err := os.Remove(path); err != nil {
				m.log.Warn().Err(err).Str("file", e.Name()).Msg("removing old download failed")
				continue
			}
			deleted++
			m.log.Info().Str("file", e.Name()).Msg("deleted old download")
		}
	}
	return deleted, nil
}
