package middleware

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ledgerops/report-relay/internal/domain/reports"
)

// Input validation and sanitization utilities

var codeRe = regexp.MustCompile(`^[A-Za-z0-9!._-]{1,50}$`)

// ValidateReportType checks that the type is in the closed enumeration.
func ValidateReportType(t string) error {
	if !reports.ValidType(reports.ReportType(t)) {
		allowed := make([]string, len(reports.TypeOrder))
		for i, rt := range reports.TypeOrder {
			allowed[i] = string(rt)
		}
		return fmt.Errorf("invalid report type: %s (allowed: %s)", t, strings.Join(allowed, ", "))
	}
	return nil
}

// ValidateTenantCode checks the shape of an external id or navigation code.
func ValidateTenantCode(code string) error {
	if code == "" {
		return fmt.Errorf("tenant code is required")
	}
	if !codeRe.MatchString(code) {
		return fmt.Errorf("invalid tenant code: %q", code)
	}
	return nil
}

// ValidatePeriod checks a month/year pair.
func ValidatePeriod(month, year int) error {
	if month < 1 || month > 12 {
		return fmt.Errorf("invalid month: %d", month)
	}
	if year < 2000 || year > 2100 {
		return fmt.Errorf("invalid year: %d", year)
	}
	return nil
}
