package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateReportType(t *testing.T) {
	require.NoError(t, ValidateReportType("activity_statement"))
	require.NoError(t, ValidateReportType("payroll_summary"))
	require.NoError(t, ValidateReportType("consolidated_report"))
	require.Error(t, ValidateReportType("balance_sheet"))
	require.Error(t, ValidateReportType(""))
}

func TestValidateTenantCode(t *testing.T) {
	require.NoError(t, ValidateTenantCode("!acme"))
	require.NoError(t, ValidateTenantCode("org-123"))
	require.Error(t, ValidateTenantCode(""))
	require.Error(t, ValidateTenantCode("has space"))
	require.Error(t, ValidateTenantCode("semi;colon"))
}

func TestValidatePeriod(t *testing.T) {
	require.NoError(t, ValidatePeriod(7, 2026))
	require.Error(t, ValidatePeriod(0, 2026))
	require.Error(t, ValidatePeriod(13, 2026))
	require.Error(t, ValidatePeriod(7, 1999))
}

func TestAPIKeyAuth(t *testing.T) {
	handler := APIKeyAuth([]string{"secret-key"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"valid bearer", "/v1/runs", "Bearer secret-key", http.StatusOK},
		{"valid bare", "/v1/runs", "secret-key", http.StatusOK},
		{"missing", "/v1/runs", "", http.StatusUnauthorized},
		{"wrong", "/v1/runs", "Bearer nope", http.StatusUnauthorized},
		{"health exempt", "/health", "", http.StatusOK},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, c.path, nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, c.want, rec.Code, c.name)
	}
}

func TestAPIKeyAuthNoKeysIsNoop(t *testing.T) {
	handler := APIKeyAuth(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
