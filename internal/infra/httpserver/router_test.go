package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ledgerops/report-relay/internal/application"
	apprun "github.com/ledgerops/report-relay/internal/application/runs"
	appsession "github.com/ledgerops/report-relay/internal/application/session"
	apptenants "github.com/ledgerops/report-relay/internal/application/tenants"
	"github.com/ledgerops/report-relay/internal/domain/reports"
	domsession "github.com/ledgerops/report-relay/internal/domain/session"
	"github.com/ledgerops/report-relay/internal/infra/db/memory"
)

type stubAuth struct{}

func (stubAuth) Authenticate(context.Context) (*domsession.Credential, error) {
	return &domsession.Credential{State: []byte("s"), ExpiresAt: time.Now().Add(time.Hour)}, nil
}
func (stubAuth) Restore(context.Context, *domsession.Credential) error { return nil }

type stubNav struct{}

func (stubNav) SwitchTenant(context.Context, string) error { return nil }

type stubDownloader struct{}

func (stubDownloader) Download(_ context.Context, req reports.FetchRequest) (reports.FetchResult, error) {
	return reports.FetchResult{FilePath: "/downloads/r.xlsx", FileName: "r.xlsx", SizeBytes: 2048}, nil
}

type stubArtifacts struct{}

func (stubArtifacts) Upload(_ context.Context, _, key string) (string, error) {
	return "reports/" + key, nil
}

type passCipher struct{}

func (passCipher) Encrypt(p []byte) ([]byte, error) { return p, nil }
func (passCipher) Decrypt(e []byte) ([]byte, error) { return e, nil }

func newTestServer(t *testing.T) (*httptest.Server, *memory.JobRepository) {
	t.Helper()
	tenantRepo := memory.NewTenantRepository()
	jobRepo := memory.NewJobRepository()
	clock := application.SystemClock{}

	mgr := appsession.NewManager(memory.NewSessionStore(), stubAuth{}, stubNav{}, passCipher{}, clock, zerolog.Nop())
	runsSvc := &apprun.Service{
		Tenants:    tenantRepo,
		Jobs:       jobRepo,
		Session:    mgr,
		Downloader: stubDownloader{},
		Artifacts:  stubArtifacts{},
		Clock:      clock,
		Log:        zerolog.Nop(),
		Workers:    1,
	}
	tenantsSvc := &apptenants.Service{Repo: tenantRepo, Clock: clock, Log: zerolog.Nop()}

	srv := httptest.NewServer(NewRouter(runsSvc, tenantsSvc, mgr, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv, jobRepo
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestImportAndListTenants(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/tenants/import", `[
		{"external_id":"org-1","name":"Acme","short_code":"!ac","storage_folder":"Acme","active":true},
		{"external_id":"org-2","name":"Beta","short_code":"!be","storage_folder":"Beta","active":true}
	]`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results []apptenants.RowResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	require.Len(t, results, 2)
	require.True(t, results[0].Applied)

	listResp, err := http.Get(srv.URL + "/v1/tenants")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var tenants []map[string]any
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&tenants))
	require.Len(t, tenants, 2)
	require.Equal(t, "org-1", tenants[0]["external_id"])
}

func TestImportRejectsBadShortCode(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/tenants/import", `[
		{"external_id":"org-1","name":"Acme","short_code":"has space","active":true}
	]`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetJobNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/jobs/no-such-id")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLatestAndGetJob(t *testing.T) {
	srv, jobRepo := newTestServer(t)

	now := time.Now()
	completed := now.Add(time.Minute)
	require.NoError(t, jobRepo.Append(context.Background(), &reports.JobRecord{
		ID: "job-1", RunID: "run-1",
		TenantExternalID: "org-1",
		ReportType:       reports.ReportActivityStatement,
		Period:           reports.Period{Month: time.July, Year: 2026},
		Status:           reports.StatusPending,
		StartedAt:        now,
	}))
	require.NoError(t, jobRepo.Finalize(context.Background(), "job-1", reports.Outcome{
		Status:      reports.StatusSuccess,
		FilePath:    "/downloads/r.xlsx",
		FileName:    "r.xlsx",
		SizeBytes:   2048,
		CompletedAt: completed,
	}))

	resp, err := http.Get(srv.URL + "/v1/jobs/latest?limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list []reports.JobRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	require.Equal(t, reports.JobID("job-1"), list[0].ID)

	one, err := http.Get(srv.URL + "/v1/jobs/job-1")
	require.NoError(t, err)
	defer one.Body.Close()
	require.Equal(t, http.StatusOK, one.StatusCode)

	var rec reports.JobRecord
	require.NoError(t, json.NewDecoder(one.Body).Decode(&rec))
	require.Equal(t, reports.StatusSuccess, rec.Status)
}

func TestLatestFiltersByReportType(t *testing.T) {
	srv, jobRepo := newTestServer(t)

	now := time.Now()
	seed := func(id string, rt reports.ReportType) {
		require.NoError(t, jobRepo.Append(context.Background(), &reports.JobRecord{
			ID: reports.JobID(id), RunID: "run-1",
			TenantExternalID: "org-1",
			ReportType:       rt,
			Period:           reports.Period{Month: time.July, Year: 2026},
			Status:           reports.StatusPending,
			StartedAt:        now,
		}))
		now = now.Add(time.Second)
	}
	seed("job-1", reports.ReportActivityStatement)
	seed("job-2", reports.ReportPayrollSummary)
	seed("job-3", reports.ReportActivityStatement)

	resp, err := http.Get(srv.URL + "/v1/jobs/latest?type=payroll_summary")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []reports.JobRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	require.Equal(t, reports.JobID("job-2"), list[0].ID)
}

func TestLatestRejectsUnknownReportType(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/jobs/latest?type=balance_sheet")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSummary(t *testing.T) {
	srv, jobRepo := newTestServer(t)

	require.NoError(t, jobRepo.Append(context.Background(), &reports.JobRecord{
		ID: "job-1", RunID: "run-1",
		TenantExternalID: "org-1",
		ReportType:       reports.ReportActivityStatement,
		Status:           reports.StatusPending,
		StartedAt:        time.Now(),
	}))

	resp, err := http.Get(srv.URL + "/v1/summary?days=7")
	require.NoError(t, err)
	defer resp.Body.Close()

	var sum map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sum))
	require.Equal(t, 1, sum["total_jobs"])
	require.Equal(t, 1, sum["pending"])
}

func TestAuthStatusAbsent(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/auth/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.Equal(t, "absent", st["liveness"])
}

func TestTriggerRunQueued(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/runs", `{}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "queued", body["status"])
}

func TestTriggerRunRejectsBadPeriod(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/runs", `{"month":13,"year":2026}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSweepEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/uploads/sweep", ``)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rep apprun.SweepReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	require.Zero(t, rep.Examined)
}
