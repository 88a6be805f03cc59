package runs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	appsession "github.com/ledgerops/report-relay/internal/application/session"
	"github.com/ledgerops/report-relay/internal/domain/reports"
	domsession "github.com/ledgerops/report-relay/internal/domain/session"
	domtenants "github.com/ledgerops/report-relay/internal/domain/tenants"
	"github.com/ledgerops/report-relay/internal/infra/db/memory"
)

// eventLog records the cross-collaborator call order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// stepClock advances one second per reading so records get distinct
// timestamps within the same day.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeAuth struct {
	log   *eventLog
	clock *stepClock
	mu    sync.Mutex
	err   error
	calls int
	times []time.Time
}

func (a *fakeAuth) Authenticate(context.Context) (*domsession.Credential, error) {
	a.log.add("auth")
	if a.err != nil {
		a.mu.Lock()
		a.calls++
		a.mu.Unlock()
		return nil, a.err
	}
	created := a.clock.Now()
	a.mu.Lock()
	a.calls++
	a.times = append(a.times, created)
	a.mu.Unlock()
	return &domsession.Credential{
		State:     []byte("state"),
		ExpiresAt: created.Add(12 * time.Hour),
	}, nil
}

func (a *fakeAuth) Restore(context.Context, *domsession.Credential) error { return nil }

func (a *fakeAuth) authTimes() []time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]time.Time(nil), a.times...)
}

type fakeNav struct {
	mu      sync.Mutex
	failFor map[string]error
}

func (n *fakeNav) SwitchTenant(_ context.Context, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err, ok := n.failFor[code]; ok {
		return err
	}
	return nil
}

type fakeDownloader struct {
	log  *eventLog
	mu   sync.Mutex
	fail map[string]error
}

func dlKey(tenantID string, rt reports.ReportType) string {
	return tenantID + ":" + string(rt)
}

func (d *fakeDownloader) Download(_ context.Context, req reports.FetchRequest) (reports.FetchResult, error) {
	key := dlKey(req.TenantExternalID, req.ReportType)
	d.log.add("download:" + key)
	d.mu.Lock()
	err := d.fail[key]
	d.mu.Unlock()
	if err != nil {
		return reports.FetchResult{}, err
	}
	name := fmt.Sprintf("%s_%s.xlsx", req.ReportType, req.TenantExternalID)
	return reports.FetchResult{
		FilePath:  "/downloads/" + name,
		FileName:  name,
		SizeBytes: 2048,
	}, nil
}

type fakeArtifacts struct {
	mu      sync.Mutex
	uploads []string
	failFor map[string]error
}

func (a *fakeArtifacts) Upload(_ context.Context, localPath, key string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err, ok := a.failFor[localPath]; ok {
		return "", err
	}
	a.uploads = append(a.uploads, key)
	return "reports/" + key, nil
}

func (a *fakeArtifacts) keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.uploads...)
}

type fixture struct {
	svc       *Service
	tenants   *memory.TenantRepository
	jobs      *memory.JobRepository
	auth      *fakeAuth
	nav       *fakeNav
	dl        *fakeDownloader
	artifacts *fakeArtifacts
	clock     *stepClock
	log       *eventLog
}

type nopCipher struct{}

func (nopCipher) Encrypt(p []byte) ([]byte, error) { return p, nil }
func (nopCipher) Decrypt(e []byte) ([]byte, error) { return e, nil }

func newFixture(t *testing.T, tenantIDs ...string) *fixture {
	t.Helper()
	log := &eventLog{}
	clock := &stepClock{now: time.Date(2026, time.August, 5, 9, 0, 0, 0, time.UTC)}
	auth := &fakeAuth{log: log, clock: clock}
	nav := &fakeNav{}
	dl := &fakeDownloader{log: log}
	artifacts := &fakeArtifacts{}
	tenantRepo := memory.NewTenantRepository()
	jobRepo := memory.NewJobRepository()

	for _, id := range tenantIDs {
		require.NoError(t, tenantRepo.Upsert(context.Background(), &domtenants.Tenant{
			ExternalID:    id,
			Name:          "Tenant " + id,
			ShortCode:     "!" + id,
			Active:        true,
			StorageFolder: "Folder-" + id,
		}))
	}

	mgr := appsession.NewManager(memory.NewSessionStore(), auth, nav, nopCipher{}, clock, zerolog.Nop())
	svc := &Service{
		Tenants:    tenantRepo,
		Jobs:       jobRepo,
		Session:    mgr,
		Downloader: dl,
		Artifacts:  artifacts,
		Clock:      clock,
		Log:        zerolog.Nop(),
		Workers:    1,
	}
	return &fixture{
		svc: svc, tenants: tenantRepo, jobs: jobRepo,
		auth: auth, nav: nav, dl: dl, artifacts: artifacts,
		clock: clock, log: log,
	}
}

func TestRunOnceAllSucceed(t *testing.T) {
	f := newFixture(t, "org-a", "org-b")

	rep, err := f.svc.RunOnce(context.Background(), RunCommand{})
	require.NoError(t, err)
	require.Equal(t, 2, rep.Tenants)
	require.Equal(t, 6, rep.Total)
	require.Equal(t, 6, rep.Succeeded)
	require.Zero(t, rep.Failed)
	require.Zero(t, rep.Skipped)
	require.Zero(t, rep.Aborted)

	records := f.jobs.All()
	require.Len(t, records, 6)
	for _, r := range records {
		require.Equal(t, reports.StatusSuccess, r.Status)
		require.Equal(t, rep.RunID, r.RunID)
		require.NotNil(t, r.CompletedAt)
		require.False(t, r.Uploaded)
		require.NotEmpty(t, r.FileName)
	}

	// one login serves the whole run; tenants are walked in registry order
	// and report types in their fixed order
	require.Equal(t, []string{
		"auth",
		"download:org-a:activity_statement",
		"download:org-a:payroll_summary",
		"download:org-a:consolidated_report",
		"download:org-b:activity_statement",
		"download:org-b:payroll_summary",
		"download:org-b:consolidated_report",
	}, f.log.all())
}

func TestRunOnceDefaultsToPreviousMonth(t *testing.T) {
	f := newFixture(t, "org-a")

	rep, err := f.svc.RunOnce(context.Background(), RunCommand{})
	require.NoError(t, err)
	require.Equal(t, reports.Period{Month: time.July, Year: 2026}, rep.Period)
	for _, r := range f.jobs.All() {
		require.Equal(t, rep.Period, r.Period)
	}
}

func TestRunOncePeriodOverride(t *testing.T) {
	f := newFixture(t, "org-a")

	want := reports.Period{Month: time.March, Year: 2026}
	rep, err := f.svc.RunOnce(context.Background(), RunCommand{Period: &want})
	require.NoError(t, err)
	require.Equal(t, want, rep.Period)
}

func TestRunOnceMidJobExpiryReauthenticates(t *testing.T) {
	f := newFixture(t, "org-a", "org-b")
	f.dl.fail = map[string]error{
		dlKey("org-a", reports.ReportActivityStatement): &reports.FetchError{
			Kind:   reports.FailureSessionExpired,
			Detail: "login page appeared",
		},
	}

	rep, err := f.svc.RunOnce(context.Background(), RunCommand{})
	require.NoError(t, err)
	require.Equal(t, 5, rep.Succeeded)
	require.Equal(t, 1, rep.Failed)

	// the expired item fails its own record, and the very next item pays for
	// a fresh login before downloading
	require.Equal(t, []string{
		"auth",
		"download:org-a:activity_statement",
		"auth",
		"download:org-a:payroll_summary",
		"download:org-a:consolidated_report",
		"download:org-b:activity_statement",
		"download:org-b:payroll_summary",
		"download:org-b:consolidated_report",
	}, f.log.all())

	var failed *reports.JobRecord
	for _, r := range f.jobs.All() {
		if r.Status == reports.StatusFailed {
			require.Nil(t, failed, "exactly one failed record expected")
			failed = r
		}
	}
	require.NotNil(t, failed)
	require.Equal(t, reports.ReportActivityStatement, failed.ReportType)
	require.Contains(t, failed.ErrorDetail, "session_expired_mid_job")
}

func TestRunOnceOneTenantFailureDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t, "org-a", "org-b", "org-c")
	f.nav.failFor = map[string]error{
		"!org-b": errors.New("org not listed in switcher"),
	}

	rep, err := f.svc.RunOnce(context.Background(), RunCommand{})
	require.NoError(t, err)
	require.Equal(t, 6, rep.Succeeded)
	require.Equal(t, 3, rep.Failed)
	require.Zero(t, rep.Aborted)

	for _, r := range f.jobs.All() {
		if r.TenantExternalID == "org-b" {
			require.Equal(t, reports.StatusFailed, r.Status)
			require.Contains(t, r.ErrorDetail, "tenant_switch_failed")
		} else {
			require.Equal(t, reports.StatusSuccess, r.Status)
		}
	}
}

func TestRunOnceAuthFailureAbortsRemainder(t *testing.T) {
	f := newFixture(t, "org-a", "org-b")
	f.auth.err = errors.New("mfa prompt timed out")

	rep, err := f.svc.RunOnce(context.Background(), RunCommand{})
	require.NoError(t, err)
	require.Equal(t, 1, rep.Failed)
	require.Equal(t, 5, rep.Aborted)
	require.Zero(t, rep.Succeeded)

	// only the item that hit the login failure has a record; aborted items
	// were never attempted
	records := f.jobs.All()
	require.Len(t, records, 1)
	require.Equal(t, reports.StatusFailed, records[0].Status)
	require.Contains(t, records[0].ErrorDetail, "authentication_failed")
}

func TestRunOnceSkipsDownloadedToday(t *testing.T) {
	f := newFixture(t, "org-a")
	f.svc.SkipDownloadedToday = true

	rep1, err := f.svc.RunOnce(context.Background(), RunCommand{})
	require.NoError(t, err)
	require.Equal(t, 3, rep1.Succeeded)

	rep2, err := f.svc.RunOnce(context.Background(), RunCommand{})
	require.NoError(t, err)
	require.Zero(t, rep2.Succeeded)
	require.Equal(t, 3, rep2.Skipped)

	// skipped items do not append records
	require.Len(t, f.jobs.All(), 3)
}

func TestRunOnceRedownloadsWhenSkipDisabled(t *testing.T) {
	f := newFixture(t, "org-a")
	f.svc.SkipDownloadedToday = false

	_, err := f.svc.RunOnce(context.Background(), RunCommand{})
	require.NoError(t, err)
	rep, err := f.svc.RunOnce(context.Background(), RunCommand{})
	require.NoError(t, err)
	require.Equal(t, 3, rep.Succeeded)
	require.Len(t, f.jobs.All(), 6)
}

func TestStartedAtNotBeforeSessionCreation(t *testing.T) {
	f := newFixture(t, "org-a")
	ctx := context.Background()

	_, err := f.svc.RunOnce(ctx, RunCommand{})
	require.NoError(t, err)

	// the stored session is dead; the next run must log in again
	require.NoError(t, f.svc.Session.Invalidate(ctx))

	rep, err := f.svc.RunOnce(ctx, RunCommand{})
	require.NoError(t, err)
	require.Equal(t, 3, rep.Succeeded)

	times := f.auth.authTimes()
	require.Len(t, times, 2)
	sessionCreated := times[1]

	for _, r := range f.jobs.All() {
		if r.RunID != rep.RunID {
			continue
		}
		require.False(t, r.StartedAt.Before(sessionCreated),
			"record %s started at %s, before the session created at %s",
			r.ID, r.StartedAt, sessionCreated)
	}
}

func seedSuccessJob(t *testing.T, f *fixture, tenantID string, rt reports.ReportType) reports.JobID {
	t.Helper()
	id := reports.JobID(uuid.New().String())
	require.NoError(t, f.jobs.Append(context.Background(), &reports.JobRecord{
		ID:               id,
		RunID:            uuid.New().String(),
		TenantExternalID: tenantID,
		ReportType:       rt,
		Period:           reports.Period{Month: time.July, Year: 2026},
		Status:           reports.StatusPending,
		StartedAt:        f.clock.Now(),
	}))
	name := fmt.Sprintf("%s_%s.xlsx", rt, tenantID)
	require.NoError(t, f.jobs.Finalize(context.Background(), id, reports.Outcome{
		Status:      reports.StatusSuccess,
		FilePath:    "/downloads/" + name,
		FileName:    name,
		SizeBytes:   2048,
		CompletedAt: f.clock.Now(),
	}))
	return id
}

func TestSweepUploadsOnceOnly(t *testing.T) {
	f := newFixture(t, "org-a", "org-b")
	seedSuccessJob(t, f, "org-a", reports.ReportActivityStatement)
	seedSuccessJob(t, f, "org-b", reports.ReportPayrollSummary)

	rep, err := f.svc.SweepUploads(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, rep.Examined)
	require.Equal(t, 2, rep.Uploaded)
	require.Zero(t, rep.Failures)

	require.ElementsMatch(t, []string{
		"Folder-org-a/activity_statement_org-a.xlsx",
		"Folder-org-b/payroll_summary_org-b.xlsx",
	}, f.artifacts.keys())

	for _, r := range f.jobs.All() {
		require.True(t, r.Uploaded)
		require.NotEmpty(t, r.RemotePath)
		require.Equal(t, reports.StatusSuccess, r.Status)
	}

	// a second sweep finds nothing to do
	rep2, err := f.svc.SweepUploads(context.Background())
	require.NoError(t, err)
	require.Zero(t, rep2.Examined)
	require.Zero(t, rep2.Uploaded)
	require.Len(t, f.artifacts.keys(), 2)
}

func TestSweepLeavesFailedUploadForNextPass(t *testing.T) {
	f := newFixture(t, "org-a", "org-b")
	seedSuccessJob(t, f, "org-a", reports.ReportActivityStatement)
	seedSuccessJob(t, f, "org-b", reports.ReportPayrollSummary)
	f.artifacts.failFor = map[string]error{
		"/downloads/activity_statement_org-a.xlsx": errors.New("remote unavailable"),
	}

	rep, err := f.svc.SweepUploads(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Uploaded)
	require.Equal(t, 1, rep.Failures)

	// the failure cleared, the next sweep picks the record up again
	f.artifacts.failFor = nil
	rep2, err := f.svc.SweepUploads(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep2.Examined)
	require.Equal(t, 1, rep2.Uploaded)
}

func TestSweepIgnoresPendingAndFailed(t *testing.T) {
	f := newFixture(t, "org-a")

	pending := reports.JobID(uuid.New().String())
	require.NoError(t, f.jobs.Append(context.Background(), &reports.JobRecord{
		ID: pending, RunID: uuid.New().String(),
		TenantExternalID: "org-a",
		ReportType:       reports.ReportActivityStatement,
		Status:           reports.StatusPending,
		StartedAt:        f.clock.Now(),
	}))

	failed := reports.JobID(uuid.New().String())
	require.NoError(t, f.jobs.Append(context.Background(), &reports.JobRecord{
		ID: failed, RunID: uuid.New().String(),
		TenantExternalID: "org-a",
		ReportType:       reports.ReportPayrollSummary,
		Status:           reports.StatusPending,
		StartedAt:        f.clock.Now(),
	}))
	require.NoError(t, f.jobs.Finalize(context.Background(), failed, reports.Outcome{
		Status:      reports.StatusFailed,
		ErrorDetail: "download_failed: no file",
		CompletedAt: f.clock.Now(),
	}))

	rep, err := f.svc.SweepUploads(context.Background())
	require.NoError(t, err)
	require.Zero(t, rep.Examined)
	require.Empty(t, f.artifacts.keys())
}

func TestMarkUploadedRequiresSuccess(t *testing.T) {
	f := newFixture(t, "org-a")

	failed := reports.JobID(uuid.New().String())
	require.NoError(t, f.jobs.Append(context.Background(), &reports.JobRecord{
		ID: failed, RunID: uuid.New().String(),
		TenantExternalID: "org-a",
		ReportType:       reports.ReportActivityStatement,
		Status:           reports.StatusPending,
		StartedAt:        f.clock.Now(),
	}))
	require.NoError(t, f.jobs.Finalize(context.Background(), failed, reports.Outcome{
		Status:      reports.StatusFailed,
		CompletedAt: f.clock.Now(),
	}))

	err := f.jobs.MarkUploaded(context.Background(), failed, "reports/x")
	require.ErrorIs(t, err, reports.ErrNotUploadable)
}

func TestFinalizeIsSingleShot(t *testing.T) {
	f := newFixture(t, "org-a")
	id := seedSuccessJob(t, f, "org-a", reports.ReportActivityStatement)

	err := f.jobs.Finalize(context.Background(), id, reports.Outcome{
		Status:      reports.StatusFailed,
		CompletedAt: f.clock.Now(),
	})
	require.ErrorIs(t, err, reports.ErrAlreadyFinal)

	rec, err := f.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, reports.StatusSuccess, rec.Status)
}
