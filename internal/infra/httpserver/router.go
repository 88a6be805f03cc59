package httpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	apprun "github.com/ledgerops/report-relay/internal/application/runs"
	appsession "github.com/ledgerops/report-relay/internal/application/session"
	apptenants "github.com/ledgerops/report-relay/internal/application/tenants"
	"github.com/ledgerops/report-relay/internal/domain/reports"
	domtenants "github.com/ledgerops/report-relay/internal/domain/tenants"
	"github.com/ledgerops/report-relay/internal/middleware"
)

type Router struct {
	runsSvc    *apprun.Service
	tenantsSvc *apptenants.Service
	sessionMgr *appsession.Manager
	log        zerolog.Logger
}

func NewRouter(runsSvc *apprun.Service, tenantsSvc *apptenants.Service, sessionMgr *appsession.Manager, log zerolog.Logger) http.Handler {
	r := &Router{runsSvc: runsSvc, tenantsSvc: tenantsSvc, sessionMgr: sessionMgr, log: log}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	mux.Get("/livez", middleware.LivenessHandler)

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/runs", r.wrap(r.handleTriggerRun))
		rt.Post("/uploads/sweep", r.wrap(r.handleSweep))
		rt.Get("/auth/status", r.wrap(r.handleAuthStatus))
		rt.Post("/auth/invalidate", r.wrap(r.handleAuthInvalidate))
		rt.Post("/tenants/import", r.wrap(r.handleImport))
		rt.Get("/tenants", r.wrap(r.handleListTenants))
		rt.Get("/jobs/latest", r.wrap(r.handleLatest))
		rt.Get("/jobs/{id}", r.wrap(r.handleGetJob))
		rt.Get("/summary", r.wrap(r.handleSummary))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			switch {
			case errors.Is(err, sql.ErrNoRows),
				errors.Is(err, reports.ErrJobNotFound),
				errors.Is(err, domtenants.ErrNotFound):
				http.Error(w, "not found", http.StatusNotFound)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

// POST /v1/runs
// Body (optional): {"month": 7, "year": 2026}
// The run executes in the background until done; progress lands in the job
// log and /metrics.
func (r *Router) handleTriggerRun(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Month int `json:"month"`
		Year  int `json:"year"`
	}
	if req.Body != nil && req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return err
		}
	}

	cmd := apprun.RunCommand{TriggeredBy: req.RemoteAddr}
	if body.Month != 0 || body.Year != 0 {
		if err := middleware.ValidatePeriod(body.Month, body.Year); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return nil
		}
		cmd.Period = &reports.Period{Month: time.Month(body.Month), Year: body.Year}
	}

	// Detached from the request context so the run keeps going after the
	// triggering request is gone.
	go func() {
		middleware.IncrementRuns()
		middleware.IncrementRunsInProgress()
		defer middleware.DecrementRunsInProgress()

		report, err := r.runsSvc.RunOnce(context.Background(), cmd)
		if err != nil {
			r.log.Error().Err(err).Msg("background run error")
			return
		}
		middleware.AddJobResults(report.Succeeded, report.Failed)
	}()

	return writeJSON(w, map[string]any{
		"status":   "queued",
		"message":  "run started in background",
		"queuedAt": time.Now(),
	})
}

// POST /v1/uploads/sweep
func (r *Router) handleSweep(w http.ResponseWriter, req *http.Request) error {
	rep, err := r.runsSvc.SweepUploads(req.Context())
	if err != nil {
		return err
	}
	middleware.AddUploads(rep.Uploaded)
	return writeJSON(w, rep)
}

// GET /v1/auth/status
func (r *Router) handleAuthStatus(w http.ResponseWriter, req *http.Request) error {
	st, err := r.sessionMgr.Status(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, st)
}

// POST /v1/auth/invalidate
func (r *Router) handleAuthInvalidate(w http.ResponseWriter, req *http.Request) error {
	if err := r.sessionMgr.Invalidate(req.Context()); err != nil {
		return err
	}
	return writeJSON(w, map[string]string{"status": "invalidated"})
}

// POST /v1/tenants/import
// Body: [{"external_id": "...", "name": "...", "short_code": "...",
//         "storage_folder": "...", "active": true}, ...]
func (r *Router) handleImport(w http.ResponseWriter, req *http.Request) error {
	var rows []apptenants.ImportRow
	if err := json.NewDecoder(req.Body).Decode(&rows); err != nil {
		return err
	}
	for _, row := range rows {
		if row.ShortCode != "" {
			if err := middleware.ValidateTenantCode(row.ShortCode); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return nil
			}
		}
	}

	results, err := r.tenantsSvc.Import(req.Context(), rows)
	if err != nil {
		return err
	}
	return writeJSON(w, results)
}

// GET /v1/tenants
func (r *Router) handleListTenants(w http.ResponseWriter, req *http.Request) error {
	list, err := r.tenantsSvc.ListActive(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/jobs/latest?tenant=&type=&limit=20
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	tenant := req.URL.Query().Get("tenant")
	reportType := req.URL.Query().Get("type")
	if reportType != "" {
		if err := middleware.ValidateReportType(reportType); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return nil
		}
	}

	list, err := r.runsSvc.Latest(req.Context(), tenant, limit)
	if err != nil {
		return err
	}
	if reportType != "" {
		filtered := make([]*reports.JobRecord, 0, len(list))
		for _, j := range list {
			if j.ReportType == reports.ReportType(reportType) {
				filtered = append(filtered, j)
			}
		}
		list = filtered
	}
	return writeJSON(w, list)
}

// GET /v1/jobs/{id}
func (r *Router) handleGetJob(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	job, err := r.runsSvc.GetJob(req.Context(), reports.JobID(id))
	if err != nil {
		return fmt.Errorf("job %s: %w", id, err)
	}
	return writeJSON(w, job)
}

// GET /v1/summary?days=7
func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) error {
	days, _ := strconv.Atoi(req.URL.Query().Get("days"))
	summary, err := r.runsSvc.Summary(req.Context(), days)
	if err != nil {
		return err
	}
	return writeJSON(w, summary)
}
