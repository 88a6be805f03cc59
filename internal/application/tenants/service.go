// Package tenants implements the tenant import and listing use cases.
package tenants

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/ledgerops/report-relay/internal/application"
	domain "github.com/ledgerops/report-relay/internal/domain/tenants"
)

// Service reconciles the client organisation list against the registry.
type Service struct {
	Repo  domain.Repository
	Clock application.Clock
	Log   zerolog.Logger
}

// ImportRow is one tenant tuple from the import boundary.
type ImportRow struct {
	ExternalID    string `json:"external_id"`
	Name          string `json:"name"`
	ShortCode     string `json:"short_code"`
	StorageFolder string `json:"storage_folder"`
	Active        bool   `json:"active"`
}

// RowResult reports the fate of one import row.
type RowResult struct {
	ExternalID string `json:"external_id"`
	Applied    bool   `json:"applied"`
	Error      string `json:"error,omitempty"`
}

// Import upserts each row by external id. Re-importing the same list is
// idempotent: names, codes, folders and flags are updated in place, never
// duplicated. A short-code conflict rejects only the offending row.
func (s *Service) Import(ctx context.Context, rows []ImportRow) ([]RowResult, error) {
	results := make([]RowResult, 0, len(rows))
	for _, row := range rows {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res := RowResult{ExternalID: row.ExternalID}
		if row.ExternalID == "" {
			res.Error = "external_id is required"
			results = append(results, res)
			continue
		}

		now := s.Clock.Now()
		err := s.Repo.Upsert(ctx, &domain.Tenant{
			ExternalID:    row.ExternalID,
			Name:          row.Name,
			ShortCode:     row.ShortCode,
			Active:        row.Active,
			StorageFolder: row.StorageFolder,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		switch {
		case errors.Is(err, domain.ErrCodeConflict):
			s.Log.Warn().
				Str("external_id", row.ExternalID).
				Str("short_code", row.ShortCode).
				Msg("import row rejected: short code conflict")
			res.Error = err.Error()
		case err != nil:
			return results, err
		default:
			res.Applied = true
		}
		results = append(results, res)
	}
	return results, nil
}

// ListActive returns active tenants in registry order.
func (s *Service) ListActive(ctx context.Context) ([]*domain.Tenant, error) {
	return s.Repo.ListActive(ctx)
}

// Deactivate soft-deletes a tenant; its job history stays intact.
func (s *Service) Deactivate(ctx context.Context, externalID string) error {
	return s.Repo.Deactivate(ctx, externalID)
}
