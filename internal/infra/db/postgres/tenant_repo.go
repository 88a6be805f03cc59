package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/ledgerops/report-relay/internal/domain/tenants"
)

// TenantRepository is the Postgres variant of the tenant registry. Behaviour
// matches the mysql repo.
type TenantRepository struct {
	db *sql.DB
}

func NewTenantRepository(db *sql.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) Upsert(ctx context.Context, t *domain.Tenant) error {
	if t.ShortCode != "" {
		var holder string
		err := r.db.QueryRowContext(ctx,
			`SELECT external_id FROM clients WHERE short_code = $1 AND external_id <> $2 LIMIT 1`,
			t.ShortCode, t.ExternalID,
		).Scan(&holder)
		if err == nil {
			return fmt.Errorf("short code %q held by tenant %s: %w", t.ShortCode, holder, domain.ErrCodeConflict)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}

	const q = `
INSERT INTO clients (external_id, name, short_code, active, storage_folder, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (external_id) DO UPDATE SET
 name = EXCLUDED.name, short_code = EXCLUDED.short_code, active = EXCLUDED.active,
 storage_folder = EXCLUDED.storage_folder, updated_at = EXCLUDED.updated_at;
`
	_, err := r.db.ExecContext(ctx, q,
		t.ExternalID, t.Name, nullString(t.ShortCode), t.Active, t.StorageFolder,
		t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (r *TenantRepository) ListActive(ctx context.Context) ([]*domain.Tenant, error) {
	const q = `
SELECT external_id, name, short_code, active, storage_folder, created_at, updated_at
FROM clients
WHERE active
ORDER BY external_id;
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TenantRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Tenant, error) {
	const q = `
SELECT external_id, name, short_code, active, storage_folder, created_at, updated_at
FROM clients
WHERE external_id = $1 LIMIT 1;
`
	t, err := scanTenant(r.db.QueryRowContext(ctx, q, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TenantRepository) Deactivate(ctx context.Context, externalID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE clients SET active = FALSE, updated_at = $1 WHERE external_id = $2`,
		time.Now().UTC(), externalID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*domain.Tenant, error) {
	var t domain.Tenant
	var code sql.NullString
	if err := row.Scan(
		&t.ExternalID, &t.Name, &code, &t.Active, &t.StorageFolder,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.ShortCode = code.String
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
