package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/ledgerops/report-relay/internal/domain/session"
)

// singletonID pins the session to one fixed row; the schema enforces it with
// CHECK (id = 1).
const singletonID = 1

// SessionRepository persists the session singleton. Writes are whole-record
// replacements only.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `encrypted_state, encrypted_token, expires_at, updated_at`

func (r *SessionRepository) Load(ctx context.Context) (*domain.Session, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM browser_session
WHERE id = ? LIMIT 1;
`
	var s domain.Session
	var token []byte
	err := r.db.QueryRowContext(ctx, q, singletonID).Scan(
		&s.EncryptedState, &token, &s.ExpiresAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.EncryptedToken = token
	return &s, nil
}

// Replace overwrites the singleton wholesale.
func (r *SessionRepository) Replace(ctx context.Context, s *domain.Session) error {
	const q = `
INSERT INTO browser_session (id, ` + sessionColumns + `)
VALUES (?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 encrypted_state=VALUES(encrypted_state), encrypted_token=VALUES(encrypted_token),
 expires_at=VALUES(expires_at), updated_at=VALUES(updated_at);
`
	_, err := r.db.ExecContext(ctx, q,
		singletonID, s.EncryptedState, s.EncryptedToken, s.ExpiresAt, s.UpdatedAt,
	)
	return err
}

func (r *SessionRepository) MarkExpired(ctx context.Context) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE browser_session SET expires_at = ?, updated_at = ? WHERE id = ?`,
		now.Add(-time.Second), now, singletonID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
