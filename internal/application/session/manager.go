// Package session owns the single shared authentication context. Every
// platform-facing operation borrows the session through the manager's
// exclusive critical section; nothing else in the process may touch it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ledgerops/report-relay/internal/application"
	"github.com/ledgerops/report-relay/internal/domain/reports"
	domain "github.com/ledgerops/report-relay/internal/domain/session"
)

// Manager mediates acquisition, expiry, re-authentication and tenant context
// switching over the session singleton. It is safe for concurrent use; at
// most one caller is inside the critical section at any instant.
type Manager struct {
	store  domain.Store
	auth   domain.Authenticator
	nav    domain.Navigator
	cipher domain.Cipher
	clock  application.Clock
	log    zerolog.Logger

	// lock is the session lock. A capacity-1 channel rather than a mutex so
	// acquisition honours context cancellation and blocked acquirers are
	// served in arrival order.
	lock chan struct{}

	// stateMu guards the fields below for lock-free Status reads. They are
	// only mutated while the session lock is held.
	stateMu       sync.Mutex
	live          bool
	expiresAt     time.Time
	currentTenant string
}

func NewManager(store domain.Store, auth domain.Authenticator, nav domain.Navigator, cipher domain.Cipher, clock application.Clock, log zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		auth:   auth,
		nav:    nav,
		cipher: cipher,
		clock:  clock,
		log:    log.With().Str("component", "session").Logger(),
		lock:   make(chan struct{}, 1),
	}
}

// Acquire takes the session lock, makes the session live (re-authenticating
// if absent or expired) and releases the lock. Useful as a warm-up call;
// work items should use WithTenant instead.
func (m *Manager) Acquire(ctx context.Context) error {
	if err := m.lockCtx(ctx); err != nil {
		return err
	}
	defer m.unlock()
	return m.ensureLive(context.WithoutCancel(ctx))
}

// WithTenant is the critical section: acquire the session, switch the tenant
// context, then run fn (the download) while still holding the lock. The
// section is detached from caller cancellation: once entered it always runs
// to completion so the session is never abandoned in a tenant-bound state
// with no recorded outcome. Per-collaborator timeouts still apply inside.
func (m *Manager) WithTenant(ctx context.Context, shortCode string, fn func(ctx context.Context) error) error {
	if err := m.lockCtx(ctx); err != nil {
		return err
	}
	defer m.unlock()

	cctx := context.WithoutCancel(ctx)
	if err := m.ensureLive(cctx); err != nil {
		return err
	}
	if err := m.switchTenant(cctx, shortCode); err != nil {
		return err
	}

	err := fn(cctx)
	if reports.IsSessionExpired(err) {
		// The platform rejected the session mid-job. Force expiry so the next
		// work item re-authenticates instead of reusing stale material.
		if ierr := m.invalidateLocked(cctx); ierr != nil {
			m.log.Error().Err(ierr).Msg("invalidate after mid-job expiry failed")
		}
	}
	return err
}

// Invalidate forces the expired state. The next Acquire re-authenticates.
func (m *Manager) Invalidate(ctx context.Context) error {
	if err := m.lockCtx(ctx); err != nil {
		return err
	}
	defer m.unlock()
	return m.invalidateLocked(context.WithoutCancel(ctx))
}

// Status reports the externally visible liveness without taking the session
// lock, so it stays responsive while a download is in flight.
type Status struct {
	Liveness      domain.Liveness `json:"liveness"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	CurrentTenant string          `json:"current_tenant,omitempty"`
}

func (m *Manager) Status(ctx context.Context) (Status, error) {
	m.stateMu.Lock()
	live, exp, tenant := m.live, m.expiresAt, m.currentTenant
	m.stateMu.Unlock()

	now := m.clock.Now()
	if live && now.Before(exp) {
		return Status{Liveness: domain.LivenessLive, ExpiresAt: &exp, CurrentTenant: tenant}, nil
	}

	stored, err := m.store.Load(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return Status{Liveness: domain.LivenessAbsent}, nil
	}
	if err != nil {
		return Status{}, err
	}
	if stored.Expired(now) {
		return Status{Liveness: domain.LivenessExpired, ExpiresAt: &stored.ExpiresAt}, nil
	}
	return Status{Liveness: domain.LivenessLive, ExpiresAt: &stored.ExpiresAt}, nil
}

func (m *Manager) lockCtx(ctx context.Context) error {
	select {
	case m.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) unlock() { <-m.lock }

// ensureLive must be called with the session lock held.
func (m *Manager) ensureLive(ctx context.Context) error {
	now := m.clock.Now()
	m.stateMu.Lock()
	alive := m.live && now.Before(m.expiresAt)
	m.stateMu.Unlock()
	if alive {
		return nil
	}
	m.setState(false, time.Time{}, "")

	// A previous process may have left a still-live session behind; restore
	// it into the browser before paying for a full login.
	stored, err := m.store.Load(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// fall through to authenticate
	case err != nil:
		return fmt.Errorf("loading session: %w", err)
	case !stored.Expired(now):
		if cred, derr := m.decrypt(stored); derr == nil {
			if rerr := m.auth.Restore(ctx, cred); rerr == nil {
				m.setState(true, stored.ExpiresAt, "")
				m.log.Debug().Time("expires_at", stored.ExpiresAt).Msg("session restored from store")
				return nil
			}
			m.log.Warn().Msg("stored session rejected by browser, re-authenticating")
		} else {
			m.log.Warn().Err(derr).Msg("stored session undecryptable, re-authenticating")
		}
	}

	cred, err := m.auth.Authenticate(ctx)
	if err != nil {
		if reports.IsAuthFailure(err) {
			return err
		}
		return &reports.FetchError{Kind: reports.FailureAuth, Detail: err.Error(), Err: err}
	}

	sess, err := m.encrypt(cred, now)
	if err != nil {
		return fmt.Errorf("encrypting session: %w", err)
	}
	if err := m.store.Replace(ctx, sess); err != nil {
		return fmt.Errorf("replacing session: %w", err)
	}
	m.setState(true, cred.ExpiresAt, "")
	m.log.Info().Time("expires_at", cred.ExpiresAt).Msg("session authenticated")
	return nil
}

// switchTenant must be called with the session lock held.
func (m *Manager) switchTenant(ctx context.Context, shortCode string) error {
	m.stateMu.Lock()
	bound := m.currentTenant
	m.stateMu.Unlock()
	if bound == shortCode {
		return nil
	}

	if err := m.nav.SwitchTenant(ctx, shortCode); err != nil {
		m.stateMu.Lock()
		m.currentTenant = ""
		m.stateMu.Unlock()
		if kind := reports.KindOf(err); kind == reports.FailureSwitch || kind == reports.FailureSessionExpired {
			return err
		}
		return &reports.FetchError{Kind: reports.FailureSwitch, Detail: err.Error(), Err: err}
	}
	m.stateMu.Lock()
	m.currentTenant = shortCode
	m.stateMu.Unlock()
	return nil
}

func (m *Manager) invalidateLocked(ctx context.Context) error {
	m.setState(false, time.Time{}, "")
	if err := m.store.MarkExpired(ctx); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("marking session expired: %w", err)
	}
	return nil
}

func (m *Manager) setState(live bool, expiresAt time.Time, tenant string) {
	m.stateMu.Lock()
	m.live = live
	m.expiresAt = expiresAt
	m.currentTenant = tenant
	m.stateMu.Unlock()
}

func (m *Manager) encrypt(cred *domain.Credential, now time.Time) (*domain.Session, error) {
	state, err := m.cipher.Encrypt(cred.State)
	if err != nil {
		return nil, err
	}
	var token []byte
	if len(cred.Token) > 0 {
		if token, err = m.cipher.Encrypt(cred.Token); err != nil {
			return nil, err
		}
	}
	return &domain.Session{
		EncryptedState: state,
		EncryptedToken: token,
		ExpiresAt:      cred.ExpiresAt,
		UpdatedAt:      now,
	}, nil
}

func (m *Manager) decrypt(s *domain.Session) (*domain.Credential, error) {
	state, err := m.cipher.Decrypt(s.EncryptedState)
	if err != nil {
		return nil, err
	}
	var token []byte
	if len(s.EncryptedToken) > 0 {
		if token, err = m.cipher.Decrypt(s.EncryptedToken); err != nil {
			return nil, err
		}
	}
	return &domain.Credential{State: state, Token: token, ExpiresAt: s.ExpiresAt}, nil
}
