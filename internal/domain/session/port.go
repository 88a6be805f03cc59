package session

import (
	"context"
	"time"
)

// Store port (persistence for the session singleton). All writes replace the
// whole record; partial updates are not part of the contract so concurrent
// writers can never produce torn credential material.
type Store interface {
	// Load returns the current session, or ErrNotFound when absent.
	Load(ctx context.Context) (*Session, error)

	// Replace atomically overwrites the singleton.
	Replace(ctx context.Context, s *Session) error

	// MarkExpired moves the expiry into the past so the next acquire
	// re-authenticates.
	MarkExpired(ctx context.Context) error
}

// Credential is the decrypted session material handed to the browser
// collaborator. It never touches the store in this form.
type Credential struct {
	State     []byte
	Token     []byte
	ExpiresAt time.Time
}

// Cipher port: encrypts credential material at rest. Key management is
// external; the store only ever sees the opaque output.
type Cipher interface {
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(enc []byte) ([]byte, error)
}

// Authenticator port: drives the browser login flow and produces fresh
// session material.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Credential, error)

	// Restore loads previously persisted session material into the browser
	// context, so a new process can reuse a still-live session.
	Restore(ctx context.Context, cred *Credential) error
}

// Navigator port: switches the authenticated browser context between tenant
// organisations.
type Navigator interface {
	SwitchTenant(ctx context.Context, shortCode string) error
}
