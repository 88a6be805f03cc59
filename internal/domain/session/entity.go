package session

import "time"

// Session is the single live authentication context for the accounting
// platform. At most one exists at any time; it is written wholesale, never
// field-by-field.
type Session struct {
	// EncryptedState is the browser storage-state blob (cookies etc.),
	// encrypted at rest. The store treats it as opaque bytes.
	EncryptedState []byte `json:"-"`
	// EncryptedToken optionally holds long-lived token material, also
	// encrypted. May be empty.
	EncryptedToken []byte    `json:"-"`
	ExpiresAt      time.Time `json:"expires_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Expired reports whether the session is past its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Liveness is the externally visible state of the session singleton.
type Liveness string

const (
	LivenessAbsent  Liveness = "absent"
	LivenessLive    Liveness = "live"
	LivenessExpired Liveness = "expired"
)
