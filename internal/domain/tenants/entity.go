package tenants

import (
	"time"
)

// Tenant is a client organisation whose reports get pulled from the
// accounting platform.
type Tenant struct {
	// ExternalID is the platform's stable organisation identifier. It is the
	// upsert key and never changes once assigned.
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	// ShortCode is the navigation shortcut used to switch the authenticated
	// browser context to this tenant. Optional, globally unique when set.
	ShortCode string `json:"short_code,omitempty"`
	Active    bool   `json:"active"`
	// StorageFolder is the destination prefix for uploaded report files.
	StorageFolder string    `json:"storage_folder"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
