package tenants

import "errors"

// ErrCodeConflict indicates an import row's short code is already assigned to
// a different tenant. Only that row is rejected; the rest of the import
// proceeds.
var ErrCodeConflict = errors.New("tenant short code already in use")

// ErrNotFound indicates no tenant exists for the given external id.
var ErrNotFound = errors.New("tenant not found")
