package session

import "errors"

// ErrNotFound indicates no session record exists yet.
var ErrNotFound = errors.New("no session stored")
