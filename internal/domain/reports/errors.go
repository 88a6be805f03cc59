package reports

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound: no job record with that id.
	ErrJobNotFound = errors.New("job record not found")
	// ErrAlreadyFinal: Finalize on a record that already left pending.
	ErrAlreadyFinal = errors.New("job record already finalized")
	// ErrNotUploadable: MarkUploaded on a record that is not a success.
	ErrNotUploadable = errors.New("job record is not in success state")
)

// FailureKind classifies a collaborator failure.
type FailureKind string

const (
	// FailureAuth: the session could not be established. Fatal for the run.
	FailureAuth FailureKind = "authentication_failed"
	// FailureSwitch: tenant context change was rejected. Fails one item.
	FailureSwitch FailureKind = "tenant_switch_failed"
	// FailureDownload: the collaborator produced no file. Fails one item.
	FailureDownload FailureKind = "download_failed"
	// FailureSessionExpired: the platform demanded re-authentication mid-job.
	// Fails the item and invalidates the session for the next one.
	FailureSessionExpired FailureKind = "session_expired_mid_job"
	// FailureUpload: transfer to remote storage failed. Retried by a future
	// sweep, never affects download status.
	FailureUpload FailureKind = "upload_failed"
)

// FetchError is a typed collaborator failure, optionally carrying a
// diagnostic screenshot reference.
type FetchError struct {
	Kind           FailureKind
	Detail         string
	ScreenshotPath string
	Err            error
}

func (e *FetchError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from err, or FailureDownload when err is
// untyped.
func KindOf(err error) FailureKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FailureDownload
}

// ScreenshotOf extracts the diagnostic reference from err, if any.
func ScreenshotOf(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.ScreenshotPath
	}
	return ""
}

// IsAuthFailure reports whether err means no session can be established.
func IsAuthFailure(err error) bool {
	return err != nil && KindOf(err) == FailureAuth
}

// IsSessionExpired reports whether err means the platform rejected the
// current session mid-job.
func IsSessionExpired(err error) bool {
	return err != nil && KindOf(err) == FailureSessionExpired
}
