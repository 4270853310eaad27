// Package vaulterr defines the error taxonomy shared by every layer of the
// upload engine. Each kind maps to one retry/propagation policy; callers
// should compare with errors.Is rather than switching on dynamic type.
package vaulterr

import "github.com/pkg/errors"

// Sentinel error kinds. Wrap an underlying cause with errors.Wrap and test
// with errors.Is(err, vaulterr.ErrTransient) etc. - the sentinels themselves
// carry no context, wrapping does.
var (
	// ErrTransient covers network, TLS and 5xx failures. Retried with a
	// short delay until the surrounding run is cancelled.
	ErrTransient = errors.New("transient error")

	// ErrPermission covers 401/403 from the object or history endpoints.
	// Device credentials are likely invalid; the current run halts.
	ErrPermission = errors.New("permission denied")

	// ErrNotFound covers 404 on GET or history lookups. Never retried.
	ErrNotFound = errors.New("not found")

	// ErrMalformed covers a response that fails schema parsing, or a
	// hash mismatch on a 201 echo. Logged and treated as transient.
	ErrMalformed = errors.New("malformed response")

	// ErrFilesystem covers stat/open/read/opendir failures on a single
	// entry. The entry is skipped; siblings continue; never aborts a run.
	ErrFilesystem = errors.New("filesystem error")

	// ErrOversizedEntry is returned when a single directory child cannot
	// fit in one directory object (LoR+LoM alone exceed CHUNK_SIZE).
	ErrOversizedEntry = errors.New("oversized directory entry")

	// ErrCancelled propagates the unwinding of a cancelled run.
	ErrCancelled = errors.New("backup cancelled")
)

// Transient reports whether err should be retried by the caller's own loop
// (network/TLS/5xx and malformed-response cases share this policy).
func Transient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrMalformed)
}
