// Package sentinel holds the storage-level facts every store reports the same
// way. Vault, recovery, event-log and cache backends wrap these with the
// record they were looking at; services map them onto domain error codes.
package sentinel

import "errors"

var (
	// ErrNotFound means no record exists under the key, or a cached entry
	// expired.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a record with the same key was already written.
	ErrConflict = errors.New("conflict")
)
