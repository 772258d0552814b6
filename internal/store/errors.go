package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// StorageError reports a failure of the local persistence engine (quota,
// corruption, I/O). Callers must treat it as "write not applied" and may
// retry or fall back to in-memory operation for the session.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// MigrationError reports a failed schema upgrade. Offline capability is
// unavailable for the session; callers should degrade to online-only mode
// and surface a warning rather than crash.
type MigrationError struct {
	Version int
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("schema migration to version %d failed: %v", e.Version, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}
