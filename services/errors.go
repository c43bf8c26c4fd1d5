package services

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrSyncInProgress is returned by a trigger that lands while its source is
// already running a cycle. The trigger is dropped, not queued.
var ErrSyncInProgress = errors.New("sync cycle already in progress")

// ValidationError rejects a caller's request without touching the store.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// StoreError wraps a persistence failure with the operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// ReconciliationError describes one feed item that was skipped. It never
// abandons the cycle it belongs to.
type ReconciliationError struct {
	Index  int    `json:"index"`
	UserID string `json:"userId,omitempty"`
	Reason string `json:"reason"`
}

func (e ReconciliationError) Error() string {
	if e.UserID == "" {
		return fmt.Sprintf("item %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("item %d (user %s): %s", e.Index, e.UserID, e.Reason)
}
