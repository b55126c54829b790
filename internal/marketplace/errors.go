package marketplace

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionDead means the browser is gone and the process cannot continue.
	ErrSessionDead = errors.New("browser session is dead")
	// ErrStaleSession means a session handle outlived a browser restart.
	ErrStaleSession = errors.New("browser session handle is stale")
	// ErrNavigation means a page could not be loaded.
	ErrNavigation = errors.New("navigation failed")
	// ErrInvalidItemID means an item id is not a positive integer.
	ErrInvalidItemID = errors.New("invalid item id")
)

// ExtractionFailure is returned when a listing could not be read at all.
type ExtractionFailure struct {
	ItemID string
	Cause  error
}

func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("extract item %s: %v", e.ItemID, e.Cause)
}

func (e *ExtractionFailure) Unwrap() error {
	return e.Cause
}

// UploadFailure is returned when the document store rejects a check or write.
type UploadFailure struct {
	ItemID string
	Cause  error
}

func (e *UploadFailure) Error() string {
	return fmt.Sprintf("upload item %s: %v", e.ItemID, e.Cause)
}

func (e *UploadFailure) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether err ends the worker process.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSessionDead)
}

// IsSessionError reports whether err invalidates the current browser handle.
func IsSessionError(err error) bool {
	return errors.Is(err, ErrSessionDead) || errors.Is(err, ErrStaleSession)
}
