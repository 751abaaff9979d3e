package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSourceNotFound   = errors.New("phrase source not found")
	ErrChannelNotFound  = errors.New("channel not found")
	ErrChannelExists    = errors.New("channel already registered")
	ErrInvalidChannelID = errors.New("invalid channel id")
	ErrEmptySource      = errors.New("phrase source has no phrases")
)

// StorageError reports a persistence failure (connection, disk, corrupt row).
// The publish cycle treats it as skip-this-cycle.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("storage: %v", e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err carries a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// ScheduleValidationError rejects a malformed time-of-day before any trigger
// is touched.
type ScheduleValidationError struct {
	Value  string
	Reason string
}

func (e *ScheduleValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid time %q, expected HH:MM", e.Value)
	}
	return fmt.Sprintf("invalid time %q: %s", e.Value, e.Reason)
}

// DeliveryError is a per-channel send failure. It is recorded in the audit
// log and never escalated out of the publish cycle.
type DeliveryError struct {
	ChannelID string
	Reason    string
	Err       error
}

func (e *DeliveryError) Error() string {
	var b strings.Builder
	b.WriteString("deliver to ")
	b.WriteString(e.ChannelID)
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DeliveryError) Unwrap() error { return e.Err }
