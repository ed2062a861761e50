// Package lifecycle owns the soft-delete status of stored records and the
// transitions between statuses. Records are never erased; they move to Deleted.
package lifecycle

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a record. Stored values are kept compatible
// with the legacy document store (2, 3, 4).
type Status int

const (
	Created Status = 2
	Updated Status = 3
	Deleted Status = 4
)

var (
	// ErrTerminal is returned when a transition is attempted on a deleted record.
	ErrTerminal = errors.New("record is deleted")
	// ErrInvalidStatus is returned when parsing or scanning an unknown status.
	ErrInvalidStatus = errors.New("invalid status")
)

// IsLive reports whether a record with this status is visible to ordinary reads.
func (s Status) IsLive() bool {
	return s == Created || s == Updated
}

// IsLive is the predicate every read path uses to filter records.
func IsLive(s Status) bool { return s.IsLive() }

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case Created, Updated, Deleted:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Updated:
		return "UPDATED"
	case Deleted:
		return "DELETED"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Parse converts the text form ("CREATED", "updated", ...) into a Status.
func Parse(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CREATED":
		return Created, nil
	case "UPDATED":
		return Updated, nil
	case "DELETED":
		return Deleted, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// MarshalText renders the status as its upper-case name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses the upper-case name.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Value stores the status as its integer code.
func (s Status) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, int(s))
	}
	return int64(s), nil
}

// Scan reads the integer code written by Value.
func (s *Status) Scan(src any) error {
	var n int64
	switch v := src.(type) {
	case int64:
		n = v
	case int32:
		n = int64(v)
	case int16:
		n = int64(v)
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalidStatus, src)
	}
	st := Status(n)
	if !st.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStatus, n)
	}
	*s = st
	return nil
}

// Audit carries the status and authorship fields shared by every stored entity.
type Audit struct {
	Status    Status    `json:"status"`
	CreatedBy string    `json:"created_by"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns the audit block of a freshly constructed record. Created is the
// only entry state.
func New(actor string, now time.Time) Audit {
	return Audit{
		Status:    Created,
		CreatedBy: actor,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsLive reports whether the record is visible to ordinary reads.
func (a *Audit) IsLive() bool { return a.Status.IsLive() }

// MarkUpdated records a content edit by actor.
func (a *Audit) MarkUpdated(actor string, now time.Time) error {
	if a.Status == Deleted {
		return ErrTerminal
	}
	a.Status = Updated
	a.UpdatedBy = actor
	a.UpdatedAt = now
	return nil
}

// MarkDeleted soft-deletes the record. Deleting twice is rejected so callers
// treat an already deleted record as missing.
func (a *Audit) MarkDeleted(actor string, now time.Time) error {
	if a.Status == Deleted {
		return ErrTerminal
	}
	a.Status = Deleted
	a.UpdatedBy = actor
	a.UpdatedAt = now
	return nil
}

// Touch refreshes UpdatedAt for writes that change no content field
// (membership changes on a quiz).
func (a *Audit) Touch(now time.Time) {
	a.UpdatedAt = now
}
