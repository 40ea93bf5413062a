package collab

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultCompactionThreshold is the record count past which an append
// triggers compaction when the caller does not configure one explicitly.
const DefaultCompactionThreshold = 100

var (
	// ErrInvalidDocumentID indicates that a document identifier is not a UUID.
	ErrInvalidDocumentID = errors.New("collab: invalid document id")
	// ErrInvalidOrgID indicates that an organization identifier is not a UUID.
	ErrInvalidOrgID = errors.New("collab: invalid organization id")
	// ErrInvalidPrincipalID indicates that a principal identifier is not a UUID.
	ErrInvalidPrincipalID = errors.New("collab: invalid principal id")
	// ErrInvalidPayload indicates that an update payload is empty.
	ErrInvalidPayload = errors.New("collab: invalid update payload")
	// ErrInvalidThreshold indicates that a compaction threshold is negative.
	ErrInvalidThreshold = errors.New("collab: invalid compaction threshold")
)

// DocumentID represents a validated collaborative document identifier.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID.
func NewDocumentID(rawInput string) (DocumentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if _, err := uuid.Parse(trimmed); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDocumentID, rawInput)
	}
	return DocumentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DocumentID) String() string {
	return string(id)
}

// OrgID represents a validated tenant organization identifier.
type OrgID string

// NewOrgID validates raw input and returns an OrgID.
func NewOrgID(rawInput string) (OrgID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if _, err := uuid.Parse(trimmed); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidOrgID, rawInput)
	}
	return OrgID(trimmed), nil
}

// String returns the underlying string identifier.
func (id OrgID) String() string {
	return string(id)
}

// PrincipalID represents a validated acting principal identifier.
type PrincipalID string

// NewPrincipalID validates raw input and returns a PrincipalID.
func NewPrincipalID(rawInput string) (PrincipalID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if _, err := uuid.Parse(trimmed); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPrincipalID, rawInput)
	}
	return PrincipalID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PrincipalID) String() string {
	return string(id)
}

// CompactionThreshold is a live-record count past which the store compacts
// the update log. Zero disables automatic compaction.
type CompactionThreshold int64

// NewCompactionThreshold validates the value and returns a CompactionThreshold.
func NewCompactionThreshold(value int64) (CompactionThreshold, error) {
	if value < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidThreshold, value)
	}
	return CompactionThreshold(value), nil
}

// Disabled reports whether automatic compaction is turned off.
func (threshold CompactionThreshold) Disabled() bool {
	return threshold == 0
}

// Int64 returns the threshold as an int64.
func (threshold CompactionThreshold) Int64() int64 {
	return int64(threshold)
}

// UpdateEntry is one stored update surfaced by ReadAll: the exact payload
// and metadata bytes that were appended, plus the write-time timestamp.
type UpdateEntry struct {
	Payload   []byte
	Metadata  []byte
	Timestamp float64
}
