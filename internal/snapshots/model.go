package snapshots

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("snapshots: invalid user id")
	// ErrInvalidSnapshot indicates that a snapshot payload is empty or not a JSON object.
	ErrInvalidSnapshot = errors.New("snapshots: invalid snapshot payload")
	// ErrSnapshotNotFound indicates that no snapshot has been stored for the user yet.
	ErrSnapshotNotFound = errors.New("snapshots: snapshot not found")
)

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Record is the remote row for one user: the latest full snapshot and when it was written.
// Snapshot is opaque to this package.
type Record struct {
	UserID    string
	Snapshot  json.RawMessage
	UpdatedAt time.Time
	Version   int64
}

type recordPayload struct {
	UserID          string          `json:"user_id"`
	Snapshot        json.RawMessage `json:"snapshot"`
	UpdatedAtMillis int64           `json:"updated_at_ms"`
	Version         int64           `json:"version"`
}

// MarshalJSON encodes the record with millisecond timestamps.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordPayload{
		UserID:          r.UserID,
		Snapshot:        r.Snapshot,
		UpdatedAtMillis: r.UpdatedAt.UnixMilli(),
		Version:         r.Version,
	})
}

// UnmarshalJSON decodes the millisecond wire form. A missing updated_at_ms leaves UpdatedAt zero.
func (r *Record) UnmarshalJSON(data []byte) error {
	var payload recordPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	r.UserID = payload.UserID
	r.Snapshot = payload.Snapshot
	r.UpdatedAt = time.Time{}
	if payload.UpdatedAtMillis != 0 {
		r.UpdatedAt = time.UnixMilli(payload.UpdatedAtMillis).UTC()
	}
	r.Version = payload.Version
	return nil
}

func validateSnapshot(payload json.RawMessage) error {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSnapshot)
	}
	if !strings.HasPrefix(trimmed, "{") || !json.Valid(payload) {
		return fmt.Errorf("%w: expected a JSON object", ErrInvalidSnapshot)
	}
	return nil
}

// UserSnapshot is the persisted row holding one snapshot per user.
type UserSnapshot struct {
	UserID          string `gorm:"column:user_id;primaryKey;size:190;not null"`
	SnapshotJSON    string `gorm:"column:snapshot_json;type:text;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null;index"`
	Version         int64  `gorm:"column:version;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (UserSnapshot) TableName() string {
	return "user_snapshots"
}

func (row UserSnapshot) record() Record {
	return Record{
		UserID:    row.UserID,
		Snapshot:  json.RawMessage(row.SnapshotJSON),
		UpdatedAt: time.UnixMilli(row.UpdatedAtMillis).UTC(),
		Version:   row.Version,
	}
}
