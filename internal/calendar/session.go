package calendar

import (
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle state of one tracked sync run.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// SyncSession records one reconciliation run as an addressable, pollable
// entity. Counts and errors are frozen once the session reaches a
// terminal state.
type SyncSession struct {
	ID     string `gorm:"column:id;primaryKey;size:36;not null"`
	UserID string `gorm:"column:user_id;size:190;not null;index:idx_sessions_user"`

	WindowStart time.Time `gorm:"column:window_start;not null"`
	WindowEnd   time.Time `gorm:"column:window_end;not null"`
	Direction   Direction `gorm:"column:direction;size:20;not null"`
	Trigger     Trigger   `gorm:"column:trigger;size:20;not null"`

	Status  SessionStatus `gorm:"column:status;size:20;not null;default:'pending'"`
	Created int           `gorm:"column:events_created;not null;default:0"`
	Updated int           `gorm:"column:events_updated;not null;default:0"`
	Deleted int           `gorm:"column:events_deleted;not null;default:0"`

	ErrorsJSON string `gorm:"column:errors_json;type:text;not null;default:''"`

	CreatedAt  time.Time  `gorm:"column:created_at;not null"`
	StartedAt  *time.Time `gorm:"column:started_at"`
	FinishedAt *time.Time `gorm:"column:finished_at"`
}

// TableName provides the explicit table binding for GORM.
func (SyncSession) TableName() string {
	return "calendar_sync_sessions"
}

// Window reconstructs the requested reconciliation window.
func (s SyncSession) Window() (Window, error) {
	return NewWindow(s.WindowStart, s.WindowEnd)
}

// Errors decodes the recorded error list.
func (s SyncSession) Errors() []string {
	if s.ErrorsJSON == "" {
		return nil
	}
	var errs []string
	if err := json.Unmarshal([]byte(s.ErrorsJSON), &errs); err != nil {
		return []string{s.ErrorsJSON}
	}
	return errs
}

// Terminal reports whether the session has finished.
func (s SyncSession) Terminal() bool {
	return s.Status == SessionCompleted || s.Status == SessionFailed
}

func encodeErrors(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	encoded, err := json.Marshal(errs)
	if err != nil {
		return ""
	}
	return string(encoded)
}
