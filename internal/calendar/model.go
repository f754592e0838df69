package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SyncStatus tracks how a local event relates to its remote counterpart.
type SyncStatus string

const (
	// StatusLocal marks an event created locally and never pushed.
	StatusLocal SyncStatus = "local"
	// StatusSynced marks an event that matched the remote copy as of the last reconciliation.
	StatusSynced SyncStatus = "synced"
	// StatusModified marks an event edited locally since the last sync.
	StatusModified SyncStatus = "modified"
)

// Direction selects which reconciliation phases a run performs.
type Direction string

const (
	DirectionPull          Direction = "pull"
	DirectionPush          Direction = "push"
	DirectionBidirectional Direction = "bidirectional"
)

// ParseDirection validates raw input and returns a Direction.
func ParseDirection(rawInput string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(rawInput))) {
	case DirectionPull:
		return DirectionPull, nil
	case DirectionPush:
		return DirectionPush, nil
	case DirectionBidirectional:
		return DirectionBidirectional, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, rawInput)
	}
}

func (d Direction) includesPull() bool {
	return d == DirectionPull || d == DirectionBidirectional
}

func (d Direction) includesPush() bool {
	return d == DirectionPush || d == DirectionBidirectional
}

// Trigger records what initiated a sync run.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerAuto   Trigger = "auto"
)

// ParseTrigger validates raw input and returns a Trigger.
func ParseTrigger(rawInput string) (Trigger, error) {
	switch Trigger(strings.ToLower(strings.TrimSpace(rawInput))) {
	case TriggerManual:
		return TriggerManual, nil
	case TriggerAuto:
		return TriggerAuto, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTrigger, rawInput)
	}
}

var (
	// ErrInvalidWindow indicates a window whose end precedes its start.
	ErrInvalidWindow = errors.New("calendar: invalid window")
	// ErrInvalidDirection indicates an unknown sync direction value.
	ErrInvalidDirection = errors.New("calendar: invalid direction")
	// ErrInvalidTrigger indicates an unknown sync trigger value.
	ErrInvalidTrigger = errors.New("calendar: invalid trigger")
	// ErrInvalidSchedule indicates inconsistent event boundaries.
	ErrInvalidSchedule = errors.New("calendar: invalid schedule")
)

// Window is the closed time interval [Start, End] scoping one reconciliation run.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow validates the interval and returns a Window in UTC.
func NewWindow(start, end time.Time) (Window, error) {
	if start.IsZero() || end.IsZero() {
		return Window{}, fmt.Errorf("%w: zero boundary", ErrInvalidWindow)
	}
	if end.Before(start) {
		return Window{}, fmt.Errorf("%w: end %s precedes start %s", ErrInvalidWindow, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return Window{Start: start.UTC(), End: end.UTC()}, nil
}

// Schedule is the tagged temporal variant of an event: either a full-day
// date span or a timed interval. Constructors keep the two shapes from
// mixing so encode/decode paths can switch exhaustively.
type Schedule struct {
	allDay bool
	start  time.Time
	end    time.Time
}

// NewTimedSchedule builds a schedule with explicit start and end instants.
func NewTimedSchedule(start, end time.Time) (Schedule, error) {
	if start.IsZero() || end.IsZero() {
		return Schedule{}, fmt.Errorf("%w: zero boundary", ErrInvalidSchedule)
	}
	if end.Before(start) {
		return Schedule{}, fmt.Errorf("%w: end precedes start", ErrInvalidSchedule)
	}
	return Schedule{start: start.UTC(), end: end.UTC()}, nil
}

// NewAllDaySchedule builds a full-day schedule covering startDate through
// endDate inclusive. Boundaries are normalized to midnight and 23:59:59.
func NewAllDaySchedule(startDate, endDate time.Time) (Schedule, error) {
	if startDate.IsZero() || endDate.IsZero() {
		return Schedule{}, fmt.Errorf("%w: zero boundary", ErrInvalidSchedule)
	}
	start := truncateToDay(startDate)
	end := truncateToDay(endDate)
	if end.Before(start) {
		return Schedule{}, fmt.Errorf("%w: end precedes start", ErrInvalidSchedule)
	}
	return Schedule{
		allDay: true,
		start:  start,
		end:    end.Add(24*time.Hour - time.Second),
	}, nil
}

func truncateToDay(value time.Time) time.Time {
	v := value.UTC()
	return time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC)
}

// AllDay reports whether the schedule is date-only.
func (s Schedule) AllDay() bool { return s.allDay }

// Start returns the schedule's first instant.
func (s Schedule) Start() time.Time { return s.start }

// End returns the schedule's last instant (23:59:59 on the final day for
// all-day schedules).
func (s Schedule) End() time.Time { return s.end }

// CalendarEvent is a scheduled occurrence owned by a user, persisted with
// its sync metadata.
type CalendarEvent struct {
	ID     string `gorm:"column:id;primaryKey;size:36;not null"`
	UserID string `gorm:"column:user_id;size:190;not null;index:idx_events_user_window,priority:1"`

	Title       string `gorm:"column:title;size:255;not null"`
	Description string `gorm:"column:description;type:text;not null;default:''"`
	Location    string `gorm:"column:location;size:255;not null;default:''"`
	Color       string `gorm:"column:color;size:50;not null;default:''"`

	StartTime time.Time `gorm:"column:start_time;not null;index:idx_events_user_window,priority:2"`
	EndTime   time.Time `gorm:"column:end_time;not null"`
	AllDay    bool      `gorm:"column:is_all_day;not null;default:false"`

	RecurrenceRule string `gorm:"column:recurrence_rule;size:255;not null;default:''"`

	RemoteID     string     `gorm:"column:remote_event_id;size:190;not null;default:'';index:idx_events_remote"`
	SyncStatus   SyncStatus `gorm:"column:sync_status;size:50;not null;default:'local'"`
	LastSyncedAt *time.Time `gorm:"column:last_synced_at"`

	RelatedID   string `gorm:"column:related_id;size:190;not null;default:''"`
	RelatedType string `gorm:"column:related_type;size:50;not null;default:''"`

	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CalendarEvent) TableName() string {
	return "calendar_events"
}

// Schedule exposes the event's temporal shape as a tagged variant.
func (e CalendarEvent) Schedule() (Schedule, error) {
	if e.AllDay {
		return NewAllDaySchedule(e.StartTime, e.EndTime)
	}
	return NewTimedSchedule(e.StartTime, e.EndTime)
}

// ApplySchedule writes the schedule back onto the persisted columns.
func (e *CalendarEvent) ApplySchedule(s Schedule) {
	e.AllDay = s.AllDay()
	e.StartTime = s.Start()
	e.EndTime = s.End()
}

// RemoteSnapshot is an ephemeral, read-only view of one event as returned
// by the remote provider for a single fetch. It is never persisted on its
// own, only merged into a CalendarEvent.
type RemoteSnapshot struct {
	RemoteID       string
	Title          string
	Description    string
	Location       string
	Color          string
	Schedule       Schedule
	RecurrenceRule string
}

// EventUpdate carries the optional fields of a user-initiated edit. Nil
// pointers leave the stored value untouched.
type EventUpdate struct {
	Title          *string
	Description    *string
	Location       *string
	Color          *string
	Schedule       *Schedule
	RecurrenceRule *string
	RelatedID      *string
	RelatedType    *string
}
