package gcal

import (
	"fmt"
	"strings"
	"time"

	"github.com/souldream/backend/internal/calendar"
	"github.com/teambition/rrule-go"
	calendarapi "google.golang.org/api/calendar/v3"
)

const (
	// dateLayout is the provider's civil-date format for all-day boundaries.
	dateLayout = "2006-01-02"

	rrulePrefix = "RRULE:"

	// defaultColorID is used when a domain color tag has no table entry.
	defaultColorID = "1"
	// defaultColorTag is used when a provider color id has no table entry.
	defaultColorTag = "blue"
)

// colorIDByTag maps domain color tags to the provider's fixed palette.
var colorIDByTag = map[string]string{
	"blue":       "1",
	"green":      "2",
	"purple":     "3",
	"red":        "4",
	"yellow":     "5",
	"orange":     "6",
	"turquoise":  "7",
	"gray":       "8",
	"bold blue":  "9",
	"bold green": "10",
	"bold red":   "11",
}

var colorTagByID = func() map[string]string {
	m := make(map[string]string, len(colorIDByTag))
	for tag, id := range colorIDByTag {
		m[id] = tag
	}
	return m
}()

func colorIDFromTag(tag string) string {
	if id, ok := colorIDByTag[strings.ToLower(strings.TrimSpace(tag))]; ok {
		return id
	}
	return defaultColorID
}

func colorTagFromID(id string) string {
	if id == "" {
		return ""
	}
	if tag, ok := colorTagByID[id]; ok {
		return tag
	}
	return defaultColorTag
}

// snapshotFromRemote translates one provider event into a domain snapshot.
// The provider's all-day end date is exclusive, so it loses one day on the
// way in; encodeEvent adds it back, keeping the round trip symmetric.
func snapshotFromRemote(remote *calendarapi.Event) (calendar.RemoteSnapshot, error) {
	if remote == nil || remote.Id == "" {
		return calendar.RemoteSnapshot{}, newMappingError("missing remote event id", nil)
	}

	schedule, err := scheduleFromRemote(remote)
	if err != nil {
		return calendar.RemoteSnapshot{}, err
	}

	return calendar.RemoteSnapshot{
		RemoteID:       remote.Id,
		Title:          remote.Summary,
		Description:    remote.Description,
		Location:       remote.Location,
		Color:          colorTagFromID(remote.ColorId),
		Schedule:       schedule,
		RecurrenceRule: recurrenceFromRemote(remote.Recurrence),
	}, nil
}

func scheduleFromRemote(remote *calendarapi.Event) (calendar.Schedule, error) {
	if remote.Start == nil || remote.End == nil {
		return calendar.Schedule{}, newMappingError("event has no boundaries", nil)
	}

	if remote.Start.Date != "" && remote.End.Date != "" {
		startDate, err := time.ParseInLocation(dateLayout, remote.Start.Date, time.UTC)
		if err != nil {
			return calendar.Schedule{}, newMappingError("unparseable all-day start", err)
		}
		endDate, err := time.ParseInLocation(dateLayout, remote.End.Date, time.UTC)
		if err != nil {
			return calendar.Schedule{}, newMappingError("unparseable all-day end", err)
		}
		// End-exclusive on the wire: the stored span ends one day earlier.
		schedule, err := calendar.NewAllDaySchedule(startDate, endDate.AddDate(0, 0, -1))
		if err != nil {
			return calendar.Schedule{}, newMappingError("inconsistent all-day boundaries", err)
		}
		return schedule, nil
	}

	start, err := time.Parse(time.RFC3339, remote.Start.DateTime)
	if err != nil {
		return calendar.Schedule{}, newMappingError("unparseable start time", err)
	}
	end, err := time.Parse(time.RFC3339, remote.End.DateTime)
	if err != nil {
		return calendar.Schedule{}, newMappingError("unparseable end time", err)
	}
	schedule, err := calendar.NewTimedSchedule(start, end)
	if err != nil {
		return calendar.Schedule{}, newMappingError("inconsistent boundaries", err)
	}
	return schedule, nil
}

// recurrenceFromRemote keeps the first RRULE entry. The provider may send
// RDATE/EXDATE lines too; only a single rule survives the mapping.
func recurrenceFromRemote(recurrence []string) string {
	for _, entry := range recurrence {
		if strings.HasPrefix(entry, rrulePrefix) {
			return strings.TrimPrefix(entry, rrulePrefix)
		}
	}
	return ""
}

// encodeEvent translates a domain event into the provider's wire shape.
func encodeEvent(event calendar.CalendarEvent) (*calendarapi.Event, error) {
	schedule, err := event.Schedule()
	if err != nil {
		return nil, newMappingError("inconsistent stored boundaries", err)
	}

	encoded := &calendarapi.Event{
		Summary:     event.Title,
		Description: event.Description,
		Location:    event.Location,
	}
	if event.Color != "" {
		encoded.ColorId = colorIDFromTag(event.Color)
	}

	if schedule.AllDay() {
		encoded.Start = &calendarapi.EventDateTime{Date: schedule.Start().Format(dateLayout)}
		// Re-apply the end-exclusive convention dropped on the way in.
		encoded.End = &calendarapi.EventDateTime{Date: schedule.End().AddDate(0, 0, 1).Format(dateLayout)}
	} else {
		encoded.Start = &calendarapi.EventDateTime{DateTime: schedule.Start().Format(time.RFC3339)}
		encoded.End = &calendarapi.EventDateTime{DateTime: schedule.End().Format(time.RFC3339)}
	}

	if event.RecurrenceRule != "" {
		if _, err := rrule.StrToRRule(event.RecurrenceRule); err != nil {
			return nil, newMappingError(fmt.Sprintf("unsupported recurrence rule %q", event.RecurrenceRule), err)
		}
		encoded.Recurrence = []string{rrulePrefix + event.RecurrenceRule}
	}

	return encoded, nil
}

// mergeForUpdate overlays locally-owned fields on the remote body so
// provider-owned fields (attendees, reminders, conferencing) survive the
// update round trip.
func mergeForUpdate(existing *calendarapi.Event, encoded *calendarapi.Event) *calendarapi.Event {
	merged := *existing
	merged.Summary = encoded.Summary
	merged.Description = encoded.Description
	merged.Location = encoded.Location
	merged.Start = encoded.Start
	merged.End = encoded.End
	if encoded.ColorId != "" {
		merged.ColorId = encoded.ColorId
	}
	if encoded.Recurrence != nil {
		merged.Recurrence = encoded.Recurrence
	}
	return &merged
}
