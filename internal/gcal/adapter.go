// Package gcal adapts the domain calendar model to the Google Calendar
// API: wire encoding (all-day boundaries, color palette, recurrence),
// fetch-then-merge updates, and classification of provider failures into
// the domain error taxonomy.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/souldream/backend/internal/calendar"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	calendarapi "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const defaultCalendarID = "primary"

// eventsAPI is the thin slice of the Google Calendar events surface the
// adapter needs. The production implementation wraps *calendarapi.Service;
// tests substitute a fake to exercise the merge and mapping paths.
type eventsAPI interface {
	list(ctx context.Context, timeMin, timeMax string) ([]*calendarapi.Event, error)
	get(ctx context.Context, eventID string) (*calendarapi.Event, error)
	insert(ctx context.Context, event *calendarapi.Event) (*calendarapi.Event, error)
	update(ctx context.Context, eventID string, event *calendarapi.Event) (*calendarapi.Event, error)
	remove(ctx context.Context, eventID string) error
}

type googleEventsAPI struct {
	service    *calendarapi.Service
	calendarID string
}

func (g *googleEventsAPI) list(ctx context.Context, timeMin, timeMax string) ([]*calendarapi.Event, error) {
	result, err := g.service.Events.List(g.calendarID).
		TimeMin(timeMin).
		TimeMax(timeMax).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	return result.Items, nil
}

func (g *googleEventsAPI) get(ctx context.Context, eventID string) (*calendarapi.Event, error) {
	return g.service.Events.Get(g.calendarID, eventID).Context(ctx).Do()
}

func (g *googleEventsAPI) insert(ctx context.Context, event *calendarapi.Event) (*calendarapi.Event, error) {
	return g.service.Events.Insert(g.calendarID, event).Context(ctx).Do()
}

func (g *googleEventsAPI) update(ctx context.Context, eventID string, event *calendarapi.Event) (*calendarapi.Event, error) {
	return g.service.Events.Update(g.calendarID, eventID, event).Context(ctx).Do()
}

func (g *googleEventsAPI) remove(ctx context.Context, eventID string) error {
	return g.service.Events.Delete(g.calendarID, eventID).Context(ctx).Do()
}

// Adapter implements [calendar.RemoteCalendar] against Google Calendar.
type Adapter struct {
	api    eventsAPI
	logger *zap.Logger
}

// AdapterConfig configures an Adapter for one owner's credentials.
type AdapterConfig struct {
	TokenSource oauth2.TokenSource
	CalendarID  string
	Logger      *zap.Logger
}

// NewAdapter constructs an Adapter bound to the owner's primary calendar
// unless another calendar id is configured.
func NewAdapter(ctx context.Context, cfg AdapterConfig) (*Adapter, error) {
	if cfg.TokenSource == nil {
		return nil, fmt.Errorf("gcal: token source is required")
	}
	service, err := calendarapi.NewService(ctx, option.WithTokenSource(cfg.TokenSource))
	if err != nil {
		return nil, fmt.Errorf("gcal: building calendar service: %w", err)
	}
	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = defaultCalendarID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		api:    &googleEventsAPI{service: service, calendarID: calendarID},
		logger: logger,
	}, nil
}

// FetchEvents lists the provider's events overlapping the window as
// domain snapshots. Events the adapter cannot translate are skipped with
// a warning; the provider occasionally returns cancelled stubs without
// boundaries.
func (a *Adapter) FetchEvents(ctx context.Context, window calendar.Window) ([]calendar.RemoteSnapshot, error) {
	items, err := a.api.list(ctx, window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339))
	if err != nil {
		return nil, classify("listing events", err)
	}

	snapshots := make([]calendar.RemoteSnapshot, 0, len(items))
	for _, item := range items {
		snapshot, err := snapshotFromRemote(item)
		if err != nil {
			a.logger.Warn("skipping untranslatable remote event",
				zap.String("remote_id", item.Id),
				zap.Error(err))
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

// CreateEvent inserts the event remotely and returns the assigned remote
// id with a snapshot of the created body.
func (a *Adapter) CreateEvent(ctx context.Context, event calendar.CalendarEvent) (string, calendar.RemoteSnapshot, error) {
	encoded, err := encodeEvent(event)
	if err != nil {
		return "", calendar.RemoteSnapshot{}, err
	}
	created, err := a.api.insert(ctx, encoded)
	if err != nil {
		return "", calendar.RemoteSnapshot{}, classify("creating event", err)
	}
	snapshot, err := snapshotFromRemote(created)
	if err != nil {
		return created.Id, calendar.RemoteSnapshot{RemoteID: created.Id}, nil
	}
	return created.Id, snapshot, nil
}

// UpdateEvent fetches the current remote body and overlays the locally
// owned fields before writing, so provider-owned fields are preserved.
func (a *Adapter) UpdateEvent(ctx context.Context, remoteID string, event calendar.CalendarEvent) (calendar.RemoteSnapshot, error) {
	encoded, err := encodeEvent(event)
	if err != nil {
		return calendar.RemoteSnapshot{}, err
	}
	existing, err := a.api.get(ctx, remoteID)
	if err != nil {
		return calendar.RemoteSnapshot{}, classify("fetching event for update", err)
	}
	updated, err := a.api.update(ctx, remoteID, mergeForUpdate(existing, encoded))
	if err != nil {
		return calendar.RemoteSnapshot{}, classify("updating event", err)
	}
	snapshot, err := snapshotFromRemote(updated)
	if err != nil {
		return calendar.RemoteSnapshot{RemoteID: remoteID}, nil
	}
	return snapshot, nil
}

// DeleteEvent removes the remote copy. The sync engine never calls this;
// it exists for event CRUD callers that opt into remote deletion.
func (a *Adapter) DeleteEvent(ctx context.Context, remoteID string) error {
	if err := a.api.remove(ctx, remoteID); err != nil {
		return classify("deleting event", err)
	}
	return nil
}

// classify folds provider failures into the domain taxonomy. Expired or
// revoked credentials surface as ErrRemoteAuth so callers can prompt
// reauthorization; everything else, timeouts included, is ErrRemoteAPI.
func classify(operation string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden) {
		return fmt.Errorf("%s: %w: %w", operation, calendar.ErrRemoteAuth, err)
	}
	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) {
		return fmt.Errorf("%s: %w: %w", operation, calendar.ErrRemoteAuth, err)
	}
	return fmt.Errorf("%s: %w: %w", operation, calendar.ErrRemoteAPI, err)
}

func newMappingError(reason string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", calendar.ErrMapping, reason)
	}
	return fmt.Errorf("%w: %s: %w", calendar.ErrMapping, reason, cause)
}
