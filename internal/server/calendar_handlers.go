package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/souldream/backend/internal/calendar"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type syncRequestPayload struct {
	Start      time.Time `json:"start" binding:"required"`
	End        time.Time `json:"end" binding:"required"`
	Direction  string    `json:"direction"`
	Trigger    string    `json:"trigger"`
	Background bool      `json:"background"`
}

type syncResultPayload struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	EventsCreated int      `json:"events_created"`
	EventsUpdated int      `json:"events_updated"`
	EventsDeleted int      `json:"events_deleted"`
	Errors        []string `json:"errors,omitempty"`
}

type syncStartedPayload struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type sessionPayload struct {
	SessionID     string     `json:"session_id"`
	Status        string     `json:"status"`
	Direction     string     `json:"direction"`
	Trigger       string     `json:"trigger"`
	WindowStart   time.Time  `json:"window_start"`
	WindowEnd     time.Time  `json:"window_end"`
	EventsCreated int        `json:"events_created"`
	EventsUpdated int        `json:"events_updated"`
	EventsDeleted int        `json:"events_deleted"`
	Errors        []string   `json:"errors,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

type tokenRequestPayload struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), request.UserID)
	if err != nil {
		h.logger.Error("token issuance failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
	})
}

func (h *httpHandler) handleSyncStart(c *gin.Context) {
	owner := c.GetString(userIDContextKey)

	var request syncRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	window, err := calendar.NewWindow(request.Start, request.End)
	if err != nil {
		h.respondError(c, err)
		return
	}
	direction := calendar.DirectionBidirectional
	if request.Direction != "" {
		direction, err = calendar.ParseDirection(request.Direction)
		if err != nil {
			h.respondError(c, err)
			return
		}
	}
	trigger := calendar.TriggerManual
	if request.Trigger != "" {
		trigger, err = calendar.ParseTrigger(request.Trigger)
		if err != nil {
			h.respondError(c, err)
			return
		}
	}

	session, err := h.tracker.CreateSession(c.Request.Context(), owner, window, direction, trigger)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if request.Background {
		h.runner.RunBackground(owner, session.ID)
		c.JSON(http.StatusAccepted, syncStartedPayload{
			Success:   true,
			Message:   "sync started in background",
			SessionID: session.ID,
		})
		return
	}

	result, err := h.runner.RunBlocking(c.Request.Context(), owner, session.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	message := "sync completed"
	if !result.Success {
		message = "sync failed"
	}
	c.JSON(http.StatusOK, syncResultPayload{
		Success:       result.Success,
		Message:       message,
		EventsCreated: result.Created,
		EventsUpdated: result.Updated,
		EventsDeleted: result.Deleted,
		Errors:        result.Errors,
	})
}

func (h *httpHandler) handleSyncStatus(c *gin.Context) {
	owner := c.GetString(userIDContextKey)
	session, err := h.tracker.GetSession(c.Request.Context(), owner, c.Param("sessionID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionPayload{
		SessionID:     session.ID,
		Status:        string(session.Status),
		Direction:     string(session.Direction),
		Trigger:       string(session.Trigger),
		WindowStart:   session.WindowStart,
		WindowEnd:     session.WindowEnd,
		EventsCreated: session.Created,
		EventsUpdated: session.Updated,
		EventsDeleted: session.Deleted,
		Errors:        session.Errors(),
		CreatedAt:     session.CreatedAt,
		StartedAt:     session.StartedAt,
		FinishedAt:    session.FinishedAt,
	})
}

type connectionPayload struct {
	AccessToken  string    `json:"access_token" binding:"required"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
}

func (h *httpHandler) handleConnectionStatus(c *gin.Context) {
	owner := c.GetString(userIDContextKey)
	status, err := h.credentials.Status(c.Request.Context(), owner)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := gin.H{"connected": status.Connected, "expired": status.Expired}
	if status.Connected && !status.Expiry.IsZero() {
		response["expiry"] = status.Expiry
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleConnect(c *gin.Context) {
	owner := c.GetString(userIDContextKey)
	var request connectionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	token := &oauth2.Token{
		AccessToken:  request.AccessToken,
		RefreshToken: request.RefreshToken,
		TokenType:    request.TokenType,
		Expiry:       request.Expiry,
	}
	if err := h.credentials.Save(c.Request.Context(), owner, token); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true})
}

func (h *httpHandler) handleDisconnect(c *gin.Context) {
	owner := c.GetString(userIDContextKey)
	if err := h.credentials.Delete(c.Request.Context(), owner); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": false})
}

type eventPayload struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Location       string     `json:"location,omitempty"`
	Color          string     `json:"color,omitempty"`
	Start          time.Time  `json:"start"`
	End            time.Time  `json:"end"`
	AllDay         bool       `json:"all_day"`
	RecurrenceRule string     `json:"recurrence_rule,omitempty"`
	RemoteID       string     `json:"remote_event_id,omitempty"`
	SyncStatus     string     `json:"sync_status"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	RelatedID      string     `json:"related_id,omitempty"`
	RelatedType    string     `json:"related_type,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func eventToPayload(event calendar.CalendarEvent) eventPayload {
	return eventPayload{
		ID:             event.ID,
		Title:          event.Title,
		Description:    event.Description,
		Location:       event.Location,
		Color:          event.Color,
		Start:          event.StartTime,
		End:            event.EndTime,
		AllDay:         event.AllDay,
		RecurrenceRule: event.RecurrenceRule,
		RemoteID:       event.RemoteID,
		SyncStatus:     string(event.SyncStatus),
		LastSyncedAt:   event.LastSyncedAt,
		RelatedID:      event.RelatedID,
		RelatedType:    event.RelatedType,
		CreatedAt:      event.CreatedAt,
		UpdatedAt:      event.UpdatedAt,
	}
}

func (h *httpHandler) handleListEvents(c *gin.Context) {
	owner := c.GetString(userIDContextKey)
	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	window, err := calendar.NewWindow(start, end)
	if err != nil {
		h.respondError(c, err)
		return
	}
	events, err := h.events.ListWindow(c.Request.Context(), owner, window)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]eventPayload, 0, len(events))
	for _, event := range events {
		payloads = append(payloads, eventToPayload(event))
	}
	c.JSON(http.StatusOK, payloads)
}

type createEventPayload struct {
	Title          string    `json:"title" binding:"required"`
	Description    string    `json:"description"`
	Location       string    `json:"location"`
	Color          string    `json:"color"`
	Start          time.Time `json:"start" binding:"required"`
	End            time.Time `json:"end" binding:"required"`
	AllDay         bool      `json:"all_day"`
	RecurrenceRule string    `json:"recurrence_rule"`
	RelatedID      string    `json:"related_id"`
	RelatedType    string    `json:"related_type"`
}

func (h *httpHandler) handleCreateEvent(c *gin.Context) {
	owner := c.GetString(userIDContextKey)
	var request createEventPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	schedule, err := buildSchedule(request.Start, request.End, request.AllDay)
	if err != nil {
		h.respondError(c, err)
		return
	}

	event := calendar.CalendarEvent{
		Title:          request.Title,
		Description:    request.Description,
		Location:       request.Location,
		Color:          request.Color,
		RecurrenceRule: request.RecurrenceRule,
		RelatedID:      request.RelatedID,
		RelatedType:    request.RelatedType,
	}
	event.ApplySchedule(schedule)

	created, err := h.events.Insert(c.Request.Context(), owner, event)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, eventToPayload(created))
}

type updateEventPayload struct {
	Title          *string    `json:"title"`
	Description    *string    `json:"description"`
	Location       *string    `json:"location"`
	Color          *string    `json:"color"`
	Start          *time.Time `json:"start"`
	End            *time.Time `json:"end"`
	AllDay         *bool      `json:"all_day"`
	RecurrenceRule *string    `json:"recurrence_rule"`
	RelatedID      *string    `json:"related_id"`
	RelatedType    *string    `json:"related_type"`
}

func (h *httpHandler) handleUpdateEvent(c *gin.Context) {
	owner := c.GetString(userIDContextKey)
	var request updateEventPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	update := calendar.EventUpdate{
		Title:          request.Title,
		Description:    request.Description,
		Location:       request.Location,
		Color:          request.Color,
		RecurrenceRule: request.RecurrenceRule,
		RelatedID:      request.RelatedID,
		RelatedType:    request.RelatedType,
	}

	// Rescheduling needs the full boundary set.
	if request.Start != nil || request.End != nil || request.AllDay != nil {
		if request.Start == nil || request.End == nil || request.AllDay == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		schedule, err := buildSchedule(*request.Start, *request.End, *request.AllDay)
		if err != nil {
			h.respondError(c, err)
			return
		}
		update.Schedule = &schedule
	}

	updated, err := h.events.Update(c.Request.Context(), owner, c.Param("eventID"), update)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, eventToPayload(updated))
}

func (h *httpHandler) handleDeleteEvent(c *gin.Context) {
	owner := c.GetString(userIDContextKey)
	eventID := c.Param("eventID")

	event, err := h.events.Get(c.Request.Context(), owner, eventID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	// Remote deletion only on explicit request; sync never propagates it.
	if c.Query("remote") == "true" && event.RemoteID != "" && h.remotes != nil {
		remote, err := h.remotes.RemoteFor(c.Request.Context(), owner)
		if err != nil {
			h.respondError(c, err)
			return
		}
		if err := remote.DeleteEvent(c.Request.Context(), event.RemoteID); err != nil {
			h.logger.Warn("remote delete failed",
				zap.String("event_id", eventID),
				zap.String("remote_id", event.RemoteID),
				zap.Error(err))
			h.respondError(c, err)
			return
		}
	}

	if err := h.events.Delete(c.Request.Context(), owner, eventID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func buildSchedule(start, end time.Time, allDay bool) (calendar.Schedule, error) {
	if allDay {
		return calendar.NewAllDaySchedule(start, end)
	}
	return calendar.NewTimedSchedule(start, end)
}
