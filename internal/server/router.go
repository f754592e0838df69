package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/souldream/backend/internal/calendar"
	"github.com/souldream/backend/internal/credentials"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const userIDContextKey = "souldream_user_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingEventStore    = errors.New("event store dependency required")
	errMissingTracker       = errors.New("sync tracker dependency required")
	errMissingRunner        = errors.New("sync runner dependency required")
	errMissingCredentials   = errors.New("credential store dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates the bearer tokens guarding the API.
// Identity verification happens upstream; the issuance endpoint binds an
// already-established owner id into a token.
type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// CredentialStore is the slice of the credential service the handlers use.
type CredentialStore interface {
	Save(ctx context.Context, owner string, token *oauth2.Token) error
	Delete(ctx context.Context, owner string) error
	Status(ctx context.Context, owner string) (credentials.ConnectionStatus, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	TokenManager TokenManager
	Events       *calendar.Store
	Tracker      *calendar.Tracker
	Runner       *calendar.Runner
	Credentials  CredentialStore
	Remotes      calendar.RemoteFactory
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router for the calendar API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Events == nil {
		return nil, errMissingEventStore
	}
	if deps.Tracker == nil {
		return nil, errMissingTracker
	}
	if deps.Runner == nil {
		return nil, errMissingRunner
	}
	if deps.Credentials == nil {
		return nil, errMissingCredentials
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:      deps.TokenManager,
		events:      deps.Events,
		tracker:     deps.Tracker,
		runner:      deps.Runner,
		credentials: deps.Credentials,
		remotes:     deps.Remotes,
		logger:      logger,
	}

	router.POST("/auth/token", handler.handleIssueToken)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/calendar/sync", handler.handleSyncStart)
	protected.GET("/calendar/sync/status/:sessionID", handler.handleSyncStatus)
	protected.GET("/calendar/connection/status", handler.handleConnectionStatus)
	protected.POST("/calendar/connection", handler.handleConnect)
	protected.DELETE("/calendar/connection", handler.handleDisconnect)
	protected.GET("/calendar/events", handler.handleListEvents)
	protected.POST("/calendar/events", handler.handleCreateEvent)
	protected.PUT("/calendar/events/:eventID", handler.handleUpdateEvent)
	protected.DELETE("/calendar/events/:eventID", handler.handleDeleteEvent)

	return router, nil
}

type httpHandler struct {
	tokens      TokenManager
	events      *calendar.Store
	tracker     *calendar.Tracker
	runner      *calendar.Runner
	credentials CredentialStore
	remotes     calendar.RemoteFactory
	logger      *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calendar.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, calendar.ErrRemoteAuth), errors.Is(err, credentials.ErrNotConnected):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "remote_authorization_required"})
	case errors.Is(err, calendar.ErrSyncInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "sync_in_progress"})
	case errors.Is(err, calendar.ErrInvalidWindow),
		errors.Is(err, calendar.ErrInvalidDirection),
		errors.Is(err, calendar.ErrInvalidTrigger),
		errors.Is(err, calendar.ErrInvalidSchedule),
		errors.Is(err, calendar.ErrMapping):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
