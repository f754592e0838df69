package gcal

import (
	"context"
	"fmt"

	"github.com/souldream/backend/internal/calendar"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// TokenProvider hands out the owner's stored OAuth token. Implemented by
// [credentials.Store]; refresh and expiry are that store's concern.
type TokenProvider interface {
	Token(ctx context.Context, owner string) (*oauth2.Token, error)
}

// Factory builds one Adapter per orchestrator invocation from the
// owner's stored credentials. Implements [calendar.RemoteFactory].
type Factory struct {
	tokens     TokenProvider
	calendarID string
	logger     *zap.Logger
}

// FactoryConfig configures a Factory.
type FactoryConfig struct {
	Tokens     TokenProvider
	CalendarID string
	Logger     *zap.Logger
}

// NewFactory constructs a Factory.
func NewFactory(cfg FactoryConfig) (*Factory, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("gcal: token provider is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{tokens: cfg.Tokens, calendarID: cfg.CalendarID, logger: logger}, nil
}

// RemoteFor reads the owner's credentials once and returns an adapter
// bound to them. A missing grant surfaces as ErrRemoteAuth.
func (f *Factory) RemoteFor(ctx context.Context, owner string) (calendar.RemoteCalendar, error) {
	token, err := f.tokens.Token(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("%w: loading credentials: %w", calendar.ErrRemoteAuth, err)
	}
	return NewAdapter(ctx, AdapterConfig{
		TokenSource: oauth2.StaticTokenSource(token),
		CalendarID:  f.calendarID,
		Logger:      f.logger,
	})
}
