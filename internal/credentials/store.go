// Package credentials persists per-owner Google OAuth tokens. Obtaining
// and refreshing grants happens outside this service; it only stores what
// the OAuth flow produced and reports connection state.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// ErrNotConnected indicates the owner has no stored remote credentials.
var ErrNotConnected = errors.New("credentials: no remote calendar connection")

// Credential stores one owner's OAuth grant.
type Credential struct {
	UserID       string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	AccessToken  string    `gorm:"column:access_token;type:text;not null"`
	RefreshToken string    `gorm:"column:refresh_token;type:text;not null;default:''"`
	TokenType    string    `gorm:"column:token_type;size:50;not null;default:'Bearer'"`
	Expiry       time.Time `gorm:"column:expiry"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Credential) TableName() string {
	return "google_credentials"
}

// ConnectionStatus is the boundary view of an owner's remote connection.
type ConnectionStatus struct {
	Connected bool
	Expired   bool
	Expiry    time.Time
}

// StoreConfig describes the dependencies of the credential store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Store persists and caches per-owner tokens.
type Store struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewStore constructs the credential store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("credentials: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: cfg.Database, now: clock}, nil
}

// Save upserts the owner's token.
func (s *Store) Save(ctx context.Context, owner string, token *oauth2.Token) error {
	if owner == "" {
		return fmt.Errorf("credentials: owner identifier required")
	}
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("credentials: access token required")
	}
	record := Credential{
		UserID:       owner,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry.UTC(),
		UpdatedAt:    s.now().UTC(),
	}
	if record.TokenType == "" {
		record.TokenType = "Bearer"
	}
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		return err
	}
	s.cache.Store(owner, record)
	return nil
}

// Token returns the owner's stored token. Missing grants fail with
// ErrNotConnected so callers can prompt for authorization.
func (s *Store) Token(ctx context.Context, owner string) (*oauth2.Token, error) {
	record, err := s.load(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		TokenType:    record.TokenType,
		Expiry:       record.Expiry,
	}, nil
}

// Status reports whether a grant exists and whether it has expired.
func (s *Store) Status(ctx context.Context, owner string) (ConnectionStatus, error) {
	record, err := s.load(ctx, owner)
	if errors.Is(err, ErrNotConnected) {
		return ConnectionStatus{}, nil
	}
	if err != nil {
		return ConnectionStatus{}, err
	}
	expired := !record.Expiry.IsZero() && record.Expiry.Before(s.now())
	return ConnectionStatus{Connected: true, Expired: expired, Expiry: record.Expiry}, nil
}

// Delete removes the owner's grant, disconnecting the remote calendar.
func (s *Store) Delete(ctx context.Context, owner string) error {
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", owner).
		Delete(&Credential{}).Error; err != nil {
		return err
	}
	s.cache.Delete(owner)
	return nil
}

func (s *Store) load(ctx context.Context, owner string) (Credential, error) {
	if owner == "" {
		return Credential{}, fmt.Errorf("credentials: owner identifier required")
	}
	if cached, ok := s.cache.Load(owner); ok {
		if record, ok := cached.(Credential); ok {
			return record, nil
		}
	}
	var record Credential
	err := s.db.WithContext(ctx).
		Where("user_id = ?", owner).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Credential{}, ErrNotConnected
	}
	if err != nil {
		return Credential{}, err
	}
	s.cache.Store(owner, record)
	return record, nil
}
