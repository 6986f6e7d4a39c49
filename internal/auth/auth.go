// Package auth implements backend.Auth on top of the users table, a Redis
// session store and the Kafka auth event stream.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"storefront/internal/backend"
	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/store"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

// UserStore persists accounts
type UserStore interface {
	CreateUser(ctx context.Context, user *models.UserRecord) error
	GetUserByEmail(ctx context.Context, email string) (*models.UserRecord, error)
	GetUserByID(ctx context.Context, id string) (*models.UserRecord, error)
}

// SessionStore persists the access token of a client
type SessionStore interface {
	SaveSession(ctx context.Context, clientID, token string, ttl time.Duration) error
	LoadSession(ctx context.Context, clientID string) (string, error)
	DeleteSession(ctx context.Context, clientID string) error
}

// EventPublisher publishes auth events
type EventPublisher interface {
	PublishAuthEvent(ctx context.Context, event *models.AuthEvent) error
}

// SourceFactory opens a fresh auth event stream for a consumer group
type SourceFactory func(groupID string) worker.MessageSource

// Config holds the auth service settings
type Config struct {
	ClientID string
	Secret   []byte
	TokenTTL time.Duration
	HashCost int
}

// Service is the backend.Auth of the storefront
type Service struct {
	users     UserStore
	sessions  SessionStore
	publisher EventPublisher
	sources   SourceFactory
	cfg       Config
	now       func() time.Time
	logger    *zap.Logger

	mu    sync.Mutex
	token string
}

var _ backend.Auth = (*Service)(nil)

// NewService creates a new auth service
func NewService(users UserStore, sessions SessionStore, publisher EventPublisher, sources SourceFactory, cfg Config) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.HashCost == 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}
	return &Service{
		users:     users,
		sessions:  sessions,
		publisher: publisher,
		sources:   sources,
		cfg:       cfg,
		now:       time.Now,
		logger:    util.GetLogger().Named("auth"),
	}
}

// CurrentUser returns the user of the stored session, or nil without one
func (s *Service) CurrentUser(ctx context.Context) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.CurrentUser")
	defer span.End()

	token, err := s.currentToken(ctx)
	if err != nil || token == "" {
		return nil, err
	}

	user, err := parseToken(s.cfg.Secret, token, s.now())
	if err != nil {
		s.logger.Info("Discarding stored session", zap.Error(err))
		s.clearToken(ctx)
		return nil, nil
	}

	record, err := s.users.GetUserByID(ctx, user.ID)
	if errors.Is(err, store.ErrUserNotFound) {
		s.clearToken(ctx)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return record.User(), nil
}

// OnSessionChange subscribes fn to the auth events of this client. Each
// subscription reads the stream with its own consumer group from the newest offset.
func (s *Service) OnSessionChange(ctx context.Context, fn func(*models.User)) (backend.Subscription, error) {
	if s.sources == nil {
		return nil, errors.New("auth event stream not configured")
	}
	groupID := fmt.Sprintf("storefront-session-%s-%s", s.cfg.ClientID, uuid.New().String())
	w := worker.NewSessionWorker(s.sources(groupID), s.cfg.ClientID, fn)
	w.Start(context.WithoutCancel(ctx))
	return w, nil
}

// SignIn checks credentials and opens a session for this client
func (s *Service) SignIn(ctx context.Context, email, password string) error {
	ctx, span := util.StartSpan(ctx, "AuthService.SignIn")
	defer span.End()

	record, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrUserNotFound) {
		return invalidCredentials()
	}
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); err != nil {
		return invalidCredentials()
	}

	return s.openSession(ctx, record.User(), models.EventTypeSignedIn)
}

// SignUp creates an account and signs it in
func (s *Service) SignUp(ctx context.Context, email, password string) error {
	ctx, span := util.StartSpan(ctx, "AuthService.SignUp")
	defer span.End()

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &backend.AuthError{Code: backend.AuthCodeInvalidEmail, Message: "Unable to validate email address: invalid format"}
	}
	if len(password) < minPasswordLength {
		return &backend.AuthError{Code: backend.AuthCodeWeakPassword, Message: "Password should be at least 6 characters"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.HashCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	record := &models.UserRecord{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(email),
		PasswordHash: string(hash),
	}
	if err := s.users.CreateUser(ctx, record); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			return &backend.AuthError{Code: backend.AuthCodeUserExists, Message: "User already registered"}
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("User signed up", zap.String("user_id", record.ID))
	return s.openSession(ctx, record.User(), models.EventTypeSignedIn)
}

// SignOut drops the session of this client
func (s *Service) SignOut(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "AuthService.SignOut")
	defer span.End()

	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()

	err := s.sessions.DeleteSession(ctx, s.cfg.ClientID)
	if err != nil {
		s.logger.Error("Failed to delete session", zap.Error(err))
	}
	s.publish(ctx, models.EventTypeSignedOut, nil)
	return err
}

// RefreshSession re-issues the token of a live session, or signs out an expired one
func (s *Service) RefreshSession(ctx context.Context) error {
	token, err := s.currentToken(ctx)
	if err != nil || token == "" {
		return err
	}

	user, err := parseToken(s.cfg.Secret, token, s.now())
	if err != nil {
		s.logger.Info("Session expired", zap.Error(err))
		return s.SignOut(ctx)
	}
	return s.openSession(ctx, user, models.EventTypeTokenRefreshed)
}

func (s *Service) openSession(ctx context.Context, user *models.User, eventType string) error {
	token, err := issueToken(s.cfg.Secret, user, s.now(), s.cfg.TokenTTL)
	if err != nil {
		return err
	}
	if err := s.sessions.SaveSession(ctx, s.cfg.ClientID, token, s.cfg.TokenTTL); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	s.publish(ctx, eventType, user)
	return nil
}

func (s *Service) currentToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token != "" {
		return token, nil
	}

	token, err := s.sessions.LoadSession(ctx, s.cfg.ClientID)
	if errors.Is(err, redisclient.ErrSessionNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load session: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return token, nil
}

func (s *Service) clearToken(ctx context.Context) {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	if err := s.sessions.DeleteSession(ctx, s.cfg.ClientID); err != nil {
		s.logger.Warn("Failed to delete stale session", zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, eventType string, user *models.User) {
	event := &models.AuthEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: s.now(),
		},
		ClientID: s.cfg.ClientID,
	}
	if user != nil {
		event.UserID = user.ID
		event.Email = user.Email
	}
	if err := s.publisher.PublishAuthEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish auth event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func invalidCredentials() error {
	return &backend.AuthError{Code: backend.AuthCodeInvalidCredentials, Message: "Invalid login credentials"}
}
