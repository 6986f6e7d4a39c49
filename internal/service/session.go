package service

import (
	"context"
	"fmt"
	"sync"

	"storefront/internal/backend"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"
)

// TopicSessionChanged carries a models.SessionChange on every stored user change
const TopicSessionChanged = "session:changed"

// SessionStatus is the lifecycle state of a SessionState
type SessionStatus string

const (
	StatusUninitialized SessionStatus = "uninitialized"
	StatusLoading       SessionStatus = "loading"
	StatusAnonymous     SessionStatus = "anonymous"
	StatusAuthenticated SessionStatus = "authenticated"
)

// SessionState holds the signed-in user of this client
type SessionState struct {
	auth   backend.Auth
	bus    EventBus.Bus
	logger *zap.Logger

	mu     sync.RWMutex
	user   *models.User
	status SessionStatus
	sub    backend.Subscription
}

// NewSessionState creates an uninitialized session
func NewSessionState(auth backend.Auth, bus EventBus.Bus) *SessionState {
	return &SessionState{
		auth:   auth,
		bus:    bus,
		logger: util.GetLogger().Named("session"),
		status: StatusUninitialized,
	}
}

// Initialize loads the current user and subscribes to session changes. It may
// run once; Close releases the subscription.
func (s *SessionState) Initialize(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "SessionState.Initialize")
	defer span.End()

	s.mu.Lock()
	if s.status != StatusUninitialized {
		s.mu.Unlock()
		return ErrAlreadyInitialized
	}
	s.status = StatusLoading
	s.mu.Unlock()
	util.SessionTransitionsTotal.WithLabelValues(string(StatusLoading)).Inc()

	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		s.logger.Error("Failed to load current user", zap.Error(err))
		user = nil
	}
	s.setUser(user)

	sub, err := s.auth.OnSessionChange(ctx, s.setUser)
	if err != nil {
		return fmt.Errorf("failed to subscribe to session changes: %w", err)
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	s.logger.Info("Session initialized", zap.String("status", string(s.Status())))
	return nil
}

// SignIn asks the backend to sign in. The stored user changes when the backend
// reports the new session, which may be after SignIn returns.
func (s *SessionState) SignIn(ctx context.Context, email, password string) error {
	ctx, span := util.StartSpan(ctx, "SessionState.SignIn")
	defer span.End()

	if err := s.auth.SignIn(ctx, email, password); err != nil {
		util.AuthFailuresTotal.WithLabelValues("signin").Inc()
		return err
	}
	return nil
}

// SignUp asks the backend to create an account, with the same contract as SignIn
func (s *SessionState) SignUp(ctx context.Context, email, password string) error {
	ctx, span := util.StartSpan(ctx, "SessionState.SignUp")
	defer span.End()

	if err := s.auth.SignUp(ctx, email, password); err != nil {
		util.AuthFailuresTotal.WithLabelValues("signup").Inc()
		return err
	}
	return nil
}

// SignOut ends the session. The stored user is cleared before it returns, even
// when the backend call fails.
func (s *SessionState) SignOut(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "SessionState.SignOut")
	defer span.End()

	err := s.auth.SignOut(ctx)
	s.setUser(nil)
	if err != nil {
		s.logger.Error("Backend sign-out failed", zap.Error(err))
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

// User returns a copy of the stored user, or nil
func (s *SessionState) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *SessionState) Status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Close releases the session change subscription
func (s *SessionState) Close() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

func (s *SessionState) setUser(user *models.User) {
	var current *models.User
	status := StatusAnonymous
	if user != nil {
		u := *user
		current = &u
		status = StatusAuthenticated
	}

	s.mu.Lock()
	previous := s.user
	prevStatus := s.status
	s.user = current
	s.status = status
	s.mu.Unlock()

	if prevStatus != status {
		util.SessionTransitionsTotal.WithLabelValues(string(status)).Inc()
	}
	if sameUser(previous, current) {
		return
	}
	s.bus.Publish(TopicSessionChanged, models.SessionChange{Previous: previous, Current: current})
}

func sameUser(a, b *models.User) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}
