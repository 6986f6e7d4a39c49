package memory

import (
	"context"
	"strings"
	"sync"

	"storefront/internal/backend"
	"storefront/internal/models"

	"github.com/google/uuid"
)

const minPasswordLength = 6

type account struct {
	user     models.User
	password string
}

// Auth is an in-process backend.Auth. Session changes are delivered to each
// subscriber on its own goroutine, in order.
type Auth struct {
	mu         sync.Mutex
	accounts   map[string]account
	current    *models.User
	currentErr error
	subs       map[*subscription]struct{}
}

// NewAuth creates an Auth with no accounts and no session.
func NewAuth() *Auth {
	return &Auth{
		accounts: make(map[string]account),
		subs:     make(map[*subscription]struct{}),
	}
}

// AddUser registers an account without signing it in and returns its identity.
func (a *Auth) AddUser(email, password string) models.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	u := models.User{ID: uuid.New().String(), Email: email}
	a.accounts[strings.ToLower(email)] = account{user: u, password: password}
	return u
}

// SetSession replaces the current session and notifies subscribers, as if the
// change happened in another tab.
func (a *Auth) SetSession(u *models.User) {
	a.mu.Lock()
	a.current = u
	a.mu.Unlock()
	a.notify(u)
}

// FailCurrentUser makes CurrentUser return err until cleared with nil.
func (a *Auth) FailCurrentUser(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentErr = err
}

// Subscribers returns the number of live subscriptions.
func (a *Auth) Subscribers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}

func (a *Auth) CurrentUser(ctx context.Context) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentErr != nil {
		return nil, a.currentErr
	}
	if a.current == nil {
		return nil, nil
	}
	u := *a.current
	return &u, nil
}

func (a *Auth) OnSessionChange(ctx context.Context, fn func(*models.User)) (backend.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &subscription{
		owner:  a,
		events: make(chan *models.User, 64),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run(fn)

	a.mu.Lock()
	a.subs[s] = struct{}{}
	a.mu.Unlock()
	return s, nil
}

func (a *Auth) SignIn(ctx context.Context, email, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	acc, ok := a.accounts[strings.ToLower(email)]
	if !ok || acc.password != password {
		a.mu.Unlock()
		return &backend.AuthError{Code: backend.AuthCodeInvalidCredentials, Message: "Invalid login credentials"}
	}
	u := acc.user
	a.current = &u
	a.mu.Unlock()

	a.notify(&u)
	return nil
}

func (a *Auth) SignUp(ctx context.Context, email, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !strings.Contains(email, "@") {
		return &backend.AuthError{Code: backend.AuthCodeInvalidEmail, Message: "Unable to validate email address: invalid format"}
	}
	if len(password) < minPasswordLength {
		return &backend.AuthError{Code: backend.AuthCodeWeakPassword, Message: "Password should be at least 6 characters"}
	}

	a.mu.Lock()
	key := strings.ToLower(email)
	if _, exists := a.accounts[key]; exists {
		a.mu.Unlock()
		return &backend.AuthError{Code: backend.AuthCodeUserExists, Message: "User already registered"}
	}
	u := models.User{ID: uuid.New().String(), Email: email}
	a.accounts[key] = account{user: u, password: password}
	a.current = &u
	a.mu.Unlock()

	a.notify(&u)
	return nil
}

func (a *Auth) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	a.current = nil
	a.mu.Unlock()

	a.notify(nil)
	return nil
}

func (a *Auth) notify(u *models.User) {
	a.mu.Lock()
	subs := make([]*subscription, 0, len(a.subs))
	for s := range a.subs {
		subs = append(subs, s)
	}
	a.mu.Unlock()

	for _, s := range subs {
		var ev *models.User
		if u != nil {
			cp := *u
			ev = &cp
		}
		select {
		case s.events <- ev:
		case <-s.done:
		}
	}
}

type subscription struct {
	owner  *Auth
	events chan *models.User
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func (s *subscription) run(fn func(*models.User)) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case u := <-s.events:
			fn(u)
		}
	}
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.owner.mu.Lock()
		delete(s.owner.subs, s)
		s.owner.mu.Unlock()
		close(s.done)
	})
	s.wg.Wait()
	return nil
}
