package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront/internal/backend"
	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/store"
	"storefront/internal/worker"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memUsers struct {
	mu      sync.Mutex
	byEmail map[string]*models.UserRecord
	byID    map[string]*models.UserRecord
}

func newMemUsers() *memUsers {
	return &memUsers{byEmail: map[string]*models.UserRecord{}, byID: map[string]*models.UserRecord{}}
}

func (m *memUsers) CreateUser(_ context.Context, u *models.UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := m.byEmail[key]; ok {
		return store.ErrUserExists
	}
	u.CreatedAt = time.Now()
	m.byEmail[key] = u
	m.byID[u.ID] = u
	return nil
}

func (m *memUsers) GetUserByEmail(_ context.Context, email string) (*models.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) GetUserByID(_ context.Context, id string) (*models.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.AuthEvent
	err    error
}

func (p *recordingPublisher) PublishAuthEvent(_ context.Context, e *models.AuthEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

type idleSource struct {
	groupID string
	closed  bool
}

func (s *idleSource) StartConsuming(ctx context.Context, _ broker.MessageHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *idleSource) Close() error {
	s.closed = true
	return nil
}

type fixture struct {
	svc       *Service
	users     *memUsers
	publisher *recordingPublisher
	mr        *miniredis.Miniredis
	sessions  *redisclient.Client
}

func newFixture(t *testing.T) *fixture {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	f := &fixture{
		users:     newMemUsers(),
		publisher: &recordingPublisher{},
		mr:        mr,
		sessions:  redisclient.NewFromRedis(rdb),
	}
	f.svc = NewService(f.users, f.sessions, f.publisher, nil, Config{
		ClientID: "kiosk-1",
		Secret:   []byte("test-secret"),
		TokenTTL: time.Hour,
		HashCost: bcrypt.MinCost,
	})
	return f
}

func TestSignUp_CreatesAccountAndSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SignUp(ctx, "Ada@example.com", "secret1"))

	record, err := f.users.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte("secret1")))
	assert.True(t, f.mr.Exists("session:kiosk-1"))
	assert.Equal(t, []string{models.EventTypeSignedIn}, f.publisher.types())
	assert.Equal(t, "kiosk-1", f.publisher.events[0].ClientID)
	assert.Equal(t, record.ID, f.publisher.events[0].UserID)

	user, err := f.svc.CurrentUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, record.ID, user.ID)
}

func TestSignUp_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var authErr *backend.AuthError

	require.ErrorAs(t, f.svc.SignUp(ctx, "not-an-email", "secret1"), &authErr)
	assert.Equal(t, backend.AuthCodeInvalidEmail, authErr.Code)

	require.ErrorAs(t, f.svc.SignUp(ctx, "ada@example.com", "123"), &authErr)
	assert.Equal(t, backend.AuthCodeWeakPassword, authErr.Code)

	require.NoError(t, f.svc.SignUp(ctx, "ada@example.com", "secret1"))
	require.ErrorAs(t, f.svc.SignUp(ctx, "ada@example.com", "secret2"), &authErr)
	assert.Equal(t, backend.AuthCodeUserExists, authErr.Code)
}

func TestSignIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SignUp(ctx, "ada@example.com", "secret1"))
	require.NoError(t, f.svc.SignOut(ctx))

	err := f.svc.SignIn(ctx, "ada@example.com", "wrong")
	assert.True(t, backend.IsAuthError(err))
	err = f.svc.SignIn(ctx, "nobody@example.com", "secret1")
	assert.True(t, backend.IsAuthError(err))

	require.NoError(t, f.svc.SignIn(ctx, "ada@example.com", "secret1"))
	assert.Equal(t, []string{models.EventTypeSignedIn, models.EventTypeSignedOut, models.EventTypeSignedIn}, f.publisher.types())
}

func TestSignOut_ClearsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SignUp(ctx, "ada@example.com", "secret1"))

	require.NoError(t, f.svc.SignOut(ctx))
	assert.False(t, f.mr.Exists("session:kiosk-1"))

	user, err := f.svc.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)
	last := f.publisher.events[len(f.publisher.events)-1]
	assert.Nil(t, last.User())
}

func TestCurrentUser_RestoresFromSessionStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SignUp(ctx, "ada@example.com", "secret1"))

	restarted := NewService(f.users, f.sessions, f.publisher, nil, f.svc.cfg)
	user, err := restarted.CurrentUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "ada@example.com", user.Email)
}

func TestCurrentUser_ExpiredTokenIsDiscarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SignUp(ctx, "ada@example.com", "secret1"))

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	user, err := f.svc.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.False(t, f.mr.Exists("session:kiosk-1"))
}

func TestCurrentUser_TamperedTokenIsDiscarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mr.Set("session:kiosk-1", "not.a.token"))

	user, err := f.svc.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestRefreshSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.RefreshSession(ctx))
	assert.Empty(t, f.publisher.types())

	require.NoError(t, f.svc.SignUp(ctx, "ada@example.com", "secret1"))
	require.NoError(t, f.svc.RefreshSession(ctx))
	assert.Equal(t, []string{models.EventTypeSignedIn, models.EventTypeTokenRefreshed}, f.publisher.types())

	f.svc.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	require.NoError(t, f.svc.RefreshSession(ctx))
	assert.Equal(t, models.EventTypeSignedOut, f.publisher.types()[2])
}

func TestPublishFailureDoesNotFailSignIn(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("kafka down")

	require.NoError(t, f.svc.SignUp(context.Background(), "ada@example.com", "secret1"))
	assert.True(t, f.mr.Exists("session:kiosk-1"))
}

func TestOnSessionChange_UsesFreshConsumerGroup(t *testing.T) {
	f := newFixture(t)
	var sources []*idleSource
	f.svc.sources = func(groupID string) worker.MessageSource {
		s := &idleSource{groupID: groupID}
		sources = append(sources, s)
		return s
	}

	sub1, err := f.svc.OnSessionChange(context.Background(), func(*models.User) {})
	require.NoError(t, err)
	sub2, err := f.svc.OnSessionChange(context.Background(), func(*models.User) {})
	require.NoError(t, err)

	require.Len(t, sources, 2)
	assert.NotEqual(t, sources[0].groupID, sources[1].groupID)
	assert.True(t, strings.HasPrefix(sources[0].groupID, "storefront-session-kiosk-1-"))

	require.NoError(t, sub1.Unsubscribe())
	require.NoError(t, sub2.Unsubscribe())
	assert.True(t, sources[0].closed)
	assert.True(t, sources[1].closed)
}

func TestOnSessionChange_WithoutStream(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.OnSessionChange(context.Background(), func(*models.User) {})
	assert.Error(t, err)
}
