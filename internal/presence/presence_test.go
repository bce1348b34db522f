package presence

import (
	"context"
	"sync"
	"testing"

	"github.com/JhonHurtado/chat-in-real-time/internal/event"
	"github.com/JhonHurtado/chat-in-real-time/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu        sync.Mutex
	users     map[uint]models.User
	friends   map[uint][]uint
	lastSeen  map[uint]int
	friendErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[uint]models.User{}, friends: map[uint][]uint{}, lastSeen: map[uint]int{}}
}

func (f *fakeStore) add(id uint, name string) {
	f.users[id] = models.User{ID: id, Username: name, DisplayName: name}
}

func (f *fakeStore) befriend(a, b uint) {
	f.friends[a] = append(f.friends[a], b)
	f.friends[b] = append(f.friends[b], a)
}

func (f *fakeStore) FindUserByID(_ context.Context, id uint) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *fakeStore) GetAcceptedFriends(_ context.Context, userID uint) ([]models.User, error) {
	if f.friendErr != nil {
		return nil, f.friendErr
	}
	var out []models.User
	for _, id := range f.friends[userID] {
		out = append(out, f.users[id])
	}
	return out, nil
}

func (f *fakeStore) UpdateLastSeen(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSeen[id]++
	return nil
}

type delivery struct {
	connID string
	ev     event.Server
}

type fakeEmitter struct {
	mu   sync.Mutex
	sent []delivery
}

func (e *fakeEmitter) SendTo(connID string, ev event.Server) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, delivery{connID, ev})
	return true
}

func (e *fakeEmitter) reset() {
	e.mu.Lock()
	e.sent = nil
	e.mu.Unlock()
}

func TestRegistry_LastConnectWins(t *testing.T) {
	r := NewRegistry()
	r.Register(1, "c1")
	r.Register(1, "c2")

	c, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "c2", c)

	// The superseded connection no longer maps to the user.
	_, ok = r.UnregisterByConn("c1")
	assert.False(t, ok)
	assert.True(t, r.IsOnline(1))

	uid, ok := r.UnregisterByConn("c2")
	assert.True(t, ok)
	assert.Equal(t, uint(1), uid)
	assert.False(t, r.IsOnline(1))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := uint(1); i <= 50; i++ {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			r.Register(id, "conn")
			r.Lookup(id)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, r.Len())
}

func TestConnect_NotifiesOnlineFriendsOnly(t *testing.T) {
	st := newFakeStore()
	st.add(1, "anna")
	st.add(2, "ben")
	st.add(3, "cleo")
	st.add(4, "dan")
	st.befriend(1, 2)
	st.befriend(1, 3)
	em := &fakeEmitter{}
	svc := NewService(NewRegistry(), st, em)
	ctx := context.Background()

	require.NoError(t, svc.Connect(ctx, 2, "conn-ben"))
	require.NoError(t, svc.Connect(ctx, 4, "conn-dan"))
	em.reset()

	require.NoError(t, svc.Connect(ctx, 1, "conn-anna"))
	require.Len(t, em.sent, 1)
	assert.Equal(t, "conn-ben", em.sent[0].connID)
	assert.Equal(t, event.FriendOnline{UserID: 1, Username: "anna"}, em.sent[0].ev)
	assert.Equal(t, 1, st.lastSeen[1])
}

func TestConnect_UnknownUser(t *testing.T) {
	svc := NewService(NewRegistry(), newFakeStore(), &fakeEmitter{})
	err := svc.Connect(context.Background(), 7, "c")
	assert.ErrorIs(t, err, ErrUnknownUser)
	assert.False(t, svc.Registry().IsOnline(7))
}

func TestDisconnect_OfflineOnce(t *testing.T) {
	st := newFakeStore()
	st.add(1, "anna")
	st.add(2, "ben")
	st.befriend(1, 2)
	em := &fakeEmitter{}
	svc := NewService(NewRegistry(), st, em)
	ctx := context.Background()

	require.NoError(t, svc.Connect(ctx, 1, "conn-anna"))
	require.NoError(t, svc.Connect(ctx, 2, "conn-ben"))
	em.reset()

	svc.Disconnect(ctx, "conn-anna")
	svc.Disconnect(ctx, "conn-anna")

	require.Len(t, em.sent, 1)
	assert.Equal(t, "conn-ben", em.sent[0].connID)
	assert.Equal(t, event.FriendOffline{UserID: 1}, em.sent[0].ev)
	assert.Equal(t, 2, st.lastSeen[1])
}

func TestDisconnect_SupersededConnection(t *testing.T) {
	st := newFakeStore()
	st.add(1, "anna")
	st.add(2, "ben")
	st.befriend(1, 2)
	em := &fakeEmitter{}
	svc := NewService(NewRegistry(), st, em)
	ctx := context.Background()

	require.NoError(t, svc.Connect(ctx, 2, "conn-ben"))
	require.NoError(t, svc.Connect(ctx, 1, "tab-1"))
	require.NoError(t, svc.Connect(ctx, 1, "tab-2"))
	em.reset()

	svc.Disconnect(ctx, "tab-1")
	assert.Empty(t, em.sent)
	assert.True(t, svc.Registry().IsOnline(1))
}

func TestNotifyFriends_StoreErrorIsSwallowed(t *testing.T) {
	st := newFakeStore()
	st.add(1, "anna")
	st.friendErr = assert.AnError
	em := &fakeEmitter{}
	svc := NewService(NewRegistry(), st, em)

	assert.NotPanics(t, func() {
		svc.NotifyFriends(context.Background(), 1, event.FriendOffline{UserID: 1})
	})
	assert.Empty(t, em.sent)
}
