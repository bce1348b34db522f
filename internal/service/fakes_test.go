package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JhonHurtado/chat-in-real-time/internal/event"
	"github.com/JhonHurtado/chat-in-real-time/internal/models"

	"gorm.io/gorm"
)

// memStore is an in-memory Store used by the service tests.
type memStore struct {
	mu sync.Mutex

	nextID   uint
	users    map[uint]*models.User
	friends  map[uint]*models.Friendship
	rooms    map[uint]*models.Room
	members  map[uint]map[uint]bool
	messages map[uint]*models.Message
	reads    map[uint]map[uint]bool
	tokens   map[string]*models.RefreshToken

	failCreateMessage error
	roomCreates       int
}

var _ Store = (*memStore)(nil)
var _ ChatStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		users:    map[uint]*models.User{},
		friends:  map[uint]*models.Friendship{},
		rooms:    map[uint]*models.Room{},
		members:  map[uint]map[uint]bool{},
		messages: map[uint]*models.Message{},
		reads:    map[uint]map[uint]bool{},
		tokens:   map[string]*models.RefreshToken{},
	}
}

func (m *memStore) id() uint {
	m.nextID++
	return m.nextID
}

func (m *memStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.users {
		if x.Username == u.Username {
			return gorm.ErrDuplicatedKey
		}
	}
	u.ID = m.id()
	u.CreatedAt = time.Now()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memStore) FindUserByID(_ context.Context, id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) SearchUsers(_ context.Context, term string, limit int) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	term = strings.ToLower(term)
	var out []models.User
	for _, u := range m.users {
		if strings.Contains(u.Username, term) || strings.Contains(strings.ToLower(u.DisplayName), term) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpdateLastSeen(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.LastSeen = time.Now()
	}
	return nil
}

func (m *memStore) SaveRefreshToken(_ context.Context, userID uint, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = &models.RefreshToken{UserID: userID, Token: token, ExpiresAt: expiresAt}
	return nil
}

func (m *memStore) RotateRefreshToken(_ context.Context, oldToken, newToken string, expiresAt time.Time) (uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tokens[oldToken]
	if !ok || rec.RevokedAt != nil || !rec.ExpiresAt.After(time.Now()) {
		return 0, nil
	}
	now := time.Now()
	rec.RevokedAt = &now
	m.tokens[newToken] = &models.RefreshToken{UserID: rec.UserID, Token: newToken, ExpiresAt: expiresAt}
	return rec.UserID, nil
}

func (m *memStore) friendshipBetween(a, b uint) *models.Friendship {
	key := models.PairKey(a, b)
	for _, f := range m.friends {
		if f.PairKey == key {
			return f
		}
	}
	return nil
}

func (m *memStore) FindFriendshipBetween(_ context.Context, a, b uint) (*models.Friendship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f := m.friendshipBetween(a, b); f != nil {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) FindFriendshipByID(_ context.Context, id uint) (*models.Friendship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.friends[id]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) CreateFriendRequest(_ context.Context, from, to uint) (*models.Friendship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if from == to {
		return nil, errors.New("check constraint chk_friendship_not_self")
	}
	if f := m.friendshipBetween(from, to); f != nil {
		if f.Status != models.FriendshipRejected {
			return nil, gorm.ErrDuplicatedKey
		}
		delete(m.friends, f.ID)
	}
	f := &models.Friendship{
		ID:       m.id(),
		UserID:   from,
		FriendID: to,
		PairKey:  models.PairKey(from, to),
		Status:   models.FriendshipPending,
	}
	m.friends[f.ID] = f
	cp := *f
	return &cp, nil
}

func (m *memStore) UpdatePendingFriendship(_ context.Context, id uint, status models.FriendshipStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.friends[id]
	if !ok || f.Status != models.FriendshipPending {
		return false, nil
	}
	f.Status = status
	return true, nil
}

func (m *memStore) GetAcceptedFriends(_ context.Context, userID uint) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, f := range m.friends {
		if f.Status != models.FriendshipAccepted {
			continue
		}
		if f.UserID == userID || f.FriendID == userID {
			out = append(out, *m.users[f.Other(userID)])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetPendingRequests(_ context.Context, userID uint) ([]models.PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PendingRequest
	for _, f := range m.friends {
		if f.FriendID != userID || f.Status != models.FriendshipPending {
			continue
		}
		u := m.users[f.UserID]
		out = append(out, models.PendingRequest{RequestID: f.ID, UserID: u.ID, Username: u.Username, DisplayName: u.DisplayName})
	}
	return out, nil
}

func (m *memStore) AreFriends(_ context.Context, a, b uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a == b {
		return false, nil
	}
	f := m.friendshipBetween(a, b)
	return f != nil && f.Status == models.FriendshipAccepted, nil
}

func (m *memStore) FindRoomByID(_ context.Context, id uint) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) ListRoomsByType(_ context.Context, t models.RoomType) ([]models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Room
	for _, r := range m.rooms {
		if r.Type == t {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListUserRooms(_ context.Context, userID uint) ([]models.RoomSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RoomSummary
	for id, r := range m.rooms {
		if !m.members[id][userID] {
			continue
		}
		var n int64
		for _, msg := range m.messages {
			if msg.RoomID == id {
				n++
			}
		}
		out = append(out, models.RoomSummary{Room: *r, MessageCount: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) insertRoom(room *models.Room, memberIDs []uint) {
	room.ID = m.id()
	room.CreatedAt = time.Now()
	cp := *room
	m.rooms[room.ID] = &cp
	m.members[room.ID] = map[uint]bool{}
	for _, u := range memberIDs {
		m.members[room.ID][u] = true
	}
	m.roomCreates++
}

func (m *memStore) CreateRoom(_ context.Context, room *models.Room, memberIDs []uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertRoom(room, memberIDs)
	return nil
}

func (m *memStore) IsRoomMember(_ context.Context, roomID, userID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[roomID][userID], nil
}

func (m *memStore) AddRoomMember(_ context.Context, roomID, userID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[roomID] == nil {
		m.members[roomID] = map[uint]bool{}
	}
	m.members[roomID][userID] = true
	return nil
}

func (m *memStore) findPrivate(a, b uint) *models.Room {
	for id, r := range m.rooms {
		if r.Type == models.RoomPrivate && m.members[id][a] && m.members[id][b] {
			return r
		}
	}
	return nil
}

func (m *memStore) FindPrivateRoomBetween(_ context.Context, a, b uint) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.findPrivate(a, b); r != nil {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) FindOrCreatePrivateRoom(_ context.Context, a, b uint, name string) (*models.Room, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := models.PairKey(a, b)
	for _, r := range m.rooms {
		if r.PairKey != nil && *r.PairKey == key {
			cp := *r
			return &cp, false, nil
		}
	}
	room := &models.Room{Name: name, Type: models.RoomPrivate, CreatedBy: &a, PairKey: &key}
	m.insertRoom(room, []uint{a, b})
	return room, true, nil
}

func (m *memStore) CreateMessage(_ context.Context, roomID, userID uint, encrypted string) (uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateMessage != nil {
		return 0, m.failCreateMessage
	}
	msg := &models.Message{ID: m.id(), RoomID: roomID, UserID: userID, Content: encrypted, CreatedAt: time.Now()}
	m.messages[msg.ID] = msg
	return msg.ID, nil
}

func (m *memStore) view(msg *models.Message) models.MessageView {
	u := m.users[msg.UserID]
	return models.MessageView{
		ID:          msg.ID,
		RoomID:      msg.RoomID,
		UserID:      msg.UserID,
		Content:     msg.Content,
		CreatedAt:   msg.CreatedAt,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		ReadCount:   int64(len(m.reads[msg.ID])),
	}
}

func (m *memStore) GetMessageWithAuthor(_ context.Context, id uint) (*models.MessageView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, nil
	}
	v := m.view(msg)
	return &v, nil
}

func (m *memStore) GetRoomMessages(_ context.Context, roomID uint, limit int, beforeID uint) ([]models.MessageView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MessageView
	for _, msg := range m.messages {
		if msg.RoomID != roomID || (beforeID > 0 && msg.ID >= beforeID) {
			continue
		}
		out = append(out, m.view(msg))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) MarkMessagesRead(_ context.Context, roomID, userID uint, ids []uint) ([]uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uint
	seen := map[uint]bool{}
	for _, id := range ids {
		msg, ok := m.messages[id]
		if !ok || msg.RoomID != roomID || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if m.reads[id] == nil {
			m.reads[id] = map[uint]bool{}
		}
		m.reads[id][userID] = true
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memStore) FindMessageByID(_ context.Context, id uint) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok {
		cp := *msg
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) DeleteMessage(_ context.Context, messageID, userID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok || msg.UserID != userID {
		return false, nil
	}
	delete(m.messages, messageID)
	delete(m.reads, messageID)
	return true, nil
}

func (m *memStore) messageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func (m *memStore) receiptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.reads {
		n += len(r)
	}
	return n
}

// addUser inserts a user directly, bypassing validation and hashing.
func (m *memStore) addUser(username, display string) *models.User {
	u := &models.User{Username: username, DisplayName: display}
	if err := m.CreateUser(context.Background(), u); err != nil {
		panic(err)
	}
	return u
}

func (m *memStore) befriend(a, b uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := &models.Friendship{
		ID:       m.id(),
		UserID:   a,
		FriendID: b,
		PairKey:  models.PairKey(a, b),
		Status:   models.FriendshipAccepted,
	}
	m.friends[f.ID] = f
}

func (m *memStore) addRoom(t models.RoomType, name string, members ...uint) *models.Room {
	room := &models.Room{Name: name, Type: t}
	_ = m.CreateRoom(context.Background(), room, members)
	return room
}

// sent is a captured outbound event.
type sent struct {
	roomID uint
	connID string
	except string
	ev     event.Server
}

// recorder implements Broadcaster and Locator.
type recorder struct {
	mu     sync.Mutex
	online map[uint]string
	events []sent
}

func newRecorder() *recorder {
	return &recorder{online: map[uint]string{}}
}

func (r *recorder) connect(userID uint, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online[userID] = connID
}

func (r *recorder) Lookup(userID uint) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.online[userID]
	return c, ok
}

func (r *recorder) BroadcastRoom(roomID uint, ev event.Server, except string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sent{roomID: roomID, except: except, ev: ev})
}

func (r *recorder) SendTo(connID string, ev event.Server) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sent{connID: connID, ev: ev})
	return true
}

func (r *recorder) Online(uint) int { return 0 }

// named returns the captured events with the given name, in order.
func (r *recorder) named(name string) []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sent
	for _, s := range r.events {
		if s.ev.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// plainCipher is a reversible Cipher that marks its output.
type plainCipher struct{}

func (plainCipher) Encrypt(s string) (string, error) { return "enc:" + s, nil }

func (plainCipher) Decrypt(s string) (string, error) {
	if !strings.HasPrefix(s, "enc:") {
		return "", errors.New("bad ciphertext")
	}
	return strings.TrimPrefix(s, "enc:"), nil
}
