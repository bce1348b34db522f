package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/JhonHurtado/chat-in-real-time/internal/event"
	"github.com/JhonHurtado/chat-in-real-time/internal/models"
)

const maxRoomName = 100

// ChatStore 是私聊与群组编排需要的持久化操作。
type ChatStore interface {
	FindUserByID(ctx context.Context, id uint) (*models.User, error)
	AreFriends(ctx context.Context, a, b uint) (bool, error)
	FindPrivateRoomBetween(ctx context.Context, a, b uint) (*models.Room, error)
	FindOrCreatePrivateRoom(ctx context.Context, a, b uint, name string) (*models.Room, bool, error)
	CreateRoom(ctx context.Context, room *models.Room, memberIDs []uint) error
}

// ChatService 编排私聊与群组的创建，创建前校验好友关系。
type ChatService struct {
	store ChatStore
	loc   Locator
	out   Broadcaster
	pairs *keyLock[string]
}

func NewChatService(store ChatStore, loc Locator, out Broadcaster) *ChatService {
	return &ChatService{store: store, loc: loc, out: out, pairs: newKeyLock[string]()}
}

// StartPrivateChat 打开 userID 与 friendID 之间的私聊房间，不存在时创建。
// 同一对用户无论调用多少次、谁先发起，都得到同一个房间。
// connID 非空时向请求方回 private_chat_created，好友在线时推送 private_chat_notification。
func (s *ChatService) StartPrivateChat(ctx context.Context, connID string, userID, friendID uint) (*models.Room, error) {
	if userID == friendID {
		return nil, ErrSelfChat
	}
	ok, err := s.store.AreFriends(ctx, userID, friendID)
	if err != nil {
		return nil, Persistence("check friendship", err)
	}
	if !ok {
		return nil, ErrNotFriends
	}

	room, err := s.openPrivateRoom(ctx, userID, friendID)
	if err != nil {
		return nil, err
	}

	if connID != "" {
		s.out.SendTo(connID, event.PrivateChatCreated{RoomID: room.ID, FriendID: friendID})
	}
	notifyUser(s.loc, s.out, friendID, event.PrivateChatNotification{RoomID: room.ID, UserID: userID})
	return room, nil
}

func (s *ChatService) openPrivateRoom(ctx context.Context, userID, friendID uint) (*models.Room, error) {
	unlock := s.pairs.Lock(models.PairKey(userID, friendID))
	defer unlock()

	room, err := s.store.FindPrivateRoomBetween(ctx, userID, friendID)
	if err != nil {
		return nil, Persistence("find private room", err)
	}
	if room != nil {
		return room, nil
	}

	a, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return nil, Persistence("find user", err)
	}
	b, err := s.store.FindUserByID(ctx, friendID)
	if err != nil {
		return nil, Persistence("find user", err)
	}
	if a == nil || b == nil {
		return nil, ErrUserNotFound
	}
	room, _, err = s.store.FindOrCreatePrivateRoom(ctx, userID, friendID, a.Name()+" & "+b.Name())
	if err != nil {
		return nil, Persistence("create private room", err)
	}
	return room, nil
}

// CreateGroup 创建群组。members 中的自己、重复项和非好友被静默剔除，
// 剔除后为空时返回 ErrNoValidMembers。房间与全部成员在同一事务内写入。
func (s *ChatService) CreateGroup(ctx context.Context, connID, name string, createdBy uint, members []uint) (*models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidGroupName
	}
	if utf8.RuneCountInString(name) > maxRoomName {
		return nil, Validation("group name must be at most 100 characters")
	}
	if len(members) == 0 {
		return nil, ErrNoMembers
	}
	creator, err := s.store.FindUserByID(ctx, createdBy)
	if err != nil {
		return nil, Persistence("find user", err)
	}
	if creator == nil {
		return nil, ErrUserNotFound
	}

	seen := make(map[uint]struct{}, len(members))
	valid := make([]uint, 0, len(members))
	for _, id := range members {
		if id == createdBy {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ok, err := s.store.AreFriends(ctx, createdBy, id)
		if err != nil {
			return nil, Persistence("check friendship", err)
		}
		if ok {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoValidMembers
	}

	room := &models.Room{Name: name, Type: models.RoomGroup, CreatedBy: &createdBy}
	if err := s.store.CreateRoom(ctx, room, append([]uint{createdBy}, valid...)); err != nil {
		return nil, Persistence("create group", err)
	}

	for _, id := range valid {
		notifyUser(s.loc, s.out, id, event.AddedToGroup{RoomID: room.ID, RoomName: room.Name, CreatedBy: createdBy})
	}
	if connID != "" {
		s.out.SendTo(connID, event.GroupCreated{ID: room.ID, GroupName: room.Name, Type: string(room.Type)})
	}
	return room, nil
}
