package service

import (
	"context"
	"time"

	"github.com/JhonHurtado/chat-in-real-time/internal/event"
	"github.com/JhonHurtado/chat-in-real-time/internal/models"
)

// 以下接口由 store.Store 实现，测试中使用内存实现替换。

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	FindUserByID(ctx context.Context, id uint) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	SearchUsers(ctx context.Context, term string, limit int) ([]models.User, error)
	UpdateLastSeen(ctx context.Context, id uint) error
	SaveRefreshToken(ctx context.Context, userID uint, token string, expiresAt time.Time) error
	RotateRefreshToken(ctx context.Context, oldToken, newToken string, expiresAt time.Time) (uint, error)
}

type FriendStore interface {
	FindUserByID(ctx context.Context, id uint) (*models.User, error)
	FindFriendshipBetween(ctx context.Context, a, b uint) (*models.Friendship, error)
	FindFriendshipByID(ctx context.Context, id uint) (*models.Friendship, error)
	CreateFriendRequest(ctx context.Context, from, to uint) (*models.Friendship, error)
	UpdatePendingFriendship(ctx context.Context, id uint, status models.FriendshipStatus) (bool, error)
	GetAcceptedFriends(ctx context.Context, userID uint) ([]models.User, error)
	GetPendingRequests(ctx context.Context, userID uint) ([]models.PendingRequest, error)
	AreFriends(ctx context.Context, a, b uint) (bool, error)
}

type RoomStore interface {
	FindRoomByID(ctx context.Context, id uint) (*models.Room, error)
	ListRoomsByType(ctx context.Context, t models.RoomType) ([]models.Room, error)
	ListUserRooms(ctx context.Context, userID uint) ([]models.RoomSummary, error)
	CreateRoom(ctx context.Context, room *models.Room, memberIDs []uint) error
	IsRoomMember(ctx context.Context, roomID, userID uint) (bool, error)
	AddRoomMember(ctx context.Context, roomID, userID uint) error
	FindPrivateRoomBetween(ctx context.Context, a, b uint) (*models.Room, error)
	FindOrCreatePrivateRoom(ctx context.Context, a, b uint, name string) (*models.Room, bool, error)
}

type MessageStore interface {
	CreateMessage(ctx context.Context, roomID, userID uint, encrypted string) (uint, error)
	GetMessageWithAuthor(ctx context.Context, id uint) (*models.MessageView, error)
	GetRoomMessages(ctx context.Context, roomID uint, limit int, beforeID uint) ([]models.MessageView, error)
	MarkMessagesRead(ctx context.Context, roomID, userID uint, messageIDs []uint) ([]uint, error)
	FindMessageByID(ctx context.Context, id uint) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID, userID uint) (bool, error)
}

// Store 汇总 service 层用到的全部持久化操作。
type Store interface {
	UserStore
	FriendStore
	RoomStore
	MessageStore
}

// Cipher 是消息内容的落库加解密，由 crypt.Cipher 实现。
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Broadcaster 把服务端事件投递给房间组或单个连接，由 ws.Hub 实现。
type Broadcaster interface {
	// BroadcastRoom 投递给房间组内除 exceptConnID 外的全部连接，exceptConnID 为空表示不排除。
	BroadcastRoom(roomID uint, ev event.Server, exceptConnID string)
	// SendTo 投递给单个连接，连接不存在时返回 false。
	SendTo(connID string, ev event.Server) bool
	// Online 返回房间组内当前的连接数。
	Online(roomID uint) int
}

// Locator 查询用户当前的连接，由 presence.Registry 实现。
type Locator interface {
	Lookup(userID uint) (string, bool)
}

// notifyUser 向在线用户推送事件，不在线时静默忽略。
func notifyUser(loc Locator, out Broadcaster, userID uint, ev event.Server) bool {
	connID, ok := loc.Lookup(userID)
	if !ok {
		return false
	}
	return out.SendTo(connID, ev)
}
