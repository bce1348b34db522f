package models

import (
	"fmt"
	"time"
)

type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:20;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	DisplayName  string    `gorm:"size:50;not null" json:"display_name"`
	LastSeen     time.Time `json:"last_seen"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"-"`
}

// Name 返回展示名，未设置时回退到用户名。
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipRejected FriendshipStatus = "rejected"
)

// Friendship 是一对用户之间的好友关系，UserID 为发起方。
// PairKey 对无序用户对唯一，保证同一对用户同时最多存在一条记录。
type Friendship struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	UserID    uint             `gorm:"index;not null;check:chk_friendship_not_self,user_id <> friend_id" json:"user_id"`
	FriendID  uint             `gorm:"index;not null" json:"friend_id"`
	PairKey   string           `gorm:"uniqueIndex;size:48;not null" json:"-"`
	Status    FriendshipStatus `gorm:"size:16;index;not null" json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Other 返回关系中不是 userID 的另一方。
func (f Friendship) Other(userID uint) uint {
	if f.UserID == userID {
		return f.FriendID
	}
	return f.UserID
}

// PairKey 生成无序用户对的规范键 "min:max"。
func PairKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

type RoomType string

const (
	RoomGeneral RoomType = "general"
	RoomPrivate RoomType = "private"
	RoomGroup   RoomType = "group"
)

func (t RoomType) Valid() bool {
	switch t {
	case RoomGeneral, RoomPrivate, RoomGroup:
		return true
	}
	return false
}

type Room struct {
	ID        uint     `gorm:"primaryKey" json:"id"`
	Name      string   `gorm:"size:100;not null" json:"name"`
	Type      RoomType `gorm:"size:16;index;not null" json:"type"`
	CreatedBy *uint    `gorm:"index" json:"created_by"`
	// PairKey 仅私聊房间设置，用唯一索引串行化并发创建。
	PairKey   *string   `gorm:"uniqueIndex;size:48" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type RoomMember struct {
	ID       uint      `gorm:"primaryKey"`
	RoomID   uint      `gorm:"uniqueIndex:idx_room_member;not null"`
	UserID   uint      `gorm:"uniqueIndex:idx_room_member;index;not null"`
	JoinedAt time.Time `gorm:"autoCreateTime"`
}

type Message struct {
	ID     uint `gorm:"primaryKey"`
	RoomID uint `gorm:"index:idx_msg_room_id;not null"`
	UserID uint `gorm:"index;not null"`
	// Content 为 "ivHex:cipherHex" 格式的密文。
	Content   string `gorm:"type:text;not null"`
	CreatedAt time.Time
}

type MessageRead struct {
	ID        uint      `gorm:"primaryKey"`
	MessageID uint      `gorm:"uniqueIndex:idx_message_read;not null"`
	UserID    uint      `gorm:"uniqueIndex:idx_message_read;index;not null"`
	ReadAt    time.Time `gorm:"autoCreateTime"`
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}

// MessageView 是消息与作者信息的联表结果，Content 仍为密文。
type MessageView struct {
	ID          uint
	RoomID      uint
	UserID      uint
	Content     string
	CreatedAt   time.Time
	Username    string
	DisplayName string
	ReadCount   int64
}

// RoomSummary 是用户房间列表的一行，附带消息数量。
type RoomSummary struct {
	Room
	MessageCount int64 `json:"message_count"`
}

// PendingRequest 是待处理好友请求及发起方信息。
type PendingRequest struct {
	RequestID   uint      `json:"request_id"`
	UserID      uint      `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}
