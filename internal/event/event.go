// Package event 定义 WebSocket 双向事件协议。客户端事件与服务端事件各自是封闭的
// 类型集合：客户端帧经 Decode 解码并校验为具体类型，服务端事件经 Encode 编码为
// {"event": name, "data": payload} 帧。
package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var validate = validator.New()

// 客户端 -> 服务端事件名。
const (
	NameUserConnected    = "user_connected"
	NameJoinRoom         = "join_room"
	NameLeaveRoom        = "leave_room"
	NameSendMessage      = "send_message"
	NameTyping           = "typing"
	NameStopTyping       = "stop_typing"
	NameMarkMessagesRead = "mark_messages_read"
	NameStartPrivateChat = "start_private_chat"
	NameCreateGroup      = "create_group"
)

// 服务端 -> 客户端事件名。
const (
	NameRoomJoined              = "room_joined"
	NameNewMessage              = "new_message"
	NameUserTyping              = "user_typing"
	NameUserStopTyping          = "user_stop_typing"
	NameMessagesRead            = "messages_read"
	NamePrivateChatCreated      = "private_chat_created"
	NamePrivateChatNotification = "private_chat_notification"
	NameGroupCreated            = "group_created"
	NameAddedToGroup            = "added_to_group"
	NameFriendOnline            = "friend_online"
	NameFriendOffline           = "friend_offline"
	NameFriendRequest           = "friend_request"
	NameFriendRequestAccepted   = "friend_request_accepted"
	NameMessageDeleted          = "message_deleted"
	NameError                   = "error"
)

var (
	ErrMalformed    = errors.New("malformed frame")
	ErrUnknownEvent = errors.New("unknown event")
	ErrInvalidData  = errors.New("invalid parameters")
)

// ---------------- client events ----------------

// Client 是客户端发来的事件。clientEvent 未导出，集合在本包内封闭。
type Client interface {
	Name() string
	clientEvent()
}

// UserConnected 的 UserID 为 0 时表示使用连接鉴权得到的用户。
// data 既可以是 {"userId": N}，也可以是裸的用户 ID。
type UserConnected struct {
	UserID uint `json:"userId"`
}

func (e *UserConnected) UnmarshalJSON(b []byte) error {
	var id uint
	if err := json.Unmarshal(b, &id); err == nil {
		e.UserID = id
		return nil
	}
	type plain UserConnected
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = UserConnected(p)
	return nil
}

type JoinRoom struct {
	RoomID uint `json:"roomId" validate:"required"`
	UserID uint `json:"userId" validate:"required"`
}

type LeaveRoom struct {
	RoomID uint `json:"roomId" validate:"required"`
}

type SendMessage struct {
	RoomID  uint   `json:"roomId" validate:"required"`
	UserID  uint   `json:"userId" validate:"required"`
	Content string `json:"content"`
}

type Typing struct {
	RoomID   uint   `json:"roomId" validate:"required"`
	UserID   uint   `json:"userId" validate:"required"`
	Username string `json:"username"`
}

type StopTyping struct {
	RoomID   uint   `json:"roomId" validate:"required"`
	UserID   uint   `json:"userId" validate:"required"`
	Username string `json:"username"`
}

type MarkMessagesRead struct {
	RoomID     uint   `json:"roomId" validate:"required"`
	UserID     uint   `json:"userId" validate:"required"`
	MessageIDs []uint `json:"messageIds" validate:"dive,required"`
}

type StartPrivateChat struct {
	UserID   uint `json:"userId" validate:"required"`
	FriendID uint `json:"friendId" validate:"required"`
}

type CreateGroup struct {
	GroupName string `json:"name"`
	CreatedBy uint   `json:"createdBy" validate:"required"`
	Members   []uint `json:"members"`
}

func (UserConnected) Name() string    { return NameUserConnected }
func (JoinRoom) Name() string         { return NameJoinRoom }
func (LeaveRoom) Name() string        { return NameLeaveRoom }
func (SendMessage) Name() string      { return NameSendMessage }
func (Typing) Name() string           { return NameTyping }
func (StopTyping) Name() string       { return NameStopTyping }
func (MarkMessagesRead) Name() string { return NameMarkMessagesRead }
func (StartPrivateChat) Name() string { return NameStartPrivateChat }
func (CreateGroup) Name() string      { return NameCreateGroup }

func (UserConnected) clientEvent()    {}
func (JoinRoom) clientEvent()         {}
func (LeaveRoom) clientEvent()        {}
func (SendMessage) clientEvent()      {}
func (Typing) clientEvent()           {}
func (StopTyping) clientEvent()       {}
func (MarkMessagesRead) clientEvent() {}
func (StartPrivateChat) clientEvent() {}
func (CreateGroup) clientEvent()      {}

type envelope struct {
	Event string              `json:"event"`
	Data  jsoniter.RawMessage `json:"data"`
}

func newClient(name string) (Client, bool) {
	switch name {
	case NameUserConnected:
		return &UserConnected{}, true
	case NameJoinRoom:
		return &JoinRoom{}, true
	case NameLeaveRoom:
		return &LeaveRoom{}, true
	case NameSendMessage:
		return &SendMessage{}, true
	case NameTyping:
		return &Typing{}, true
	case NameStopTyping:
		return &StopTyping{}, true
	case NameMarkMessagesRead:
		return &MarkMessagesRead{}, true
	case NameStartPrivateChat:
		return &StartPrivateChat{}, true
	case NameCreateGroup:
		return &CreateGroup{}, true
	}
	return nil, false
}

// Decode 解析一帧客户端数据。返回值是指向具体事件结构体的指针。
// 错误包装 ErrMalformed、ErrUnknownEvent 或 ErrInvalidData 之一。
func Decode(frame []byte) (Client, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		return nil, ErrMalformed
	}
	ev, ok := newClient(env.Event)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidData, env.Event)
		}
	}
	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidData, env.Event)
	}
	return ev, nil
}

// ---------------- server events ----------------

// Server 是服务端推送的事件。
type Server interface {
	Name() string
	serverEvent()
}

type RoomJoined struct {
	RoomID uint `json:"roomId"`
}

type Author struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// Message 是推送与历史接口共用的消息结构，Content 为明文。
type Message struct {
	ID          uint      `json:"id"`
	RoomID      uint      `json:"roomId"`
	Content     string    `json:"content"`
	UserID      uint      `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	IsRead      bool      `json:"isRead"`
	ReadCount   int64     `json:"read_count"`
	User        Author    `json:"user"`
}

type NewMessage struct {
	Message
}

type UserTyping struct {
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
}

type UserStopTyping struct {
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
}

type MessagesRead struct {
	UserID     uint   `json:"userId"`
	MessageIDs []uint `json:"messageIds"`
	RoomID     uint   `json:"roomId"`
}

type PrivateChatCreated struct {
	RoomID   uint `json:"roomId"`
	FriendID uint `json:"friendId"`
}

type PrivateChatNotification struct {
	RoomID uint `json:"roomId"`
	UserID uint `json:"userId"`
}

type GroupCreated struct {
	ID        uint   `json:"id"`
	GroupName string `json:"name"`
	Type      string `json:"type"`
}

type AddedToGroup struct {
	RoomID    uint   `json:"roomId"`
	RoomName  string `json:"roomName"`
	CreatedBy uint   `json:"createdBy"`
}

type FriendOnline struct {
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
}

type FriendOffline struct {
	UserID uint `json:"userId"`
}

type FriendRequest struct {
	RequestID uint   `json:"requestId"`
	From      Author `json:"from"`
}

type FriendRequestAccepted struct {
	RequestID uint   `json:"requestId"`
	By        Author `json:"by"`
}

type MessageDeleted struct {
	ID     uint `json:"id"`
	RoomID uint `json:"roomId"`
}

type Error struct {
	Message string `json:"message"`
}

func (RoomJoined) Name() string              { return NameRoomJoined }
func (NewMessage) Name() string              { return NameNewMessage }
func (UserTyping) Name() string              { return NameUserTyping }
func (UserStopTyping) Name() string          { return NameUserStopTyping }
func (MessagesRead) Name() string            { return NameMessagesRead }
func (PrivateChatCreated) Name() string      { return NamePrivateChatCreated }
func (PrivateChatNotification) Name() string { return NamePrivateChatNotification }
func (GroupCreated) Name() string            { return NameGroupCreated }
func (AddedToGroup) Name() string            { return NameAddedToGroup }
func (FriendOnline) Name() string            { return NameFriendOnline }
func (FriendOffline) Name() string           { return NameFriendOffline }
func (FriendRequest) Name() string           { return NameFriendRequest }
func (FriendRequestAccepted) Name() string   { return NameFriendRequestAccepted }
func (MessageDeleted) Name() string          { return NameMessageDeleted }
func (Error) Name() string                   { return NameError }

func (RoomJoined) serverEvent()              {}
func (NewMessage) serverEvent()              {}
func (UserTyping) serverEvent()              {}
func (UserStopTyping) serverEvent()          {}
func (MessagesRead) serverEvent()            {}
func (PrivateChatCreated) serverEvent()      {}
func (PrivateChatNotification) serverEvent() {}
func (GroupCreated) serverEvent()            {}
func (AddedToGroup) serverEvent()            {}
func (FriendOnline) serverEvent()            {}
func (FriendOffline) serverEvent()           {}
func (FriendRequest) serverEvent()           {}
func (FriendRequestAccepted) serverEvent()   {}
func (MessageDeleted) serverEvent()          {}
func (Error) serverEvent()                   {}

// Encode 把服务端事件编码为一帧。
func Encode(ev Server) ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
		Data  Server `json:"data"`
	}{Event: ev.Name(), Data: ev})
}

// DecodeServer 解析服务端帧的事件名与原始负载，供客户端与测试使用。
func DecodeServer(frame []byte) (string, []byte, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", nil, err
	}
	return env.Event, env.Data, nil
}
