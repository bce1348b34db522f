package service

import (
	"context"
	"strings"

	"github.com/JhonHurtado/chat-in-real-time/internal/event"
	"github.com/JhonHurtado/chat-in-real-time/internal/metrics"
	"github.com/JhonHurtado/chat-in-real-time/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	historyLimit = 100
	// UnavailableContent 替代无法解密的历史消息内容。
	UnavailableContent = "[message unavailable]"
)

// MessageService 是消息管线：校验、加密、持久化、回读并广播到房间组。
type MessageService struct {
	store  MessageStore
	rooms  *RoomService
	cipher Cipher
	out    Broadcaster
	// 同一房间的落库与广播串行执行，广播顺序与提交顺序一致。
	locks *keyLock[uint]
}

func NewMessageService(store MessageStore, rooms *RoomService, cipher Cipher, out Broadcaster) *MessageService {
	return &MessageService{
		store:  store,
		rooms:  rooms,
		cipher: cipher,
		out:    out,
		locks:  newKeyLock[uint](),
	}
}

// Send 发送一条消息。发送者必须已是房间成员，不会自动加入。
// 任一步失败都不会广播，错误由调用方只回给发送者。
func (s *MessageService) Send(ctx context.Context, roomID, userID uint, content string) (*event.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrInvalidContent
	}
	ok, err := s.rooms.IsMember(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAMember
	}

	encrypted, err := s.cipher.Encrypt(content)
	if err != nil {
		return nil, Crypto("encrypt message", err)
	}

	unlock := s.locks.Lock(roomID)
	defer unlock()

	id, err := s.store.CreateMessage(ctx, roomID, userID, encrypted)
	if err != nil {
		return nil, Persistence("create message", err)
	}
	view, err := s.store.GetMessageWithAuthor(ctx, id)
	if err != nil {
		return nil, Persistence("reload message", err)
	}
	if view == nil {
		return nil, ErrMessageNotFound
	}

	msg := toMessage(view, content)
	msg.IsRead = false
	msg.ReadCount = 0
	s.out.BroadcastRoom(roomID, event.NewMessage{Message: msg}, "")
	metrics.WsMessagesTotal.Inc()
	return &msg, nil
}

func toMessage(v *models.MessageView, plaintext string) event.Message {
	return event.Message{
		ID:          v.ID,
		RoomID:      v.RoomID,
		Content:     plaintext,
		UserID:      v.UserID,
		Username:    v.Username,
		DisplayName: v.DisplayName,
		CreatedAt:   v.CreatedAt,
		IsRead:      v.ReadCount > 0,
		ReadCount:   v.ReadCount,
		User: event.Author{
			ID:          v.UserID,
			Username:    v.Username,
			DisplayName: v.DisplayName,
		},
	}
}

// MarkRead 为房间内的消息写入已读回执，重复回执不产生新记录。
// 随后向房间内除回执连接外的其他连接推送 messages_read，只包含属于该房间的消息。
func (s *MessageService) MarkRead(ctx context.Context, connID string, roomID, userID uint, messageIDs []uint) error {
	if len(messageIDs) == 0 {
		return nil
	}
	ok, err := s.rooms.IsMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAMember
	}
	ids, err := s.store.MarkMessagesRead(ctx, roomID, userID, messageIDs)
	if err != nil {
		return Persistence("mark messages read", err)
	}
	if len(ids) == 0 {
		return nil
	}
	s.out.BroadcastRoom(roomID, event.MessagesRead{
		UserID:     userID,
		MessageIDs: ids,
		RoomID:     roomID,
	}, connID)
	return nil
}

// History 返回房间最近的 historyLimit 条消息，按时间升序。beforeID > 0 时向前翻页。
// 单条消息解密失败时以 UnavailableContent 代替，不影响其余消息。
func (s *MessageService) History(ctx context.Context, roomID, userID, beforeID uint) ([]event.Message, error) {
	if err := s.rooms.CanRead(ctx, roomID, userID); err != nil {
		return nil, err
	}
	views, err := s.store.GetRoomMessages(ctx, roomID, historyLimit, beforeID)
	if err != nil {
		return nil, Persistence("list messages", err)
	}
	out := make([]event.Message, len(views))
	for i := range views {
		v := &views[i]
		plain, err := s.cipher.Decrypt(v.Content)
		if err != nil {
			log.Warn().Err(err).Uint("message_id", v.ID).Uint("room_id", roomID).Msg("decrypt message")
			plain = UnavailableContent
		}
		// 查询结果为倒序，反转为升序
		out[len(views)-1-i] = toMessage(v, plain)
	}
	return out, nil
}

// Delete 删除 userID 本人发送的消息，并向房间推送 message_deleted。
func (s *MessageService) Delete(ctx context.Context, messageID, userID uint) error {
	msg, err := s.store.FindMessageByID(ctx, messageID)
	if err != nil {
		return Persistence("find message", err)
	}
	if msg == nil {
		return ErrMessageNotFound
	}
	if msg.UserID != userID {
		return ErrNotAuthor
	}

	unlock := s.locks.Lock(msg.RoomID)
	defer unlock()

	deleted, err := s.store.DeleteMessage(ctx, messageID, userID)
	if err != nil {
		return Persistence("delete message", err)
	}
	if !deleted {
		return ErrMessageNotFound
	}
	s.out.BroadcastRoom(msg.RoomID, event.MessageDeleted{ID: messageID, RoomID: msg.RoomID}, "")
	return nil
}
