package presence

import (
	"context"
	"errors"

	"github.com/JhonHurtado/chat-in-real-time/internal/event"
	"github.com/JhonHurtado/chat-in-real-time/internal/metrics"
	"github.com/JhonHurtado/chat-in-real-time/internal/models"

	"github.com/rs/zerolog/log"
)

var ErrUnknownUser = errors.New("presence: unknown user")

// Store 是在线通知需要的持久化操作。
type Store interface {
	FindUserByID(ctx context.Context, id uint) (*models.User, error)
	GetAcceptedFriends(ctx context.Context, userID uint) ([]models.User, error)
	UpdateLastSeen(ctx context.Context, id uint) error
}

// Emitter 把事件投递给单个连接。
type Emitter interface {
	SendTo(connID string, ev event.Server) bool
}

// Service 是注册表的唯一写入方：连接建立与断开都经过这里。
type Service struct {
	reg   *Registry
	store Store
	out   Emitter
}

func NewService(reg *Registry, store Store, out Emitter) *Service {
	return &Service{reg: reg, store: store, out: out}
}

func (s *Service) Registry() *Registry { return s.reg }

// Lookup 返回用户当前的连接。
func (s *Service) Lookup(userID uint) (string, bool) { return s.reg.Lookup(userID) }

// Connect 登记用户的连接、刷新 last_seen，并通知在线好友 friend_online。
func (s *Service) Connect(ctx context.Context, userID uint, connID string) error {
	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUnknownUser
	}
	s.reg.Register(userID, connID)
	metrics.OnlineUsers.Set(float64(s.reg.Len()))
	if err := s.store.UpdateLastSeen(ctx, userID); err != nil {
		log.Warn().Err(err).Uint("user_id", userID).Msg("update last seen")
	}
	s.NotifyFriends(ctx, userID, event.FriendOnline{UserID: userID, Username: user.Username})
	return nil
}

// Disconnect 注销连接。只有该连接仍是用户的当前连接时才会通知 friend_offline，
// 因此每个用户下线只通知一次。
func (s *Service) Disconnect(ctx context.Context, connID string) {
	userID, ok := s.reg.UnregisterByConn(connID)
	if !ok {
		return
	}
	metrics.OnlineUsers.Set(float64(s.reg.Len()))
	if err := s.store.UpdateLastSeen(ctx, userID); err != nil {
		log.Warn().Err(err).Uint("user_id", userID).Msg("update last seen")
	}
	s.NotifyFriends(ctx, userID, event.FriendOffline{UserID: userID})
}

// NotifyFriends 只向在线的已接受好友定向推送事件。查询好友失败时记录日志后忽略。
func (s *Service) NotifyFriends(ctx context.Context, userID uint, ev event.Server) {
	friends, err := s.store.GetAcceptedFriends(ctx, userID)
	if err != nil {
		log.Error().Err(err).Uint("user_id", userID).Str("event", ev.Name()).Msg("load friends for notification")
		return
	}
	for _, f := range friends {
		connID, ok := s.reg.Lookup(f.ID)
		if !ok {
			continue
		}
		if s.out.SendTo(connID, ev) {
			metrics.PresenceNotificationsTotal.WithLabelValues(ev.Name()).Inc()
		}
	}
}
