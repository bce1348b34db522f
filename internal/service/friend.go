package service

import (
	"context"
	"errors"
	"time"

	"github.com/JhonHurtado/chat-in-real-time/internal/event"
	"github.com/JhonHurtado/chat-in-real-time/internal/models"

	"gorm.io/gorm"
)

// FriendService 处理好友请求的发起、响应与好友列表。
type FriendService struct {
	store FriendStore
	loc   Locator
	out   Broadcaster
}

func NewFriendService(store FriendStore, loc Locator, out Broadcaster) *FriendService {
	return &FriendService{store: store, loc: loc, out: out}
}

func authorOf(u *models.User) event.Author {
	return event.Author{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName}
}

func (s *FriendService) findUser(ctx context.Context, id uint) (*models.User, error) {
	u, err := s.store.FindUserByID(ctx, id)
	if err != nil {
		return nil, Persistence("find user", err)
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// Request 由 from 向 to 发起好友请求。同一对用户之间已有好友关系或待处理请求时返回冲突错误，
// 之前被拒绝的请求会被新请求替换。接收方在线时推送 friend_request。
func (s *FriendService) Request(ctx context.Context, from, to uint) (*models.Friendship, error) {
	if from == to {
		return nil, ErrSelfFriend
	}
	sender, err := s.findUser(ctx, from)
	if err != nil {
		return nil, err
	}
	if _, err := s.findUser(ctx, to); err != nil {
		return nil, err
	}

	existing, err := s.store.FindFriendshipBetween(ctx, from, to)
	if err != nil {
		return nil, Persistence("find friendship", err)
	}
	if existing != nil {
		switch existing.Status {
		case models.FriendshipAccepted:
			return nil, ErrAlreadyFriends
		case models.FriendshipPending:
			if existing.UserID == from {
				return nil, ErrRequestPending
			}
			return nil, ErrRequestIncoming
		}
	}

	f, err := s.store.CreateFriendRequest(ctx, from, to)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrRequestPending
		}
		return nil, Persistence("create friend request", err)
	}
	notifyUser(s.loc, s.out, to, event.FriendRequest{RequestID: f.ID, From: authorOf(sender)})
	return f, nil
}

// Respond 由请求接收方接受或拒绝请求，只有 pending 状态的请求可以响应。
// 接受后向发起方推送 friend_request_accepted。
func (s *FriendService) Respond(ctx context.Context, userID, requestID uint, accept bool) (models.FriendshipStatus, error) {
	f, err := s.store.FindFriendshipByID(ctx, requestID)
	if err != nil {
		return "", Persistence("find friend request", err)
	}
	if f == nil || f.FriendID != userID {
		return "", ErrRequestNotFound
	}
	if f.Status != models.FriendshipPending {
		return "", ErrRequestHandled
	}

	status := models.FriendshipRejected
	if accept {
		status = models.FriendshipAccepted
	}
	ok, err := s.store.UpdatePendingFriendship(ctx, f.ID, status)
	if err != nil {
		return "", Persistence("update friend request", err)
	}
	if !ok {
		return "", ErrRequestHandled
	}

	if accept {
		responder, err := s.findUser(ctx, userID)
		if err != nil {
			return status, err
		}
		notifyUser(s.loc, s.out, f.Other(userID), event.FriendRequestAccepted{RequestID: f.ID, By: authorOf(responder)})
	}
	return status, nil
}

// FriendDTO 是好友列表中的一项。
type FriendDTO struct {
	ID          uint      `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	LastSeen    time.Time `json:"last_seen"`
	Online      bool      `json:"online"`
}

// List 返回已接受的好友，在线状态取自连接注册表。
func (s *FriendService) List(ctx context.Context, userID uint) ([]FriendDTO, error) {
	friends, err := s.store.GetAcceptedFriends(ctx, userID)
	if err != nil {
		return nil, Persistence("list friends", err)
	}
	out := make([]FriendDTO, 0, len(friends))
	for _, f := range friends {
		_, online := s.loc.Lookup(f.ID)
		out = append(out, FriendDTO{
			ID:          f.ID,
			Username:    f.Username,
			DisplayName: f.DisplayName,
			LastSeen:    f.LastSeen,
			Online:      online,
		})
	}
	return out, nil
}

// Pending 返回发给 userID 的待处理请求。
func (s *FriendService) Pending(ctx context.Context, userID uint) ([]models.PendingRequest, error) {
	reqs, err := s.store.GetPendingRequests(ctx, userID)
	if err != nil {
		return nil, Persistence("list friend requests", err)
	}
	if reqs == nil {
		reqs = []models.PendingRequest{}
	}
	return reqs, nil
}

// AreFriends 判断两人是否为已接受的好友，同一用户返回 false。
func (s *FriendService) AreFriends(ctx context.Context, a, b uint) (bool, error) {
	ok, err := s.store.AreFriends(ctx, a, b)
	if err != nil {
		return false, Persistence("check friendship", err)
	}
	return ok, nil
}
