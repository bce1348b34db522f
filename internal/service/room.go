package service

import (
	"context"
	"time"

	"github.com/JhonHurtado/chat-in-real-time/internal/models"
)

// RoomService 是房间访问控制：加入、成员判定与房间列表。
// 成员关系在每次使用时重新查询，不做缓存。
type RoomService struct {
	store RoomStore
	out   Broadcaster
}

func NewRoomService(store RoomStore, out Broadcaster) *RoomService {
	return &RoomService{store: store, out: out}
}

// RoomDTO 是对外输出的房间数据。
type RoomDTO struct {
	ID           uint            `json:"id"`
	Name         string          `json:"name"`
	Type         models.RoomType `json:"type"`
	CreatedBy    *uint           `json:"created_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	MessageCount int64           `json:"message_count"`
	Online       int             `json:"online"`
}

func (s *RoomService) find(ctx context.Context, roomID uint) (*models.Room, error) {
	room, err := s.store.FindRoomByID(ctx, roomID)
	if err != nil {
		return nil, Persistence("find room", err)
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// Join 校验 userID 能否加入房间。general 房间会自动把用户加为成员，
// 其他房间要求已经是成员。
func (s *RoomService) Join(ctx context.Context, roomID, userID uint) (*models.Room, error) {
	room, err := s.find(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Type == models.RoomGeneral {
		if err := s.store.AddRoomMember(ctx, room.ID, userID); err != nil {
			return nil, Persistence("add room member", err)
		}
	}
	ok, err := s.IsMember(ctx, room.ID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAMember
	}
	return room, nil
}

// IsMember 是加入与发送消息的唯一成员判定。
func (s *RoomService) IsMember(ctx context.Context, roomID, userID uint) (bool, error) {
	ok, err := s.store.IsRoomMember(ctx, roomID, userID)
	if err != nil {
		return false, Persistence("check room member", err)
	}
	return ok, nil
}

// CanRead 判断用户能否读取房间历史：general 房间对所有人开放，其余要求成员身份。
func (s *RoomService) CanRead(ctx context.Context, roomID, userID uint) error {
	room, err := s.find(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Type == models.RoomGeneral {
		return nil
	}
	ok, err := s.IsMember(ctx, room.ID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAMember
	}
	return nil
}

// ListGeneral 返回全部 general 房间。
func (s *RoomService) ListGeneral(ctx context.Context) ([]RoomDTO, error) {
	rooms, err := s.store.ListRoomsByType(ctx, models.RoomGeneral)
	if err != nil {
		return nil, Persistence("list general rooms", err)
	}
	out := make([]RoomDTO, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, s.toDTO(r, 0))
	}
	return out, nil
}

// ListForUser 返回用户所在的房间，附带消息数和当前在线连接数。
func (s *RoomService) ListForUser(ctx context.Context, userID uint) ([]RoomDTO, error) {
	rooms, err := s.store.ListUserRooms(ctx, userID)
	if err != nil {
		return nil, Persistence("list user rooms", err)
	}
	out := make([]RoomDTO, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, s.toDTO(r.Room, r.MessageCount))
	}
	return out, nil
}

func (s *RoomService) toDTO(r models.Room, messages int64) RoomDTO {
	return RoomDTO{
		ID:           r.ID,
		Name:         r.Name,
		Type:         r.Type,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt,
		MessageCount: messages,
		Online:       s.out.Online(r.ID),
	}
}
