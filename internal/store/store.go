// Package store 是基于 gorm/Postgres 的持久化网关，向 service 层提供用户、好友、
// 房间、消息与已读回执的查询与写入。查询不到记录时 Find* 方法返回 (nil, nil)。
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/JhonHurtado/chat-in-real-time/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func notFoundNil[T any](v *T, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

// ---------------- users ----------------

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	return s.conn(ctx).Create(u).Error
}

func (s *Store) FindUserByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	err := s.conn(ctx).First(&u, id).Error
	return notFoundNil(&u, err)
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.conn(ctx).Where("username = ?", username).First(&u).Error
	return notFoundNil(&u, err)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// containsPattern 把用户输入转义为 ILIKE 子串模式，% 与 _ 按字面匹配。
func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}

func (s *Store) SearchUsers(ctx context.Context, term string, limit int) ([]models.User, error) {
	like := containsPattern(term)
	var users []models.User
	err := s.conn(ctx).
		Where(`username ILIKE ? ESCAPE '\' OR display_name ILIKE ? ESCAPE '\'`, like, like).
		Order("username asc").
		Limit(limit).
		Find(&users).Error
	return users, err
}

func (s *Store) UpdateLastSeen(ctx context.Context, id uint) error {
	return s.conn(ctx).Model(&models.User{}).Where("id = ?", id).Update("last_seen", time.Now()).Error
}

// ---------------- refresh tokens ----------------

func (s *Store) SaveRefreshToken(ctx context.Context, userID uint, token string, expiresAt time.Time) error {
	rt := models.RefreshToken{UserID: userID, Token: token, ExpiresAt: expiresAt}
	return s.conn(ctx).Create(&rt).Error
}

// RotateRefreshToken 在同一事务内校验并吊销旧 token、写入新 token，返回所属用户。
// 旧 token 无效时返回 (0, nil)。
func (s *Store) RotateRefreshToken(ctx context.Context, oldToken, newToken string, expiresAt time.Time) (uint, error) {
	var userID uint
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.RefreshToken
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token = ? AND revoked_at IS NULL AND expires_at > ?", oldToken, time.Now()).
			First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		now := time.Now()
		if err := tx.Model(&rec).Update("revoked_at", &now).Error; err != nil {
			return err
		}
		next := models.RefreshToken{UserID: rec.UserID, Token: newToken, ExpiresAt: expiresAt}
		if err := tx.Create(&next).Error; err != nil {
			return err
		}
		userID = rec.UserID
		return nil
	})
	return userID, err
}

// ---------------- friendships ----------------

func (s *Store) FindFriendshipBetween(ctx context.Context, a, b uint) (*models.Friendship, error) {
	var f models.Friendship
	err := s.conn(ctx).Where("pair_key = ?", models.PairKey(a, b)).First(&f).Error
	return notFoundNil(&f, err)
}

func (s *Store) FindFriendshipByID(ctx context.Context, id uint) (*models.Friendship, error) {
	var f models.Friendship
	err := s.conn(ctx).First(&f, id).Error
	return notFoundNil(&f, err)
}

// CreateFriendRequest 删除该用户对之间已拒绝的记录后创建 pending 请求，二者在同一事务内完成。
func (s *Store) CreateFriendRequest(ctx context.Context, from, to uint) (*models.Friendship, error) {
	f := models.Friendship{
		UserID:   from,
		FriendID: to,
		PairKey:  models.PairKey(from, to),
		Status:   models.FriendshipPending,
	}
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("pair_key = ? AND status = ?", f.PairKey, models.FriendshipRejected).
			Delete(&models.Friendship{}).Error; err != nil {
			return err
		}
		return tx.Create(&f).Error
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// UpdatePendingFriendship 仅当记录仍为 pending 时更新状态，返回是否有行被修改。
func (s *Store) UpdatePendingFriendship(ctx context.Context, id uint, status models.FriendshipStatus) (bool, error) {
	res := s.conn(ctx).Model(&models.Friendship{}).
		Where("id = ? AND status = ?", id, models.FriendshipPending).
		Update("status", status)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) GetAcceptedFriends(ctx context.Context, userID uint) ([]models.User, error) {
	var users []models.User
	err := s.conn(ctx).
		Table("users u").
		Select("u.*").
		Joins("JOIN friendships f ON (f.user_id = ? AND f.friend_id = u.id) OR (f.friend_id = ? AND f.user_id = u.id)", userID, userID).
		Where("f.status = ?", models.FriendshipAccepted).
		Order("u.display_name asc").
		Scan(&users).Error
	return users, err
}

func (s *Store) GetPendingRequests(ctx context.Context, userID uint) ([]models.PendingRequest, error) {
	var out []models.PendingRequest
	err := s.conn(ctx).
		Table("friendships f").
		Select("f.id AS request_id, u.id AS user_id, u.username, u.display_name, f.created_at").
		Joins("JOIN users u ON u.id = f.user_id").
		Where("f.friend_id = ? AND f.status = ?", userID, models.FriendshipPending).
		Order("f.created_at desc").
		Scan(&out).Error
	return out, err
}

func (s *Store) AreFriends(ctx context.Context, a, b uint) (bool, error) {
	if a == b {
		return false, nil
	}
	var count int64
	err := s.conn(ctx).Model(&models.Friendship{}).
		Where("pair_key = ? AND status = ?", models.PairKey(a, b), models.FriendshipAccepted).
		Count(&count).Error
	return count > 0, err
}

// ---------------- rooms ----------------

func (s *Store) FindRoomByID(ctx context.Context, id uint) (*models.Room, error) {
	var r models.Room
	err := s.conn(ctx).First(&r, id).Error
	return notFoundNil(&r, err)
}

func (s *Store) ListRoomsByType(ctx context.Context, t models.RoomType) ([]models.Room, error) {
	var rooms []models.Room
	err := s.conn(ctx).Where("type = ?", t).Order("id asc").Find(&rooms).Error
	return rooms, err
}

func (s *Store) ListUserRooms(ctx context.Context, userID uint) ([]models.RoomSummary, error) {
	var out []models.RoomSummary
	err := s.conn(ctx).
		Table("rooms r").
		Select("r.*, COUNT(DISTINCT m.id) AS message_count").
		Joins("JOIN room_members rm ON rm.room_id = r.id").
		Joins("LEFT JOIN messages m ON m.room_id = r.id").
		Where("rm.user_id = ?", userID).
		Group("r.id").
		Order("r.created_at desc").
		Scan(&out).Error
	return out, err
}

// CreateRoom 在同一事务内创建房间并写入全部成员，中途失败不会留下半成品房间。
func (s *Store) CreateRoom(ctx context.Context, room *models.Room, memberIDs []uint) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			return err
		}
		return addMembers(tx, room.ID, memberIDs)
	})
}

func addMembers(tx *gorm.DB, roomID uint, userIDs []uint) error {
	if len(userIDs) == 0 {
		return nil
	}
	members := make([]models.RoomMember, 0, len(userIDs))
	for _, id := range userIDs {
		members = append(members, models.RoomMember{RoomID: roomID, UserID: id})
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&members).Error
}

func (s *Store) IsRoomMember(ctx context.Context, roomID, userID uint) (bool, error) {
	var count int64
	err := s.conn(ctx).Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	return count > 0, err
}

// AddRoomMember 幂等地加入房间，已是成员时不做任何事。
func (s *Store) AddRoomMember(ctx context.Context, roomID, userID uint) error {
	return addMembers(s.conn(ctx), roomID, []uint{userID})
}

// FindPrivateRoomBetween 通过成员交集查找两人之间的私聊房间。
func (s *Store) FindPrivateRoomBetween(ctx context.Context, a, b uint) (*models.Room, error) {
	var r models.Room
	err := s.conn(ctx).
		Table("rooms").
		Select("rooms.*").
		Joins("JOIN room_members ma ON ma.room_id = rooms.id AND ma.user_id = ?", a).
		Joins("JOIN room_members mb ON mb.room_id = rooms.id AND mb.user_id = ?", b).
		Where("rooms.type = ?", models.RoomPrivate).
		Order("rooms.id asc").
		Take(&r).Error
	return notFoundNil(&r, err)
}

// FindOrCreatePrivateRoom 以规范化的用户对为键查找或创建私聊房间。并发创建时
// pair_key 唯一索引只允许一方插入成功，失败方回读胜出方的房间。
// 第二个返回值表示本次是否新建。
func (s *Store) FindOrCreatePrivateRoom(ctx context.Context, a, b uint, name string) (*models.Room, bool, error) {
	key := models.PairKey(a, b)
	var (
		out     models.Room
		created bool
	)
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		room := models.Room{Name: name, Type: models.RoomPrivate, CreatedBy: &a, PairKey: &key}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pair_key"}},
			DoNothing: true,
		}).Create(&room)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.Where("pair_key = ?", key).First(&out).Error; err != nil {
				return err
			}
			// 胜出方已在其事务中写入成员，这里补写只是兜底。
			return addMembers(tx, out.ID, []uint{a, b})
		}
		out = room
		created = true
		return addMembers(tx, room.ID, []uint{a, b})
	})
	if err != nil {
		return nil, false, err
	}
	return &out, created, nil
}

// ---------------- messages ----------------

func (s *Store) CreateMessage(ctx context.Context, roomID, userID uint, encrypted string) (uint, error) {
	msg := models.Message{RoomID: roomID, UserID: userID, Content: encrypted}
	if err := s.conn(ctx).Create(&msg).Error; err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (s *Store) messageViews(ctx context.Context) *gorm.DB {
	return s.conn(ctx).
		Table("messages m").
		Select(`m.id, m.room_id, m.user_id, m.content, m.created_at, u.username, u.display_name,
			(SELECT COUNT(*) FROM message_reads mr WHERE mr.message_id = m.id) AS read_count`).
		Joins("JOIN users u ON u.id = m.user_id")
}

func (s *Store) GetMessageWithAuthor(ctx context.Context, id uint) (*models.MessageView, error) {
	var v models.MessageView
	err := s.messageViews(ctx).Where("m.id = ?", id).Take(&v).Error
	return notFoundNil(&v, err)
}

// GetRoomMessages 按创建时间倒序返回最多 limit 条消息；beforeID > 0 时只取更早的消息。
func (s *Store) GetRoomMessages(ctx context.Context, roomID uint, limit int, beforeID uint) ([]models.MessageView, error) {
	q := s.messageViews(ctx).Where("m.room_id = ?", roomID)
	if beforeID > 0 {
		q = q.Where("m.id < ?", beforeID)
	}
	var out []models.MessageView
	err := q.Order("m.created_at desc, m.id desc").Limit(limit).Scan(&out).Error
	return out, err
}

// MarkMessagesRead 为属于该房间的消息写入已读回执，重复回执被忽略。
// 返回 messageIDs 中确实属于该房间的消息 ID（升序去重），其余 ID 被丢弃。
func (s *Store) MarkMessagesRead(ctx context.Context, roomID, userID uint, messageIDs []uint) ([]uint, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var ids []uint
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Message{}).
			Where("room_id = ? AND id IN ?", roomID, messageIDs).
			Order("id asc").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		reads := make([]models.MessageRead, 0, len(ids))
		for _, id := range ids {
			reads = append(reads, models.MessageRead{MessageID: id, UserID: userID})
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).Create(&reads).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) FindMessageByID(ctx context.Context, id uint) (*models.Message, error) {
	var m models.Message
	err := s.conn(ctx).First(&m, id).Error
	return notFoundNil(&m, err)
}

// DeleteMessage 仅删除 userID 本人发送的消息，连同其已读回执。返回是否删除。
func (s *Store) DeleteMessage(ctx context.Context, messageID, userID uint) (bool, error) {
	var deleted bool
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", messageID, userID).Delete(&models.Message{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		deleted = true
		return tx.Where("message_id = ?", messageID).Delete(&models.MessageRead{}).Error
	})
	return deleted, err
}
