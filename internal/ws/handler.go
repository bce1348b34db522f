package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/JhonHurtado/chat-in-real-time/internal/auth"
	"github.com/JhonHurtado/chat-in-real-time/internal/event"
	"github.com/JhonHurtado/chat-in-real-time/internal/metrics"
	"github.com/JhonHurtado/chat-in-real-time/internal/models"
	"github.com/JhonHurtado/chat-in-real-time/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Presence 是连接上下线的注册与通知，由 presence.Service 实现。
type Presence interface {
	Connect(ctx context.Context, userID uint, connID string) error
	Disconnect(ctx context.Context, connID string)
	Lookup(userID uint) (string, bool)
}

type Rooms interface {
	Join(ctx context.Context, roomID, userID uint) (*models.Room, error)
}

type Messages interface {
	Send(ctx context.Context, roomID, userID uint, content string) (*event.Message, error)
	MarkRead(ctx context.Context, connID string, roomID, userID uint, messageIDs []uint) error
}

type Chats interface {
	StartPrivateChat(ctx context.Context, connID string, userID, friendID uint) (*models.Room, error)
	CreateGroup(ctx context.Context, connID, name string, createdBy uint, members []uint) (*models.Room, error)
}

// Deps 是事件分发依赖的业务组件。
type Deps struct {
	Users    auth.UserFinder
	Presence Presence
	Rooms    Rooms
	Messages Messages
	Chats    Chats
}

type Options struct {
	JWTSecret       string
	EventTimeout    time.Duration
	EventsPerSecond int
	CheckOrigin     func(r *http.Request) bool
}

// Handler 负责 WebSocket 握手、鉴权与事件分发。
type Handler struct {
	hub             *Hub
	deps            Deps
	secret          string
	timeout         time.Duration
	eventsPerSecond int
	upgrader        websocket.Upgrader
}

func NewHandler(hub *Hub, deps Deps, opts Options) *Handler {
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = 10 * time.Second
	}
	if opts.EventsPerSecond <= 0 {
		opts.EventsPerSecond = 20
	}
	return &Handler{
		hub:             hub,
		deps:            deps,
		secret:          opts.JWTSecret,
		timeout:         opts.EventTimeout,
		eventsPerSecond: opts.EventsPerSecond,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
	}
}

// Serve 通过 Authorization 头或 token 查询参数鉴权后升级连接，并阻塞直到连接断开。
func (h *Handler) Serve(c *gin.Context) {
	user, err := auth.Authenticate(c.Request.Context(), auth.TokenFromRequest(c.Request), h.secret, h.deps.Users)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Uint("user_id", user.ID).Msg("websocket upgrade")
		return
	}

	cl := newClient(conn, user.ID, user.Username, h.eventsPerSecond)
	h.hub.add(cl)
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	if err := h.deps.Presence.Connect(ctx, cl.userID, cl.id); err != nil {
		log.Error().Err(err).Uint("user_id", cl.userID).Str("conn_id", cl.id).Msg("register connection")
	}
	cancel()
	log.Info().Uint("user_id", cl.userID).Str("conn_id", cl.id).Msg("websocket connected")

	go cl.writePump()
	cl.readPump(h)
	h.disconnect(cl)
}

// disconnect 注销连接并通知好友下线。
func (h *Handler) disconnect(c *Client) {
	c.close()
	h.hub.remove(c)
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	h.deps.Presence.Disconnect(ctx, c.id)
	log.Info().Uint("user_id", c.userID).Str("conn_id", c.id).Msg("websocket disconnected")
}

// HandleFrame 解码并分发一帧数据，失败时只向该连接回 error 事件。
func (h *Handler) HandleFrame(ctx context.Context, c *Client, frame []byte) {
	if !c.limiter.Allow() {
		metrics.WsEventsTotal.WithLabelValues("limited", "error").Inc()
		c.Send(event.Error{Message: "too many events"})
		return
	}
	ev, err := event.Decode(frame)
	if err != nil {
		metrics.WsEventsTotal.WithLabelValues("invalid", "error").Inc()
		c.Send(event.Error{Message: decodeMessage(err)})
		return
	}
	if err := h.Dispatch(ctx, c, ev); err != nil {
		h.fail(c, ev.Name(), err)
		return
	}
	metrics.WsEventsTotal.WithLabelValues(ev.Name(), "ok").Inc()
}

func decodeMessage(err error) string {
	switch {
	case errors.Is(err, event.ErrUnknownEvent):
		return "unknown event"
	case errors.Is(err, event.ErrInvalidData):
		return service.ErrInvalidPayload.Message
	}
	return "malformed frame"
}

func (h *Handler) fail(c *Client, name string, err error) {
	metrics.WsEventsTotal.WithLabelValues(name, "error").Inc()
	var lvl *zerolog.Event
	switch service.KindOf(err) {
	case service.KindPersistence, service.KindCrypto, 0:
		lvl = log.Error()
	default:
		lvl = log.Debug()
	}
	lvl.Err(err).Str("event", name).Str("conn_id", c.id).Uint("user_id", c.userID).Msg("handle event")
	c.Send(event.Error{Message: service.PublicMessage(err)})
}

// self 校验负载中的用户与连接鉴权用户一致。
func (c *Client) self(userID uint) error {
	if userID != c.userID {
		return service.ErrUserMismatch
	}
	return nil
}

// Dispatch 执行一个已解码的客户端事件。
func (h *Handler) Dispatch(ctx context.Context, c *Client, ev event.Client) error {
	switch e := ev.(type) {
	case *event.UserConnected:
		if e.UserID != 0 {
			if err := c.self(e.UserID); err != nil {
				return err
			}
		}
		if cur, ok := h.deps.Presence.Lookup(c.userID); ok && cur == c.id {
			return nil
		}
		return h.deps.Presence.Connect(ctx, c.userID, c.id)

	case *event.JoinRoom:
		if err := c.self(e.UserID); err != nil {
			return err
		}
		room, err := h.deps.Rooms.Join(ctx, e.RoomID, e.UserID)
		if err != nil {
			return err
		}
		h.hub.Join(room.ID, c)
		c.Send(event.RoomJoined{RoomID: room.ID})
		return nil

	case *event.LeaveRoom:
		h.hub.Leave(e.RoomID, c)
		return nil

	case *event.SendMessage:
		if err := c.self(e.UserID); err != nil {
			return err
		}
		_, err := h.deps.Messages.Send(ctx, e.RoomID, e.UserID, e.Content)
		return err

	case *event.Typing:
		if err := c.self(e.UserID); err != nil {
			return err
		}
		if h.hub.InRoom(e.RoomID, c) {
			h.hub.BroadcastRoom(e.RoomID, event.UserTyping{UserID: c.userID, Username: c.username}, c.id)
		}
		return nil

	case *event.StopTyping:
		if err := c.self(e.UserID); err != nil {
			return err
		}
		if h.hub.InRoom(e.RoomID, c) {
			h.hub.BroadcastRoom(e.RoomID, event.UserStopTyping{UserID: c.userID, Username: c.username}, c.id)
		}
		return nil

	case *event.MarkMessagesRead:
		if err := c.self(e.UserID); err != nil {
			return err
		}
		return h.deps.Messages.MarkRead(ctx, c.id, e.RoomID, e.UserID, e.MessageIDs)

	case *event.StartPrivateChat:
		if err := c.self(e.UserID); err != nil {
			return err
		}
		_, err := h.deps.Chats.StartPrivateChat(ctx, c.id, e.UserID, e.FriendID)
		return err

	case *event.CreateGroup:
		if err := c.self(e.CreatedBy); err != nil {
			return err
		}
		_, err := h.deps.Chats.CreateGroup(ctx, c.id, e.GroupName, e.CreatedBy, e.Members)
		return err
	}
	return service.ErrInvalidPayload
}
