package server

import (
	"time"

	"github.com/JhonHurtado/chat-in-real-time/internal/config"
	"github.com/JhonHurtado/chat-in-real-time/internal/mw"
	"github.com/JhonHurtado/chat-in-real-time/internal/presence"
	"github.com/JhonHurtado/chat-in-real-time/internal/service"
	"github.com/JhonHurtado/chat-in-real-time/internal/ws"

	"golang.org/x/time/rate"
)

// App 持有进程内共享的组件：连接 Hub、在线注册表与各业务 service。
type App struct {
	cfg      config.Config
	store    service.Store
	policy   mw.OriginPolicy
	limiter  *mw.Limiter
	Hub      *ws.Hub
	Presence *presence.Service
	Users    *service.UserService
	Friends  *service.FriendService
	Rooms    *service.RoomService
	Messages *service.MessageService
	Chats    *service.ChatService
	WS       *ws.Handler
}

// NewApp 组装全部组件。store 通常是 *store.Store，cipher 通常是 *crypt.Cipher。
func NewApp(cfg config.Config, st service.Store, cipher service.Cipher) *App {
	hub := ws.NewHub()
	reg := presence.NewRegistry()
	pres := presence.NewService(reg, st, hub)
	rooms := service.NewRoomService(st, hub)
	messages := service.NewMessageService(st, rooms, cipher, hub)
	chats := service.NewChatService(st, reg, hub)
	policy := mw.NewOriginPolicy(cfg.Env, cfg.CORSOrigin)

	a := &App{
		cfg:      cfg,
		store:    st,
		policy:   policy,
		limiter:  mw.NewLimiter(rate.Every(time.Second/20), 40, 2*time.Minute),
		Hub:      hub,
		Presence: pres,
		Users:    service.NewUserService(st, cfg),
		Friends:  service.NewFriendService(st, reg, hub),
		Rooms:    rooms,
		Messages: messages,
		Chats:    chats,
	}
	a.WS = ws.NewHandler(hub, ws.Deps{
		Users:    st,
		Presence: pres,
		Rooms:    rooms,
		Messages: messages,
		Chats:    chats,
	}, ws.Options{
		JWTSecret:       cfg.JWTSecret,
		EventTimeout:    cfg.WSEventTimeout,
		EventsPerSecond: cfg.WSEventsPerSecond,
		CheckOrigin:     policy.CheckOrigin,
	})
	return a
}

// Close 释放后台资源并断开全部 WebSocket 连接，用于优雅停服。
func (a *App) Close() {
	a.limiter.Stop()
	a.Hub.CloseAll()
}
