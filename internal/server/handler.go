package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/JhonHurtado/chat-in-real-time/internal/auth"
	"github.com/JhonHurtado/chat-in-real-time/internal/models"
	"github.com/JhonHurtado/chat-in-real-time/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// writeError 把业务错误映射为 HTTP 状态码。存储与加密错误记录日志并返回通用消息。
func writeError(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	switch service.KindOf(err) {
	case service.KindValidation:
		status = http.StatusBadRequest
	case service.KindNotFound:
		status = http.StatusNotFound
	case service.KindConflict:
		status = http.StatusConflict
	case service.KindPermission:
		status = http.StatusForbidden
	}
	if errors.Is(err, service.ErrInvalidCredentials) {
		status = http.StatusUnauthorized
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Uint("user_id", auth.GetUserID(c)).Msg(op)
	}
	c.JSON(status, gin.H{"error": service.PublicMessage(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func paramID(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

func (a *App) register(c *gin.Context) {
	var req struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" || strings.TrimSpace(req.DisplayName) == "" {
		badRequest(c, "username, password and displayName are required")
		return
	}
	user, err := a.Users.Register(c.Request.Context(), req.Username, req.Password, req.DisplayName)
	if err != nil {
		writeError(c, "register", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "user created", "user": user})
}

func (a *App) login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		badRequest(c, "invalid payload")
		return
	}
	result, err := a.Users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, "login", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *App) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		badRequest(c, "invalid payload")
		return
	}
	result, err := a.Users.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
			return
		}
		writeError(c, "refresh token", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *App) me(c *gin.Context) {
	user, err := a.Users.Get(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		writeError(c, "get current user", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (a *App) searchUsers(c *gin.Context) {
	users, err := a.Users.Search(c.Request.Context(), auth.GetUserID(c), c.Query("q"))
	if err != nil {
		writeError(c, "search users", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (a *App) sendFriendRequest(c *gin.Context) {
	var req struct {
		FriendID uint `json:"friendId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.FriendID == 0 {
		badRequest(c, "invalid payload")
		return
	}
	f, err := a.Friends.Request(c.Request.Context(), auth.GetUserID(c), req.FriendID)
	if err != nil {
		writeError(c, "friend request", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "friend request sent", "request": f})
}

func (a *App) respondFriendRequest(c *gin.Context) {
	var req struct {
		RequestID uint  `json:"requestId"`
		Accept    *bool `json:"accept"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RequestID == 0 || req.Accept == nil {
		badRequest(c, "invalid payload")
		return
	}
	status, err := a.Friends.Respond(c.Request.Context(), auth.GetUserID(c), req.RequestID, *req.Accept)
	if err != nil {
		writeError(c, "respond friend request", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (a *App) listFriends(c *gin.Context) {
	friends, err := a.Friends.List(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		writeError(c, "list friends", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

func (a *App) listFriendRequests(c *gin.Context) {
	reqs, err := a.Friends.Pending(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		writeError(c, "list friend requests", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

func (a *App) generalRooms(c *gin.Context) {
	rooms, err := a.Rooms.ListGeneral(c.Request.Context())
	if err != nil {
		writeError(c, "list general rooms", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (a *App) listRooms(c *gin.Context) {
	rooms, err := a.Rooms.ListForUser(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		writeError(c, "list rooms", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// createRoom 创建群组或私聊。私聊取 members 中的第一个用户作为对方，general 房间不允许创建。
func (a *App) createRoom(c *gin.Context) {
	var req struct {
		Name    string          `json:"name"`
		Type    models.RoomType `json:"type"`
		Members []uint          `json:"members"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	if !req.Type.Valid() {
		badRequest(c, "invalid room type")
		return
	}
	uid := auth.GetUserID(c)
	connID, _ := a.Presence.Lookup(uid)

	var (
		room *models.Room
		err  error
	)
	switch req.Type {
	case models.RoomGroup:
		room, err = a.Chats.CreateGroup(c.Request.Context(), connID, req.Name, uid, req.Members)
	case models.RoomPrivate:
		if len(req.Members) == 0 {
			badRequest(c, "private rooms need a member")
			return
		}
		room, err = a.Chats.StartPrivateChat(c.Request.Context(), connID, uid, req.Members[0])
	default:
		badRequest(c, "general rooms cannot be created")
		return
	}
	if err != nil {
		writeError(c, "create room", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": room})
}

func (a *App) listMessages(c *gin.Context) {
	roomID, ok := paramID(c, "id")
	if !ok {
		badRequest(c, "invalid room id")
		return
	}
	var beforeID uint
	if bid := c.Query("before_id"); bid != "" {
		v, err := strconv.ParseUint(bid, 10, 32)
		if err != nil {
			badRequest(c, "invalid before_id")
			return
		}
		beforeID = uint(v)
	}
	msgs, err := a.Messages.History(c.Request.Context(), roomID, auth.GetUserID(c), beforeID)
	if err != nil {
		writeError(c, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (a *App) deleteMessage(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		badRequest(c, "invalid message id")
		return
	}
	if err := a.Messages.Delete(c.Request.Context(), id, auth.GetUserID(c)); err != nil {
		writeError(c, "delete message", err)
		return
	}
	c.Status(http.StatusNoContent)
}
