package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/JhonHurtado/chat-in-real-time/internal/auth"
	"github.com/JhonHurtado/chat-in-real-time/internal/metrics"
	"github.com/JhonHurtado/chat-in-real-time/internal/mw"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func (a *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(a.policy))
	r.Use(a.limiter.Middleware())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", a.WS.Serve)

	api := r.Group("/api/v1")
	api.POST("/auth/register", a.register)
	api.POST("/auth/login", a.login)
	api.POST("/auth/refresh", a.refresh)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(a.cfg.JWTSecret, a.store))

	authed.GET("/users/me", a.me)
	authed.GET("/users/search", a.searchUsers)

	authed.POST("/friends/request", a.sendFriendRequest)
	authed.POST("/friends/respond", a.respondFriendRequest)
	authed.GET("/friends", a.listFriends)
	authed.GET("/friends/requests", a.listFriendRequests)

	authed.GET("/rooms/general", a.generalRooms)
	authed.GET("/rooms", a.listRooms)
	authed.POST("/rooms", a.createRoom)
	authed.GET("/rooms/:id/messages", a.listMessages)

	authed.DELETE("/messages/:id", a.deleteMessage)

	a.serveFrontend(r)
	return r
}

// serveFrontend 在存在前端构建产物时托管 SPA，未知路径回退到 index.html。
func (a *App) serveFrontend(r *gin.Engine) {
	distDir := filepath.Join(".", "frontend", "dist")
	if _, err := os.Stat(filepath.Join(distDir, "index.html")); err != nil {
		return
	}
	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		rel := strings.TrimPrefix(filepath.Clean(c.Request.URL.Path), "/")
		if strings.HasPrefix(rel, "api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		target := filepath.Join(distDir, rel)
		if fi, err := os.Stat(target); err == nil && !fi.IsDir() {
			c.File(target)
			return
		}
		if strings.Contains(rel, ".") {
			c.Status(http.StatusNotFound)
			return
		}
		c.File(filepath.Join(distDir, "index.html"))
	})
}
