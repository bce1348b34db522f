package mw

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// OriginPolicy 判断跨域来源是否被允许：dev 环境允许所有来源；
// 其他环境允许配置的来源列表（逗号分隔），未配置时只允许同源。
type OriginPolicy struct {
	env     string
	allowed []string
}

func NewOriginPolicy(env, origins string) OriginPolicy {
	var allowed []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			allowed = append(allowed, o)
		}
	}
	return OriginPolicy{env: env, allowed: allowed}
}

func (p OriginPolicy) Allowed(origin, host string) bool {
	if origin == "" || p.env == "dev" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	for _, o := range p.allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	if len(p.allowed) > 0 {
		return false
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, host)
}

// CheckOrigin 适配 websocket.Upgrader.CheckOrigin。
func (p OriginPolicy) CheckOrigin(r *http.Request) bool {
	return p.Allowed(r.Header.Get("Origin"), r.Host)
}

// CORS 返回一个支持跨域请求的中间件。
func CORS(p OriginPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		if p.Allowed(origin, c.Request.Host) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
