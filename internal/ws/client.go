package ws

import (
	"context"
	"sync"
	"time"

	"github.com/JhonHurtado/chat-in-real-time/internal/event"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	sendBuffer   = 256
	readLimit    = 1 << 20 // 1MB
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Client 是一条已鉴权的 WebSocket 连接。
type Client struct {
	id       string
	userID   uint
	username string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	limiter  *rate.Limiter
	// rooms 由 Hub.mu 保护。
	rooms map[uint]struct{}
}

func newClient(conn *websocket.Conn, userID uint, username string, eventsPerSecond int) *Client {
	return &Client{
		id:       uuid.NewString(),
		userID:   userID,
		username: username,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		limiter:  rate.NewLimiter(rate.Limit(eventsPerSecond), eventsPerSecond*2),
		rooms:    make(map[uint]struct{}),
	}
}

// close 只执行一次。send 通道不关闭，写协程通过 done 退出。
func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// enqueue 非阻塞地写入发送队列。队列已满说明对端过慢，直接断开该连接。
func (c *Client) enqueue(b []byte) bool {
	if c.closed() {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		log.Warn().Str("conn_id", c.id).Uint("user_id", c.userID).Msg("send buffer full, closing connection")
		c.close()
		return false
	}
}

// Send 编码并投递一个事件。
func (c *Client) Send(ev event.Server) bool {
	b, err := event.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("event", ev.Name()).Msg("encode event")
		return false
	}
	return c.enqueue(b)
}

// readPump 顺序处理该连接上的事件，每个事件在独立的超时上下文中执行。
func (c *Client) readPump(h *Handler) {
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("websocket read")
			}
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		h.HandleFrame(ctx, c, data)
		cancel()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
