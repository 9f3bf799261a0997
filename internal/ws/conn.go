package ws

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	maxInboundSize = 4 << 10
	sendBuffer     = 64
)

// ConnState 描述单个连接的生命周期：Connecting -> Open -> Closed。
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

type Client struct {
	room  *RoomHub
	conn  *websocket.Conn
	send  chan []byte
	alive atomic.Bool
	state atomic.Int32
}

// NewClient 包装一个已升级的连接；conn 为 nil 时只在内存中排队，便于测试。
func NewClient(conn *websocket.Conn) *Client {
	c := &Client{conn: conn, send: make(chan []byte, sendBuffer)}
	c.alive.Store(true)
	return c
}

func (c *Client) connState() ConnState { return ConnState(c.state.Load()) }

func (c *Client) setState(s ConnState) { c.state.Store(int32(s)) }

// ping 异步发送探测帧，写失败直接关闭传输层，由 readPump 完成注销。
func (c *Client) ping() {
	if c.conn == nil {
		return
	}
	go func() {
		if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			_ = c.conn.Close()
		}
	}()
}

func (c *Client) closeTransport() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RoomExists 由上层注入，用于在握手前校验房间。
type RoomExists func(ctx context.Context, code string) bool

// Serve 处理 /ws?room=<code> 握手，连接只用于服务端推送。
func Serve(h *Hub, exists RoomExists) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.Query("room")
		if code == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "room is required"})
			return
		}
		if exists != nil && !exists(c.Request.Context(), code) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Str("room", code).Msg("ws upgrade")
			return
		}
		client := NewClient(conn)
		if !h.Subscribe(code, client) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump()
	}
}

// readPump 只负责维持存活状态与感知断开，入站数据帧被丢弃。
func (c *Client) readPump() {
	defer func() {
		c.room.leave(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxInboundSize)
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("room", c.room.roomCode).Msg("ws read")
			}
			return
		}
		c.alive.Store(true)
	}
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		w, err := c.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		_, _ = w.Write(message)
		if err := w.Close(); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
