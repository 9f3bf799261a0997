package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"ticketboard/internal/metrics"

	"github.com/rs/zerolog/log"
)

// 推送给客户端的事件类型。
const (
	EventUpdate             = "update"
	EventUpdateAnnouncement = "updateAnnouncement"
	EventNewFile            = "newFile"
	EventDeleteFile         = "deleteFile"
)

// Hub 按房间码管理子 Hub，实现延迟创建、空闲回收与并发安全。
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]*RoomHub
	closed bool
	now    func() time.Time
}

func NewHub() *Hub { return &Hub{rooms: make(map[string]*RoomHub), now: time.Now} }

// Subscribe 把连接注册到房间，连接在整个生命周期内只属于这一个房间。
func (h *Hub) Subscribe(roomCode string, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	room := h.rooms[roomCode]
	if room == nil {
		room = newRoomHub(roomCode)
		h.rooms[roomCode] = room
		go room.run()
	}
	c.room = room
	room.register <- c
	return true
}

// Broadcast 以 fire-and-forget 方式把事件投递给房间内的所有连接。
func (h *Hub) Broadcast(roomCode, eventType string, payload map[string]any) {
	evt := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		evt[k] = v
	}
	evt["type"] = eventType
	evt["timestamp"] = h.now().UnixMilli()
	b, err := json.Marshal(evt)
	if err != nil {
		log.Warn().Err(err).Str("room", roomCode).Str("type", eventType).Msg("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[roomCode]
	if room == nil {
		return
	}
	select {
	case room.broadcast <- b:
		metrics.BroadcastsTotal.WithLabelValues(eventType).Inc()
	case <-room.done:
	default:
		log.Warn().Str("room", roomCode).Str("type", eventType).Msg("broadcast queue full, event dropped")
	}
}

// ProbeLiveness 向所有连接发送探测，上一轮未响应的连接会被关闭并注销。
func (h *Hub) ProbeLiveness() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, room := range h.rooms {
		select {
		case room.probe <- struct{}{}:
		case <-room.done:
		}
	}
}

// Prune 回收没有任何连接的子 Hub。
func (h *Hub) Prune() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	pruned := 0
	for code, room := range h.rooms {
		reply := make(chan bool, 1)
		select {
		case room.stopIfEmpty <- reply:
			if <-reply {
				delete(h.rooms, code)
				pruned++
			}
		case <-room.done:
			delete(h.rooms, code)
		}
	}
	return pruned
}

// Run 按固定间隔执行存活探测与空闲回收，ctx 取消后返回。
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.ProbeLiveness()
			if n := h.Prune(); n > 0 {
				log.Debug().Int("rooms", n).Msg("pruned idle room hubs")
			}
		}
	}
}

// Close 关闭全部连接并停止所有子 Hub，之后的 Subscribe 返回 false。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for code, room := range h.rooms {
		room.stop()
		delete(h.rooms, code)
	}
}

func (h *Hub) online(roomCode string) int {
	h.mu.RLock()
	room := h.rooms[roomCode]
	h.mu.RUnlock()
	if room == nil {
		return 0
	}
	return room.size()
}

type RoomHub struct {
	roomCode    string
	clients     map[*Client]bool
	register    chan *Client
	unregister  chan *Client
	broadcast   chan []byte
	probe       chan struct{}
	stopIfEmpty chan chan bool
	quit        chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
	online      int32
}

func newRoomHub(roomCode string) *RoomHub {
	return &RoomHub{
		roomCode:    roomCode,
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan []byte, 256),
		probe:       make(chan struct{}),
		stopIfEmpty: make(chan chan bool),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (rh *RoomHub) run() {
	defer close(rh.done)
	for {
		select {
		case c := <-rh.register:
			rh.clients[c] = true
			c.setState(StateOpen)
			rh.syncOnline()
			metrics.WsConnections.Inc()
			log.Debug().Str("room", rh.roomCode).Int("online", len(rh.clients)).Msg("ws subscribed")
		case c := <-rh.unregister:
			if _, ok := rh.clients[c]; ok {
				rh.remove(c)
			}
		case msg := <-rh.broadcast:
			for c := range rh.clients {
				select {
				case c.send <- msg:
				default:
					// 发送缓冲已满，视为死连接。
					rh.evict(c, "slow")
				}
			}
		case <-rh.probe:
			for c := range rh.clients {
				if !c.alive.Swap(false) {
					rh.evict(c, "unresponsive")
					continue
				}
				c.ping()
			}
		case reply := <-rh.stopIfEmpty:
			if len(rh.clients) == 0 {
				reply <- true
				return
			}
			reply <- false
		case <-rh.quit:
			for c := range rh.clients {
				rh.evict(c, "shutdown")
			}
			return
		}
	}
}

func (rh *RoomHub) remove(c *Client) {
	delete(rh.clients, c)
	close(c.send)
	c.setState(StateClosed)
	rh.syncOnline()
	metrics.WsConnections.Dec()
	log.Debug().Str("room", rh.roomCode).Int("online", len(rh.clients)).Msg("ws left")
}

func (rh *RoomHub) evict(c *Client, reason string) {
	rh.remove(c)
	c.closeTransport()
	metrics.WsEvictionsTotal.WithLabelValues(reason).Inc()
	log.Debug().Str("room", rh.roomCode).Str("reason", reason).Msg("evicted connection")
}

func (rh *RoomHub) syncOnline() { atomic.StoreInt32(&rh.online, int32(len(rh.clients))) }

func (rh *RoomHub) stop() {
	rh.stopOnce.Do(func() { close(rh.quit) })
	<-rh.done
}

// leave 在连接断开时注销；子 Hub 已停止时直接返回。
func (rh *RoomHub) leave(c *Client) {
	select {
	case rh.unregister <- c:
	case <-rh.done:
	}
}

// size 返回房间在线连接数量。
func (rh *RoomHub) size() int { return int(atomic.LoadInt32(&rh.online)) }
