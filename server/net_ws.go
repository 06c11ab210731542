package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ClientConn 负责发送（写）数据到客户端的轻量包装
type ClientConn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewClientConn(ws *websocket.Conn) *ClientConn {
	return &ClientConn{
		ws:   ws,
		send: make(chan []byte, 64),
	}
}

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃并返回 false）
func (c *ClientConn) Enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		// 为了实时性，丢弃消息（防止阻塞 Tick 与广播）
		return false
	}
}

// Close 关闭底层连接与发送队列；幂等
func (c *ClientConn) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
	_ = c.ws.Close()
}

// writePump 独立协程，负责从 send 队列写出到 WS
func (c *ClientConn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readPump 读取客户端事件并分发；退出时触发断开收尾
func readPump(h *Hub, sess *Session) {
	c := sess.conn
	defer h.Disconnect(sess.ID)
	c.ws.SetReadLimit(1 << 20) // 1MB
	c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error { c.ws.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.ToSession(sess.ID, EvtError, ErrorPayload{Message: "malformed message"})
			continue
		}
		dispatch(h, sess, msg)
	}
}

// dispatch 处理一条入站事件；错误以 error 事件回给当前会话，连接保持打开
func dispatch(h *Hub, sess *Session, msg ClientMessage) {
	ctx := context.Background()
	switch msg.Event {
	case EvtLocationJoin:
		var m LocationJoinMsg
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			h.ToSession(sess.ID, EvtError, ErrorPayload{Message: "malformed location:join payload"})
			return
		}
		pets, err := h.router.Join(ctx, sess.ID, m.Latitude, m.Longitude, m.Radius)
		if err != nil {
			Log.Warnf("location:join for %s: %v", sess.ID, err)
			h.ToSession(sess.ID, EvtError, ErrorPayload{Message: "Failed to join location"})
			return
		}
		h.ToSession(sess.ID, EvtNearbyPets, NearbyPetsPayload{Pets: pets})

	case EvtLocationLeave:
		h.router.Leave(sess.ID)

	case EvtLocationUpdate:
		var m LocationUpdateMsg
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			h.ToSession(sess.ID, EvtError, ErrorPayload{Message: "malformed location:update payload"})
			return
		}
		if err := h.router.MoveEntity(ctx, sess.ID, m.PetID, m.Latitude, m.Longitude); err != nil {
			if errors.Is(err, ErrNotFound) {
				h.ToSession(sess.ID, EvtError, ErrorPayload{Message: "Pet not found or unauthorized"})
				return
			}
			Log.Warnf("location:update for %s: %v", sess.ID, err)
			h.ToSession(sess.ID, EvtError, ErrorPayload{Message: "Failed to update location"})
		}

	default:
		// 未知事件直接忽略，兼容旧客户端
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// HandleWS WebSocket 接入：?token=<jwt>
// 认证失败直接 401，连接升级与会话登记都不会发生
func HandleWS(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		uid, name, err := h.auth.Verify(r.Context(), token)
		if err != nil {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			Log.Warnf("upgrade error: %v", err)
			return
		}

		sess := &Session{
			ID:          SessionID(uuid.NewString()),
			UserID:      uid,
			UserName:    name,
			ConnectedAt: time.Now(),
			conn:        NewClientConn(ws),
		}
		go sess.conn.writePump()

		// 先登记（触发向已在线会话的 user:online），再给新客户端发快照
		views := h.registry.Register(sess)
		h.metrics.SessionUp()
		h.send(sess, EvtUsersExisting, UsersExistingPayload{Users: views})
		Log.Infof("user connected: %s (%s)", name, uid)

		go readPump(h, sess)
	}
}
