package server

import (
	"sync"
	"time"
)

// SessionID 连接会话唯一标识
type SessionID string

// Session 一条已认证的 WebSocket 连接
// 所有权归 PresenceRegistry：字段只在注册表锁内修改，处理器不得直接改写
// RoomID 由 GeoRoomRouter 通过 SetRoom 写入，至多同时属于一个房间
type Session struct {
	ID          SessionID
	UserID      UserID
	UserName    string
	ConnectedAt time.Time
	Location    *GeoPoint
	RoomID      string

	conn *ClientConn
}

// View 对外快照（users:existing 条目）
func (s *Session) View() SessionView {
	v := SessionView{UserID: s.UserID, UserName: s.UserName}
	if s.Location != nil {
		loc := *s.Location
		v.Location = &loc
	}
	return v
}

// PresenceRegistry 进程内在线会话注册表
// 生命周期与连接绑定：认证成功后 Register、断开时 Unregister
type PresenceRegistry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*Session
	bc       Broadcaster
}

// NewPresenceRegistry 创建空注册表；Broadcaster 由 Hub 组装完成后注入
func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{sessions: make(map[SessionID]*Session)}
}

// SetBroadcaster 注入广播器（构造顺序上 Hub 依赖注册表，反向引用在这里补上）
func (r *PresenceRegistry) SetBroadcaster(bc Broadcaster) {
	r.bc = bc
}

// Register 登记新会话，返回其余在线会话的快照供新客户端补全状态
// 同时向「已在线」的会话广播 user:online（不含新会话自己）
func (r *PresenceRegistry) Register(s *Session) []SessionView {
	r.mu.Lock()
	views := make([]SessionView, 0, len(r.sessions))
	targets := make([]SessionID, 0, len(r.sessions))
	for id, existing := range r.sessions {
		views = append(views, existing.View())
		targets = append(targets, id)
	}
	r.sessions[s.ID] = s
	r.mu.Unlock()

	if r.bc != nil {
		arrival := UserPresencePayload{UserID: s.UserID, UserName: s.UserName}
		for _, id := range targets {
			r.bc.ToSession(id, EvtUserOnline, arrival)
		}
	}
	return views
}

// Unregister 移除会话并向仍在线的会话广播 user:offline
// 会话不存在时返回 nil（重复断开无害）
func (r *PresenceRegistry) Unregister(id SessionID) *Session {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if r.bc != nil {
		r.bc.ToAll(EvtUserOffline, UserPresencePayload{UserID: s.UserID, UserName: s.UserName})
	}
	return s
}

// Touch 只更新位置字段，不广播（位置变化的广播由 GeoRoomRouter 负责）
func (r *PresenceRegistry) Touch(id SessionID, loc GeoPoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.Location = &loc
	return true
}

// SetRoom 改写会话当前房间，返回之前的房间；路由器据此做独占迁移
func (r *PresenceRegistry) SetRoom(id SessionID, room string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	prev := s.RoomID
	s.RoomID = room
	return prev, true
}

// RoomID 会话当前所在房间；不在线或未入房返回空串
func (r *PresenceRegistry) RoomID(id SessionID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return ""
	}
	return s.RoomID
}

// Snapshot 其余在线会话的快照（排除 excluding）
func (r *PresenceRegistry) Snapshot(excluding SessionID) []SessionView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	views := make([]SessionView, 0, len(r.sessions))
	for id, s := range r.sessions {
		if id == excluding {
			continue
		}
		views = append(views, s.View())
	}
	return views
}

// Get 按会话 ID 读取（返回注册表持有的指针，调用方只读）
func (r *PresenceRegistry) Get(id SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Count 在线会话数
func (r *PresenceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// forEach 在读锁内遍历全部会话；fn 必须是非阻塞的（入队即可，不做网络写）
func (r *PresenceRegistry) forEach(fn func(*Session)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		fn(s)
	}
}
