package server

import "encoding/json"

// Broadcaster 事件下沉接口：各组件只声明目的地，不触碰 socket 细节
type Broadcaster interface {
	ToSession(id SessionID, event string, data any)
	ToUser(uid UserID, event string, data any)
	ToRoom(room string, event string, data any)
	ToAll(event string, data any)
}

// Hub 顶层装配：注册表 + 地理房间路由 + 通知器 + 指标，并实现 Broadcaster
// 消息统一走会话各自的发送队列，队列满即丢弃（实时优先，不背压）
type Hub struct {
	registry *PresenceRegistry
	router   *GeoRoomRouter
	notifier *Notifier
	engine   *DecayEngine
	auth     *Auth
	store    *Store
	metrics  *Metrics
}

// NewHub 组装运行核心；注册表的反向广播引用在这里闭合
func NewHub(cfg Config, store *Store) *Hub {
	h := &Hub{
		registry: NewPresenceRegistry(),
		notifier: NewNotifier(cfg.DedupWindow),
		engine:   NewDecayEngine(store, cfg.DecayDelta),
		auth:     NewAuth(store, cfg.JWTSecret, cfg.TokenTTL),
		store:    store,
		metrics:  &Metrics{},
	}
	h.router = NewGeoRoomRouter(h.registry, store, h, cfg.DefaultRadius)
	h.registry.SetBroadcaster(h)
	return h
}

// Registry 暴露注册表（测试与处理器用）
func (h *Hub) Registry() *PresenceRegistry { return h.registry }

// Router 暴露地理路由
func (h *Hub) Router() *GeoRoomRouter { return h.router }

// Metrics 暴露指标
func (h *Hub) Metrics() *Metrics { return h.metrics }

// Engine 暴露衰减引擎
func (h *Hub) Engine() *DecayEngine { return h.engine }

// Auth 暴露身份服务
func (h *Hub) Auth() *Auth { return h.auth }

// send 编码信封并入队；满队列丢弃计入指标
func (h *Hub) send(s *Session, event string, data any) {
	if s == nil || s.conn == nil {
		return
	}
	b, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		Log.Errorf("marshal event %s: %v", event, err)
		return
	}
	if !s.conn.Enqueue(b) {
		h.metrics.IncDropped()
	}
}

// ToSession 单播到指定会话
func (h *Hub) ToSession(id SessionID, event string, data any) {
	if s, ok := h.registry.Get(id); ok {
		h.send(s, event, data)
	}
}

// ToUser 单播到某用户的全部会话（同一账号可多端在线）
func (h *Hub) ToUser(uid UserID, event string, data any) {
	h.registry.forEach(func(s *Session) {
		if s.UserID == uid {
			h.send(s, event, data)
		}
	})
}

// ToRoom 定向到某地理房间的全部成员
func (h *Hub) ToRoom(room string, event string, data any) {
	for _, id := range h.router.Members(room) {
		h.ToSession(id, event, data)
	}
}

// ToAll 广播到所有在线会话
func (h *Hub) ToAll(event string, data any) {
	h.registry.forEach(func(s *Session) {
		h.send(s, event, data)
	})
}

// NotifyPetUpdated 一次属性变化的统一出口：Tick 与玩家动作都走这里
// 先推送最新属性，再评估阈值穿越；两者都只发给属主
func (h *Hub) NotifyPetUpdated(pet *Pet, old, current StatVector) {
	if pet.OwnerID == "" {
		return
	}
	h.ToUser(pet.OwnerID, EvtPetUpdated, PetUpdatedPayload{PetID: pet.ID, Stats: current})
	if note := h.notifier.Evaluate(pet.Name, pet.ID, old, current); note != nil {
		h.ToUser(pet.OwnerID, EvtNotification, note)
		h.metrics.IncNotifications()
	}
}

// Disconnect 断开收尾：退房、注销（触发 user:offline）、关闭连接
func (h *Hub) Disconnect(id SessionID) {
	h.router.Leave(id)
	if s := h.registry.Unregister(id); s != nil {
		h.metrics.SessionDown()
		if s.conn != nil {
			s.conn.Close()
		}
		Log.Infof("user disconnected: %s (%s)", s.UserName, s.UserID)
	}
}
