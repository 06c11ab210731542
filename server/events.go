package server

import "encoding/json"

// 事件契约：与客户端约定的事件名
// 服务端 → 客户端
const (
	EvtUsersExisting = "users:existing"
	EvtUserOnline    = "user:online"
	EvtUserOffline   = "user:offline"
	EvtUserLocation  = "user:location"
	EvtPetUpdated    = "pet:updated"
	EvtNotification  = "notification:new"
	EvtNearbyPets    = "location:nearby-pets"
	EvtPetMoved      = "pet:moved"
	EvtGameCompleted = "game:completed"
	EvtError         = "error"
)

// 客户端 → 服务端
const (
	EvtLocationJoin   = "location:join"
	EvtLocationLeave  = "location:leave"
	EvtLocationUpdate = "location:update"
)

// Envelope 统一的 WebSocket 文本消息外壳
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ClientMessage 入站消息：Data 延迟解析，按 Event 分发
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SessionView users:existing 中单个在线用户的视图
type SessionView struct {
	UserID   UserID    `json:"userId"`
	UserName string    `json:"userName"`
	Location *GeoPoint `json:"location"`
}

// UsersExistingPayload 新连接建立后下发的在线用户快照
type UsersExistingPayload struct {
	Users []SessionView `json:"users"`
}

// UserPresencePayload user:online / user:offline 载荷
type UserPresencePayload struct {
	UserID   UserID `json:"userId"`
	UserName string `json:"userName"`
}

// UserLocationPayload user:location 载荷
type UserLocationPayload struct {
	UserID   UserID   `json:"userId"`
	UserName string   `json:"userName"`
	Location GeoPoint `json:"location"`
}

// PetUpdatedPayload pet:updated 载荷：推送最新四项属性
type PetUpdatedPayload struct {
	PetID PetID      `json:"petId"`
	Stats StatVector `json:"stats"`
}

// NearbyPetsPayload location:nearby-pets 载荷
type NearbyPetsPayload struct {
	Pets []PetView `json:"pets"`
}

// PetMovedPayload pet:moved 载荷
type PetMovedPayload struct {
	PetID    PetID  `json:"petId"`
	Name     string `json:"name"`
	Location LatLng `json:"location"`
}

// LatLng pet:moved 使用的简化坐标形式（与前端约定保持一致）
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// GameCompletedPayload game:completed 载荷：一局结束后推给属主
type GameCompletedPayload struct {
	PetID      PetID  `json:"petId"`
	PetName    string `json:"petName"`
	GameID     string `json:"gameId"`
	GameName   string `json:"gameName"`
	FunGained  int    `json:"funGained"`
	EnergyLost int    `json:"energyLost"`
	HungerLost int    `json:"hungerLost"`
	Score      int    `json:"score"`
}

// ErrorPayload error 事件载荷
type ErrorPayload struct {
	Message string `json:"message"`
}

// LocationJoinMsg location:join 入站载荷
type LocationJoinMsg struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"`
}

// LocationUpdateMsg location:update 入站载荷
type LocationUpdateMsg struct {
	PetID     PetID   `json:"petId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
