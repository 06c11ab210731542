package server

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// roomKey 粗粒度空间格：纬度、经度各向下取整
func roomKey(lat, lng float64) string {
	return fmt.Sprintf("geo:%d:%d", int(math.Floor(lat)), int(math.Floor(lng)))
}

// GeoRoomRouter 把会话按坐标网格分组，承担范围广播与邻近查询
// 房间成员关系只存在内存里，由会话状态隐式重建；空房间直接消失
// 会话的 RoomID 字段经注册表 SetRoom 写入，这里不持有会话副本
type GeoRoomRouter struct {
	registry *PresenceRegistry
	store    *Store
	bc       Broadcaster

	defaultRadius float64

	// 成员表的变更全部经由 Join / Leave，处理器不得直接操作
	mu    sync.Mutex
	rooms map[string]map[SessionID]struct{}
}

// NewGeoRoomRouter 创建路由器
func NewGeoRoomRouter(registry *PresenceRegistry, store *Store, bc Broadcaster, defaultRadius float64) *GeoRoomRouter {
	return &GeoRoomRouter{
		registry:      registry,
		store:         store,
		bc:            bc,
		defaultRadius: defaultRadius,
		rooms:         make(map[string]map[SessionID]struct{}),
	}
}

// Join 会话加入坐标对应的空间格，返回半径内的宠物列表
// 成员关系独占：加入新格子前先退出旧格子
// 加入后向全员广播 user:location（全局雷达语义，与 users:existing 的可见性一致）
func (g *GeoRoomRouter) Join(ctx context.Context, id SessionID, lat, lng, radius float64) ([]PetView, error) {
	if !validCoords(lat, lng) {
		return nil, fmt.Errorf("invalid coordinates (%v, %v): %w", lat, lng, ErrValidation)
	}
	if radius <= 0 {
		radius = g.defaultRadius
	}

	sess, ok := g.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	room := roomKey(lat, lng)
	prev, ok := g.registry.SetRoom(id, room)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	g.moveMembership(id, prev, room)

	point := NewGeoPoint(lng, lat)
	g.registry.Touch(id, point)

	pets, err := g.store.NearbyPets(ctx, lat, lng, radius)
	if err != nil {
		return nil, fmt.Errorf("nearby query: %w", err)
	}

	g.bc.ToAll(EvtUserLocation, UserLocationPayload{
		UserID:   sess.UserID,
		UserName: sess.UserName,
		Location: point,
	})
	Log.Debugf("session %s joined %s, %d pets within %.0fm", id, room, len(pets), radius)
	return pets, nil
}

// Leave 退出当前空间格；无广播
func (g *GeoRoomRouter) Leave(id SessionID) {
	prev, ok := g.registry.SetRoom(id, "")
	if !ok || prev == "" {
		return
	}
	g.moveMembership(id, prev, "")
}

// MoveEntity 属主移动宠物：持久化新坐标并向会话当前房间广播 pet:moved
// 与 Join 不同，这里的广播只限房间内成员
func (g *GeoRoomRouter) MoveEntity(ctx context.Context, id SessionID, petID PetID, lat, lng float64) error {
	if !validCoords(lat, lng) {
		return fmt.Errorf("invalid coordinates (%v, %v): %w", lat, lng, ErrValidation)
	}
	sess, ok := g.registry.Get(id)
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	pet, err := g.store.GetPet(ctx, petID)
	if err != nil {
		return err
	}
	// 越权与不存在统一按未找到处理，不暴露他人宠物的存在性
	if pet.OwnerID == "" || pet.OwnerID != sess.UserID {
		return fmt.Errorf("pet %s not owned by %s: %w", petID, sess.UserID, ErrNotFound)
	}
	if err := g.store.UpdatePetLocation(ctx, petID, lat, lng); err != nil {
		return err
	}

	if room := g.registry.RoomID(id); room != "" {
		g.bc.ToRoom(room, EvtPetMoved, PetMovedPayload{
			PetID:    pet.ID,
			Name:     pet.Name,
			Location: LatLng{Latitude: lat, Longitude: lng},
		})
	}
	return nil
}

// Members 房间当前成员快照
func (g *GeoRoomRouter) Members(room string) []SessionID {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.rooms[room]
	if !ok {
		return nil
	}
	ids := make([]SessionID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// RoomOf 会话当前房间（查询用）
func (g *GeoRoomRouter) RoomOf(id SessionID) string {
	return g.registry.RoomID(id)
}

// moveMembership 将会话从 prev 迁到 next；空串表示不属于任何房间
func (g *GeoRoomRouter) moveMembership(id SessionID, prev, next string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prev != "" {
		if set, ok := g.rooms[prev]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(g.rooms, prev)
			}
		}
	}
	if next != "" {
		set, ok := g.rooms[next]
		if !ok {
			set = make(map[SessionID]struct{})
			g.rooms[next] = set
		}
		set[id] = struct{}{}
	}
}
