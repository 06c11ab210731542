package server

import "time"

// PetID 宠物唯一标识
type PetID string

// UserID 用户唯一标识
type UserID string

const (
	minStat = 0
	maxStat = 100
)

// clampStat 将单项属性裁剪到 [0,100]
func clampStat(v int) int {
	if v < minStat {
		return minStat
	}
	if v > maxStat {
		return maxStat
	}
	return v
}

// StatVector 宠物的四项属性，每项取值 [0,100]
// 纯数据：任何一次写入持久层之前都必须先 Clamp
type StatVector struct {
	Hunger  int `json:"hunger"`
	Hygiene int `json:"hygiene"`
	Energy  int `json:"energy"`
	Fun     int `json:"fun"`
}

// Clamp 就地裁剪所有维度到合法区间
func (s *StatVector) Clamp() {
	s.Hunger = clampStat(s.Hunger)
	s.Hygiene = clampStat(s.Hygiene)
	s.Energy = clampStat(s.Energy)
	s.Fun = clampStat(s.Fun)
}

// GeoPoint GeoJSON 风格的坐标点，coordinates 为 [lng, lat]
type GeoPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// NewGeoPoint 以 (lng, lat) 构造坐标点
func NewGeoPoint(lng, lat float64) GeoPoint {
	return GeoPoint{Type: "Point", Coordinates: [2]float64{lng, lat}}
}

// Lng 经度
func (p GeoPoint) Lng() float64 { return p.Coordinates[0] }

// Lat 纬度
func (p GeoPoint) Lat() float64 { return p.Coordinates[1] }

// validCoords 校验经纬度范围
func validCoords(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// Pet 宠物实体（权威状态在持久层，内存中只是副本）
// Name 为空表示尚未初始化：Tick 不衰减、不通知
// Version 用于乐观并发写：动作与 Tick 并发时避免互相覆盖
type Pet struct {
	ID        PetID      `json:"id"`
	Name      string     `json:"name"`
	OwnerID   UserID     `json:"owner,omitempty"`
	Level     int        `json:"level"`
	Stats     StatVector `json:"stats"`
	Location  GeoPoint   `json:"location"`
	Version   int64      `json:"-"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// PetView 广播 / 查询结果里的轻量宠物视图
type PetView struct {
	ID       PetID      `json:"id"`
	Name     string     `json:"name"`
	Owner    UserID     `json:"owner,omitempty"`
	Level    int        `json:"level"`
	Stats    StatVector `json:"stats"`
	Location GeoPoint   `json:"location"`
}

// View 导出视图
func (p *Pet) View() PetView {
	return PetView{
		ID:       p.ID,
		Name:     p.Name,
		Owner:    p.OwnerID,
		Level:    p.Level,
		Stats:    p.Stats,
		Location: p.Location,
	}
}

// User 注册用户；PasswordHash 永不出现在 JSON 输出中
type User struct {
	ID           UserID    `json:"id"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}
