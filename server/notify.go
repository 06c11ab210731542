package server

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// 阈值：warning 50、critical 25，均为单向边沿触发
const (
	ThresholdWarning  = 50
	ThresholdCritical = 25
)

// NotificationLevel 通知级别
type NotificationLevel string

const (
	LevelWarning  NotificationLevel = "warning"
	LevelCritical NotificationLevel = "critical"
)

// StatReading 触发阈值的单个维度及其当前值
type StatReading struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Current int    `json:"current"`
	Old     int    `json:"old"`
}

// Notification 一次阈值穿越产生的告警，创建后不再修改
type Notification struct {
	Level     NotificationLevel `json:"level"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	PetID     PetID             `json:"petId"`
	PetName   string            `json:"petName"`
	Type      string            `json:"type"`
	Stats     []StatReading     `json:"stats"`
	CreatedAt time.Time         `json:"createdAt"`
}

// crossedThreshold 单向边沿判定：上一步在阈值之上、这一步落到阈值及以下
// 已经低于阈值的维度不会重复触发；回升后再次跌破会重新触发
func crossedThreshold(old, current, threshold int) bool {
	return old > threshold && current <= threshold
}

// dedupEntry 去重环中的一条记录
type dedupEntry struct {
	key string
	at  time.Time
}

// Notifier 阈值通知器：把一次属性变化归并为至多一条通知
// critical 优先：任一维度穿越 25 时，本步不再评估 warning
// 内置固定容量的 (key, timestamp) 去重环，窗口内相同 (petId, message) 只发一次
type Notifier struct {
	mu     sync.Mutex
	window time.Duration
	ring   [64]dedupEntry
	next   int

	now func() time.Time // 测试注入时钟
}

// NewNotifier 创建通知器，window 为去重窗口（<=0 时关闭去重）
func NewNotifier(window time.Duration) *Notifier {
	return &Notifier{window: window, now: time.Now}
}

// statDim 评估时的维度描述
type statDim struct {
	name    string
	label   string
	old     int
	current int
}

// Evaluate 比较一次变化前后的属性，返回至多一条通知；无穿越时返回 nil
func (n *Notifier) Evaluate(petName string, petID PetID, old, current StatVector) *Notification {
	dims := []statDim{
		{"hunger", "Hunger", old.Hunger, current.Hunger},
		{"hygiene", "Hygiene", old.Hygiene, current.Hygiene},
		{"energy", "Energy", old.Energy, current.Energy},
		{"fun", "Fun", old.Fun, current.Fun},
	}

	var critical, warning []StatReading
	for _, d := range dims {
		// critical（25）优先判定；命中后同一维度不再计入 warning
		if crossedThreshold(d.old, d.current, ThresholdCritical) {
			critical = append(critical, StatReading{Name: d.name, Label: d.label, Current: d.current, Old: d.old})
		} else if crossedThreshold(d.old, d.current, ThresholdWarning) {
			warning = append(warning, StatReading{Name: d.name, Label: d.label, Current: d.current, Old: d.old})
		}
	}

	var note *Notification
	switch {
	case len(critical) > 0:
		// 任一维度进入 critical 时，本步的 warning 穿越一并丢弃
		note = &Notification{
			Level:   LevelCritical,
			Title:   fmt.Sprintf("%s in DANGER!", petName),
			Message: fmt.Sprintf("Critical stats: %s", formatStats(critical)),
			PetID:   petID,
			PetName: petName,
			Type:    "stat_critical",
			Stats:   critical,
		}
	case len(warning) > 0:
		note = &Notification{
			Level:   LevelWarning,
			Title:   fmt.Sprintf("%s needs attention", petName),
			Message: fmt.Sprintf("Low stats: %s", formatStats(warning)),
			PetID:   petID,
			PetName: petName,
			Type:    "stat_warning",
			Stats:   warning,
		}
	default:
		return nil
	}

	note.CreatedAt = n.now()
	if n.suppressed(string(note.PetID)+"|"+note.Message, note.CreatedAt) {
		return nil
	}
	return note
}

// formatStats "Hunger (20%), Hygiene (10%)" 形式的维度列表
func formatStats(stats []StatReading) string {
	parts := make([]string, 0, len(stats))
	for _, s := range stats {
		parts = append(parts, fmt.Sprintf("%s (%d%%)", s.Label, s.Current))
	}
	return strings.Join(parts, ", ")
}

// suppressed 查询并登记去重环；窗口内出现过相同 key 时返回 true
// 环固定 64 槽，旧记录被覆盖即惰性淘汰，不会无界增长
func (n *Notifier) suppressed(key string, now time.Time) bool {
	if n.window <= 0 {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.ring {
		if e.key == key && now.Sub(e.at) < n.window {
			return true
		}
	}
	n.ring[n.next] = dedupEntry{key: key, at: now}
	n.next = (n.next + 1) % len(n.ring)
	return false
}
