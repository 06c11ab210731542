package server

import (
	"sync/atomic"
)

// Metrics 记录服务运行期的关键指标（用于监控与调试）
type Metrics struct {
	CyclesRun            int64 // 完整执行的衰减周期数
	CyclesSkipped        int64 // 因重叠或租约被占而放弃的周期数
	PetsUpdated          int64 // 衰减成功写入的宠物次数
	PetFailures          int64 // 单只宠物处理失败次数（冲突 / 持久层错误）
	NotificationsEmitted int64 // 发出的阈值通知数
	BroadcastsDropped    int64 // 因发送队列满被丢弃的消息数
	SessionsConnected    int64 // 当前在线会话数（gauge）
	TotalCycleNs         int64 // 周期累计耗时（纳秒）
}

func (m *Metrics) IncCyclesSkipped() { atomic.AddInt64(&m.CyclesSkipped, 1) }
func (m *Metrics) IncPetsUpdated()   { atomic.AddInt64(&m.PetsUpdated, 1) }
func (m *Metrics) IncPetFailures()   { atomic.AddInt64(&m.PetFailures, 1) }
func (m *Metrics) IncNotifications() { atomic.AddInt64(&m.NotificationsEmitted, 1) }
func (m *Metrics) IncDropped()       { atomic.AddInt64(&m.BroadcastsDropped, 1) }
func (m *Metrics) SessionUp()        { atomic.AddInt64(&m.SessionsConnected, 1) }
func (m *Metrics) SessionDown()      { atomic.AddInt64(&m.SessionsConnected, -1) }

func (m *Metrics) AddCycle(ns int64) {
	atomic.AddInt64(&m.CyclesRun, 1)
	atomic.AddInt64(&m.TotalCycleNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	cycles := atomic.LoadInt64(&m.CyclesRun)
	total := atomic.LoadInt64(&m.TotalCycleNs)
	var avgMs float64
	if cycles > 0 {
		avgMs = float64(total) / float64(cycles) / 1e6
	}
	return map[string]any{
		"cycles_run":            cycles,
		"cycles_skipped":        atomic.LoadInt64(&m.CyclesSkipped),
		"pets_updated":          atomic.LoadInt64(&m.PetsUpdated),
		"pet_failures":          atomic.LoadInt64(&m.PetFailures),
		"notifications_emitted": atomic.LoadInt64(&m.NotificationsEmitted),
		"broadcasts_dropped":    atomic.LoadInt64(&m.BroadcastsDropped),
		"sessions_connected":    atomic.LoadInt64(&m.SessionsConnected),
		"avg_cycle_ms":          avgMs,
	}
}
