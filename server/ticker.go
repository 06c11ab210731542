package server

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// schedulerLeaseName 跨进程互斥用的租约名
const schedulerLeaseName = "tick"

// TickScheduler 周期性驱动全量衰减；定时触发与 REST 手动触发共用 RunCycle
// 进程内不重叠：上一轮没结束时新触发直接丢弃（不排队）
// 跨进程互斥：每轮先抢持久层租约，抢不到视为别的实例在跑，本轮放弃
type TickScheduler struct {
	store   *Store
	engine  *DecayEngine
	hub     *Hub
	metrics *Metrics

	interval time.Duration
	instance string

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

// NewTickScheduler 创建调度器；instance 标识本进程的租约持有身份
func NewTickScheduler(store *Store, engine *DecayEngine, hub *Hub, interval time.Duration) *TickScheduler {
	return &TickScheduler{
		store:    store,
		engine:   engine,
		hub:      hub,
		metrics:  hub.Metrics(),
		interval: interval,
		instance: uuid.NewString(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start 启动定时循环
func (t *TickScheduler) Start() {
	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		Log.Infof("tick scheduler started, interval=%v instance=%s", t.interval, t.instance)
		for {
			select {
			case <-ticker.C:
				t.RunCycle(context.Background())
			case <-t.stop:
				return
			}
		}
	}()
}

// Stop 停止定时循环并等待退出；正在执行的周期跑完为止
func (t *TickScheduler) Stop() {
	close(t.stop)
	<-t.done
}

// RunCycle 执行一轮全量衰减，返回成功更新的宠物数
// 单只宠物失败只记日志并继续，绝不拖垮整轮
// 软期限为 2 个周期：持久层卡死时放弃本轮剩余部分，把机会留给下一轮
func (t *TickScheduler) RunCycle(ctx context.Context) int {
	if !t.running.CompareAndSwap(false, true) {
		Log.Debug("tick cycle already in progress, dropping trigger")
		t.metrics.IncCyclesSkipped()
		return 0
	}
	defer t.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, 2*t.interval)
	defer cancel()

	ok, err := t.store.AcquireLease(ctx, schedulerLeaseName, t.instance, 2*t.interval)
	if err != nil {
		Log.Errorf("acquire scheduler lease: %v", err)
		t.metrics.IncCyclesSkipped()
		return 0
	}
	if !ok {
		Log.Debug("scheduler lease held elsewhere, skipping cycle")
		t.metrics.IncCyclesSkipped()
		return 0
	}
	defer func() {
		// 释放用独立的 ctx：周期超时不应妨碍还租约
		if err := t.store.ReleaseLease(context.Background(), schedulerLeaseName, t.instance); err != nil {
			Log.Warnf("release scheduler lease: %v", err)
		}
	}()

	start := time.Now()
	pets, err := t.store.ListPets(ctx, "")
	if err != nil {
		Log.Errorf("load pets for tick: %v", err)
		return 0
	}

	updated := 0
	for i := range pets {
		if ctx.Err() != nil {
			Log.Warnf("tick cycle deadline hit after %d/%d pets", i, len(pets))
			break
		}
		pet := &pets[i]
		old, current, err := t.engine.Decay(ctx, pet)
		switch {
		case errors.Is(err, errPetUninitialized):
			continue
		case errors.Is(err, ErrVersionConflict):
			// 与玩家动作撞车：跳过，这只宠物下一轮会被重新处理
			Log.Debugf("pet %s version conflict during tick, skipped", pet.ID)
			t.metrics.IncPetFailures()
			continue
		case err != nil:
			Log.Warnf("decay pet %s: %v", pet.ID, err)
			t.metrics.IncPetFailures()
			continue
		}
		updated++
		t.metrics.IncPetsUpdated()
		t.hub.NotifyPetUpdated(pet, old, current)
	}

	elapsed := time.Since(start)
	t.metrics.AddCycle(elapsed.Nanoseconds())
	Log.Infof("tick cycle done: %d/%d pets updated in %v", updated, len(pets), elapsed)
	return updated
}
