package server

import (
	"context"
	"errors"
	"time"
)

// errPetUninitialized 未命名宠物视为尚未初始化，Tick 跳过且不通知
var errPetUninitialized = errors.New("pet not initialized")

// petStore 引擎落盘所需的最小存储能力
type petStore interface {
	GetPet(ctx context.Context, id PetID) (*Pet, error)
	UpdatePetStats(ctx context.Context, id PetID, stats StatVector, expectedVersion int64) (int64, time.Time, error)
}

// DecayEngine 对单只宠物应用属性变化并持久化
// Tick 衰减与玩家动作共用同一条 裁剪 → 版本写 → 返回前后快照 的路径
type DecayEngine struct {
	store petStore
	delta int
}

// NewDecayEngine 创建引擎，delta 为每次 Tick 的固定衰减量
func NewDecayEngine(store petStore, delta int) *DecayEngine {
	return &DecayEngine{store: store, delta: delta}
}

// Decay 对一只宠物执行一次衰减
// hunger / hygiene / fun 各减 delta 后裁剪；energy 只由玩家动作改变，这里不动
// 成功时就地更新 pet 并返回 (旧, 新) 快照，供调用方直接送进阈值通知器
func (e *DecayEngine) Decay(ctx context.Context, pet *Pet) (StatVector, StatVector, error) {
	if pet.Name == "" {
		return StatVector{}, StatVector{}, errPetUninitialized
	}

	old := pet.Stats
	next := old
	next.Hunger -= e.delta
	next.Hygiene -= e.delta
	next.Fun -= e.delta
	next.Clamp()

	version, updatedAt, err := e.store.UpdatePetStats(ctx, pet.ID, next, pet.Version)
	if err != nil {
		return StatVector{}, StatVector{}, err
	}
	pet.Stats = next
	pet.Version = version
	pet.UpdatedAt = updatedAt
	return old, next, nil
}

// Apply 执行一次玩家动作：读取、变换、裁剪、带版本写回
// 与 Tick 衰减并发冲突时持久层返回 ErrVersionConflict，这里不重试，交由调用方上报
func (e *DecayEngine) Apply(ctx context.Context, id PetID, mutate func(*StatVector)) (*Pet, StatVector, StatVector, error) {
	pet, err := e.store.GetPet(ctx, id)
	if err != nil {
		return nil, StatVector{}, StatVector{}, err
	}

	old := pet.Stats
	next := old
	mutate(&next)
	next.Clamp()

	version, updatedAt, err := e.store.UpdatePetStats(ctx, pet.ID, next, pet.Version)
	if err != nil {
		return nil, StatVector{}, StatVector{}, err
	}
	pet.Stats = next
	pet.Version = version
	pet.UpdatedAt = updatedAt
	return pet, old, next, nil
}

// 玩家动作对应的属性变换；数值沿用既有产品规则
func ActionFeed(s *StatVector) { s.Hunger += 30 }

func ActionToilet(s *StatVector) { s.Hygiene = maxStat }

func ActionSleep(s *StatVector) {
	s.Energy += 40
	s.Hunger -= 10
}

func ActionPlay(s *StatVector) {
	s.Fun += 25
	s.Energy -= 20
	s.Hunger -= 15
}
