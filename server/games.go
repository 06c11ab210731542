package server

import (
	"context"
	"fmt"
	"math"
)

// Game 内置小游戏的静态描述
type Game struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	FunBonus    int    `json:"funBonus"`
	EnergyCost  int    `json:"energyCost"`
	HungerCost  int    `json:"hungerCost"`
	Difficulty  string `json:"difficulty"`
}

// gameCatalog 可玩的小游戏清单；id 与客户端约定，不可改
var gameCatalog = []Game{
	{
		ID:          "memory-game",
		Name:        "Memory Game",
		Description: "Test your memory by matching pairs of cards!",
		Icon:        "🧠",
		FunBonus:    20,
		EnergyCost:  10,
		HungerCost:  5,
		Difficulty:  "easy",
	},
	{
		ID:          "doodle-jump",
		Name:        "Doodle Jump",
		Description: "Jump as high as you can without falling!",
		Icon:        "🦘",
		FunBonus:    25,
		EnergyCost:  15,
		HungerCost:  8,
		Difficulty:  "medium",
	},
	{
		ID:          "catch-game",
		Name:        "Catch the Stars",
		Description: "Catch falling stars to earn points!",
		Icon:        "⭐",
		FunBonus:    18,
		EnergyCost:  12,
		HungerCost:  6,
		Difficulty:  "easy",
	},
	{
		ID:          "puzzle-game",
		Name:        "Puzzle Master",
		Description: "Solve puzzles to challenge your brain!",
		Icon:        "🧩",
		FunBonus:    22,
		EnergyCost:  8,
		HungerCost:  4,
		Difficulty:  "hard",
	},
}

// findGame 按 id 查目录
func findGame(id string) (Game, bool) {
	for _, g := range gameCatalog {
		if g.ID == id {
			return g, true
		}
	}
	return Game{}, false
}

// scaledFunBonus 按得分放大娱乐奖励，倍率 score/100 封顶 1.5；未报分取基础值
func (g Game) scaledFunBonus(score int) int {
	if score <= 0 {
		return g.FunBonus
	}
	m := float64(score) / 100
	if m > 1.5 {
		m = 1.5
	}
	return int(math.Round(float64(g.FunBonus) * m))
}

// PlayGame 让宠物玩一局：娱乐加成、精力与饱食消耗，走统一的 裁剪 → 版本写 路径
// 精力不足时拒绝（门槛为游戏的 EnergyCost）；他人或无主宠物按不存在处理
func (e *DecayEngine) PlayGame(ctx context.Context, id PetID, owner UserID, game Game, score int) (*Pet, StatVector, StatVector, error) {
	pet, err := e.store.GetPet(ctx, id)
	if err != nil {
		return nil, StatVector{}, StatVector{}, err
	}
	if pet.OwnerID == "" || pet.OwnerID != owner {
		return nil, StatVector{}, StatVector{}, fmt.Errorf("pet %s not owned by %s: %w", id, owner, ErrNotFound)
	}
	if pet.Stats.Energy < game.EnergyCost {
		return nil, StatVector{}, StatVector{}, fmt.Errorf("not enough energy to play this game (need %d, have %d): %w",
			game.EnergyCost, pet.Stats.Energy, ErrValidation)
	}

	old := pet.Stats
	next := old
	next.Fun += game.scaledFunBonus(score)
	next.Energy -= game.EnergyCost
	next.Hunger -= game.HungerCost
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
