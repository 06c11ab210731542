package server

import (
	"context"
	"fmt"
)

// dangerStatFloor 任一属性低于该值即计入濒危（统计口径，与通知阈值无关）
const dangerStatFloor = 30

// StatsSummary 全局概要
type StatsSummary struct {
	TotalPets    int `json:"totalPets"`
	TotalUsers   int `json:"totalUsers"`
	PetsInDanger int `json:"petsInDanger"`
}

// PetsPerUser 每用户宠物数的分布（只统计有主的宠物）
type PetsPerUser struct {
	Avg float64 `json:"avgPetsPerUser"`
	Max int     `json:"maxPetsPerUser"`
	Min int     `json:"minPetsPerUser"`
}

// AverageStats 全体宠物的属性均值
type AverageStats struct {
	AvgLevel   float64 `json:"avgLevel"`
	AvgHunger  float64 `json:"avgHunger"`
	AvgHygiene float64 `json:"avgHygiene"`
	AvgEnergy  float64 `json:"avgEnergy"`
	AvgFun     float64 `json:"avgFun"`
	MaxLevel   int     `json:"maxLevel"`
}

// LevelBucket 等级分布中的一档
type LevelBucket struct {
	Level int `json:"level"`
	Count int `json:"count"`
}

// TopOwner 宠物数最多的用户条目
type TopOwner struct {
	UserID     UserID  `json:"userId"`
	UserName   string  `json:"userName"`
	PetCount   int     `json:"petCount"`
	TotalLevel int     `json:"totalLevel"`
	AvgHunger  float64 `json:"avgHunger"`
}

// GlobalStats GET /stats 的响应
type GlobalStats struct {
	Summary           StatsSummary  `json:"summary"`
	PetsPerUser       PetsPerUser   `json:"petsPerUser"`
	AverageStats      AverageStats  `json:"averageStats"`
	LevelDistribution []LevelBucket `json:"levelDistribution"`
	TopUsers          []TopOwner    `json:"topUsers"`
}

// OwnerPetStats 单个用户名下宠物的聚合
type OwnerPetStats struct {
	TotalPets    int     `json:"totalPets"`
	TotalLevel   int     `json:"totalLevel"`
	AvgLevel     float64 `json:"avgLevel"`
	AvgHunger    float64 `json:"avgHunger"`
	AvgHygiene   float64 `json:"avgHygiene"`
	AvgEnergy    float64 `json:"avgEnergy"`
	AvgFun       float64 `json:"avgFun"`
	HighestLevel int     `json:"highestLevel"`
}

// UserStats GET /stats/users/{id} 的响应
type UserStats struct {
	UserID       UserID        `json:"userId"`
	Stats        OwnerPetStats `json:"stats"`
	PetsInDanger int           `json:"petsInDanger"`
}

// GlobalStats 全局统计；空库返回全零而不是错误
func (s *Store) GlobalStats(ctx context.Context) (*GlobalStats, error) {
	out := &GlobalStats{
		LevelDistribution: []LevelBucket{},
		TopUsers:          []TopOwner{},
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pets`).
		Scan(&out.Summary.TotalPets); err != nil {
		return nil, fmt.Errorf("count pets: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).
		Scan(&out.Summary.TotalUsers); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pets WHERE hunger < ? OR hygiene < ? OR energy < ? OR fun < ?`,
		dangerStatFloor, dangerStatFloor, dangerStatFloor, dangerStatFloor).
		Scan(&out.Summary.PetsInDanger); err != nil {
		return nil, fmt.Errorf("count pets in danger: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(c), 0), COALESCE(MAX(c), 0), COALESCE(MIN(c), 0)
		 FROM (SELECT COUNT(*) AS c FROM pets WHERE owner_id IS NOT NULL GROUP BY owner_id)`).
		Scan(&out.PetsPerUser.Avg, &out.PetsPerUser.Max, &out.PetsPerUser.Min); err != nil {
		return nil, fmt.Errorf("pets per user: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(level), 0), COALESCE(AVG(hunger), 0), COALESCE(AVG(hygiene), 0),
		        COALESCE(AVG(energy), 0), COALESCE(AVG(fun), 0), COALESCE(MAX(level), 0)
		 FROM pets`).
		Scan(&out.AverageStats.AvgLevel, &out.AverageStats.AvgHunger, &out.AverageStats.AvgHygiene,
			&out.AverageStats.AvgEnergy, &out.AverageStats.AvgFun, &out.AverageStats.MaxLevel); err != nil {
		return nil, fmt.Errorf("average stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT level, COUNT(*) FROM pets GROUP BY level ORDER BY level`)
	if err != nil {
		return nil, fmt.Errorf("level distribution: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b LevelBucket
		if err := rows.Scan(&b.Level, &b.Count); err != nil {
			return nil, fmt.Errorf("scan level bucket: %w", err)
		}
		out.LevelDistribution = append(out.LevelDistribution, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	top, err := s.db.QueryContext(ctx,
		`SELECT p.owner_id, u.name, COUNT(*) AS pet_count, SUM(p.level), ROUND(AVG(p.hunger), 2)
		 FROM pets p JOIN users u ON u.id = p.owner_id
		 GROUP BY p.owner_id, u.name
		 ORDER BY pet_count DESC
		 LIMIT 5`)
	if err != nil {
		return nil, fmt.Errorf("top users: %w", err)
	}
	defer top.Close()
	for top.Next() {
		var o TopOwner
		var uid string
		if err := top.Scan(&uid, &o.UserName, &o.PetCount, &o.TotalLevel, &o.AvgHunger); err != nil {
			return nil, fmt.Errorf("scan top user: %w", err)
		}
		o.UserID = UserID(uid)
		out.TopUsers = append(out.TopUsers, o)
	}
	return out, top.Err()
}

// UserStats 单个用户的宠物聚合；该用户没有宠物时返回全零
func (s *Store) UserStats(ctx context.Context, id UserID) (*UserStats, error) {
	out := &UserStats{UserID: id}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(level), 0), COALESCE(AVG(level), 0),
		        COALESCE(AVG(hunger), 0), COALESCE(AVG(hygiene), 0),
		        COALESCE(AVG(energy), 0), COALESCE(AVG(fun), 0), COALESCE(MAX(level), 0)
		 FROM pets WHERE owner_id = ?`, string(id)).
		Scan(&out.Stats.TotalPets, &out.Stats.TotalLevel, &out.Stats.AvgLevel,
			&out.Stats.AvgHunger, &out.Stats.AvgHygiene,
			&out.Stats.AvgEnergy, &out.Stats.AvgFun, &out.Stats.HighestLevel); err != nil {
		return nil, fmt.Errorf("user pet stats: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pets
		 WHERE owner_id = ? AND (hunger < ? OR hygiene < ? OR energy < ? OR fun < ?)`,
		string(id), dangerStatFloor, dangerStatFloor, dangerStatFloor, dangerStatFloor).
		Scan(&out.PetsInDanger); err != nil {
		return nil, fmt.Errorf("user pets in danger: %w", err)
	}
	return out, nil
}
