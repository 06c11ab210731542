package server

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config 服务运行配置，全部可由环境变量覆盖
// 命令行 flag（-addr / -db）在 main 中叠加在环境变量之上
type Config struct {
	Addr      string `env:"TAMAWORLD_ADDR" envDefault:":8080"`
	DBPath    string `env:"TAMAWORLD_DB" envDefault:"tamaworld.db"`
	LogFile   string `env:"TAMAWORLD_LOG" envDefault:"app.log"`
	LogStdout bool   `env:"TAMAWORLD_LOG_STDOUT" envDefault:"false"`

	// JWT 密钥与令牌有效期（默认 7 天）
	JWTSecret string        `env:"TAMAWORLD_SECRET" envDefault:"my-secret-key"`
	TokenTTL  time.Duration `env:"TAMAWORLD_TOKEN_TTL" envDefault:"168h"`

	// Tick 周期与每次衰减量
	TickInterval time.Duration `env:"TAMAWORLD_TICK_INTERVAL" envDefault:"5m"`
	DecayDelta   int           `env:"TAMAWORLD_DECAY_DELTA" envDefault:"25"`

	// 通知去重窗口：窗口内相同 (petId, message) 只发一次
	DedupWindow time.Duration `env:"TAMAWORLD_DEDUP_WINDOW" envDefault:"2s"`

	// location:join 未指定 radius 时的默认查询半径（米）
	DefaultRadius float64 `env:"TAMAWORLD_DEFAULT_RADIUS" envDefault:"1000"`
}

// LoadConfig 从环境变量解析配置
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DecayDelta < 0 {
		return Config{}, fmt.Errorf("decay delta must be >= 0, got %d", cfg.DecayDelta)
	}
	if cfg.TickInterval <= 0 {
		return Config{}, fmt.Errorf("tick interval must be positive, got %v", cfg.TickInterval)
	}
	return cfg, nil
}
