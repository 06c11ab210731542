package server

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log 全局 SugaredLogger；InitLogger 之前是 no-op，测试里可以直接用
var Log *zap.SugaredLogger

func init() {
	Log = zap.NewNop().Sugar()
}

// InitLogger 把日志写入可滚动的本地文件
// stdout 为 true 时同时镜像到标准输出（容器环境用）
func InitLogger(filePath string, stdout bool) error {
	// 单文件 10MB，最多 3 份备份，7 天后淘汰
	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     7,
	})
	if stdout {
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(os.Stdout))
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}), sink, zapcore.DebugLevel)

	Log = zap.New(core, zap.AddCaller()).Sugar()
	return nil
}

// SyncLogger 进程退出前冲刷缓冲
func SyncLogger() {
	if Log != nil {
		_ = Log.Sync()
	}
}
