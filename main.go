package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tamaworld/server"
)

// tamaworld 入口：启动 HTTP + WebSocket 服务，并初始化衰减调度器
func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		panic(err)
	}
	// 命令行 flag 优先于环境变量
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "server listen address, e.g. :8080")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite database path")
	flag.Parse()

	// 使用第三方 zap 日志库写入 app.log（带滚动）
	if err := server.InitLogger(cfg.LogFile, cfg.LogStdout); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	store, err := server.OpenStore(cfg.DBPath)
	if err != nil {
		server.Log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	hub := server.NewHub(cfg, store)
	scheduler := server.NewTickScheduler(store, hub.Engine(), hub, cfg.TickInterval)
	api := server.NewAPI(hub, scheduler)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.HandleWS(hub))
	api.Routes(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	scheduler.Start()

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		server.Log.Infof("tamaworld listening on %s (tick every %v)", cfg.Addr, cfg.TickInterval)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			server.Log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	server.Log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	scheduler.Stop()
}
