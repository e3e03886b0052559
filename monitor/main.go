package main

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantfold/ordermon/monitor/cache"
	"github.com/quantfold/ordermon/monitor/config"
	"github.com/quantfold/ordermon/monitor/store"
	"github.com/quantfold/ordermon/monitor/userlog"
)

func main() {
	cfg := config.FromEnv()

	ctx := context.Background()

	pg, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pg.Close()
	log.Printf("Connected to Postgres")

	redis, err := cache.NewRedisGateway(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
	}
	defer redis.Close()
	log.Printf("Connected to Redis at %s", cfg.RedisAddr)

	logs, err := userlog.NewManager(cfg.UserLogDir)
	if err != nil {
		log.Fatalf("Failed to open user log dir %s: %v", cfg.UserLogDir, err)
	}
	defer logs.Close()

	core := NewCore(cfg, pg, redis, logs, defaultTransition)
	core.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/ws/notifications", core.Hub())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if err := pg.Ping(ctx); err != nil {
			http.Error(w, "store unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Printf("Order monitor listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Printf("Received %v, shutting down", s)
	case <-core.Fatal():
		log.Printf("Backends unreachable, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	core.Stop()
	log.Printf("Shutdown complete")
}

// defaultTransition is a stand-in exchange check used when the binary runs
// without a real exchange adapter: it never reports a change. Deployments
// replace this with their venue's status poll.
func defaultTransition(_ context.Context, o *store.Order) (Transition, error) {
	// Small jitter so N workers polling an idle book do not align.
	time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
	return Transition{}, nil
}
