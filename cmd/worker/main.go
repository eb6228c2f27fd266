package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/vendaflow/zapengine/internal/config"
	"github.com/vendaflow/zapengine/internal/core"
	"github.com/vendaflow/zapengine/internal/db"
	"github.com/vendaflow/zapengine/internal/metrics"
	"github.com/vendaflow/zapengine/internal/queue"
	"github.com/vendaflow/zapengine/internal/transport"
	"github.com/vendaflow/zapengine/internal/vault"
	"github.com/vendaflow/zapengine/internal/worker"
)

func main() {
	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Printf("config: %v", err)
		exitCode = 1
		return
	}
	if !cfg.Redis.Enabled {
		log.Printf("worker requires REDIS_ADDR (broker queue + session lock)")
		exitCode = 1
		return
	}

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := db.Connect(rootCtx, cfg.Database.PostgresURL)
	if err != nil {
		log.Printf("db: %v", err)
		exitCode = 1
		return
	}
	defer pool.Close()

	store := &core.Store{DB: pool}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(rootCtx).Err(); err != nil {
		log.Printf("redis ping: %v", err)
		exitCode = 1
		return
	}

	var adapter transport.Adapter
	var lock worker.Locker
	switch cfg.Transport.Backend {
	case config.BackendHosted:
		// The provider serializes per session; no local lock needed.
		adapter = transport.NewHosted(transport.HostedConfig{
			BaseURL: cfg.Transport.Hosted.BaseURL,
			Token:   cfg.Transport.Hosted.Token,
		}, store)
	default:
		v, err := vault.New(cfg.Vault.KeyHex, vault.NewFSStore(cfg.Vault.BlobRoot))
		if err != nil {
			log.Printf("vault: %v", err)
			exitCode = 1
			return
		}
		adapter = transport.NewSelfHosted(transport.NewSimDialer(), v, store)
		lock = queue.NewSessionLock(rdb, cfg.Worker.LockTTL)
	}

	broker := queue.NewRedisBroker(rdb)
	sender := worker.NewSender(adapter, store, lock, worker.Options{
		Concurrency:    cfg.Worker.Concurrency,
		SendsPerWindow: cfg.Worker.SendsPerWindow,
		Window:         cfg.Worker.Window,
		SendTimeout:    cfg.Worker.SendTimeout,
	})

	metrics.MustRegister()
	go watchQueueDepth(rootCtx, broker)
	go serveHealthz()

	log.Printf("worker running (backend=%s concurrency=%d limit=%d/%s)",
		cfg.Transport.Backend, cfg.Worker.Concurrency, cfg.Worker.SendsPerWindow, cfg.Worker.Window)

	if err := worker.RunEngine(rootCtx, broker, sender, cfg.Worker.Concurrency); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("worker exited: %v", err)
		exitCode = 1
		return
	}
}

func watchQueueDepth(ctx context.Context, broker *queue.RedisBroker) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := broker.PendingDepth(ctx); err == nil {
				metrics.QueueDepth.Set(float64(n))
			}
		}
	}
}

func serveHealthz() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	addr := os.Getenv("HEALTH_ADDR")
	if addr == "" {
		addr = "0.0.0.0:9090"
	}
	_ = http.ListenAndServe(addr, mux)
}
