package main

import (
	"context"
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
	httpapi "github.com/vendaflow/zapengine/internal/http"
	"github.com/vendaflow/zapengine/internal/metrics"
	"github.com/vendaflow/zapengine/internal/queue"
	"github.com/vendaflow/zapengine/internal/tasks"
	"github.com/vendaflow/zapengine/internal/transport"
	"github.com/vendaflow/zapengine/internal/vault"
	"github.com/vendaflow/zapengine/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := db.Connect(rootCtx, cfg.Database.PostgresURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	store := &core.Store{DB: pool}

	// ---- Transport adapter (construction-time choice) ----
	var adapter transport.Adapter
	switch cfg.Transport.Backend {
	case config.BackendHosted:
		adapter = transport.NewHosted(transport.HostedConfig{
			BaseURL: cfg.Transport.Hosted.BaseURL,
			Token:   cfg.Transport.Hosted.Token,
		}, store)
	default:
		// The default backend cannot run without the vault key.
		v, err := vault.New(cfg.Vault.KeyHex, vault.NewFSStore(cfg.Vault.BlobRoot))
		if err != nil {
			log.Fatalf("vault: %v", err)
		}
		adapter = transport.NewSelfHosted(transport.NewSimDialer(), v, store)
	}

	// ---- Queue (optional: task-queue deployments enqueue out-of-band) ----
	var publisher httpapi.Publisher
	var taskHandler http.Handler
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		publisher = queue.NewRedisBroker(rdb)
	}
	if cfg.Tasks.Secret != "" {
		sender := worker.NewSender(adapter, store, nil, worker.Options{
			SendsPerWindow: cfg.Worker.SendsPerWindow,
			Window:         cfg.Worker.Window,
			SendTimeout:    cfg.Worker.SendTimeout,
		})
		taskHandler = tasks.NewHandler(sender, cfg.Tasks.Secret)
	}

	metrics.MustRegister()
	poolStats := metrics.NewPGXPoolStats(pool)
	stop := make(chan struct{})
	defer close(stop)
	go poolStats.Start(15*time.Second, stop)

	srv := &httpapi.Server{
		Store:       store,
		Adapter:     adapter,
		Queue:       publisher,
		DB:          pool,
		APIKey:      cfg.API.Key,
		CountryCode: cfg.Transport.CountryCode,
		TaskHandler: taskHandler,
	}

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("HTTP listening on %s (backend=%s)", server.Addr, cfg.Transport.Backend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-rootCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}
