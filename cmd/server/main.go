package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"momo-collab/internal/api"
	"momo-collab/internal/auth"
	"momo-collab/internal/broker"
	"momo-collab/internal/collaboration"
	"momo-collab/internal/config"
	"momo-collab/internal/db"
	"momo-collab/internal/repository"
	"momo-collab/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	shutdownTracer, err := telemetry.InitJaeger("momo-collab", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("tracing disabled: %v", err)
		shutdownTracer = func(context.Context) error { return nil }
	}

	database, err := db.NewGorm(cfg)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	userRepo := repository.NewUserRepository(database.DB)
	docRepo := repository.NewDocumentRepository(database.DB)
	stateRepo := repository.NewStateRepository(database.DB)

	authenticator := auth.NewAuthenticator([]byte(cfg.JWTSecret), docRepo, userRepo)

	manager := collaboration.NewManager(stateRepo, cfg.Debounce, cfg.MaxDebounce)

	var updates *broker.RedisBroker
	if cfg.RedisAddr != "" {
		updates, err = broker.NewRedisBroker(cfg.RedisAddr)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		manager.SetBroker(updates)
		log.Printf("cross-instance updates enabled via %s", cfg.RedisAddr)
	}

	wsHandler := collaboration.NewWebSocketHandler(manager, authenticator)
	handler := api.NewHandler(userRepo, docRepo, wsHandler, []byte(cfg.JWTSecret), cfg.TokenTTL)
	router := api.SetupRoutes(handler, []byte(cfg.JWTSecret))

	server := &http.Server{
		Addr:    cfg.ServerHost + ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		log.Printf("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("server shutdown: %v", err)
	}

	// Flush every dirty room before the process exits.
	manager.Shutdown()

	if updates != nil {
		updates.Close()
	}
	if err := shutdownTracer(ctx); err != nil {
		log.Printf("tracer shutdown: %v", err)
	}
	if err := database.Close(); err != nil {
		log.Printf("database close: %v", err)
	}
}
