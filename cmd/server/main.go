package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"movt.app/backend/internal/api"
	"movt.app/backend/internal/config"
	"movt.app/backend/internal/core"
	"movt.app/backend/internal/identity"
	"movt.app/backend/internal/realtime"
	"movt.app/backend/internal/store"
	"movt.app/backend/internal/supabase"
	"movt.app/backend/internal/utils"
)

func main() {
	// Load configuration
	config.LoadConfig()
	cfg := config.AppConfig

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if cfg.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	migrateOnly := flag.Bool("migrate", false, "Apply database migrations and exit")
	flag.Parse()

	// Initialize database store; migrations run on open
	dbStore, err := store.NewSQLStore(store.Options{
		Driver:          cfg.DatabaseDriver,
		DSN:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		ConnectTimeout:  cfg.DBConnectTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	if *migrateOnly {
		version, err := dbStore.SchemaVersion(context.Background())
		if err != nil {
			log.Fatalf("Failed to read schema version: %v", err)
		}
		log.Printf("Database schema at version %d. Exiting.", version)
		return
	}

	// Identity cache and realtime fan-out share one Redis client when configured
	var (
		cache  identity.Cache
		events realtime.Publisher = realtime.Nop{}
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		cache = identity.NewRedisCache(rdb, cfg.IdentityCacheTTL)
		events = realtime.NewRedisPublisher(rdb)
		log.Printf("Using Redis at %s for identity cache and realtime events", cfg.RedisAddr)
	} else {
		cache = identity.NewMemoryCache(cfg.IdentityCacheTTL)
	}

	// A nil provider sends the bridge straight to degraded identifiers
	var provider identity.Provider
	if cfg.SupabaseEnabled() {
		provider = supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey)
	} else {
		log.Println("Supabase not configured, chat identities will be generated locally")
	}
	bridge := identity.NewBridge(dbStore, provider, cache)

	cipher, err := utils.NewMessageCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize message cipher: %v", err)
	}

	tasks := core.NewBackground(cfg.BackgroundWorkers)
	bookingService := core.NewBookingService(dbStore, tasks)
	chatService := core.NewChatService(dbStore, bridge, cipher, events, tasks)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(bookingService, chatService, dbStore, bridge)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Let rating refreshes and event publishes still in flight finish
	tasks.Close()
	log.Println("Server exiting gracefully")
}
