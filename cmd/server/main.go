package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"social-chat/internal/auth"
	"social-chat/internal/config"
	"social-chat/internal/database"
	"social-chat/internal/handlers"
	"social-chat/internal/presence"
	"social-chat/internal/router"
	"social-chat/internal/services"
	"social-chat/internal/websocket"
	"social-chat/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open history store", "backend", cfg.History.Backend, "error", err)
	}
	defer db.Close()

	// Presence and routing
	registry := presence.NewRegistry()
	registry.Subscribe(presence.NewBroadcaster())
	messageRouter := router.New(registry, db, router.Options{
		Directory:    db,
		HistoryLimit: cfg.History.Limit,
	})

	// Initialize services
	authService := auth.NewService(db, cfg.JWT)
	chatService := services.NewChatService(messageRouter, registry, cfg.History.Limit)

	// Initialize WebSocket hub
	hub := websocket.NewHub(chatService, cfg.WebSocket, cfg.RateLimit)

	// Initialize handlers
	origins := cfg.Server.Origins()
	authHandlers := handlers.NewAuthHandlers(authService)
	messageHandlers := handlers.NewMessageHandlers(chatService)
	wsHandlers := handlers.NewWebSocketHandlers(authService, hub, origins)

	// Setup routes
	mux := http.NewServeMux()
	handlers.SetupRoutes(mux, authService, authHandlers, messageHandlers, wsHandlers)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      handlers.CORS(origins, mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("Server started", "addr", cfg.Server.Port, "history_backend", cfg.History.Backend)
	for _, endpoint := range handlers.Endpoints {
		logger.Debug("Route registered", "endpoint", endpoint)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	select {
	case <-ctx.Done():
		logger.Info("Server shutting down...")
	case err := <-serverErr:
		logger.Error("Server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Error("WebSocket hub shutdown failed", "error", err)
	}
	registry.Close()
	logger.Info("Server stopped")
}

func openDatabase(ctx context.Context, cfg *config.Config) (database.Database, error) {
	switch cfg.History.Backend {
	case config.BackendPostgres:
		db, err := database.NewPostgresDB(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.BackendBadger:
		if err := os.MkdirAll(cfg.History.BadgerPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create badger directory: %w", err)
		}
		db, err := database.NewBadgerDB(cfg.History.BadgerPath)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.History.Backend)
	}
}
