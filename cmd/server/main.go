package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"quill/internal/app"
	"quill/internal/auth"
	"quill/internal/config"
	"quill/internal/handler"
	"quill/internal/handler/sse"
	"quill/internal/middleware"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	logger, logCloser, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
		"broker", cfg.Broker,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Auth: JWKS in every environment except an explicit dev bypass
	var authMiddleware func(http.Handler) http.Handler
	if cfg.AuthDisabled {
		logger.Warn("authentication disabled", "dev_user_id", cfg.DevUserID)
		authMiddleware = middleware.DevAuth(cfg.DevUserID)
	} else {
		jwtVerifier, err := auth.NewJWTVerifier(ctx, cfg.JWKSURL, logger)
		if err != nil {
			log.Fatalf("Failed to create JWT verifier: %v", err)
		}
		defer jwtVerifier.Close()
		authMiddleware = middleware.Auth(jwtVerifier, logger)
	}

	sseConfig := sse.DefaultConfig()
	if cfg.HeartbeatInterval > 0 {
		sseConfig.HeartbeatInterval = cfg.HeartbeatInterval
	}

	a, err := app.New(ctx, cfg, sseConfig.BufferSize, logger)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	pipeline, err := a.NewPipeline()
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}
	if err := pipeline.Register(a.Broker, a.Pipeline); err != nil {
		log.Fatalf("Failed to register pipeline consumers: %v", err)
	}

	// Background workers: consumers, status relay, heartbeats
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.Broker.Run(ctx); err != nil {
			logger.Error("broker stopped", "error", err)
		}
	}()

	if a.Relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("status relay stopped", "error", err)
			}
		}()
	}

	heartbeat := sse.NewTickerKeepAlive(sseConfig.HeartbeatInterval)
	heartbeatDone := heartbeat.Start(a.Registry, logger)

	// Handlers
	docHandler := handler.NewDocumentHandler(a.Lifecycle, logger)
	streamHandler := handler.NewStatusStreamHandler(a.Lifecycle, a.Registry, logger)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, docHandler, streamHandler)

	// Order: CORS → Recovery → Auth → Routes
	var h http.Handler = mux
	h = middleware.RequestLogger(logger)(h)
	h = authMiddleware(h)
	h = middleware.Recovery(logger)(h)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID", "X-User-ID"},
		AllowCredentials: true,
	})
	h = corsHandler.Handler(h)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
		// Request contexts end on shutdown so open status streams return.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info("http server listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	heartbeat.Stop()
	<-heartbeatDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown incomplete", "error", err)
	}

	wg.Wait()
	logger.Info("server stopped")
}
