package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/docchat/internal/api"
	"github.com/wuwenbin0122/docchat/internal/auth"
	"github.com/wuwenbin0122/docchat/internal/session"
	"github.com/wuwenbin0122/docchat/internal/utils"
	"github.com/wuwenbin0122/docchat/services"
)

func main() {
	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger := utils.MustNewSugaredLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	policy, err := services.NewContextPolicy(cfg.Context)
	if err != nil {
		logger.Fatalf("context policy: %v", err)
	}

	authService, err := auth.NewService(cfg.Session.Secret, cfg.Session.TTL)
	if err != nil {
		logger.Fatalf("failed to initialise auth service: %v", err)
	}

	sessions := session.NewManager(cfg.Session.TTL)
	orchestrator := services.NewOrchestrator(
		services.NewChatService(cfg.Chat, logger.Named("chat")),
		services.NewLookupService(cfg.Lookup, logger.Named("lookup")),
		policy,
		logger.Named("turns"),
	)

	handler := api.NewHandler(authService, sessions, orchestrator, logger.Named("api"))
	handler.DefaultCredential = cfg.Chat.APIKey
	handler.UploadMaxBytes = cfg.Session.UploadMaxBytes

	router := setupRouter(handler)

	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// chat completions on long documents can take a while
		WriteTimeout: cfg.Chat.Timeout + cfg.Lookup.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweepSessions(sweepCtx, sessions, logger)

	go func() {
		logger.Infow("server listening", "addr", server.Addr, "model", cfg.Chat.Model, "context_policy", cfg.Context.Policy)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server crashed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("graceful shutdown failed: %v", err)
	}

	logger.Info("server stopped cleanly")
}

func setupRouter(handler *api.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	handler.RegisterRoutes(router)

	return router
}

func sweepSessions(ctx context.Context, sessions *session.Manager, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if dropped := sessions.Sweep(now); dropped > 0 {
				logger.Infow("expired sessions removed", "count", dropped, "live", sessions.Len())
			}
		}
	}
}
