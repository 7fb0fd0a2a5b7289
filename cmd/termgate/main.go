package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/termgate-dev/termgate/internal/auth"
	"github.com/termgate-dev/termgate/internal/config"
	"github.com/termgate-dev/termgate/internal/files"
	"github.com/termgate-dev/termgate/internal/gc"
	"github.com/termgate-dev/termgate/internal/logger"
	"github.com/termgate-dev/termgate/internal/middleware"
	"github.com/termgate-dev/termgate/internal/models"
	"github.com/termgate-dev/termgate/internal/terminal"
	"github.com/termgate-dev/termgate/internal/ticket"
)

func main() {
	configPath := flag.String("config", os.Getenv("TERMGATE_CONFIG"), "path to YAML config file")
	flag.Parse()

	logger.Initialize(os.Getenv("TERMGATE_LOG_LEVEL"), os.Getenv("TERMGATE_LOG_PRETTY") == "true")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	// Re-initialize with the configured level once config is available.
	logger.Initialize(cfg.LogLevel, cfg.LogPretty)

	// User registry from configuration, credentials from the persisted file.
	users := make([]*models.User, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		users = append(users, &models.User{
			ID:           u.ID,
			PasswordHash: u.PasswordHash,
			Root:         u.Root,
		})
	}
	registry, err := models.NewRegistry(users, cfg.CredentialsFile)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load user registry")
	}

	// Stores. All in-memory and process-local; state dies with the process.
	revocation := auth.NewRevocationStore()
	sessions := auth.NewSessionStore()
	tickets := ticket.NewStore()

	tokens := auth.NewTokenService(cfg.JWTSecret, auth.DefaultTokenTTL, revocation)

	webauthnVerifier, err := auth.NewWebAuthnVerifier(cfg.WebAuthn.RPID, cfg.WebAuthn.RPOrigin, registry, sessions)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to initialize WebAuthn")
	}
	otpChannel := auth.NewOTPChannel(cfg.OTP.WebhookURL, sessions)

	authHandler := auth.NewHandler(registry, tokens, sessions, webauthnVerifier, otpChannel)
	terminalHandler := terminal.NewHandler(registry, tickets, cfg.Shell, cfg.WebAuthn.RPOrigin)
	filesHandler := files.NewHandler(registry)

	// GC loop over the expiring stores.
	gcLoop := gc.NewLoop(revocation, sessions, tickets)
	if err := gcLoop.Start(); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to start GC loop")
	}
	defer gcLoop.Stop()

	// Router and middleware chain.
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.StructuredLogger())
	router.Use(middleware.SecurityHeaders())

	// Per-IP rate limiting guards the credential ladder.
	authLimiter := middleware.NewRateLimiter(1, 10)

	authGroup := router.Group("/auth", middleware.JSONSizeLimiter(), authLimiter.Middleware())
	authedAuthGroup := router.Group("/auth", middleware.JSONSizeLimiter(), auth.Middleware(tokens))
	authHandler.RegisterRoutes(authGroup, authedAuthGroup)

	wsGroup := router.Group("/ws")
	authedWSGroup := router.Group("/ws", auth.Middleware(tokens))
	terminalHandler.RegisterRoutes(wsGroup, authedWSGroup)

	filesGroup := router.Group("/files", auth.Middleware(tokens))
	filesHandler.RegisterRoutes(filesGroup, middleware.UploadSizeLimiter(cfg.MaxUploadSizeMB))

	srv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		var err error
		if cfg.TLS.Cert != "" {
			logger.Log.Info().Str("addr", cfg.BindAddr).Msg("Listening with TLS")
			err = srv.ListenAndServeTLS(cfg.TLS.Cert, cfg.TLS.Key)
		} else {
			logger.Log.Info().Str("addr", cfg.BindAddr).Msg("Listening")
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM. Shutdown neither closes nor waits
	// for hijacked WebSocket connections; open PTY sessions end when the
	// process exits and their PTY masters are closed.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error().Err(err).Msg("Forced shutdown")
	}
}
