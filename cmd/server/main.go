package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mzielin/agent-bridge/internal/agents"
	"github.com/mzielin/agent-bridge/internal/api"
	"github.com/mzielin/agent-bridge/internal/config"
	"github.com/mzielin/agent-bridge/internal/repository/redis"
	"github.com/mzielin/agent-bridge/internal/security"
	"github.com/mzielin/agent-bridge/internal/service"
	"github.com/mzielin/agent-bridge/internal/storage/bolt"
	"github.com/mzielin/agent-bridge/internal/storage/sqlite"
)

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogger(cfg.Logging)

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("agents_api", cfg.Agents.BaseURL).
		Msg("Starting agent-bridge gateway")

	// Durable session mapping store
	kv, err := bolt.Open(filepath.Join(cfg.Storage.Dir, "sessions.db"), cfg.Storage.MaxBytes)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open session store")
	}
	defer kv.Close()

	mappingStore := bolt.NewMappingStore(kv, bolt.MappingOptions{
		IdleTimeout:        cfg.Storage.SessionIdleTimeout,
		CleanupInterval:    cfg.Storage.CleanupInterval,
		MaxSessionsPerUser: cfg.Storage.MaxSessionsPerUser,
	})

	// File metadata store
	fileStore, err := sqlite.NewFileStore(filepath.Join(cfg.Storage.Dir, "files.db"), cfg.Files.MaxEntries)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open file store")
	}
	defer fileStore.Close()

	// Initialize Redis
	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	conversationCache := redis.NewConversationCache(redisClient)

	// Remote agents API client
	agentsClient := agents.NewClient(cfg.Agents.BaseURL, cfg.Agents.APIVersion)

	// Initialize services
	sessionService := service.NewSessionService(mappingStore, mappingStore, agentsClient)
	if err := sessionService.Initialize(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize session service")
	}

	chatService := service.NewChatService(sessionService, agentsClient, cfg.Agents.AssistantID)
	streamService := service.NewStreamService(sessionService, agentsClient, agentsClient, cfg.Agents.AssistantID)
	historyService := service.NewHistoryService(sessionService, agentsClient, conversationCache, mappingStore, fileStore)

	uploadValidator := security.NewUploadValidator(cfg.Files.MaxBytes, cfg.Files.AllowedExtensions)
	fileService := service.NewFileService(sessionService, agentsClient, fileStore, uploadValidator)

	// Periodic session cleanup
	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	defer stopCleanup()
	go runCleanup(cleanupCtx, sessionService, cfg.Storage.CleanupInterval)

	// Initialize router
	router := api.NewRouter(cfg, api.Services{
		Session: sessionService,
		Chat:    chatService,
		Stream:  streamService,
		History: historyService,
		Files:   fileService,
	}, redisClient)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

func setupLogger(cfg config.LoggingConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	if cfg.File != "" {
		rotator, err := rotatelogs.New(
			cfg.File+".%Y%m%d",
			rotatelogs.WithLinkName(cfg.File),
			rotatelogs.WithRotationTime(24*time.Hour),
			rotatelogs.WithMaxAge(7*24*time.Hour),
		)
		if err != nil {
			log.Warn().Err(err).Str("file", cfg.File).Msg("failed to open log file, logging to stderr only")
		} else {
			out = zerolog.MultiLevelWriter(out, rotator)
		}
	}

	log.Logger = log.Output(out)
}

// runCleanup expires idle sessions on a fixed interval
func runCleanup(ctx context.Context, sessions *service.SessionService, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.CleanupExpiredSessions()
		}
	}
}
