package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mzielin/agent-bridge/internal/api/handler"
	customMiddleware "github.com/mzielin/agent-bridge/internal/api/middleware"
	"github.com/mzielin/agent-bridge/internal/config"
	"github.com/mzielin/agent-bridge/internal/repository/redis"
	"github.com/mzielin/agent-bridge/internal/service"
)

// Services groups the wired application services for the router
type Services struct {
	Session *service.SessionService
	Chat    *service.ChatService
	Stream  *service.StreamService
	History *service.HistoryService
	Files   *service.FileService
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, svc Services, redisClient *redis.Client) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.MiddlewareTimeout))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize rate limiter
	rateLimiter := redis.NewRateLimiter(
		redisClient,
		cfg.Security.RateLimit.RequestsPerMinute,
		cfg.Security.RateLimit.Burst,
	)

	// Initialize handlers
	chatHandler := handler.NewChatHandler(svc.Chat, svc.Stream, svc.Session, cfg.Agents.StreamingEnabled)
	historyHandler := handler.NewHistoryHandler(svc.History)
	fileHandler := handler.NewFileHandler(svc.Files, cfg.Files.MaxBytes)
	sessionHandler := handler.NewSessionHandler(svc.Session)

	// Auth middleware
	authMiddleware := customMiddleware.NewAuthMiddleware()
	rateLimitMiddleware := customMiddleware.NewRateLimitMiddleware(rateLimiter)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(redisClient))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Use(rateLimitMiddleware.Limit)

			// Chat
			r.Route("/chat", func(r chi.Router) {
				r.Post("/", chatHandler.Send)
				r.Get("/stream", chatHandler.Stream)
				r.Post("/stream/stop", chatHandler.StopStream)
			})

			// Conversation history
			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", historyHandler.List)
				r.Delete("/", historyHandler.DeleteAll)
				r.Get("/search", historyHandler.Search)
				r.Get("/summary", historyHandler.Summary)

				r.Route("/{threadID}", func(r chi.Router) {
					r.Patch("/title", historyHandler.UpdateTitle)
					r.Delete("/", historyHandler.Delete)
				})
			})

			// Cache management
			r.Post("/cache/flush", historyHandler.FlushCache)

			// Threads and sessions
			r.Route("/threads", func(r chi.Router) {
				r.Get("/", sessionHandler.ListThreads)
				r.Post("/", sessionHandler.NewThread)
				r.Get("/current", sessionHandler.Current)
				r.Post("/switch", sessionHandler.SwitchThread)
				r.Get("/{threadID}/files", fileHandler.ThreadFiles)
			})
			r.Route("/sessions", func(r chi.Router) {
				r.Get("/stats", sessionHandler.Stats)
				r.Post("/deactivate", sessionHandler.Deactivate)
			})

			// Files
			r.Route("/files", func(r chi.Router) {
				r.Get("/", fileHandler.List)
				r.Post("/", fileHandler.Upload)
				r.Delete("/{fileID}", fileHandler.Delete)
			})
		})
	})

	return r
}
