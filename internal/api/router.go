package api

import (
	"net/http"
	"time"

	"bulletsim/internal/sim"
	"bulletsim/internal/world"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DispatcherInterface defines the dispatcher methods used by the API.
// This interface enables mocking for tests without spinning up the full
// worker pool. Keep this minimal - only include methods the API layer
// actually calls.
type DispatcherInterface interface {
	// QueueGeneralBullet queues a bullet with a caller-chosen reclamation timeout
	QueueGeneralBullet(spec sim.BulletSpec, timeout time.Duration) (string, error)
	// QueueInstantBullet queues a hitscan bullet
	QueueInstantBullet(participant int64, damage, bulletRange float64, origin, direction world.Vec3) (string, error)
	// QueueProjectileBullet queues a tick-simulated bullet
	QueueProjectileBullet(participant int64, damage, bulletRange float64, origin, direction world.Vec3) (string, error)
	// CancelBullet cancels a pending or assigned bullet (no-op if unknown)
	CancelBullet(id string)
	// GetStats returns a dispatcher stats snapshot
	GetStats() sim.Stats
}

// WorldInterface defines the world methods used by the API.
type WorldInterface interface {
	AddParticipant(participant int64, pos world.Vec3, radius float64) uint64
	AddTarget(pos world.Vec3, radius float64, living bool) uint64
	AddObstacle(min, max world.Vec3)
	RemoveParticipant(participant int64)
	Remove(handle uint64)
	ParticipantHandle(participant int64) (uint64, bool)
	SetPosition(handle uint64, pos world.Vec3) bool
	SetVelocity(handle uint64, vel world.Vec3) bool
	EntityCount() int
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
// This struct is designed for dependency injection and testability.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Dispatcher: mockDispatcher,
//	    World:      w,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Dispatcher is the bullet dispatcher (required)
	Dispatcher DispatcherInterface

	// World is the shared world state (required)
	World WorldInterface

	// Hub is an optional WebSocket hub for the /ws endpoint.
	// If nil, /ws is not registered.
	Hub *WebSocketHub

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, uses the default development origins.
	CORSOrigins []string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler functions for the router.
// This is used internally to pass handlers to route setup.
type routerHandlers struct {
	dispatcher DispatcherInterface
	world      WorldInterface
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function is PURE - it has no side effects:
//   - No goroutines are started
//   - No network listeners are opened
//   - No background workers are launched
//
// This makes it safe to use in tests with httptest.NewServer.
//
// Example:
//
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
//	defer ts.Close()
//	resp, _ := http.Get(ts.URL + "/api/stats")
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	// CORS configuration
	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	// Create handlers struct
	h := &routerHandlers{
		dispatcher: cfg.Dispatcher,
		world:      cfg.World,
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Bullet lifecycle
		r.Post("/bullets", h.handleFireBullet)
		r.Post("/bullets/instant", h.handleFireInstant)
		r.Post("/bullets/projectile", h.handleFireProjectile)
		r.Delete("/bullets/{id}", h.handleCancelBullet)

		// Dispatcher introspection
		r.Get("/stats", h.handleGetStats)
		r.Get("/workers", h.handleGetWorkers)

		// World management
		r.Route("/world", func(r chi.Router) {
			r.Post("/participants", h.handleAddParticipant)
			r.Post("/participants/{id}/position", h.handleMoveParticipant)
			r.Delete("/participants/{id}", h.handleRemoveParticipant)
			r.Post("/targets", h.handleAddTarget)
			r.Post("/obstacles", h.handleAddObstacle)
		})
	})

	// WebSocket event feed
	if cfg.Hub != nil {
		r.Get("/ws", cfg.Hub.HandleWebSocket)
	}

	// Health check for load balancers
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
