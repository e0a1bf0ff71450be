package api

import (
	"context"
	"log"
	"net/http"

	"bulletsim/internal/sim"

	"github.com/go-chi/chi/v5"
)

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with a WebSocket hub that streams bullet
// hit and completion events to connected game clients.
type Server struct {
	dispatcher  *sim.Dispatcher
	world       WorldInterface
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
	stopChan    chan struct{}
}

// NewServer creates a new API server with default production configuration.
//
// IMPORTANT: Background workers do NOT start until Start() is called.
// This enables testing by allowing the server to be constructed without
// starting goroutines or opening network listeners.
//
// For testing HTTP endpoints without WebSocket support, use NewRouter() directly.
func NewServer(dispatcher *sim.Dispatcher, w WorldInterface) *Server {
	s := &Server{
		dispatcher: dispatcher,
		world:      w,
		wsHub:      NewWebSocketHub(),
		stopChan:   make(chan struct{}),
	}

	// Create rate limiter (we track it for potential cleanup)
	s.rateLimiter = NewIPRateLimiter(DefaultRateLimitConfig)

	// Build router using the factory
	s.router = NewRouter(RouterConfig{
		Dispatcher:  dispatcher,
		World:       w,
		Hub:         s.wsHub,
		RateLimiter: s.rateLimiter,
	})

	// Dispatcher callbacks fan out over the hub. Set before Start so no
	// event is emitted without a consumer wired.
	dispatcher.OnBulletHit = func(ev sim.HitEvent) {
		if ev.Proximity {
			RecordHit("proximity")
		} else {
			RecordHit("direct")
		}
		s.wsHub.Broadcast("bullet:hit", ev)
	}
	dispatcher.OnBulletComplete = func(ev sim.CompleteEvent) {
		s.wsHub.Broadcast("bullet:complete", ev)
	}

	return s
}

// Start begins the HTTP server AND starts background workers.
// This is the ONLY method that starts goroutines or opens network listeners.
//
// Call this method only once. To stop the server, call Stop.
func (s *Server) Start(addr string) error {
	// Start background workers NOW, not in constructor
	// This is critical for testability - tests can construct the server
	// and use Router() without these workers running.
	go s.wsHub.Run()
	s.wsHub.StartStatsLoop(s.dispatcher, s.stopChan)
	startStatsPublisher(s.dispatcher, s.stopChan)

	log.Printf("🌐 API server starting on %s", addr)
	log.Printf("🔫 Fire endpoint: POST http://localhost%s/api/bullets", addr)

	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Router returns the HTTP handler for use with httptest.
// Use this in integration tests instead of calling Start().
//
// Example:
//
//	server := api.NewServer(dispatcher, world)
//	ts := httptest.NewServer(server.Router())
//	defer ts.Close()
//	resp, _ := http.Get(ts.URL + "/api/stats")
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub for direct broadcasting.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Stop performs graceful shutdown of the listener and background workers.
// Call this before process exit to ensure clean cleanup.
func (s *Server) Stop(ctx context.Context) error {
	close(s.stopChan)
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
