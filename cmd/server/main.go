package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"bulletsim/internal/api"
	"bulletsim/internal/config"
	"bulletsim/internal/sim"
	"bulletsim/internal/world"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🔫 ================================")
	log.Println("🔫  BULLETSIM - DISPATCH ENGINE")
	log.Println("🔫 ================================")

	// Load centralized configuration (SSOT - Single Source of Truth)
	appConfig := config.Load()
	simCfg := appConfig.Sim
	worldCfg := appConfig.World
	serverCfg := appConfig.Server

	port := strconv.Itoa(serverCfg.Port)

	log.Printf("🎮 Config: %d workers x %d capacity, tick %s, speed %.0f u/s",
		simCfg.PoolSize, simCfg.WorkerCapacity, simCfg.TickInterval, simCfg.ProjectileSpeed)
	log.Printf("🌍 World: %.0fx%.0fx%.0f, cell %.0f",
		worldCfg.Width, worldCfg.Height, worldCfg.Depth, worldCfg.CellSize)

	// Shared world state: the single Query/Directory implementation all
	// workers read from.
	w := world.NewWorld(worldCfg.Width, worldCfg.Height, worldCfg.Depth, worldCfg.CellSize)

	// Dispatcher with its fixed worker pool
	dispatcher := sim.NewDispatcher(simCfg, w, w)

	// Start debug server
	debugCfg := api.DefaultObservabilityConfig()
	if os.Getenv("DISABLE_DEBUG_SERVER") != "true" {
		if err := api.StartDebugServer(debugCfg); err != nil {
			log.Printf("⚠️ Debug server disabled: %v", err)
		}
	}

	// Extra browser origin for the WebSocket feed
	api.SetAllowedOrigin(os.Getenv("WS_ALLOWED_ORIGIN"))

	// API server wires dispatcher callbacks to the WebSocket hub
	server := api.NewServer(dispatcher, w)

	// Start dispatcher and workers
	dispatcher.Start()
	log.Println("✅ Dispatcher started")

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		addr := ":" + port
		log.Printf("🌐 API server on http://localhost%s", addr)
		return server.Start(addr)
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		log.Println("✅ Server ready! Press Ctrl+C to stop.")
		select {
		case <-quit:
		case <-ctx.Done():
			return ctx.Err()
		}

		log.Println("🛑 Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			log.Printf("⚠️ HTTP shutdown: %v", err)
		}
		dispatcher.Shutdown()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("👋 Goodbye!")
}
