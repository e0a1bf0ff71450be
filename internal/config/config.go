// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for all simulation and server settings.
//
// IMPORTANT: When changing values, only modify this file.
// All other parts of the codebase should reference these values.
package config

import (
	"os"
	"strconv"
	"time"
)

// =============================================================================
// SIMULATION CONFIGURATION
// =============================================================================

// SimConfig holds the dispatcher and worker pool settings.
// These values are shared between the dispatcher, the workers and the API.
type SimConfig struct {
	PoolSize        int           // Number of parallel simulation workers
	WorkerCapacity  int           // Bullets a single worker accepts before overflow
	TickInterval    time.Duration // Cadence of assignment and worker simulation passes
	ProjectileSpeed float64       // Projectile travel speed in world units per second
	MaxLifetime     time.Duration // Safety valve: no bullet simulates longer than this
	DefaultTimeout  time.Duration // In-flight reclamation timeout when no override is given
	ProximityRadius float64       // Radius of the latency-compensation proximity search
}

// DefaultSim returns the default simulation configuration.
func DefaultSim() SimConfig {
	return SimConfig{
		PoolSize:        14,
		WorkerCapacity:  35,
		TickInterval:    33 * time.Millisecond, // ~30 Hz
		ProjectileSpeed: 1000,
		MaxLifetime:     12 * time.Second,
		DefaultTimeout:  15 * time.Second,
		ProximityRadius: 8.5,
	}
}

// SimFromEnv returns simulation configuration with environment variable overrides.
// Environment variables take precedence over defaults.
func SimFromEnv() SimConfig {
	cfg := DefaultSim()

	if n := getEnvInt("POOL_SIZE", 0); n > 0 {
		cfg.PoolSize = n
	}
	if n := getEnvInt("WORKER_CAPACITY", 0); n > 0 {
		cfg.WorkerCapacity = n
	}
	if ms := getEnvInt("TICK_INTERVAL_MS", 0); ms > 0 {
		cfg.TickInterval = time.Duration(ms) * time.Millisecond
	}
	if s := getEnvFloat("PROJECTILE_SPEED", 0); s > 0 {
		cfg.ProjectileSpeed = s
	}
	if sec := getEnvInt("MAX_LIFETIME_SEC", 0); sec > 0 {
		cfg.MaxLifetime = time.Duration(sec) * time.Second
	}
	if sec := getEnvInt("BULLET_TIMEOUT_SEC", 0); sec > 0 {
		cfg.DefaultTimeout = time.Duration(sec) * time.Second
	}
	if r := getEnvFloat("PROXIMITY_RADIUS", 0); r > 0 {
		cfg.ProximityRadius = r
	}

	return cfg
}

// =============================================================================
// WORLD CONFIGURATION
// =============================================================================

// WorldConfig holds the reference world's bounds and spatial index settings.
type WorldConfig struct {
	Width    float64 // World extent along X
	Height   float64 // World extent along Y
	Depth    float64 // World extent along Z
	CellSize float64 // Spatial grid cell size for proximity queries
}

// DefaultWorld returns the default world configuration.
// CellSize should be at least the proximity radius so a radius query
// touches a single ring of neighboring cells.
func DefaultWorld() WorldConfig {
	return WorldConfig{
		Width:    2048,
		Height:   2048,
		Depth:    2048,
		CellSize: 32,
	}
}

// WorldFromEnv returns world configuration with environment variable overrides.
func WorldFromEnv() WorldConfig {
	cfg := DefaultWorld()

	if w := getEnvFloat("WORLD_WIDTH", 0); w > 0 {
		cfg.Width = w
	}
	if h := getEnvFloat("WORLD_HEIGHT", 0); h > 0 {
		cfg.Height = h
	}
	if d := getEnvFloat("WORLD_DEPTH", 0); d > 0 {
		cfg.Depth = d
	}
	if c := getEnvFloat("WORLD_CELL_SIZE", 0); c > 0 {
		cfg.CellSize = c
	}

	return cfg
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port: 3000,
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Sim    SimConfig
	World  WorldConfig
	Server ServerConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Sim:    SimFromEnv(),
		World:  WorldFromEnv(),
		Server: ServerFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
