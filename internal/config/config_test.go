package config

import (
	"testing"
	"time"
)

// TestDefaults verifies the baked-in configuration values
func TestDefaults(t *testing.T) {
	sim := DefaultSim()
	if sim.PoolSize != 14 {
		t.Errorf("Expected pool size 14, got %d", sim.PoolSize)
	}
	if sim.WorkerCapacity != 35 {
		t.Errorf("Expected capacity 35, got %d", sim.WorkerCapacity)
	}
	if sim.DefaultTimeout != 15*time.Second {
		t.Errorf("Expected timeout 15s, got %v", sim.DefaultTimeout)
	}

	world := DefaultWorld()
	if world.CellSize < sim.ProximityRadius {
		t.Error("Cell size should cover the proximity radius")
	}
}

// TestEnvOverrides verifies environment variables take precedence
func TestEnvOverrides(t *testing.T) {
	t.Setenv("POOL_SIZE", "4")
	t.Setenv("TICK_INTERVAL_MS", "50")
	t.Setenv("PROJECTILE_SPEED", "250.5")
	t.Setenv("PORT", "8080")

	cfg := Load()

	if cfg.Sim.PoolSize != 4 {
		t.Errorf("Expected pool size 4, got %d", cfg.Sim.PoolSize)
	}
	if cfg.Sim.TickInterval != 50*time.Millisecond {
		t.Errorf("Expected tick 50ms, got %v", cfg.Sim.TickInterval)
	}
	if cfg.Sim.ProjectileSpeed != 250.5 {
		t.Errorf("Expected speed 250.5, got %v", cfg.Sim.ProjectileSpeed)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
}

// TestEnvOverridesIgnoreInvalid verifies garbage env values fall back to
// defaults
func TestEnvOverridesIgnoreInvalid(t *testing.T) {
	t.Setenv("POOL_SIZE", "not-a-number")
	t.Setenv("WORKER_CAPACITY", "-5")

	cfg := SimFromEnv()

	if cfg.PoolSize != DefaultSim().PoolSize {
		t.Errorf("Invalid POOL_SIZE should keep default, got %d", cfg.PoolSize)
	}
	if cfg.WorkerCapacity != DefaultSim().WorkerCapacity {
		t.Errorf("Negative capacity should keep default, got %d", cfg.WorkerCapacity)
	}
}
