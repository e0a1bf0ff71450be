package sim

import (
	"time"

	"bulletsim/internal/world"
)

// SimBullet is a worker-owned in-flight projectile. The owning worker is
// its sole reader and writer for its entire lifetime; no other component
// ever sees it.
type SimBullet struct {
	ID          string
	Participant int64
	Damage      float64
	Range       float64
	Origin      world.Vec3
	Direction   world.Vec3 // Unit direction
	Position    world.Vec3 // Committed position as of the last tick
	Traveled    float64
	StartTime   time.Time
}

// newSimBullet builds a worker-local bullet from an assignment message.
func newSimBullet(msg *ProcessBulletMsg, now time.Time) *SimBullet {
	return &SimBullet{
		ID:          msg.ID,
		Participant: msg.Participant,
		Damage:      msg.Damage,
		Range:       msg.Range,
		Origin:      msg.Origin,
		Direction:   msg.Direction.Normalized(),
		Position:    msg.Origin,
		StartTime:   now,
	}
}

// Advance computes the next position for a projectile step.
// Pure function: the same (position, direction, speed, deltaTime) inputs
// always yield the same outputs, with no hidden state.
func Advance(position, direction world.Vec3, speed, deltaTime float64) (newPos world.Vec3, moved float64) {
	moved = speed * deltaTime
	return position.Add(direction.Normalized().Scale(moved)), moved
}
