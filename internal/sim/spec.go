// Package sim implements the bullet simulation core: a dispatcher that
// load-balances fired bullets across a fixed pool of isolated workers, and
// the per-worker simulation loop with two-tier hit detection.
//
// The dispatcher and its workers share no mutable state. Every bullet,
// cancellation and destruct order crosses the boundary as an immutable
// serialized frame; completions come back the same way. Delivery is not
// assumed lossless, so the dispatcher reclaims bullets whose worker never
// reports back within a timeout.
package sim

import (
	"errors"
	"time"

	"bulletsim/internal/world"
)

// Validation errors for bullet specs.
var (
	ErrZeroDirection = errors.New("bullet direction must be non-zero")
	ErrInvalidRange  = errors.New("bullet range must be positive")
)

// BulletSpec describes a single fired shot. Immutable once queued.
type BulletSpec struct {
	Participant int64      `json:"participant"` // Shooter identifier
	Damage      float64    `json:"damage"`
	Range       float64    `json:"range"`
	Origin      world.Vec3 `json:"origin"`
	Direction   world.Vec3 `json:"direction"` // Unit direction of travel
	Instant     bool       `json:"instant"`   // Hitscan: resolved in one pass, never ticked
}

// Validate rejects specs with a zero direction or a non-positive range.
func (s BulletSpec) Validate() error {
	if s.Direction.IsZero() {
		return ErrZeroDirection
	}
	if s.Range <= 0 {
		return ErrInvalidRange
	}
	return nil
}

// BulletTicket is the dispatcher's lightweight record of a queued or
// in-flight bullet. The full physical state lives in the owning worker's
// SimBullet; the two are reconciled only through id-keyed messages.
type BulletTicket struct {
	ID   string
	Spec BulletSpec

	// beingProcessed marks a ticket picked up by an assignment pass.
	// A marked ticket is never reassigned by a re-entrant pass.
	beingProcessed bool
	cancelled      bool
	worker         int // Pool index, -1 until assigned
	startTime      time.Time
	timeout        time.Duration // Per-bullet override, 0 = global default
}

// HitEvent is emitted when a bullet strikes a living target.
// Fire-and-forget: the emitter expects no acknowledgment.
type HitEvent struct {
	BulletID    string       `json:"bulletId"`
	Participant int64        `json:"participant"`
	Damage      float64      `json:"damage"`
	Target      world.Target `json:"target"`
	Point       world.Vec3   `json:"point"`
	Proximity   bool         `json:"proximity"` // Hit via the radius fallback, not the ray
}

// CompleteEvent is emitted when a bullet reaches any terminal state
// through its worker (hit, miss, expiry, shooter vanished).
type CompleteEvent struct {
	BulletID string `json:"bulletId"`
	Worker   int    `json:"worker"`
}

// Stats is a read-only snapshot of dispatcher state.
type Stats struct {
	Queued           int   `json:"queued"`
	InFlight         int   `json:"inFlight"`
	TotalWorkers     int   `json:"totalWorkers"`
	LoadPerWorker    []int `json:"loadPerWorker"`
	BulletsPerWorker []int `json:"bulletsPerWorker"`

	// Cumulative totals since startup
	TotalQueued    uint64 `json:"totalQueued"`
	TotalCompleted uint64 `json:"totalCompleted"`
	TotalReclaimed uint64 `json:"totalReclaimed"`
	TotalCancelled uint64 `json:"totalCancelled"`
}
