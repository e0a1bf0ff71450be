package sim

import (
	"log"
	"sync"
	"time"

	"bulletsim/internal/config"
	"bulletsim/internal/world"
)

// Worker is a fully isolated simulation unit. It owns a private set of
// in-flight bullets, steps each one on its own fixed-cadence tick and
// reports terminal bullets back over the completion channel. Workers hold
// no state shared with each other or with the dispatcher; everything
// crosses as serialized frames.
type Worker struct {
	index       int
	cfg         config.SimConfig
	queries     world.Query
	directory   world.Directory
	inbox       chan []byte
	completions chan<- BulletCompleteMsg
	onHit       func(HitEvent)

	stop     chan struct{}
	stopOnce sync.Once

	// active is worker-private. Deleting entries while ranging is safe,
	// which is what lets terminal bullets drop out mid-pass.
	active map[string]*SimBullet
}

// newWorker creates a worker for one pool slot. The worker does not run
// until Run is called (on its own goroutine).
func newWorker(index int, cfg config.SimConfig, queries world.Query, directory world.Directory,
	completions chan<- BulletCompleteMsg, onHit func(HitEvent)) *Worker {

	inboxSize := cfg.WorkerCapacity * 2
	if inboxSize < 64 {
		inboxSize = 64
	}

	return &Worker{
		index:       index,
		cfg:         cfg,
		queries:     queries,
		directory:   directory,
		inbox:       make(chan []byte, inboxSize),
		completions: completions,
		onHit:       onHit,
		stop:        make(chan struct{}),
		active:      make(map[string]*SimBullet),
	}
}

// Send delivers a frame to the worker's inbox without blocking.
// Returns false when the inbox is full; the dispatcher's reclamation
// timeout covers the lost message.
func (w *Worker) Send(frame []byte) bool {
	select {
	case w.inbox <- frame:
		return true
	default:
		return false
	}
}

// Stop forcibly terminates the worker loop. Used by the dispatcher when a
// worker fails to honor Destruct within the shutdown grace period.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
}

// Run is the worker's message-and-tick loop. It returns after a Destruct
// message or a forced Stop.
func (w *Worker) Run() {
	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-w.inbox:
			if !w.handleFrame(frame, time.Now()) {
				return
			}
		case <-ticker.C:
			w.step(time.Now(), w.cfg.TickInterval.Seconds())
		case <-w.stop:
			w.active = make(map[string]*SimBullet)
			return
		}
	}
}

// handleFrame dispatches one wire message. Returns false on Destruct.
func (w *Worker) handleFrame(frame []byte, now time.Time) bool {
	msgType, body, err := DecodeMessage(frame)
	if err != nil {
		log.Printf("⚠️ worker %d dropped malformed frame: %v", w.index, err)
		return true
	}

	switch msgType {
	case MsgTypeProcess:
		msg, err := DecodeProcessBullet(body)
		if err != nil {
			log.Printf("⚠️ worker %d dropped bad process message: %v", w.index, err)
			return true
		}
		if msg.Instant {
			// Hitscan resolves synchronously and never joins the tick loop
			w.resolveInstant(msg)
			return true
		}
		w.active[msg.ID] = newSimBullet(msg, now)

	case MsgTypeCancel:
		msg, err := DecodeCancelBullet(body)
		if err != nil {
			return true
		}
		delete(w.active, msg.ID) // No-op if already completed or unknown

	case MsgTypeDestruct:
		w.active = make(map[string]*SimBullet)
		return false
	}

	return true
}

// step advances every active bullet by one tick and resolves terminal
// conditions. Terminal bullets are deleted mid-iteration.
func (w *Worker) step(now time.Time, deltaTime float64) {
	for id, b := range w.active {
		// Shooter left or disconnected: silent terminal, not an error
		if _, ok := w.directory.Resolve(b.Participant); !ok {
			delete(w.active, id)
			w.complete(id)
			continue
		}

		newPos, moved := Advance(b.Position, b.Direction, w.cfg.ProjectileSpeed, deltaTime)
		b.Traveled += moved

		// Range exhausted: complete with no hit
		if b.Traveled >= b.Range {
			delete(w.active, id)
			w.complete(id)
			continue
		}

		// Lifetime exceeded: safety valve against runaway simulation
		if now.Sub(b.StartTime) >= w.cfg.MaxLifetime {
			delete(w.active, id)
			w.complete(id)
			continue
		}

		// Interpolated ray from the committed position to the new one —
		// never from the origin. This is what prevents tunneling through
		// thin geometry at high travel speed.
		hit := w.queries.RayIntersect(b.Position, newPos, []int64{b.Participant})
		if hit.Hit {
			if hit.Target != nil && hit.Target.Living {
				w.emitHit(b.ID, b.Participant, b.Damage, *hit.Target, hit.Point, false)
			}
			delete(w.active, id)
			w.complete(id)
			continue
		}

		// Proximity fallback: compensates for latency-induced target
		// displacement. Stationary targets are exempt.
		if t := w.queries.ProximitySearch(newPos, w.cfg.ProximityRadius, b.Participant); t != nil {
			w.emitHit(b.ID, b.Participant, b.Damage, *t, t.Position, true)
			delete(w.active, id)
			w.complete(id)
			continue
		}

		b.Position = newPos
	}
}

// resolveInstant handles a hitscan bullet in a single pass: one ray across
// the full segment, then proximity sampling along it when the ray finds no
// living target. A direct living-target intersection always wins over any
// proximity match.
func (w *Worker) resolveInstant(msg *ProcessBulletMsg) {
	dir := msg.Direction.Normalized()
	end := msg.Origin.Add(dir.Scale(msg.Range))

	hit := w.queries.RayIntersect(msg.Origin, end, []int64{msg.Participant})
	if hit.Hit && hit.Target != nil && hit.Target.Living {
		w.emitHit(msg.ID, msg.Participant, msg.Damage, *hit.Target, hit.Point, false)
		w.complete(msg.ID)
		return
	}

	// Sample the segment at half the proximity radius, taking the first match
	step := w.cfg.ProximityRadius / 2
	for d := 0.0; d <= msg.Range; d += step {
		p := msg.Origin.Add(dir.Scale(d))
		if t := w.queries.ProximitySearch(p, w.cfg.ProximityRadius, msg.Participant); t != nil {
			w.emitHit(msg.ID, msg.Participant, msg.Damage, *t, t.Position, true)
			break
		}
	}

	w.complete(msg.ID)
}

// complete reports a terminal bullet to the dispatcher. Non-blocking: if
// the dispatcher is backlogged the signal is dropped and the reclamation
// timeout takes over.
func (w *Worker) complete(id string) {
	select {
	case w.completions <- BulletCompleteMsg{ID: id, Worker: w.index}:
	default:
		log.Printf("⚠️ worker %d completion channel full, bullet %s left to reclamation", w.index, id)
	}
}

// emitHit fires the hit event callback. Fire-and-forget, no acknowledgment.
func (w *Worker) emitHit(bulletID string, participant int64, damage float64, target world.Target, point world.Vec3, proximity bool) {
	if w.onHit == nil {
		return
	}
	go w.onHit(HitEvent{
		BulletID:    bulletID,
		Participant: participant,
		Damage:      damage,
		Target:      target,
		Point:       point,
		Proximity:   proximity,
	})
}

// ActiveCount returns the size of the private bullet set. Only meaningful
// from the worker's own goroutine; exposed for tests that drive the worker
// synchronously.
func (w *Worker) ActiveCount() int {
	return len(w.active)
}
