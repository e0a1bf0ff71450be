package sim

import (
	"log"
	"sync"
	"time"

	"bulletsim/internal/config"
	"bulletsim/internal/world"

	"github.com/google/uuid"
)

// shutdownGrace is how long workers get to honor Destruct before being
// forcibly stopped.
const shutdownGrace = 2 * time.Second

// workerState is the dispatcher's bookkeeping for one pool slot.
// Invariant: load == len(assigned) at every observation point.
type workerState struct {
	worker   *Worker
	load     int
	assigned map[string]*BulletTicket
}

// Dispatcher owns the worker pool, the pending queue and the in-flight
// registry. It assigns queued bullets to the least-loaded worker, relays
// cancellations, and reclaims bullets whose worker never reported back.
//
// All registry mutation happens under a single exclusive lock taken around
// each tick body. Workers never touch dispatcher state, so contention is
// inherently low; the lock exists only because public methods may be
// called from any goroutine.
type Dispatcher struct {
	mu  sync.Mutex
	cfg config.SimConfig

	pending          []*BulletTicket          // Insertion order; assignment iterates in reverse
	cancelledPending int                      // Pending tickets flagged for lazy removal
	inflight         map[string]*BulletTicket // Authoritative assigned-bullet registry
	byID             map[string]*BulletTicket // Every live ticket, pending or in-flight
	workers          []*workerState

	completions chan BulletCompleteMsg
	stopChan    chan struct{}
	running     bool
	wg          sync.WaitGroup

	// Cumulative totals since startup
	totalQueued    uint64
	totalCompleted uint64
	totalReclaimed uint64
	totalCancelled uint64

	// Output events, fire-and-forget. Set before Start.
	OnBulletHit      func(HitEvent)
	OnBulletComplete func(CompleteEvent)
}

// NewDispatcher builds a dispatcher and its worker pool.
//
// IMPORTANT: Workers and the dispatcher loop do NOT start until Start() is
// called. This enables testing by allowing construction without goroutines.
func NewDispatcher(cfg config.SimConfig, queries world.Query, directory world.Directory) *Dispatcher {
	d := &Dispatcher{
		cfg:         cfg,
		inflight:    make(map[string]*BulletTicket),
		byID:        make(map[string]*BulletTicket),
		completions: make(chan BulletCompleteMsg, 256),
		stopChan:    make(chan struct{}),
	}

	onHit := func(ev HitEvent) {
		if cb := d.OnBulletHit; cb != nil {
			cb(ev)
		}
	}

	d.workers = make([]*workerState, cfg.PoolSize)
	for i := range d.workers {
		d.workers[i] = &workerState{
			worker:   newWorker(i, cfg, queries, directory, d.completions, onHit),
			assigned: make(map[string]*BulletTicket),
		}
	}

	return d
}

// Start launches the worker goroutines and the dispatcher tick loop.
// Call this method only once; use Shutdown to stop.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	for _, ws := range d.workers {
		d.wg.Add(1)
		go func(w *Worker) {
			defer d.wg.Done()
			w.Run()
		}(ws.worker)
	}

	go d.run()

	log.Printf("🔫 dispatcher started: %d workers, capacity %d, tick %v",
		d.cfg.PoolSize, d.cfg.WorkerCapacity, d.cfg.TickInterval)
}

// run is the dispatcher's own tick loop: assignment at the simulation
// cadence, reclamation at half the timeout, completions as they arrive.
func (d *Dispatcher) run() {
	assign := time.NewTicker(d.cfg.TickInterval)
	reclaim := time.NewTicker(d.cfg.DefaultTimeout / 2)
	defer assign.Stop()
	defer reclaim.Stop()

	for {
		select {
		case <-assign.C:
			d.assignPass(time.Now())
		case <-reclaim.C:
			d.reclaimPass(time.Now())
		case msg := <-d.completions:
			d.handleCompletion(msg)
		case <-d.stopChan:
			return
		}
	}
}

// QueueGeneralBullet enqueues a bullet for assignment. Never blocks and
// performs no admission control; capacity is dealt with at assignment
// time. timeout overrides the global reclamation timeout when positive.
func (d *Dispatcher) QueueGeneralBullet(spec BulletSpec, timeout time.Duration) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	t := &BulletTicket{
		ID:      uuid.NewString(),
		Spec:    spec,
		worker:  -1,
		timeout: timeout,
	}

	d.mu.Lock()
	d.pending = append(d.pending, t)
	d.byID[t.ID] = t
	d.totalQueued++
	d.mu.Unlock()

	return t.ID, nil
}

// QueueInstantBullet enqueues a hitscan shot.
func (d *Dispatcher) QueueInstantBullet(participant int64, damage, bulletRange float64, origin, direction world.Vec3) (string, error) {
	return d.QueueGeneralBullet(BulletSpec{
		Participant: participant,
		Damage:      damage,
		Range:       bulletRange,
		Origin:      origin,
		Direction:   direction,
		Instant:     true,
	}, 0)
}

// QueueProjectileBullet enqueues a simulated projectile.
func (d *Dispatcher) QueueProjectileBullet(participant int64, damage, bulletRange float64, origin, direction world.Vec3) (string, error) {
	return d.QueueGeneralBullet(BulletSpec{
		Participant: participant,
		Damage:      damage,
		Range:       bulletRange,
		Origin:      origin,
		Direction:   direction,
	}, 0)
}

// CancelBullet cancels a bullet wherever it currently is. Pending tickets
// are dropped before they ever reach a worker; assigned tickets get a
// fire-and-forget cancel message and eager registry removal.
func (d *Dispatcher) CancelBullet(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.byID[id]
	if !ok {
		return // Unknown, completed or already cancelled
	}

	if !t.beingProcessed {
		// Still pending: flag for lazy removal by the next assignment pass
		t.cancelled = true
		d.cancelledPending++
		delete(d.byID, id)
		d.totalCancelled++
		return
	}

	ws := d.workers[t.worker]
	if frame, err := EncodeMessage(MsgTypeCancel, &CancelBulletMsg{ID: id}); err == nil {
		ws.worker.Send(frame)
	}
	delete(ws.assigned, id)
	if ws.load > 0 {
		ws.load--
	}
	delete(d.inflight, id)
	delete(d.byID, id)
	d.totalCancelled++
}

// assignPass drains the pending queue, iterating in reverse insertion
// order so removal during iteration is safe.
func (d *Dispatcher) assignPass(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := len(d.pending) - 1; i >= 0; i-- {
		t := d.pending[i]

		if t.cancelled {
			d.pending = append(d.pending[:i], d.pending[i+1:]...)
			d.cancelledPending--
			continue
		}
		if t.beingProcessed {
			// Already picked up by a re-entrant pass; never reassign
			d.pending = append(d.pending[:i], d.pending[i+1:]...)
			continue
		}

		wi := d.pickWorker()
		ws := d.workers[wi]

		t.beingProcessed = true
		t.worker = wi
		t.startTime = now
		ws.load++
		ws.assigned[t.ID] = t
		d.inflight[t.ID] = t

		frame, err := EncodeMessage(MsgTypeProcess, processMsgFromTicket(t))
		if err != nil {
			log.Printf("⚠️ failed to encode bullet %s: %v", t.ID, err)
		} else if !ws.worker.Send(frame) {
			// Lost message; the reclamation timeout covers it
			log.Printf("⚠️ worker %d inbox full, bullet %s awaits reclamation", wi, t.ID)
		}

		d.pending = append(d.pending[:i], d.pending[i+1:]...)
	}
}

// pickWorker selects the worker with the strictly lowest load among those
// below capacity, ties broken by pool order. When every worker is
// saturated the overflow lands on slot 0 rather than rejecting the bullet.
// Deliberate hotspot: sustained overload degrades worker 0 first instead
// of growing an unbounded queue.
func (d *Dispatcher) pickWorker() int {
	best := -1
	for i, ws := range d.workers {
		if ws.load >= d.cfg.WorkerCapacity {
			continue
		}
		if best == -1 || ws.load < d.workers[best].load {
			best = i
		}
	}
	if best == -1 {
		return 0
	}
	return best
}

// reclaimPass force-cancels every in-flight bullet whose worker has not
// reported completion within its timeout. This is the only recovery path
// for lost messages and silently dead workers.
func (d *Dispatcher) reclaimPass(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, t := range d.inflight {
		timeout := t.timeout
		if timeout <= 0 {
			timeout = d.cfg.DefaultTimeout
		}
		if now.Sub(t.startTime) < timeout {
			continue
		}

		ws := d.workers[t.worker]
		if frame, err := EncodeMessage(MsgTypeCancel, &CancelBulletMsg{ID: id}); err == nil {
			ws.worker.Send(frame)
		}
		delete(ws.assigned, id)
		if ws.load > 0 {
			ws.load--
		}
		delete(d.inflight, id)
		delete(d.byID, id)
		d.totalReclaimed++

		log.Printf("⏱ reclaimed bullet %s from worker %d after %v", id, t.worker, timeout)
	}
}

// handleCompletion applies a worker's completion signal. Idempotent:
// unknown ids (already reclaimed, cancelled, or duplicate signals) are
// silent no-ops, and load decrements clamp at zero.
func (d *Dispatcher) handleCompletion(msg BulletCompleteMsg) {
	d.mu.Lock()

	if _, ok := d.inflight[msg.ID]; !ok {
		d.mu.Unlock()
		return
	}
	delete(d.inflight, msg.ID)
	delete(d.byID, msg.ID)

	if msg.Worker >= 0 && msg.Worker < len(d.workers) {
		ws := d.workers[msg.Worker]
		delete(ws.assigned, msg.ID)
		if ws.load > 0 {
			ws.load--
		}
	}
	d.totalCompleted++

	cb := d.OnBulletComplete
	d.mu.Unlock()

	if cb != nil {
		go cb(CompleteEvent{BulletID: msg.ID, Worker: msg.Worker})
	}
}

// GetStats returns a read-only snapshot. Side-effect free.
func (d *Dispatcher) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	loads := make([]int, len(d.workers))
	bullets := make([]int, len(d.workers))
	for i, ws := range d.workers {
		loads[i] = ws.load
		bullets[i] = len(ws.assigned)
	}

	return Stats{
		Queued:           len(d.pending) - d.cancelledPending,
		InFlight:         len(d.inflight),
		TotalWorkers:     len(d.workers),
		LoadPerWorker:    loads,
		BulletsPerWorker: bullets,
		TotalQueued:      d.totalQueued,
		TotalCompleted:   d.totalCompleted,
		TotalReclaimed:   d.totalReclaimed,
		TotalCancelled:   d.totalCancelled,
	}
}

// Shutdown broadcasts Destruct to every worker, clears all internal state
// and waits up to the grace period before forcing workers down.
// Safe to call more than once.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false

	if frame, err := EncodeMessage(MsgTypeDestruct, nil); err == nil {
		for _, ws := range d.workers {
			ws.worker.Send(frame)
		}
	}
	for _, ws := range d.workers {
		ws.load = 0
		ws.assigned = make(map[string]*BulletTicket)
	}
	d.pending = nil
	d.cancelledPending = 0
	d.inflight = make(map[string]*BulletTicket)
	d.byID = make(map[string]*BulletTicket)
	d.mu.Unlock()

	close(d.stopChan)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Printf("⚠️ workers missed shutdown grace period, forcing stop")
		for _, ws := range d.workers {
			ws.worker.Stop()
		}
		<-done
	}

	log.Println("🛑 dispatcher stopped")
}
