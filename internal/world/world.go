// Package world provides the live game-state collaborators consumed by the
// bullet simulation: ray-intersection and proximity queries plus the
// participant directory. The simulation core depends only on the Query and
// Directory interfaces; World is the in-process reference implementation
// used by the server and the tests.
package world

import (
	"math"
	"sync"
)

// movingEpsilon is the squared speed below which an entity counts as
// stationary for the proximity-search exemption.
const movingEpsilon = 1e-6

// Target describes a collidable entity returned from queries.
// Values are copies; mutating a Target does not affect the world.
type Target struct {
	Handle      uint64  `json:"handle"`      // Opaque entity handle
	Participant int64   `json:"participant"` // Owning participant id, 0 for world-owned
	Position    Vec3    `json:"position"`
	Radius      float64 `json:"radius"`
	Living      bool    `json:"living"`
	Moving      bool    `json:"moving"`
}

// RayHit is the result of a ray intersection query.
type RayHit struct {
	Hit    bool
	Point  Vec3
	Target *Target // nil when static geometry (terrain/obstacle) was struck
}

// Query answers geometric queries against live game state.
type Query interface {
	// RayIntersect returns the nearest intersection along the segment
	// from→to, skipping entities owned by any excluded participant.
	RayIntersect(from, to Vec3, exclude []int64) RayHit

	// ProximitySearch returns the nearest living, currently moving entity
	// within radius of center, excluding the given participant's entities.
	// Returns nil when nothing qualifies.
	ProximitySearch(center Vec3, radius float64, excludeParticipant int64) *Target
}

// Directory maps a participant identifier to a live position.
type Directory interface {
	// Resolve returns the participant's position, or false if the
	// participant is no longer present (left/disconnected).
	Resolve(participant int64) (Vec3, bool)
}

// entity is the world's internal mutable record. Index-addressed so the
// spatial grid can store compact uint32 indices instead of pointers.
type entity struct {
	handle      uint64
	participant int64
	pos         Vec3
	vel         Vec3
	radius      float64
	living      bool
}

// aabb is a static axis-aligned obstacle box.
type aabb struct {
	min, max Vec3
}

// World holds entities (spheres) and static obstacles (boxes) and answers
// the Query/Directory interfaces. Safe for concurrent use: mutations take
// the write lock, queries from the N simulation workers take the read lock.
type World struct {
	mu         sync.RWMutex
	entities   []*entity // index-addressed, nil = free slot
	free       []uint32
	byHandle   map[uint64]uint32
	byPart     map[int64]uint64 // participant id -> avatar entity handle
	obstacles  []aabb
	grid       *spatialGrid
	nextHandle uint64

	// maxRadius is the largest entity radius ever added. Proximity broad
	// phases pad their cell box by it so an entity whose center sits just
	// across a cell boundary still shows up as a candidate. Never shrinks.
	maxRadius float64
}

// NewWorld creates an empty world covering the given bounds.
// cellSize should be at least the largest proximity query radius.
func NewWorld(width, height, depth, cellSize float64) *World {
	return &World{
		entities: make([]*entity, 0, 64),
		byHandle: make(map[uint64]uint32),
		byPart:   make(map[int64]uint64),
		grid:     newSpatialGrid(width, height, depth, cellSize),
	}
}

// AddParticipant registers a participant's avatar entity and returns its
// handle. A participant re-added with the same id replaces its avatar.
func (w *World) AddParticipant(participant int64, pos Vec3, radius float64) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if old, ok := w.byPart[participant]; ok {
		w.removeLocked(old)
	}

	h := w.addLocked(&entity{
		participant: participant,
		pos:         pos,
		radius:      radius,
		living:      true,
	})
	w.byPart[participant] = h
	return h
}

// AddTarget registers a world-owned entity (practice dummy, NPC, prop)
// and returns its handle.
func (w *World) AddTarget(pos Vec3, radius float64, living bool) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addLocked(&entity{pos: pos, radius: radius, living: living})
}

// AddObstacle registers a static axis-aligned box blocking rays.
func (w *World) AddObstacle(min, max Vec3) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.obstacles = append(w.obstacles, aabb{min: min, max: max})
}

func (w *World) addLocked(e *entity) uint64 {
	w.nextHandle++
	e.handle = w.nextHandle

	if e.radius > w.maxRadius {
		w.maxRadius = e.radius
	}

	var idx uint32
	if n := len(w.free); n > 0 {
		idx = w.free[n-1]
		w.free = w.free[:n-1]
		w.entities[idx] = e
	} else {
		idx = uint32(len(w.entities))
		w.entities = append(w.entities, e)
	}

	w.byHandle[e.handle] = idx
	w.grid.insert(idx, e.pos)
	return e.handle
}

// Remove deletes an entity by handle. No-op for unknown handles.
func (w *World) Remove(handle uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(handle)
}

// RemoveParticipant deletes a participant's avatar, making the participant
// unresolvable (shooter-left semantics for in-flight bullets).
func (w *World) RemoveParticipant(participant int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if h, ok := w.byPart[participant]; ok {
		w.removeLocked(h)
	}
}

func (w *World) removeLocked(handle uint64) {
	idx, ok := w.byHandle[handle]
	if !ok {
		return
	}
	e := w.entities[idx]
	w.grid.remove(idx, e.pos)
	w.entities[idx] = nil
	w.free = append(w.free, idx)
	delete(w.byHandle, handle)
	if e.participant != 0 && w.byPart[e.participant] == handle {
		delete(w.byPart, e.participant)
	}
}

// SetPosition moves an entity, updating the spatial index incrementally.
func (w *World) SetPosition(handle uint64, pos Vec3) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx, ok := w.byHandle[handle]
	if !ok {
		return false
	}
	e := w.entities[idx]
	w.grid.move(idx, e.pos, pos)
	e.pos = pos
	return true
}

// SetVelocity updates an entity's velocity. Velocity is bookkeeping only:
// the world does not integrate it, but a non-zero velocity marks the entity
// as moving, which makes it eligible for proximity hits.
func (w *World) SetVelocity(handle uint64, vel Vec3) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx, ok := w.byHandle[handle]
	if !ok {
		return false
	}
	w.entities[idx].vel = vel
	return true
}

// Resolve implements Directory.
func (w *World) Resolve(participant int64) (Vec3, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	h, ok := w.byPart[participant]
	if !ok {
		return Vec3{}, false
	}
	return w.entities[w.byHandle[h]].pos, true
}

// ParticipantHandle returns the entity handle registered for a participant.
func (w *World) ParticipantHandle(participant int64) (uint64, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	h, ok := w.byPart[participant]
	return h, ok
}

// EntityCount returns the number of live entities (for stats endpoints).
func (w *World) EntityCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.byHandle)
}

// RayIntersect implements Query. It tests the segment from→to against all
// entity spheres and obstacle boxes and returns the nearest intersection.
//
// The scan is linear: the grid indexes entity centers for point-radius
// queries, not segments, and obstacles are not indexed at all.
// TODO: walk the grid cells along the segment if entity counts grow past
// a few hundred.
func (w *World) RayIntersect(from, to Vec3, exclude []int64) RayHit {
	w.mu.RLock()
	defer w.mu.RUnlock()

	dir := to.Sub(from)
	best := math.Inf(1)
	var bestEntity *entity

	for _, e := range w.entities {
		if e == nil || isExcluded(e.participant, exclude) {
			continue
		}
		if t, ok := raySphere(from, dir, e.pos, e.radius); ok && t < best {
			best = t
			bestEntity = e
		}
	}

	for i := range w.obstacles {
		if t, ok := rayBox(from, dir, w.obstacles[i]); ok && t < best {
			best = t
			bestEntity = nil
		}
	}

	if math.IsInf(best, 1) {
		return RayHit{}
	}

	hit := RayHit{Hit: true, Point: from.Add(dir.Scale(best))}
	if bestEntity != nil {
		hit.Target = snapshotTarget(bestEntity)
	}
	return hit
}

// ProximitySearch implements Query. Broad phase via the spatial grid,
// narrow phase with a precise distance check. Stationary entities are
// exempt: near-misses against idle targets stay misses.
//
// Safe for concurrent callers: the candidate buffer is per-call, and the
// broad-phase box is padded by maxRadius so the narrow phase's
// radius+e.radius acceptance never outreaches the cells scanned.
func (w *World) ProximitySearch(center Vec3, radius float64, excludeParticipant int64) *Target {
	w.mu.RLock()
	defer w.mu.RUnlock()

	bestDist := math.Inf(1)
	var best *entity

	candidates := make([]uint32, 0, 64)
	for _, idx := range w.grid.queryRadius(center, radius+w.maxRadius, candidates) {
		e := w.entities[idx]
		if e == nil || !e.living {
			continue
		}
		if excludeParticipant != 0 && e.participant == excludeParticipant {
			continue
		}
		if e.vel.LengthSq() <= movingEpsilon {
			continue
		}
		if d := e.pos.DistanceTo(center); d <= radius+e.radius && d < bestDist {
			bestDist = d
			best = e
		}
	}

	if best == nil {
		return nil
	}
	return snapshotTarget(best)
}

func snapshotTarget(e *entity) *Target {
	return &Target{
		Handle:      e.handle,
		Participant: e.participant,
		Position:    e.pos,
		Radius:      e.radius,
		Living:      e.living,
		Moving:      e.vel.LengthSq() > movingEpsilon,
	}
}

func isExcluded(participant int64, exclude []int64) bool {
	if participant == 0 {
		return false
	}
	for _, p := range exclude {
		if p == participant {
			return true
		}
	}
	return false
}

// raySphere intersects the segment origin + t*dir (t in [0,1]) with a
// sphere, returning the smallest valid t.
func raySphere(origin, dir, center Vec3, radius float64) (float64, bool) {
	oc := origin.Sub(center)
	a := dir.Dot(dir)
	if a == 0 {
		// Degenerate zero-length segment: hit only if inside the sphere
		return 0, oc.LengthSq() <= radius*radius
	}
	b := 2 * oc.Dot(dir)
	c := oc.Dot(oc) - radius*radius

	disc := b*b - 4*a*c
	if disc < 0 {
		return 0, false
	}

	sqrtDisc := math.Sqrt(disc)
	t := (-b - sqrtDisc) / (2 * a)
	if t < 0 {
		t = (-b + sqrtDisc) / (2 * a) // Segment starts inside the sphere
	}
	if t < 0 || t > 1 {
		return 0, false
	}
	return t, true
}

// rayBox intersects the segment origin + t*dir (t in [0,1]) with an AABB
// using the slab method.
func rayBox(origin, dir Vec3, box aabb) (float64, bool) {
	tmin, tmax := 0.0, 1.0

	for axis := 0; axis < 3; axis++ {
		o := component(origin, axis)
		d := component(dir, axis)
		lo := component(box.min, axis)
		hi := component(box.max, axis)

		if d == 0 {
			if o < lo || o > hi {
				return 0, false
			}
			continue
		}

		t1 := (lo - o) / d
		t2 := (hi - o) / d
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tmin {
			tmin = t1
		}
		if t2 < tmax {
			tmax = t2
		}
		if tmin > tmax {
			return 0, false
		}
	}

	return tmin, true
}

func component(v Vec3, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}
