package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"bulletsim/internal/sim"
	"bulletsim/internal/world"

	"github.com/go-chi/chi/v5"
)

// Handler methods for routerHandlers
// These are used by both the standalone router (for testing) and the full Server.

// fireRequest is the shared request body for all bullet-fire endpoints.
type fireRequest struct {
	Participant int64      `json:"participant"`
	Damage      float64    `json:"damage"`
	Range       float64    `json:"range"`
	Origin      world.Vec3 `json:"origin"`
	Direction   world.Vec3 `json:"direction"`
	Instant     bool       `json:"instant"`
	TimeoutSec  float64    `json:"timeoutSec"` // 0 = server default
}

func (h *routerHandlers) handleFireBullet(w http.ResponseWriter, r *http.Request) {
	var req fireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	spec := sim.BulletSpec{
		Participant: req.Participant,
		Damage:      req.Damage,
		Range:       req.Range,
		Origin:      req.Origin,
		Direction:   req.Direction,
		Instant:     req.Instant,
	}

	timeout := time.Duration(req.TimeoutSec * float64(time.Second))
	id, err := h.dispatcher.QueueGeneralBullet(spec, timeout)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]interface{}{"id": id})
}

func (h *routerHandlers) handleFireInstant(w http.ResponseWriter, r *http.Request) {
	var req fireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	id, err := h.dispatcher.QueueInstantBullet(req.Participant, req.Damage, req.Range, req.Origin, req.Direction)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]interface{}{"id": id})
}

func (h *routerHandlers) handleFireProjectile(w http.ResponseWriter, r *http.Request) {
	var req fireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	id, err := h.dispatcher.QueueProjectileBullet(req.Participant, req.Damage, req.Range, req.Origin, req.Direction)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]interface{}{"id": id})
}

func (h *routerHandlers) handleCancelBullet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, "Missing bullet id", http.StatusBadRequest)
		return
	}

	// Cancellation is fire-and-forget: unknown or already-completed ids
	// are silently ignored, so this always accepts.
	h.dispatcher.CancelBullet(id)

	writeJSON(w, map[string]interface{}{"cancelled": id})
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats := h.dispatcher.GetStats()

	writeJSON(w, map[string]interface{}{
		"queued":         stats.Queued,
		"inFlight":       stats.InFlight,
		"totalWorkers":   stats.TotalWorkers,
		"entityCount":    h.world.EntityCount(),
		"totalQueued":    stats.TotalQueued,
		"totalCompleted": stats.TotalCompleted,
		"totalReclaimed": stats.TotalReclaimed,
		"totalCancelled": stats.TotalCancelled,
	})
}

func (h *routerHandlers) handleGetWorkers(w http.ResponseWriter, r *http.Request) {
	stats := h.dispatcher.GetStats()

	workers := make([]map[string]interface{}, 0, stats.TotalWorkers)
	for i := 0; i < stats.TotalWorkers; i++ {
		workers = append(workers, map[string]interface{}{
			"worker":  i,
			"load":    stats.LoadPerWorker[i],
			"bullets": stats.BulletsPerWorker[i],
		})
	}

	writeJSON(w, workers)
}

func (h *routerHandlers) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Participant int64      `json:"participant"`
		Position    world.Vec3 `json:"position"`
		Radius      float64    `json:"radius"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Radius <= 0 {
		writeError(w, "Radius must be positive", http.StatusBadRequest)
		return
	}

	handle := h.world.AddParticipant(req.Participant, req.Position, req.Radius)
	log.Printf("🧍 Participant %d joined at %+v", req.Participant, req.Position)

	writeJSON(w, map[string]interface{}{"handle": handle})
}

func (h *routerHandlers) handleMoveParticipant(w http.ResponseWriter, r *http.Request) {
	participant, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, "Invalid participant id", http.StatusBadRequest)
		return
	}

	var req struct {
		Position world.Vec3  `json:"position"`
		Velocity *world.Vec3 `json:"velocity"` // Optional, omitted = unchanged
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	handle, ok := h.world.ParticipantHandle(participant)
	if !ok {
		writeError(w, "Unknown participant", http.StatusNotFound)
		return
	}

	h.world.SetPosition(handle, req.Position)
	if req.Velocity != nil {
		h.world.SetVelocity(handle, *req.Velocity)
	}

	writeJSON(w, map[string]interface{}{"ok": true})
}

func (h *routerHandlers) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	participant, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, "Invalid participant id", http.StatusBadRequest)
		return
	}

	// In-flight bullets fired by this participant terminate silently on
	// their next tick when the shooter no longer resolves.
	h.world.RemoveParticipant(participant)
	log.Printf("🧍 Participant %d removed", participant)

	writeJSON(w, map[string]interface{}{"ok": true})
}

func (h *routerHandlers) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position world.Vec3 `json:"position"`
		Radius   float64    `json:"radius"`
		Living   bool       `json:"living"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Radius <= 0 {
		writeError(w, "Radius must be positive", http.StatusBadRequest)
		return
	}

	handle := h.world.AddTarget(req.Position, req.Radius, req.Living)

	writeJSON(w, map[string]interface{}{"handle": handle})
}

func (h *routerHandlers) handleAddObstacle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Min world.Vec3 `json:"min"`
		Max world.Vec3 `json:"max"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Max.X < req.Min.X || req.Max.Y < req.Min.Y || req.Max.Z < req.Min.Z {
		writeError(w, "Obstacle max must not be below min", http.StatusBadRequest)
		return
	}

	h.world.AddObstacle(req.Min, req.Max)

	writeJSON(w, map[string]interface{}{"ok": true})
}

// writeJSON writes a JSON response with proper content type
func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("⚠️ Failed to encode JSON response: %v", err)
	}
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
