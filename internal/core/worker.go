package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lumicall/mediabridge/internal/media"
)

// Worker wraps one media worker process with pool bookkeeping: liveness,
// last-activity timestamp and the set of rooms routed through it.
// Mutated by the WorkerManager only.
type Worker struct {
	ID     string
	engine media.Worker

	mu           sync.RWMutex
	active       bool
	lastActivity time.Time
	rooms        map[string]struct{}
}

func NewWorker(id string, engine media.Worker) *Worker {
	return &Worker{
		ID:           id,
		engine:       engine,
		active:       true,
		lastActivity: time.Now(),
		rooms:        make(map[string]struct{}),
	}
}

func (w *Worker) Engine() media.Worker { return w.engine }

// Probe asks the worker process for its resource usage. A failed probe
// marks the worker inactive.
func (w *Worker) Probe() error {
	_, err := w.engine.GetResourceUsage()
	if err != nil {
		w.mu.Lock()
		w.active = false
		w.mu.Unlock()
		return err
	}
	return nil
}

func (w *Worker) IsActive() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active
}

func (w *Worker) MarkDead() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = false
}

func (w *Worker) UpdateActivity() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActivity = time.Now()
}

func (w *Worker) LastActivity() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastActivity
}

func (w *Worker) AddRoom(roomID string) {
	w.mu.Lock()
	w.rooms[roomID] = struct{}{}
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

func (w *Worker) RemoveRoom(roomID string) {
	w.mu.Lock()
	delete(w.rooms, roomID)
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

func (w *Worker) RoomCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.rooms)
}

func (w *Worker) HasCapacity(maxRoomsPerWorker int) bool {
	return w.RoomCount() < maxRoomsPerWorker
}

// Close shuts the worker process down. Safe to call on a dead worker.
func (w *Worker) Close() {
	w.mu.Lock()
	w.active = false
	n := len(w.rooms)
	w.mu.Unlock()

	if err := w.engine.Close(); err != nil {
		log.Warn().Str("module", "core.worker").Str("worker_id", w.ID).Err(err).Msg("error closing worker")
	}
	log.Info().Str("module", "core.worker").Str("worker_id", w.ID).Int("rooms", n).Msg("worker closed")
}
