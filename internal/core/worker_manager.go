package core

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"golang.org/x/sync/errgroup"

	"github.com/lumicall/mediabridge/internal/media"
)

const busyCoreThreshold = 80.0

// CPUSampler returns per-core utilization percentages.
type CPUSampler func() ([]float64, error)

func sampleCPU() ([]float64, error) {
	return cpu.Percent(0, true)
}

type WorkerManagerOptions struct {
	// MaxWorkers caps the pool; 0 means twice the CPU core count.
	MaxWorkers     int
	HealthInterval time.Duration
	IdleThreshold  time.Duration
	// MaxRoomsPerWorker excludes loaded workers from placement; 0
	// disables the check.
	MaxRoomsPerWorker int
	// Sampler overrides CPU sampling; nil uses the host CPUs.
	Sampler CPUSampler
}

// WorkerManager owns the media worker pool: placement, health and
// failure recovery. One instance per process, injected where needed.
type WorkerManager struct {
	engine     media.Engine
	maxWorkers int
	maxRooms   int
	interval   time.Duration
	idleAfter  time.Duration
	sampler    CPUSampler

	mu      sync.RWMutex
	workers map[string]*Worker
	stop    chan struct{}
	down    bool
}

func NewWorkerManager(engine media.Engine, opts WorkerManagerOptions) *WorkerManager {
	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU() * 2
	}
	interval := opts.HealthInterval
	if interval <= 0 {
		interval = time.Minute
	}
	idleAfter := opts.IdleThreshold
	if idleAfter <= 0 {
		idleAfter = 10 * time.Minute
	}
	sampler := opts.Sampler
	if sampler == nil {
		sampler = sampleCPU
	}
	return &WorkerManager{
		engine:     engine,
		maxWorkers: maxWorkers,
		maxRooms:   opts.MaxRoomsPerWorker,
		interval:   interval,
		idleAfter:  idleAfter,
		sampler:    sampler,
		workers:    make(map[string]*Worker),
	}
}

func (m *WorkerManager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}

// CreateWorker spawns a new worker process, or returns the least busy
// existing worker when the pool is at capacity.
func (m *WorkerManager) CreateWorker() (*Worker, error) {
	m.mu.RLock()
	atCapacity := len(m.workers) >= m.maxWorkers
	m.mu.RUnlock()
	if atCapacity {
		return m.getLeastBusyWorker()
	}

	engineWorker, err := m.engine.NewWorker()
	if err != nil {
		return nil, fmt.Errorf("worker creation failed: %w", err)
	}
	workerID := uuid.NewString()
	worker := NewWorker(workerID, engineWorker)

	// The death handler is the only path that spawns a replacement;
	// the health sweep just evicts, to avoid duplicate spawns.
	engineWorker.OnDied(func(err error) {
		log.Error().Str("module", "core.workers").Str("worker_id", workerID).Err(err).Msg("worker died unexpectedly")
		worker.MarkDead()
		m.RemoveWorker(workerID)
		go func() {
			if _, err := m.CreateWorker(); err != nil {
				log.Error().Str("module", "core.workers").Err(err).Msg("failed to create replacement worker")
			}
		}()
	})

	m.mu.Lock()
	if len(m.workers) >= m.maxWorkers {
		// A racing creator filled the pool while we were spawning.
		m.mu.Unlock()
		if err := engineWorker.Close(); err != nil {
			log.Warn().Str("module", "core.workers").Str("worker_id", workerID).Err(err).Msg("failed to close surplus worker")
		}
		return m.getLeastBusyWorker()
	}
	m.workers[workerID] = worker
	size := len(m.workers)
	m.mu.Unlock()

	log.Info().Str("module", "core.workers").Str("worker_id", workerID).Int("pid", engineWorker.Pid()).Int("pool_size", size).Msg("worker created")
	return worker, nil
}

// GetWorker returns a worker for a new room, creating the first one if
// the pool is empty.
func (m *WorkerManager) GetWorker() (*Worker, error) {
	if m.Size() == 0 {
		return m.CreateWorker()
	}
	return m.getLeastBusyWorker()
}

func (m *WorkerManager) GetWorkerByID(workerID string) (*Worker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[workerID]
	return w, ok
}

// getLeastBusyWorker pairs the lowest-utilization CPU cores with healthy
// workers and picks the best candidate under the busy threshold. With no
// healthy candidate it grows the pool if it can, otherwise it falls back
// to an arbitrary tracked worker: a call must proceed.
func (m *WorkerManager) getLeastBusyWorker() (*Worker, error) {
	usages, err := m.sampler()
	if err != nil {
		log.Warn().Str("module", "core.workers").Err(err).Msg("cpu sampling failed")
	}
	sort.Float64s(usages)

	m.mu.RLock()
	candidates := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		candidates = append(candidates, w)
	}
	m.mu.RUnlock()

	var best *Worker
	lowest := busyCoreThreshold
	i := 0
	for _, w := range candidates {
		if !m.isWorkerHealthy(w) {
			continue
		}
		if m.maxRooms > 0 && !w.HasCapacity(m.maxRooms) {
			continue
		}
		usage := 100.0
		if i < len(usages) {
			usage = usages[i]
		}
		i++
		if usage < lowest {
			lowest = usage
			best = w
		}
	}

	if best == nil {
		if m.Size() < m.maxWorkers {
			return m.CreateWorker()
		}
		if len(candidates) == 0 {
			return nil, fmt.Errorf("no workers available")
		}
		log.Warn().Str("module", "core.workers").Msg("no healthy worker under threshold, falling back to first tracked worker")
		return candidates[0], nil
	}
	return best, nil
}

func (m *WorkerManager) isWorkerHealthy(w *Worker) bool {
	if err := w.Probe(); err != nil {
		log.Warn().Str("module", "core.workers").Str("worker_id", w.ID).Err(err).Msg("health check failed")
		return false
	}
	return w.IsActive()
}

// RemoveWorker closes the worker's process and drops it from the pool.
func (m *WorkerManager) RemoveWorker(workerID string) {
	m.mu.Lock()
	worker, ok := m.workers[workerID]
	if ok {
		delete(m.workers, workerID)
	}
	size := len(m.workers)
	m.mu.Unlock()
	if !ok {
		return
	}
	worker.Close()
	log.Info().Str("module", "core.workers").Str("worker_id", workerID).Int("pool_size", size).Msg("worker removed")
}

// CleanupIdleWorkers reclaims workers with no bookkeeping activity for
// the idle threshold. Safety net for missed death events.
func (m *WorkerManager) CleanupIdleWorkers() {
	now := time.Now()
	m.mu.RLock()
	var idle []string
	for id, w := range m.workers {
		if now.Sub(w.LastActivity()) > m.idleAfter {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()
	for _, id := range idle {
		log.Info().Str("module", "core.workers").Str("worker_id", id).Msg("removing idle worker")
		m.RemoveWorker(id)
	}
}

// StartHealthMonitoring runs the periodic sweep until stopped. Failing
// workers are evicted without replacement from this path.
func (m *WorkerManager) StartHealthMonitoring() {
	m.mu.Lock()
	if m.stop != nil || m.down {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.stop = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *WorkerManager) sweep() {
	m.mu.RLock()
	snapshot := make(map[string]*Worker, len(m.workers))
	for id, w := range m.workers {
		snapshot[id] = w
	}
	m.mu.RUnlock()

	log.Debug().Str("module", "core.workers").Int("pool_size", len(snapshot)).Msg("running worker health check")
	for id, w := range snapshot {
		if !m.isWorkerHealthy(w) {
			log.Warn().Str("module", "core.workers").Str("worker_id", id).Msg("worker failed health check, removing")
			m.RemoveWorker(id)
		}
	}
	m.CleanupIdleWorkers()
}

func (m *WorkerManager) StopHealthMonitoring() {
	m.mu.Lock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.mu.Unlock()
}

// Shutdown stops monitoring and closes every worker. Idempotent; used
// once at process termination.
func (m *WorkerManager) Shutdown() {
	m.StopHealthMonitoring()

	m.mu.Lock()
	if m.down {
		m.mu.Unlock()
		return
	}
	m.down = true
	workers := m.workers
	m.workers = make(map[string]*Worker)
	m.mu.Unlock()

	g := new(errgroup.Group)
	for _, w := range workers {
		g.Go(func() error {
			w.Close()
			return nil
		})
	}
	g.Wait()
	log.Info().Str("module", "core.workers").Int("closed", len(workers)).Msg("worker manager shutdown complete")
}
