package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lumicall/mediabridge/internal/media/mediatest"
)

func quietSampler(usages ...float64) CPUSampler {
	return func() ([]float64, error) {
		return usages, nil
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func TestWorkerPoolCap(t *testing.T) {
	engine := mediatest.NewEngine()
	m := NewWorkerManager(engine, WorkerManagerOptions{
		MaxWorkers: 2,
		Sampler:    quietSampler(10, 10),
	})
	defer m.Shutdown()

	if _, err := m.CreateWorker(); err != nil {
		t.Fatalf("create worker: %v", err)
	}
	if _, err := m.CreateWorker(); err != nil {
		t.Fatalf("create worker: %v", err)
	}
	w, err := m.CreateWorker()
	if err != nil {
		t.Fatalf("create worker at cap: %v", err)
	}
	if w == nil {
		t.Fatal("expected an existing worker at cap")
	}
	if m.Size() != 2 {
		t.Fatalf("pool size = %d, want 2", m.Size())
	}
}

func TestGetWorkerSkipsUnhealthy(t *testing.T) {
	engine := mediatest.NewEngine()
	m := NewWorkerManager(engine, WorkerManagerOptions{
		MaxWorkers: 2,
		Sampler:    quietSampler(10, 10),
	})
	defer m.Shutdown()

	w1, _ := m.CreateWorker()
	w2, _ := m.CreateWorker()
	w1.Engine().(*mediatest.Worker).FailProbes(errors.New("unreachable"))

	got, err := m.GetWorker()
	if err != nil {
		t.Fatalf("get worker: %v", err)
	}
	if got.ID != w2.ID {
		t.Fatalf("got worker %s, want healthy worker %s", got.ID, w2.ID)
	}
}

func TestGetWorkerFallsBackWhenAllBusy(t *testing.T) {
	engine := mediatest.NewEngine()
	m := NewWorkerManager(engine, WorkerManagerOptions{
		MaxWorkers: 1,
		Sampler:    quietSampler(95),
	})
	defer m.Shutdown()

	if _, err := m.CreateWorker(); err != nil {
		t.Fatalf("create worker: %v", err)
	}
	got, err := m.GetWorker()
	if err != nil {
		t.Fatalf("get worker with busy cores: %v", err)
	}
	if got == nil {
		t.Fatal("expected fallback worker, got nil")
	}
}

func TestWorkerDeathSpawnsReplacement(t *testing.T) {
	engine := mediatest.NewEngine()
	m := NewWorkerManager(engine, WorkerManagerOptions{
		MaxWorkers: 4,
		Sampler:    quietSampler(10),
	})
	defer m.Shutdown()

	w, err := m.CreateWorker()
	if err != nil {
		t.Fatalf("create worker: %v", err)
	}
	w.Engine().(*mediatest.Worker).Die(errors.New("segfault"))

	waitFor(t, func() bool {
		if m.Size() != 1 {
			return false
		}
		_, stillThere := m.GetWorkerByID(w.ID)
		return !stillThere
	}, "replacement worker after death")
}

func TestHealthSweepEvictsWithoutReplacing(t *testing.T) {
	engine := mediatest.NewEngine()
	m := NewWorkerManager(engine, WorkerManagerOptions{
		MaxWorkers:     4,
		HealthInterval: 10 * time.Millisecond,
		Sampler:        quietSampler(10),
	})
	defer m.Shutdown()

	w, err := m.CreateWorker()
	if err != nil {
		t.Fatalf("create worker: %v", err)
	}
	w.Engine().(*mediatest.Worker).FailProbes(errors.New("unreachable"))
	m.StartHealthMonitoring()

	waitFor(t, func() bool { return m.Size() == 0 }, "failing worker evicted")

	time.Sleep(50 * time.Millisecond)
	if m.Size() != 0 {
		t.Fatalf("health sweep spawned a replacement, pool size = %d", m.Size())
	}
}

func TestCleanupIdleWorkers(t *testing.T) {
	engine := mediatest.NewEngine()
	m := NewWorkerManager(engine, WorkerManagerOptions{
		MaxWorkers:    4,
		IdleThreshold: 10 * time.Millisecond,
		Sampler:       quietSampler(10),
	})
	defer m.Shutdown()

	if _, err := m.CreateWorker(); err != nil {
		t.Fatalf("create worker: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	m.CleanupIdleWorkers()
	if m.Size() != 0 {
		t.Fatalf("pool size = %d after idle cleanup, want 0", m.Size())
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	engine := mediatest.NewEngine()
	m := NewWorkerManager(engine, WorkerManagerOptions{
		MaxWorkers: 4,
		Sampler:    quietSampler(10, 10),
	})
	m.CreateWorker()
	m.CreateWorker()

	m.Shutdown()
	m.Shutdown()

	if m.Size() != 0 {
		t.Fatalf("pool size = %d after shutdown, want 0", m.Size())
	}
	for _, fw := range engine.Workers {
		if !fw.Closed {
			t.Fatal("worker process left running after shutdown")
		}
	}
}

func TestCreateWorkerCapHoldsUnderConcurrency(t *testing.T) {
	engine := mediatest.NewEngine()
	m := NewWorkerManager(engine, WorkerManagerOptions{
		MaxWorkers: 2,
		Sampler:    quietSampler(10, 10),
	})
	defer m.Shutdown()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.CreateWorker(); err != nil {
				t.Errorf("create worker: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := m.Size(); n != 2 {
		t.Fatalf("pool size = %d, want 2", n)
	}
}
