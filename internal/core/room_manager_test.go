package core

import (
	"errors"
	"testing"

	"github.com/lumicall/mediabridge/internal/config"
	"github.com/lumicall/mediabridge/internal/media/mediatest"
)

func newTestRoomManager(t *testing.T) *RoomManager {
	t.Helper()
	engine := mediatest.NewEngine()
	workers := NewWorkerManager(engine, WorkerManagerOptions{
		MaxWorkers: 2,
		Sampler:    quietSampler(10, 10),
	})
	t.Cleanup(workers.Shutdown)
	cfg := &config.Config{
		ListenIP:                "127.0.0.1",
		PublicIP:                "203.0.113.5",
		AudioObserverInterval:   500,
		AudioObserverThreshold:  -126,
		AudioObserverMaxEntries: 10,
	}
	m := NewRoomManager(workers, cfg)
	t.Cleanup(m.CloseAllRooms)
	return m
}

func TestCreateRoomConflict(t *testing.T) {
	m := newTestRoomManager(t)
	if _, err := m.CreateRoom("call-1", "c-1"); err != nil {
		t.Fatalf("create room: %v", err)
	}
	_, err := m.CreateRoom("call-1", "c-1")
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("duplicate room: got %v, want ConflictError", err)
	}
}

func TestGetOrCreateRoomConverges(t *testing.T) {
	m := newTestRoomManager(t)
	a, err := m.GetOrCreateRoom("call-1", "c-1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	b, err := m.GetOrCreateRoom("call-1", "c-1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if a != b {
		t.Fatal("expected both callers to get the same room")
	}
}

func TestRoomCloseDropsManagerEntry(t *testing.T) {
	m := newTestRoomManager(t)
	room, err := m.CreateRoom("call-1", "c-1")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	worker, ok := m.workers.GetWorkerByID(room.WorkerID())
	if !ok {
		t.Fatal("room's worker not tracked")
	}
	if worker.RoomCount() != 1 {
		t.Fatalf("worker room count = %d, want 1", worker.RoomCount())
	}

	room.Close()

	if _, err := m.Room("call-1"); !IsNotFound(err) {
		t.Fatalf("closed room lookup: got %v, want NotFoundError", err)
	}
	if worker.RoomCount() != 0 {
		t.Fatalf("worker room count = %d after close, want 0", worker.RoomCount())
	}
	// The id is free again.
	if _, err := m.CreateRoom("call-1", "c-1"); err != nil {
		t.Fatalf("recreate room: %v", err)
	}
}

func TestCloseAllRooms(t *testing.T) {
	m := newTestRoomManager(t)
	a, _ := m.CreateRoom("call-1", "c-1")
	b, _ := m.CreateRoom("call-2", "c-2")

	m.CloseAllRooms()

	if a.IsActive() || b.IsActive() {
		t.Fatal("rooms left active after CloseAllRooms")
	}
	if len(m.Rooms()) != 0 {
		t.Fatalf("manager still tracks %d rooms", len(m.Rooms()))
	}
}
