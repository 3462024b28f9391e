package service

import (
	"testing"

	"github.com/lumicall/mediabridge/internal/config"
	"github.com/lumicall/mediabridge/internal/core"
	"github.com/lumicall/mediabridge/internal/media/mediatest"
)

func testConfig() *config.Config {
	return &config.Config{
		Mode:                    "test",
		ListenIP:                "127.0.0.1",
		PublicIP:                "203.0.113.5",
		AudioObserverInterval:   500,
		AudioObserverThreshold:  -126,
		AudioObserverMaxEntries: 10,
		TranslatorIP:            "198.51.100.7",
		RTPPortMin:              20000,
		RTPPortMax:              20100,
	}
}

func newTestRooms(t *testing.T, cfg *config.Config) *core.RoomManager {
	t.Helper()
	engine := mediatest.NewEngine()
	workers := core.NewWorkerManager(engine, core.WorkerManagerOptions{
		MaxWorkers: 2,
		Sampler:    func() ([]float64, error) { return []float64{10, 10}, nil },
	})
	t.Cleanup(workers.Shutdown)
	rooms := core.NewRoomManager(workers, cfg)
	t.Cleanup(rooms.CloseAllRooms)
	return rooms
}
