package core

import (
	"fmt"
	"sync"

	"github.com/jiyeyuran/mediasoup-go/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/lumicall/mediabridge/internal/config"
	"github.com/lumicall/mediabridge/internal/media"
)

var mediaCodecs = []*mediasoup.RtpCodecCapability{
	{
		Kind:      media.KindAudio,
		MimeType:  "audio/opus",
		ClockRate: 48000,
		Channels:  2,
	},
	{
		Kind:      media.KindVideo,
		MimeType:  "video/VP8",
		ClockRate: 90000,
		Parameters: mediasoup.RtpCodecSpecificParameters{
			XGoogleStartBitrate: 1000,
		},
	},
}

// RoomManager maps room ids to live rooms and provisions each new room
// a router and audio observer on the least busy worker.
type RoomManager struct {
	workers *WorkerManager
	cfg     *config.Config

	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewRoomManager(workers *WorkerManager, cfg *config.Config) *RoomManager {
	return &RoomManager{
		workers: workers,
		cfg:     cfg,
		rooms:   make(map[string]*Room),
	}
}

func (m *RoomManager) Room(roomID string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok || !room.IsActive() {
		return nil, &NotFoundError{Resource: "room", ID: roomID}
	}
	return room, nil
}

func (m *RoomManager) Rooms() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// CreateRoom provisions a new room for the given call. The id must be
// free.
func (m *RoomManager) CreateRoom(roomID, callID string) (*Room, error) {
	m.mu.RLock()
	_, exists := m.rooms[roomID]
	m.mu.RUnlock()
	if exists {
		return nil, &ConflictError{Resource: "room", ID: roomID}
	}
	return m.provision(roomID, callID)
}

// GetOrCreateRoom returns the existing room or provisions one. Used by
// pre-provisioning, where racing callers must converge on one room.
func (m *RoomManager) GetOrCreateRoom(roomID, callID string) (*Room, error) {
	m.mu.RLock()
	room, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if ok && room.IsActive() {
		return room, nil
	}
	return m.provision(roomID, callID)
}

func (m *RoomManager) provision(roomID, callID string) (*Room, error) {
	worker, err := m.workers.GetWorker()
	if err != nil {
		return nil, fmt.Errorf("no worker for room %s: %w", roomID, err)
	}
	router, err := worker.Engine().CreateRouter(mediaCodecs)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}
	observer, err := router.CreateAudioObserver(media.AudioObserverOptions{
		Interval:   m.cfg.AudioObserverInterval,
		Threshold:  m.cfg.AudioObserverThreshold,
		MaxEntries: m.cfg.AudioObserverMaxEntries,
	})
	if err != nil {
		router.Close()
		return nil, fmt.Errorf("create audio observer: %w", err)
	}

	room, err := NewRoom(roomID, callID, router, observer, worker, RoomOptions{
		ListenIP:    m.cfg.ListenIP,
		AnnouncedIP: m.cfg.PublicIP,
		IdleLimit:   m.cfg.RoomIdleLimit,
		IdleTick:    m.cfg.RoomIdleTick,
	})
	if err != nil {
		observer.Close()
		router.Close()
		return nil, fmt.Errorf("create room: %w", err)
	}

	m.mu.Lock()
	if existing, ok := m.rooms[roomID]; ok && existing.IsActive() {
		m.mu.Unlock()
		room.Close()
		return existing, nil
	}
	m.rooms[roomID] = room
	m.mu.Unlock()

	worker.AddRoom(roomID)
	room.OnClosed(func(id string) {
		m.mu.Lock()
		if m.rooms[id] == room {
			delete(m.rooms, id)
		}
		m.mu.Unlock()
		worker.RemoveRoom(id)
	})

	log.Info().Str("module", "core.rooms").Str("room_id", roomID).Str("worker_id", worker.ID).Msg("room created")
	return room, nil
}

func (m *RoomManager) CloseRoom(roomID string) error {
	room, err := m.Room(roomID)
	if err != nil {
		return err
	}
	room.Close()
	return nil
}

// CloseAllRooms tears every room down in parallel. Shutdown path.
func (m *RoomManager) CloseAllRooms() {
	rooms := m.Rooms()
	g := new(errgroup.Group)
	for _, room := range rooms {
		g.Go(func() error {
			room.Close()
			return nil
		})
	}
	g.Wait()
	log.Info().Str("module", "core.rooms").Int("closed", len(rooms)).Msg("all rooms closed")
}
