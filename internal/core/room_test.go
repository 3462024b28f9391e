package core

import (
	"encoding/json"
	"testing"
	"time"

	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"

	"github.com/lumicall/mediabridge/internal/media"
	"github.com/lumicall/mediabridge/internal/media/mediatest"
)

func newTestRoom(t *testing.T, opts RoomOptions) *Room {
	t.Helper()
	engine := mediatest.NewEngine()
	ew, err := engine.NewWorker()
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	worker := NewWorker("w1", ew)
	router, err := ew.CreateRouter(nil)
	if err != nil {
		t.Fatalf("create router: %v", err)
	}
	observer, err := router.CreateAudioObserver(media.AudioObserverOptions{Interval: 500, Threshold: -126, MaxEntries: 10})
	if err != nil {
		t.Fatalf("create observer: %v", err)
	}
	room, err := NewRoom("room1", "call1", router, observer, worker, opts)
	if err != nil {
		t.Fatalf("new room: %v", err)
	}
	t.Cleanup(room.Close)
	return room
}

func joinWithAudio(t *testing.T, room *Room, participantID string) (*Participant, media.Producer) {
	t.Helper()
	p := NewParticipant("user-"+participantID, room.ID, participantID)
	if err := room.AddParticipant(p); err != nil {
		t.Fatalf("add participant: %v", err)
	}
	transport, err := room.CreateTransportForParticipant(participantID, RoleProducer, false)
	if err != nil {
		t.Fatalf("create transport: %v", err)
	}
	p.SetProducerTransport(transport)
	producer, err := p.ProduceAudio(&mediasoup.RtpParameters{}, mediasoup.H{"participantId": participantID, "type": "audio"})
	if err != nil {
		t.Fatalf("produce audio: %v", err)
	}
	room.AddProducer(producer)
	return p, producer
}

func TestRemoveParticipantSweepsTaggedResources(t *testing.T) {
	room := newTestRoom(t, RoomOptions{})
	_, producer := joinWithAudio(t, room, "alice")
	joinWithAudio(t, room, "bob")

	observer := room.observer.(*mediatest.AudioObserver)
	if !observer.HasProducer(producer.Id()) {
		t.Fatal("audio producer not registered with observer")
	}

	room.RemoveParticipant("alice")

	if _, ok := room.Participant("alice"); ok {
		t.Fatal("participant still present after removal")
	}
	if _, ok := room.Producer(producer.Id()); ok {
		t.Fatal("producer still tracked after owner removal")
	}
	if observer.HasProducer(producer.Id()) {
		t.Fatal("producer still on observer after owner removal")
	}
	if room.ParticipantCount() != 1 {
		t.Fatalf("participant count = %d, want 1", room.ParticipantCount())
	}

	// Removing again is a no-op.
	room.RemoveParticipant("alice")
}

func TestAddParticipantConflicts(t *testing.T) {
	room := newTestRoom(t, RoomOptions{})
	if err := room.AddParticipant(NewParticipant("u-alice", room.ID, "alice")); err != nil {
		t.Fatalf("add participant: %v", err)
	}
	if err := room.AddParticipant(NewParticipant("u-alice", room.ID, "alice")); err == nil {
		t.Fatal("expected conflict on duplicate participant")
	}
}

func TestGetProducersExcludesCaller(t *testing.T) {
	room := newTestRoom(t, RoomOptions{})
	joinWithAudio(t, room, "alice")
	_, bobProducer := joinWithAudio(t, room, "bob")

	infos := room.GetProducers("alice")
	if len(infos) != 1 {
		t.Fatalf("got %d producers, want 1", len(infos))
	}
	if infos[0].ProducerID != bobProducer.Id() || infos[0].ParticipantID != "bob" {
		t.Fatalf("unexpected producer info: %+v", infos[0])
	}
}

func TestVolumeBroadcast(t *testing.T) {
	room := newTestRoom(t, RoomOptions{})
	observer := room.observer.(*mediatest.AudioObserver)
	dataProducer := room.dataProducer.(*mediatest.DataProducer)

	observer.EmitVolumes([]media.VolumeEntry{{ProducerId: "p1", Volume: -40}})

	if len(dataProducer.Sent) != 1 {
		t.Fatalf("got %d broadcasts, want 1", len(dataProducer.Sent))
	}
	var msg struct {
		Type    string              `json:"type"`
		Volumes []media.VolumeEntry `json:"volumes"`
	}
	if err := json.Unmarshal(dataProducer.Sent[0], &msg); err != nil {
		t.Fatalf("decode broadcast: %v", err)
	}
	if msg.Type != "audio-volumes" {
		t.Fatalf("type = %q, want audio-volumes", msg.Type)
	}
	if len(msg.Volumes) != 1 || msg.Volumes[0].ProducerId != "p1" || msg.Volumes[0].Volume != -40 {
		t.Fatalf("unexpected volumes: %+v", msg.Volumes)
	}
}

func TestCloseIsTerminalAndIdempotent(t *testing.T) {
	room := newTestRoom(t, RoomOptions{})
	_, producer := joinWithAudio(t, room, "alice")

	closedCalls := 0
	room.OnClosed(func(string) { closedCalls++ })

	room.Close()
	room.Close()

	if room.IsActive() {
		t.Fatal("room still active after close")
	}
	if closedCalls != 1 {
		t.Fatalf("onClosed fired %d times, want 1", closedCalls)
	}
	if !room.router.Closed() {
		t.Fatal("router left open")
	}
	if !room.observer.(*mediatest.AudioObserver).Closed {
		t.Fatal("observer left open")
	}
	if n := producer.(*mediatest.Producer).CloseCount; n != 1 {
		t.Fatalf("producer close count = %d, want 1", n)
	}
	if err := room.AddParticipant(NewParticipant("u-late", room.ID, "late")); err == nil {
		t.Fatal("expected error adding participant to closed room")
	}
}

func TestIdleRoomCloses(t *testing.T) {
	room := newTestRoom(t, RoomOptions{IdleTick: 10 * time.Millisecond, IdleLimit: 30 * time.Millisecond})

	deadline := time.Now().Add(2 * time.Second)
	for room.IsActive() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if room.IsActive() {
		t.Fatal("empty room never closed")
	}
}

func TestOccupiedRoomStaysOpen(t *testing.T) {
	room := newTestRoom(t, RoomOptions{IdleTick: 10 * time.Millisecond, IdleLimit: 30 * time.Millisecond})
	if err := room.AddParticipant(NewParticipant("u-alice", room.ID, "alice")); err != nil {
		t.Fatalf("add participant: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if !room.IsActive() {
		t.Fatal("occupied room was closed as idle")
	}
}

func TestStatsAndHealth(t *testing.T) {
	room := newTestRoom(t, RoomOptions{})
	room.SetOwner("u-alice", "alice")
	joinWithAudio(t, room, "bob")

	stats := room.Stats()
	if stats.Owner != "alice" || stats.Participants != 2 || stats.Producers != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	health := room.Health()
	if !health.Healthy || !health.RouterAlive || !health.WorkerAlive {
		t.Fatalf("unexpected health: %+v", health)
	}

	room.Close()
	health = room.Health()
	if health.Healthy {
		t.Fatal("closed room reported healthy")
	}
}

func TestPipeProducerToRoom(t *testing.T) {
	roomA := newTestRoom(t, RoomOptions{})
	roomB := newTestRoom(t, RoomOptions{})
	_, producer := joinWithAudio(t, roomA, "alice")

	if err := roomA.PipeProducerToRoom(producer.Id(), roomB); err != nil {
		t.Fatalf("pipe producer: %v", err)
	}
	if err := roomA.PipeProducerToRoom("missing", roomB); err == nil {
		t.Fatal("expected error piping unknown producer")
	}
}

func TestForgetProducerLeavesItOpen(t *testing.T) {
	room := newTestRoom(t, RoomOptions{})
	_, producer := joinWithAudio(t, room, "alice")

	room.ForgetProducer(producer.Id())

	if _, ok := room.Producer(producer.Id()); ok {
		t.Fatal("producer still tracked after forget")
	}
	observer := room.observer.(*mediatest.AudioObserver)
	if observer.HasProducer(producer.Id()) {
		t.Fatal("producer still on observer after forget")
	}
	if n := producer.(*mediatest.Producer).CloseCount; n != 0 {
		t.Fatalf("forget closed the producer (%d closes)", n)
	}
	room.Close()
	if n := producer.(*mediatest.Producer).CloseCount; n != 1 {
		t.Fatalf("producer close count after room close = %d, want 1", n)
	}
}
