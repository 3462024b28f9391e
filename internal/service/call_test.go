package service

import (
	"errors"
	"testing"
	"time"

	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"

	"github.com/lumicall/mediabridge/internal/core"
)

func TestStartCallConflictsOnBusyRoom(t *testing.T) {
	cfg := testConfig()
	rooms := newTestRooms(t, cfg)
	calls := NewCallService(rooms, cfg)

	details, err := calls.StartCall("c-1", "u-alice", "call-1", "alice")
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	if details.CallID != "c-1" {
		t.Fatalf("details call id = %q, want c-1", details.CallID)
	}
	room, err := rooms.Room("call-1")
	if err != nil {
		t.Fatalf("room lookup: %v", err)
	}
	if room.CallID != "c-1" {
		t.Fatalf("room call id = %q, want c-1", room.CallID)
	}
	owner, ok := room.Participant("alice")
	if !ok {
		t.Fatal("owner participant not provisioned")
	}
	if owner.UserID != "u-alice" || owner.RoomID != "call-1" {
		t.Fatalf("owner identity = user %q room %q", owner.UserID, owner.RoomID)
	}

	_, err = calls.StartCall("c-2", "u-mallory", "call-1", "mallory")
	var conflict *core.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second start: got %v, want ConflictError", err)
	}
}

func TestAnswerCallReturnsExistingProducers(t *testing.T) {
	cfg := testConfig()
	rooms := newTestRooms(t, cfg)
	calls := NewCallService(rooms, cfg)
	transports := NewTransportService(rooms)

	if _, err := calls.StartCall("c-1", "u-alice", "call-1", "alice"); err != nil {
		t.Fatalf("start call: %v", err)
	}
	if _, err := transports.CreateProducerTransport("call-1", "alice"); err != nil {
		t.Fatalf("create producer transport: %v", err)
	}
	event, err := transports.Produce("call-1", "alice", "audio", &mediasoup.RtpParameters{})
	if err != nil {
		t.Fatalf("produce: %v", err)
	}

	details, err := calls.AnswerCall("call-1", "u-bob", "bob")
	if err != nil {
		t.Fatalf("answer call: %v", err)
	}
	if len(details.Producers) != 1 {
		t.Fatalf("got %d producers, want 1", len(details.Producers))
	}
	if details.Producers[0].ProducerID != event.ProducerID || details.Producers[0].ParticipantID != "alice" {
		t.Fatalf("unexpected producer info: %+v", details.Producers[0])
	}
}

func TestAnswerUnknownRoom(t *testing.T) {
	cfg := testConfig()
	rooms := newTestRooms(t, cfg)
	calls := NewCallService(rooms, cfg)

	_, err := calls.AnswerCall("nope", "u-bob", "bob")
	if !core.IsNotFound(err) {
		t.Fatalf("got %v, want NotFoundError", err)
	}
}

func TestClearParticipantLeavesRoomToIdleWatchdog(t *testing.T) {
	cfg := testConfig()
	cfg.RoomIdleTick = 10 * time.Millisecond
	cfg.RoomIdleLimit = 300 * time.Millisecond
	rooms := newTestRooms(t, cfg)
	calls := NewCallService(rooms, cfg)

	if _, err := calls.StartCall("c-1", "u-alice", "call-1", "alice"); err != nil {
		t.Fatalf("start call: %v", err)
	}
	if err := calls.ClearParticipant("call-1", "alice"); err != nil {
		t.Fatalf("clear participant: %v", err)
	}

	// The emptied room stays up so a reconnecting caller can rejoin.
	room, err := rooms.Room("call-1")
	if err != nil {
		t.Fatalf("room gone right after last participant left: %v", err)
	}
	if _, err := calls.AnswerCall("call-1", "u-alice", "alice"); err != nil {
		t.Fatalf("rejoin after clear: %v", err)
	}
	if err := calls.ClearParticipant("call-1", "alice"); err != nil {
		t.Fatalf("second clear: %v", err)
	}

	// Only the idle watchdog closes it, after the idle limit.
	deadline := time.Now().Add(2 * time.Second)
	for room.IsActive() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if room.IsActive() {
		t.Fatal("idle room never closed")
	}
	// Clearing from a gone room is a no-op.
	if err := calls.ClearParticipant("call-1", "alice"); err != nil {
		t.Fatalf("clear after close: %v", err)
	}
}

func TestCloneParticipantUsesExplicitID(t *testing.T) {
	cfg := testConfig()
	rooms := newTestRooms(t, cfg)
	calls := NewCallService(rooms, cfg)
	transports := NewTransportService(rooms)

	if _, err := calls.StartCall("c-1", "u-alice", "call-1", "alice"); err != nil {
		t.Fatalf("start call: %v", err)
	}
	if _, err := transports.CreateProducerTransport("call-1", "alice"); err != nil {
		t.Fatalf("create producer transport: %v", err)
	}

	cloneID, err := calls.CloneParticipant("call-1", "alice", "alice-2")
	if err != nil {
		t.Fatalf("clone participant: %v", err)
	}
	if cloneID != "alice-2" {
		t.Fatalf("clone id = %q, want the requested id", cloneID)
	}

	room, _ := rooms.Room("call-1")
	clone, ok := room.Participant("alice-2")
	if !ok {
		t.Fatal("clone not registered under the requested id")
	}
	if clone.ClonedFrom() != "alice" || clone.UserID != "u-alice" {
		t.Fatalf("clone identity not carried over: from=%q user=%q", clone.ClonedFrom(), clone.UserID)
	}

	if _, err := calls.CloneParticipant("call-1", "ghost", "ghost-2"); !core.IsNotFound(err) {
		t.Fatalf("cloning unknown participant: got %v, want NotFoundError", err)
	}
}

func TestShareScreenLifecycle(t *testing.T) {
	cfg := testConfig()
	rooms := newTestRooms(t, cfg)
	calls := NewCallService(rooms, cfg)
	transports := NewTransportService(rooms)

	if _, err := calls.StartCall("c-1", "u-alice", "call-1", "alice"); err != nil {
		t.Fatalf("start call: %v", err)
	}

	// No producer transport yet.
	if _, err := calls.ShareScreen("call-1", "alice"); err == nil {
		t.Fatal("expected precondition failure before producer transport")
	}

	if _, err := transports.CreateProducerTransport("call-1", "alice"); err != nil {
		t.Fatalf("create producer transport: %v", err)
	}
	cloneID, err := calls.ShareScreen("call-1", "alice")
	if err != nil {
		t.Fatalf("share screen: %v", err)
	}
	if _, err := transports.Produce("call-1", cloneID, "video", &mediasoup.RtpParameters{}); err != nil {
		t.Fatalf("produce screen video: %v", err)
	}

	room, err := rooms.Room("call-1")
	if err != nil {
		t.Fatalf("room lookup: %v", err)
	}
	clone, ok := room.Participant(cloneID)
	if !ok || !clone.IsScreenSharer() {
		t.Fatal("screen-share clone not registered")
	}

	if err := calls.StopScreenSharing("call-1", "alice"); err != nil {
		t.Fatalf("stop screen sharing: %v", err)
	}
	if _, ok := room.Participant(cloneID); ok {
		t.Fatal("clone still in room after stop")
	}
	if _, ok := room.Participant("alice"); !ok {
		t.Fatal("original participant removed with the clone")
	}
}

func TestInstanceDetails(t *testing.T) {
	cfg := testConfig()
	rooms := newTestRooms(t, cfg)
	calls := NewCallService(rooms, cfg)

	if _, err := calls.StartCall("c-1", "u-alice", "call-1", "alice"); err != nil {
		t.Fatalf("start call: %v", err)
	}
	details := calls.InstanceDetails()
	if details.InstanceID == "" {
		t.Fatal("missing instance id")
	}
	if details.PublicIP != cfg.PublicIP || details.Rooms != 1 {
		t.Fatalf("unexpected details: %+v", details)
	}
}
