package service

import (
	"github.com/google/uuid"
	"github.com/jiyeyuran/mediasoup-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/lumicall/mediabridge/internal/config"
	"github.com/lumicall/mediabridge/internal/core"
)

const screenShareSuffix = "-screen"

type CallDetails struct {
	RoomID                string                     `json:"roomId"`
	CallID                string                     `json:"callId,omitempty"`
	ParticipantID         string                     `json:"participantId,omitempty"`
	WorkerID              string                     `json:"workerId"`
	InstanceID            string                     `json:"instanceId"`
	RouterRtpCapabilities *mediasoup.RtpCapabilities `json:"routerRtpCapabilities"`
}

type AnswerDetails struct {
	RouterRtpCapabilities *mediasoup.RtpCapabilities `json:"routerRtpCapabilities"`
	Producers             []core.ProducerInfo        `json:"producers"`
}

type InstanceDetails struct {
	InstanceID string `json:"instanceId"`
	PublicIP   string `json:"publicIp"`
	Rooms      int    `json:"rooms"`
}

// CallService drives call lifecycle: rooms come and go, participants
// join, leave and share screens.
type CallService struct {
	rooms      *core.RoomManager
	cfg        *config.Config
	instanceID string
}

func NewCallService(rooms *core.RoomManager, cfg *config.Config) *CallService {
	return &CallService{
		rooms:      rooms,
		cfg:        cfg,
		instanceID: uuid.NewString(),
	}
}

// StartCall provisions a room for a new call and registers the caller
// as its owner. Starting a call in an occupied room id is a conflict.
func (s *CallService) StartCall(callID, userID, roomID, participantID string) (*CallDetails, error) {
	room, err := s.rooms.CreateRoom(roomID, callID)
	if err != nil {
		return nil, err
	}
	room.SetOwner(userID, participantID)
	log.Info().Str("module", "service.call").Str("call_id", callID).Str("room_id", roomID).Str("user_id", userID).Str("participant_id", participantID).Msg("call started")
	return &CallDetails{
		RoomID:                roomID,
		CallID:                callID,
		ParticipantID:         participantID,
		WorkerID:              room.WorkerID(),
		InstanceID:            s.instanceID,
		RouterRtpCapabilities: room.Router().RtpCapabilities(),
	}, nil
}

// CreateRoom pre-provisions a room without an owner, e.g. for scheduled
// calls. Safe to call twice with the same id.
func (s *CallService) CreateRoom(roomID, callID string) (*CallDetails, error) {
	room, err := s.rooms.GetOrCreateRoom(roomID, callID)
	if err != nil {
		return nil, err
	}
	return &CallDetails{
		RoomID:                roomID,
		CallID:                room.CallID,
		WorkerID:              room.WorkerID(),
		InstanceID:            s.instanceID,
		RouterRtpCapabilities: room.Router().RtpCapabilities(),
	}, nil
}

// AnswerCall joins a participant to an existing room and hands back the
// router capabilities plus the producers already live in the room.
func (s *CallService) AnswerCall(roomID, userID, participantID string) (*AnswerDetails, error) {
	room, err := s.rooms.Room(roomID)
	if err != nil {
		return nil, err
	}
	participant := core.NewParticipant(userID, roomID, participantID)
	if err := room.AddParticipant(participant); err != nil {
		return nil, err
	}
	log.Info().Str("module", "service.call").Str("room_id", roomID).Str("participant_id", participantID).Msg("call answered")
	return &AnswerDetails{
		RouterRtpCapabilities: room.Router().RtpCapabilities(),
		Producers:             room.GetProducers(participantID),
	}, nil
}

// ClearParticipant removes a participant and their screen-share clone,
// if any. An emptied room stays up for late rejoins; the idle watchdog
// closes it once the idle limit passes. Idempotent.
func (s *CallService) ClearParticipant(roomID, participantID string) error {
	room, err := s.rooms.Room(roomID)
	if err != nil {
		if core.IsNotFound(err) {
			return nil
		}
		return err
	}
	room.RemoveParticipant(participantID)
	room.RemoveParticipant(participantID + screenShareSuffix)
	return nil
}

// ShareScreen registers a screen-share clone of the participant that
// reuses their transports. Returns the clone's id; the endpoint
// produces screen video under that identity.
func (s *CallService) ShareScreen(roomID, participantID string) (string, error) {
	return s.CloneParticipant(roomID, participantID, participantID+screenShareSuffix)
}

// CloneParticipant registers a clone of an existing participant under a
// caller-chosen id. The clone reuses the source's transports.
func (s *CallService) CloneParticipant(roomID, oldParticipantID, newParticipantID string) (string, error) {
	room, err := s.rooms.Room(roomID)
	if err != nil {
		return "", err
	}
	source, ok := room.Participant(oldParticipantID)
	if !ok {
		return "", &core.NotFoundError{Resource: "participant", ID: oldParticipantID}
	}
	if source.ProducerTransport() == nil {
		return "", &core.PreconditionError{Op: "cloneParticipant", Reason: "producer transport not created"}
	}
	clone := source.Clone(newParticipantID)
	if err := room.AddParticipant(clone); err != nil {
		return "", err
	}
	log.Info().Str("module", "service.call").Str("room_id", roomID).Str("participant_id", oldParticipantID).Str("clone_id", newParticipantID).Msg("participant cloned")
	return newParticipantID, nil
}

// StopScreenSharing closes the clone's media and removes it from the
// room. The original participant's transports stay up.
func (s *CallService) StopScreenSharing(roomID, participantID string) error {
	room, err := s.rooms.Room(roomID)
	if err != nil {
		return err
	}
	cloneID := participantID + screenShareSuffix
	clone, ok := room.Participant(cloneID)
	if !ok {
		// Allow passing the clone id directly.
		clone, ok = room.Participant(participantID)
		if !ok || !clone.IsScreenSharer() {
			return &core.NotFoundError{Resource: "participant", ID: cloneID}
		}
		cloneID = participantID
	}
	clone.StopScreenSharing()
	room.RemoveParticipant(cloneID)
	return nil
}

func (s *CallService) CloseRoom(roomID string) error {
	return s.rooms.CloseRoom(roomID)
}

func (s *CallService) CloseAllRooms() {
	s.rooms.CloseAllRooms()
}

func (s *CallService) RoomStats(roomID string) (core.RoomStats, error) {
	room, err := s.rooms.Room(roomID)
	if err != nil {
		return core.RoomStats{}, err
	}
	return room.Stats(), nil
}

func (s *CallService) RoomHealth(roomID string) (core.RoomHealth, error) {
	room, err := s.rooms.Room(roomID)
	if err != nil {
		return core.RoomHealth{}, err
	}
	return room.Health(), nil
}

func (s *CallService) InstanceDetails() InstanceDetails {
	return InstanceDetails{
		InstanceID: s.instanceID,
		PublicIP:   s.cfg.PublicIP,
		Rooms:      len(s.rooms.Rooms()),
	}
}
