package http

import "github.com/jiyeyuran/mediasoup-go/v2"

type roomRequest struct {
	RoomID string `json:"roomId" binding:"required"`
}

type createRoomRequest struct {
	RoomID string `json:"roomId" binding:"required"`
	CallID string `json:"callId" binding:"required"`
}

type startCallRequest struct {
	CallID        string `json:"callId" binding:"required"`
	UserID        string `json:"userId" binding:"required"`
	RoomID        string `json:"roomId" binding:"required"`
	ParticipantID string `json:"participantId" binding:"required"`
}

type answerCallRequest struct {
	RoomID        string `json:"roomId" binding:"required"`
	UserID        string `json:"userId" binding:"required"`
	ParticipantID string `json:"participantId" binding:"required"`
}

type cloneParticipantRequest struct {
	RoomID           string `json:"roomId" binding:"required"`
	ParticipantID    string `json:"participant_id" binding:"required"`
	OldParticipantID string `json:"old_participant_id" binding:"required"`
}

type participantRequest struct {
	RoomID        string `json:"roomId" binding:"required"`
	ParticipantID string `json:"participantId" binding:"required"`
}

type connectTransportRequest struct {
	RoomID         string                    `json:"roomId" binding:"required"`
	ParticipantID  string                    `json:"participantId" binding:"required"`
	DtlsParameters *mediasoup.DtlsParameters `json:"dtlsParameters" binding:"required"`
}

type produceRequest struct {
	RoomID        string                   `json:"roomId" binding:"required"`
	ParticipantID string                   `json:"participantId" binding:"required"`
	Kind          string                   `json:"kind" binding:"required"`
	RtpParameters *mediasoup.RtpParameters `json:"rtpParameters" binding:"required"`
}

type consumeRequest struct {
	RoomID          string                     `json:"roomId" binding:"required"`
	ParticipantID   string                     `json:"participantId" binding:"required"`
	ProducerID      string                     `json:"producerId" binding:"required"`
	RtpCapabilities *mediasoup.RtpCapabilities `json:"rtpCapabilities" binding:"required"`
}

type unpauseConsumerRequest struct {
	RoomID        string `json:"roomId" binding:"required"`
	ParticipantID string `json:"participantId" binding:"required"`
	ConsumerID    string `json:"consumerId" binding:"required"`
}

type connectedRequest struct {
	RoomID        string `json:"roomId" binding:"required"`
	ParticipantID string `json:"participantId" binding:"required"`
	Connected     *bool  `json:"connected" binding:"required"`
}

type mediaStateRequest struct {
	RoomID        string `json:"roomId" binding:"required"`
	ParticipantID string `json:"participantId" binding:"required"`
	AudioEnabled  *bool  `json:"audioEnabled" binding:"required"`
	VideoEnabled  *bool  `json:"videoEnabled" binding:"required"`
}

type translateRequest struct {
	RoomID        string `json:"roomId" binding:"required"`
	ParticipantID string `json:"participantId" binding:"required"`
	ListenerID    string `json:"listenerId" binding:"required"`
	ProducerID    string `json:"producerId" binding:"required"`
	TargetLang    string `json:"targetLang" binding:"required"`
}

type translationStoppedRequest struct {
	RoomID             string `json:"roomId" binding:"required"`
	ConsumerID         string `json:"consumerId" binding:"required"`
	Speaker            string `json:"speaker" binding:"required"`
	Listener           string `json:"listener" binding:"required"`
	OriginalProducerID string `json:"originalProducerId" binding:"required"`
	TargetLang         string `json:"targetLang" binding:"required"`
}
