package service

import (
	"github.com/jiyeyuran/mediasoup-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/lumicall/mediabridge/internal/core"
	"github.com/lumicall/mediabridge/internal/media"
)

type TransportInfo struct {
	ID             string                    `json:"id"`
	IceParameters  mediasoup.IceParameters   `json:"iceParameters"`
	IceCandidates  []mediasoup.IceCandidate  `json:"iceCandidates"`
	DtlsParameters mediasoup.DtlsParameters  `json:"dtlsParameters"`
	SctpParameters *mediasoup.SctpParameters `json:"sctpParameters,omitempty"`
}

// NewProducerEvent is the fan-out payload for a fresh producer; the
// call-control service broadcasts it to the other participants.
type NewProducerEvent struct {
	ProducerID     string                   `json:"producerId"`
	Kind           mediasoup.MediaKind      `json:"kind"`
	RtpParameters  *mediasoup.RtpParameters `json:"rtpParameters"`
	ParticipantID  string                   `json:"participantId"`
	IsScreenSharer bool                     `json:"isScreenSharer"`
}

type ConsumerInfo struct {
	ConsumerID    string                   `json:"consumerId"`
	ProducerID    string                   `json:"producerId"`
	Kind          mediasoup.MediaKind      `json:"kind"`
	RtpParameters *mediasoup.RtpParameters `json:"rtpParameters"`
}

type DataConsumerInfo struct {
	DataConsumerID       string                          `json:"dataConsumerId"`
	DataProducerID       string                          `json:"dataProducerId"`
	Label                string                          `json:"label"`
	SctpStreamParameters *mediasoup.SctpStreamParameters `json:"sctpStreamParameters"`
}

// TransportService is the protocol surface for transports and media:
// the ordered create/connect/produce/consume flow.
type TransportService struct {
	rooms *core.RoomManager
}

func NewTransportService(rooms *core.RoomManager) *TransportService {
	return &TransportService{rooms: rooms}
}

func (s *TransportService) lookup(roomID, participantID string) (*core.Room, *core.Participant, error) {
	room, err := s.rooms.Room(roomID)
	if err != nil {
		return nil, nil, err
	}
	participant, ok := room.Participant(participantID)
	if !ok {
		return nil, nil, &core.NotFoundError{Resource: "participant", ID: participantID}
	}
	return room, participant, nil
}

func webRtcInfo(t media.Transport) *TransportInfo {
	info := t.WebRtcInfo()
	return &TransportInfo{
		ID:             t.Id(),
		IceParameters:  info.IceParameters,
		IceCandidates:  info.IceCandidates,
		DtlsParameters: info.DtlsParameters,
		SctpParameters: info.SctpParameters,
	}
}

func (s *TransportService) CreateProducerTransport(roomID, participantID string) (*TransportInfo, error) {
	room, participant, err := s.lookup(roomID, participantID)
	if err != nil {
		return nil, err
	}
	transport, err := retry("createProducerTransport", func() (media.Transport, error) {
		return room.CreateTransportForParticipant(participantID, core.RoleProducer, false)
	})
	if err != nil {
		return nil, err
	}
	participant.SetProducerTransport(transport)
	return webRtcInfo(transport), nil
}

// CreateConsumerTransport creates the receive-side transport. SCTP is
// enabled so the volume data channel can ride on it.
func (s *TransportService) CreateConsumerTransport(roomID, participantID string) (*TransportInfo, error) {
	room, participant, err := s.lookup(roomID, participantID)
	if err != nil {
		return nil, err
	}
	transport, err := retry("createConsumerTransport", func() (media.Transport, error) {
		return room.CreateTransportForParticipant(participantID, core.RoleConsumer, true)
	})
	if err != nil {
		return nil, err
	}
	participant.SetConsumerTransport(transport)
	return webRtcInfo(transport), nil
}

func (s *TransportService) ConnectProducerTransport(roomID, participantID string, dtlsParameters *mediasoup.DtlsParameters) error {
	_, participant, err := s.lookup(roomID, participantID)
	if err != nil {
		return err
	}
	transport := participant.ProducerTransport()
	if transport == nil {
		return &core.PreconditionError{Op: "connectProducerTransport", Reason: "producer transport not created"}
	}
	_, err = retry("connectProducerTransport", func() (struct{}, error) {
		return struct{}{}, transport.Connect(&mediasoup.TransportConnectOptions{DtlsParameters: dtlsParameters})
	})
	return err
}

func (s *TransportService) ConnectConsumerTransport(roomID, participantID string, dtlsParameters *mediasoup.DtlsParameters) error {
	_, participant, err := s.lookup(roomID, participantID)
	if err != nil {
		return err
	}
	transport := participant.ConsumerTransport()
	if transport == nil {
		return &core.PreconditionError{Op: "connectConsumerTransport", Reason: "consumer transport not created"}
	}
	_, err = retry("connectConsumerTransport", func() (struct{}, error) {
		return struct{}{}, transport.Connect(&mediasoup.TransportConnectOptions{DtlsParameters: dtlsParameters})
	})
	return err
}

// ReplaceProducerTransport gives a participant a fresh producer
// transport after an unrecoverable ICE failure. The old transport and
// its producers are closed.
func (s *TransportService) ReplaceProducerTransport(roomID, participantID string) (*TransportInfo, error) {
	room, participant, err := s.lookup(roomID, participantID)
	if err != nil {
		return nil, err
	}
	transport, err := retry("replaceProducerTransport", func() (media.Transport, error) {
		return room.CreateTransportForParticipant(participantID, core.RoleProducer, false)
	})
	if err != nil {
		return nil, err
	}
	participant.ReplaceProducerTransport(transport)
	log.Info().Str("module", "service.transport").Str("room_id", roomID).Str("participant_id", participantID).Msg("producer transport replaced")
	return webRtcInfo(transport), nil
}

// Produce creates a producer for the participant's media and returns the
// payload the call-control service broadcasts to the rest of the room.
func (s *TransportService) Produce(roomID, participantID, kind string, rtpParameters *mediasoup.RtpParameters) (*NewProducerEvent, error) {
	room, participant, err := s.lookup(roomID, participantID)
	if err != nil {
		return nil, err
	}
	appData := mediasoup.H{"participantId": participantID, "type": kind}
	var producer media.Producer
	switch mediasoup.MediaKind(kind) {
	case media.KindAudio:
		producer, err = retry("produceAudio", func() (media.Producer, error) {
			return participant.ProduceAudio(rtpParameters, appData)
		})
	case media.KindVideo:
		producer, err = retry("produceVideo", func() (media.Producer, error) {
			return participant.ProduceVideo(rtpParameters, appData)
		})
	default:
		return nil, &core.InvalidInputError{Reason: "unsupported media kind: " + kind}
	}
	if err != nil {
		return nil, err
	}
	room.AddProducer(producer)
	return &NewProducerEvent{
		ProducerID:     producer.Id(),
		Kind:           producer.Kind(),
		RtpParameters:  producer.RtpParameters(),
		ParticipantID:  participantID,
		IsScreenSharer: participant.IsScreenSharer(),
	}, nil
}

// Consume creates a paused consumer for an existing producer. The
// endpoint resumes it once its transport is ready, avoiding lost
// keyframes.
func (s *TransportService) Consume(roomID, participantID, producerID string, rtpCapabilities *mediasoup.RtpCapabilities) (*ConsumerInfo, error) {
	room, participant, err := s.lookup(roomID, participantID)
	if err != nil {
		return nil, err
	}
	if _, ok := room.Producer(producerID); !ok {
		return nil, &core.NotFoundError{Resource: "producer", ID: producerID}
	}
	if !room.Router().CanConsume(producerID, rtpCapabilities) {
		return nil, &core.InvalidInputError{Reason: "cannot consume producer " + producerID + " with given rtp capabilities"}
	}
	transport := participant.ConsumerTransport()
	if transport == nil {
		return nil, &core.PreconditionError{Op: "consume", Reason: "consumer transport not created"}
	}
	consumer, err := retry("consume", func() (media.Consumer, error) {
		return transport.Consume(producerID, rtpCapabilities, true, mediasoup.H{"participantId": participantID})
	})
	if err != nil {
		return nil, err
	}
	participant.AddConsumer(consumer)
	room.AddConsumer(consumer)
	return &ConsumerInfo{
		ConsumerID:    consumer.Id(),
		ProducerID:    consumer.ProducerId(),
		Kind:          consumer.Kind(),
		RtpParameters: consumer.RtpParameters(),
	}, nil
}

func (s *TransportService) UnpauseConsumer(roomID, participantID, consumerID string) error {
	_, participant, err := s.lookup(roomID, participantID)
	if err != nil {
		return err
	}
	consumer, ok := participant.Consumer(consumerID)
	if !ok {
		return &core.NotFoundError{Resource: "consumer", ID: consumerID}
	}
	return consumer.Resume()
}

// ConsumeData subscribes the participant to the room volume channel.
// Calling it twice returns the existing data consumer.
func (s *TransportService) ConsumeData(roomID, participantID string) (*DataConsumerInfo, error) {
	room, participant, err := s.lookup(roomID, participantID)
	if err != nil {
		return nil, err
	}
	dataProducer, ok := room.DataProducerInfo()
	if !ok {
		return nil, &core.PreconditionError{Op: "consumeData", Reason: "room has no data producer"}
	}
	if existing := participant.DataConsumer(); existing != nil {
		return &DataConsumerInfo{
			DataConsumerID:       existing.Id(),
			DataProducerID:       dataProducer.ID,
			Label:                dataProducer.Label,
			SctpStreamParameters: existing.SctpStreamParameters(),
		}, nil
	}
	transport := participant.ConsumerTransport()
	if transport == nil {
		return nil, &core.PreconditionError{Op: "consumeData", Reason: "consumer transport not created"}
	}
	dataConsumer, err := retry("consumeData", func() (media.DataConsumer, error) {
		return transport.ConsumeData(dataProducer.ID)
	})
	if err != nil {
		return nil, err
	}
	participant.SetDataConsumer(dataConsumer)
	return &DataConsumerInfo{
		DataConsumerID:       dataConsumer.Id(),
		DataProducerID:       dataProducer.ID,
		Label:                dataProducer.Label,
		SctpStreamParameters: dataConsumer.SctpStreamParameters(),
	}, nil
}

func (s *TransportService) SetConnected(roomID, participantID string, connected bool) error {
	_, participant, err := s.lookup(roomID, participantID)
	if err != nil {
		return err
	}
	participant.SetConnected(connected)
	return nil
}

func (s *TransportService) UpdateMediaState(roomID, participantID string, audioEnabled, videoEnabled bool) error {
	_, participant, err := s.lookup(roomID, participantID)
	if err != nil {
		return err
	}
	participant.UpdateMediaState(audioEnabled, videoEnabled)
	return nil
}
