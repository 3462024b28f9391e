package service

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/jiyeyuran/mediasoup-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/lumicall/mediabridge/internal/config"
	"github.com/lumicall/mediabridge/internal/core"
	"github.com/lumicall/mediabridge/internal/media"
)

type TranslationInfo struct {
	ProducerID            string                     `json:"producerId"`
	RouterRtpCapabilities *mediasoup.RtpCapabilities `json:"routerRtpCapabilities"`
}

type translateRequest struct {
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId"`
	ProducerID    string `json:"producerId"`
	TargetLang    string `json:"targetLang"`
	RtpPort       uint16 `json:"rtpPort"`
	ReturnIP      string `json:"returnIp"`
	ReturnPort    uint16 `json:"returnPort"`
	PayloadType   byte   `json:"payloadType"`
	Ssrc          uint32 `json:"ssrc"`
	Codec         string `json:"codec"`
	ClockRate     int    `json:"clockRate"`
	Channels      byte   `json:"channels"`
}

// TranslationStop is the translator's end-of-stream notification. The
// whole payload is forwarded to call control after the leg is torn
// down, so the listener's client learns its translated track is gone.
type TranslationStop struct {
	RoomID             string `json:"roomId"`
	ConsumerID         string `json:"consumerId"`
	Speaker            string `json:"speaker"`
	Listener           string `json:"listener"`
	OriginalProducerID string `json:"originalProducerId"`
	TargetLang         string `json:"targetLang"`
}

// portAllocator hands out RTP ports round-robin within the configured
// range. Ports are not tracked after allocation; the range is wide
// enough that reuse only happens long after a leg is gone.
type portAllocator struct {
	mu   sync.Mutex
	min  uint16
	max  uint16
	next uint16
}

func newPortAllocator(min, max uint16) *portAllocator {
	return &portAllocator{min: min, max: max, next: min}
}

func (a *portAllocator) Allocate() uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	port := a.next
	if a.next >= a.max {
		a.next = a.min
	} else {
		// RTP ports are even; RTCP would take the odd sibling.
		a.next += 2
	}
	return port
}

// TranslationService taps a speaker's audio out to the external
// translator over plain RTP and re-injects the translated track as a
// new producer in the room.
type TranslationService struct {
	rooms  *core.RoomManager
	cfg    *config.Config
	client *resty.Client
	ports  *portAllocator
}

func NewTranslationService(rooms *core.RoomManager, cfg *config.Config) *TranslationService {
	return &TranslationService{
		rooms:  rooms,
		cfg:    cfg,
		client: resty.New(),
		ports:  newPortAllocator(cfg.RTPPortMin, cfg.RTPPortMax),
	}
}

// Translate sets up one translation leg for a speaker's audio producer:
// a send transport pushing RTP to the translator, a comedia receive
// transport the translator pushes translated audio back into, and a new
// producer carrying that audio. A leg already running for the same
// producer and language is reused; the listener is just added to it.
func (s *TranslationService) Translate(roomID, speakerID, listenerID, producerID, targetLang string) (*TranslationInfo, error) {
	room, err := s.rooms.Room(roomID)
	if err != nil {
		return nil, err
	}
	speaker, ok := room.Participant(speakerID)
	if !ok {
		return nil, &core.NotFoundError{Resource: "participant", ID: speakerID}
	}
	producer, ok := room.Producer(producerID)
	if !ok {
		return nil, &core.NotFoundError{Resource: "producer", ID: producerID}
	}
	if producer.Kind() != media.KindAudio {
		return nil, &core.InvalidInputError{Reason: "only audio producers can be translated"}
	}
	if len(producer.RtpParameters().Codecs) == 0 {
		return nil, &core.InvalidInputError{Reason: "producer has no negotiated codec"}
	}

	if existing, ok := speaker.TranslationChannel(producerID, targetLang); ok {
		existing.IntendedListeners[listenerID] = struct{}{}
		return &TranslationInfo{
			ProducerID:            existing.Producer.Id(),
			RouterRtpCapabilities: room.Router().RtpCapabilities(),
		}, nil
	}

	router := room.Router()
	rtpPort := s.ports.Allocate()

	sendTransport, err := router.CreatePlainTransport(media.PlainTransportOptions{
		ListenIP: s.cfg.ListenIP,
		RtcpMux:  true,
		Comedia:  false,
		AppData:  mediasoup.H{"participantId": speakerID, "type": "translation-send"},
	})
	if err != nil {
		return nil, fmt.Errorf("create send transport: %w", err)
	}
	if err := sendTransport.Connect(&mediasoup.TransportConnectOptions{
		Ip:   s.cfg.TranslatorIP,
		Port: &rtpPort,
	}); err != nil {
		sendTransport.Close()
		return nil, fmt.Errorf("connect send transport: %w", err)
	}

	// Tap: an unpaused consumer on the plain transport streams the
	// speaker's RTP straight to the translator.
	tap, err := sendTransport.Consume(producerID, router.RtpCapabilities(), false, mediasoup.H{"participantId": speakerID, "type": "translation-tap"})
	if err != nil {
		sendTransport.Close()
		return nil, fmt.Errorf("consume tap: %w", err)
	}

	recvTransport, err := router.CreatePlainTransport(media.PlainTransportOptions{
		ListenIP:    s.cfg.ListenIP,
		AnnouncedIP: s.cfg.PublicIP,
		RtcpMux:     true,
		Comedia:     true,
		AppData:     mediasoup.H{"participantId": speakerID, "type": "translation-recv"},
	})
	if err != nil {
		tap.Close()
		sendTransport.Close()
		return nil, fmt.Errorf("create recv transport: %w", err)
	}
	returnTuple := recvTransport.PlainTuple()

	codec := producer.RtpParameters().Codecs[0]
	ssrc := rand.Uint32()

	s.initiate(&translateRequest{
		RoomID:        roomID,
		ParticipantID: speakerID,
		ProducerID:    producerID,
		TargetLang:    targetLang,
		RtpPort:       rtpPort,
		ReturnIP:      s.cfg.PublicIP,
		ReturnPort:    returnTuple.Port,
		PayloadType:   codec.PayloadType,
		Ssrc:          ssrc,
		Codec:         codec.MimeType,
		ClockRate:     int(codec.ClockRate),
		Channels:      codec.Channels,
	})

	translated, err := recvTransport.Produce(media.KindAudio, &mediasoup.RtpParameters{
		Codecs: []*mediasoup.RtpCodecParameters{codec},
		Encodings: []*mediasoup.RtpEncodingParameters{
			{Ssrc: ssrc},
		},
	}, mediasoup.H{"participantId": speakerID, "type": "translation", "targetLang": targetLang})
	if err != nil {
		recvTransport.Close()
		tap.Close()
		sendTransport.Close()
		return nil, fmt.Errorf("produce translated audio: %w", err)
	}

	channel := &core.TranslationChannel{
		TargetLang:        targetLang,
		SendTransport:     sendTransport,
		RecvTransport:     recvTransport,
		OriginalProducer:  producer,
		Producer:          translated,
		Consumer:          tap,
		IntendedListeners: map[string]struct{}{listenerID: {}},
	}
	speaker.AddTranslationChannel(channel)
	room.AddProducer(translated)

	log.Info().Str("module", "service.translation").Str("room_id", roomID).Str("participant_id", speakerID).Str("producer_id", producerID).Str("target_lang", targetLang).Msg("translation started")
	return &TranslationInfo{
		ProducerID:            translated.Id(),
		RouterRtpCapabilities: router.RtpCapabilities(),
	}, nil
}

// initiate tells the translator to start pulling the tapped RTP. The
// translator being down is not fatal to the media setup; it reconnects
// on its own schedule.
func (s *TranslationService) initiate(req *translateRequest) {
	resp, err := s.client.R().SetBody(req).Post(s.cfg.TranslatorURL + "/translate")
	if err != nil {
		upstreamErr := &core.UpstreamError{Service: "translator", Err: err}
		log.Error().Str("module", "service.translation").Err(upstreamErr).Msg("failed to initiate translation")
		return
	}
	if resp.IsError() {
		log.Error().Str("module", "service.translation").Int("status", resp.StatusCode()).Msg("translator rejected translation request")
	}
}

// HandleTranslationStopped tears down the leg when the translator
// reports the stream ended and forwards the notification to call
// control.
func (s *TranslationService) HandleTranslationStopped(stop *TranslationStop) error {
	room, err := s.rooms.Room(stop.RoomID)
	if err != nil {
		return err
	}
	speaker, ok := room.Participant(stop.Speaker)
	if !ok {
		return &core.NotFoundError{Resource: "participant", ID: stop.Speaker}
	}
	s.teardownLeg(room, speaker, stop.OriginalProducerID, stop.TargetLang)

	resp, err := s.client.R().SetBody(stop).Post(s.cfg.CallControlURL + "/calls/terminate_translation")
	if err != nil {
		upstreamErr := &core.UpstreamError{Service: "call-control", Err: err}
		log.Error().Str("module", "service.translation").Err(upstreamErr).Msg("failed to forward translation stop")
		return upstreamErr
	}
	if resp.IsError() {
		log.Warn().Str("module", "service.translation").Int("status", resp.StatusCode()).Msg("call control rejected translation stop")
	}
	return nil
}

// StopTranslation closes a leg on request, e.g. when the last listener
// switches languages.
func (s *TranslationService) StopTranslation(roomID, speakerID, producerID, targetLang string) error {
	room, err := s.rooms.Room(roomID)
	if err != nil {
		return err
	}
	speaker, ok := room.Participant(speakerID)
	if !ok {
		return &core.NotFoundError{Resource: "participant", ID: speakerID}
	}
	s.teardownLeg(room, speaker, producerID, targetLang)
	return nil
}

// teardownLeg unregisters the translated producer from the room and
// closes the channel. The channel close is the only place the producer
// is closed; the room just forgets it.
func (s *TranslationService) teardownLeg(room *core.Room, speaker *core.Participant, producerID, targetLang string) {
	if channel, ok := speaker.TranslationChannel(producerID, targetLang); ok && channel.Producer != nil {
		room.ForgetProducer(channel.Producer.Id())
	}
	speaker.CloseTranslationChannel(producerID, targetLang)
}
