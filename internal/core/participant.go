package core

import (
	"fmt"
	"sync"

	"github.com/jiyeyuran/mediasoup-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/lumicall/mediabridge/internal/media"
)

// TranslationChannel is one live translation leg hanging off a speaker:
// the plain transport pair tapping their producer out to the translator
// and carrying translated audio back in.
type TranslationChannel struct {
	TargetLang        string
	SendTransport     media.Transport
	RecvTransport     media.Transport
	OriginalProducer  media.Producer
	Producer          media.Producer
	Consumer          media.Consumer
	IntendedListeners map[string]struct{}
}

func translationKey(producerID, lang string) string {
	return producerID + "@" + lang
}

// Participant tracks one endpoint's transports and media inside a room.
// A screen-share clone shares the original's transports but owns its own
// media maps.
type Participant struct {
	ID     string
	UserID string
	RoomID string

	mu                  sync.RWMutex
	producerTransport   media.Transport
	consumerTransport   media.Transport
	audioProducer       media.Producer
	videoProducer       media.Producer
	consumers           map[string]media.Consumer
	dataConsumer        media.DataConsumer
	translationChannels map[string]*TranslationChannel
	connected           bool
	audioEnabled        bool
	videoEnabled        bool
	isScreenSharer      bool
	clonedFrom          string
	cleaned             bool
}

func NewParticipant(userID, roomID, id string) *Participant {
	return &Participant{
		ID:                  id,
		UserID:              userID,
		RoomID:              roomID,
		consumers:           make(map[string]media.Consumer),
		translationChannels: make(map[string]*TranslationChannel),
		audioEnabled:        true,
		videoEnabled:        true,
	}
}

func (p *Participant) SetProducerTransport(t media.Transport) {
	p.mu.Lock()
	p.producerTransport = t
	p.mu.Unlock()
}

func (p *Participant) SetConsumerTransport(t media.Transport) {
	p.mu.Lock()
	p.consumerTransport = t
	p.mu.Unlock()
}

func (p *Participant) ProducerTransport() media.Transport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.producerTransport
}

func (p *Participant) ConsumerTransport() media.Transport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.consumerTransport
}

// ReplaceProducerTransport swaps in a fresh producer transport, closing
// the old one. Existing producers on the old transport die with it.
func (p *Participant) ReplaceProducerTransport(t media.Transport) {
	p.mu.Lock()
	old := p.producerTransport
	p.producerTransport = t
	p.audioProducer = nil
	p.videoProducer = nil
	p.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// ProduceAudio creates the participant's audio producer. The producer
// transport must exist and be connected first.
func (p *Participant) ProduceAudio(rtpParameters *mediasoup.RtpParameters, appData mediasoup.H) (media.Producer, error) {
	return p.produce(media.KindAudio, rtpParameters, appData)
}

func (p *Participant) ProduceVideo(rtpParameters *mediasoup.RtpParameters, appData mediasoup.H) (media.Producer, error) {
	return p.produce(media.KindVideo, rtpParameters, appData)
}

func (p *Participant) produce(kind mediasoup.MediaKind, rtpParameters *mediasoup.RtpParameters, appData mediasoup.H) (media.Producer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.producerTransport == nil {
		return nil, &PreconditionError{Op: "produce", Reason: "producer transport not created"}
	}
	producer, err := p.producerTransport.Produce(kind, rtpParameters, appData)
	if err != nil {
		return nil, fmt.Errorf("produce %s: %w", kind, err)
	}
	switch kind {
	case media.KindAudio:
		p.audioProducer = producer
	case media.KindVideo:
		p.videoProducer = producer
	}
	return producer, nil
}

func (p *Participant) AudioProducer() media.Producer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.audioProducer
}

func (p *Participant) VideoProducer() media.Producer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.videoProducer
}

func (p *Participant) AddConsumer(c media.Consumer) {
	p.mu.Lock()
	p.consumers[c.Id()] = c
	p.mu.Unlock()
}

func (p *Participant) Consumer(consumerID string) (media.Consumer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.consumers[consumerID]
	return c, ok
}

func (p *Participant) SetDataConsumer(dc media.DataConsumer) {
	p.mu.Lock()
	p.dataConsumer = dc
	p.mu.Unlock()
}

func (p *Participant) DataConsumer() media.DataConsumer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dataConsumer
}

func (p *Participant) SetConnected(connected bool) {
	p.mu.Lock()
	p.connected = connected
	p.mu.Unlock()
}

func (p *Participant) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// UpdateMediaState records the endpoint-reported mute flags. Purely
// bookkeeping: pausing the actual producers is the endpoint's job.
func (p *Participant) UpdateMediaState(audioEnabled, videoEnabled bool) {
	p.mu.Lock()
	p.audioEnabled = audioEnabled
	p.videoEnabled = videoEnabled
	p.mu.Unlock()
}

func (p *Participant) MediaState() (audioEnabled, videoEnabled bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.audioEnabled, p.videoEnabled
}

func (p *Participant) IsScreenSharer() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isScreenSharer
}

func (p *Participant) ClonedFrom() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clonedFrom
}

// Clone prepares a screen-share identity that reuses this participant's
// transports. Media maps start empty: the clone produces its own video.
func (p *Participant) Clone(newID string) *Participant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	clone := NewParticipant(p.UserID, p.RoomID, newID)
	clone.producerTransport = p.producerTransport
	clone.consumerTransport = p.consumerTransport
	clone.isScreenSharer = true
	clone.clonedFrom = p.ID
	return clone
}

// StopScreenSharing closes the clone's own media but leaves the shared
// transports alone, since the original participant still uses them.
func (p *Participant) StopScreenSharing() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.videoProducer != nil {
		p.videoProducer.Close()
		p.videoProducer = nil
	}
	if p.audioProducer != nil {
		p.audioProducer.Close()
		p.audioProducer = nil
	}
	for id, c := range p.consumers {
		c.Close()
		delete(p.consumers, id)
	}
}

func (p *Participant) AddTranslationChannel(ch *TranslationChannel) {
	p.mu.Lock()
	p.translationChannels[translationKey(ch.OriginalProducer.Id(), ch.TargetLang)] = ch
	p.mu.Unlock()
}

func (p *Participant) TranslationChannel(producerID, lang string) (*TranslationChannel, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ch, ok := p.translationChannels[translationKey(producerID, lang)]
	return ch, ok
}

// CloseTranslationChannel tears down one translation leg: translated
// producer, tap consumer and both plain transports. Closing a channel
// that does not exist is a no-op.
func (p *Participant) CloseTranslationChannel(producerID, lang string) {
	key := translationKey(producerID, lang)
	p.mu.Lock()
	ch, ok := p.translationChannels[key]
	if ok {
		delete(p.translationChannels, key)
	}
	p.mu.Unlock()
	if !ok {
		log.Debug().Str("module", "core.participant").Str("participant_id", p.ID).Str("key", key).Msg("translation channel already gone")
		return
	}
	closeTranslationChannel(ch)
}

func closeTranslationChannel(ch *TranslationChannel) {
	if ch.Producer != nil {
		ch.Producer.Close()
	}
	if ch.Consumer != nil {
		ch.Consumer.Close()
	}
	if ch.SendTransport != nil {
		ch.SendTransport.Close()
	}
	if ch.RecvTransport != nil {
		ch.RecvTransport.Close()
	}
}

// CleanUp releases everything the participant holds. Idempotent, and it
// never fails: teardown problems are logged, not propagated.
func (p *Participant) CleanUp() {
	p.mu.Lock()
	if p.cleaned {
		p.mu.Unlock()
		return
	}
	p.cleaned = true
	channels := p.translationChannels
	consumers := p.consumers
	audioProducer := p.audioProducer
	videoProducer := p.videoProducer
	dataConsumer := p.dataConsumer
	producerTransport := p.producerTransport
	consumerTransport := p.consumerTransport
	shared := p.isScreenSharer
	p.translationChannels = make(map[string]*TranslationChannel)
	p.consumers = make(map[string]media.Consumer)
	p.audioProducer = nil
	p.videoProducer = nil
	p.dataConsumer = nil
	p.producerTransport = nil
	p.consumerTransport = nil
	p.mu.Unlock()

	for _, ch := range channels {
		closeTranslationChannel(ch)
	}
	for _, c := range consumers {
		c.Close()
	}
	if audioProducer != nil {
		audioProducer.Close()
	}
	if videoProducer != nil {
		videoProducer.Close()
	}
	if dataConsumer != nil {
		dataConsumer.Close()
	}
	// Clones borrow the original's transports and must not close them.
	if !shared {
		if producerTransport != nil {
			producerTransport.Close()
		}
		if consumerTransport != nil {
			consumerTransport.Close()
		}
	}
	log.Debug().Str("module", "core.participant").Str("participant_id", p.ID).Msg("participant cleaned up")
}
