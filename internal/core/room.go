package core

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/jiyeyuran/mediasoup-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/lumicall/mediabridge/internal/media"
)

const (
	RoleProducer = "producer"
	RoleConsumer = "consumer"

	volumeDataLabel = "volume"
)

// ProducerInfo is what a newly joined participant needs to start
// consuming an existing producer.
type ProducerInfo struct {
	ProducerID     string                   `json:"producerId"`
	Kind           mediasoup.MediaKind      `json:"kind"`
	RtpParameters  *mediasoup.RtpParameters `json:"rtpParameters"`
	ParticipantID  string                   `json:"participantId"`
	IsScreenSharer bool                     `json:"isScreenSharer"`
}

type RoomStats struct {
	RoomID         string `json:"roomId"`
	Owner          string `json:"owner"`
	Participants   int    `json:"participants"`
	Producers      int    `json:"producers"`
	Consumers      int    `json:"consumers"`
	Transports     int    `json:"transports"`
	PipeTransports int    `json:"pipeTransports"`
	Active         bool   `json:"active"`
}

type RoomHealth struct {
	RoomID       string `json:"roomId"`
	RouterAlive  bool   `json:"routerAlive"`
	WorkerAlive  bool   `json:"workerAlive"`
	Participants int    `json:"participants"`
	Healthy      bool   `json:"healthy"`
}

type RoomOptions struct {
	ListenIP    string
	AnnouncedIP string
	IdleLimit   time.Duration
	IdleTick    time.Duration
}

// Room is one conference: a router on a single worker, its participants
// and every media object created on their behalf. All maps are guarded
// by mu; handlers run concurrently.
type Room struct {
	ID     string
	CallID string
	router media.Router
	worker *Worker
	opts   RoomOptions

	mu             sync.RWMutex
	owner          string
	participants   map[string]*Participant
	producers      map[string]media.Producer
	consumers      map[string]media.Consumer
	transports     map[string]media.Transport
	pipeTransports map[string]media.Transport
	observer       media.AudioObserver
	dataTransport  media.Transport
	dataProducer   media.DataProducer
	isActive       bool
	emptySince     time.Time
	stopIdle       chan struct{}
	onClosed       func(roomID string)
}

// NewRoom wires the room's data channel and volume broadcasting and
// starts the idle watchdog. The router and observer are already created
// on the assigned worker.
func NewRoom(id, callID string, router media.Router, observer media.AudioObserver, worker *Worker, opts RoomOptions) (*Room, error) {
	r := &Room{
		ID:             id,
		CallID:         callID,
		router:         router,
		worker:         worker,
		opts:           opts,
		participants:   make(map[string]*Participant),
		producers:      make(map[string]media.Producer),
		consumers:      make(map[string]media.Consumer),
		transports:     make(map[string]media.Transport),
		pipeTransports: make(map[string]media.Transport),
		observer:       observer,
		isActive:       true,
		emptySince:     time.Now(),
		stopIdle:       make(chan struct{}),
	}

	dataTransport, err := router.CreateWebRtcTransport(media.WebRtcTransportOptions{
		ListenIP:    opts.ListenIP,
		AnnouncedIP: opts.AnnouncedIP,
		EnableSctp:  true,
		AppData:     mediasoup.H{"roomId": id, "role": "data"},
	})
	if err != nil {
		return nil, err
	}
	dataProducer, err := dataTransport.ProduceData(volumeDataLabel, 0)
	if err != nil {
		dataTransport.Close()
		return nil, err
	}
	r.dataTransport = dataTransport
	r.dataProducer = dataProducer

	observer.OnVolumes(func(volumes []media.VolumeEntry) {
		r.broadcastVolumes(volumes)
	})
	observer.OnSilence(func() {
		r.broadcastVolumes([]media.VolumeEntry{})
	})

	if opts.IdleTick > 0 && opts.IdleLimit > 0 {
		go r.idleLoop()
	}
	return r, nil
}

func (r *Room) Router() media.Router { return r.router }

func (r *Room) WorkerID() string { return r.worker.ID }

// OnClosed registers the hook the room manager uses to drop its map
// entry once the room is gone.
func (r *Room) OnClosed(fn func(roomID string)) {
	r.mu.Lock()
	r.onClosed = fn
	r.mu.Unlock()
}

func (r *Room) broadcastVolumes(volumes []media.VolumeEntry) {
	r.mu.RLock()
	dp := r.dataProducer
	active := r.isActive
	r.mu.RUnlock()
	if !active || dp == nil {
		return
	}
	msg, err := json.Marshal(map[string]any{
		"type":    "audio-volumes",
		"volumes": volumes,
	})
	if err != nil {
		log.Error().Str("module", "core.room").Str("room_id", r.ID).Err(err).Msg("failed to encode volume update")
		return
	}
	if err := dp.Send(msg); err != nil {
		log.Warn().Str("module", "core.room").Str("room_id", r.ID).Err(err).Msg("volume broadcast failed")
	}
}

func (r *Room) idleLoop() {
	ticker := time.NewTicker(r.opts.IdleTick)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopIdle:
			return
		case <-ticker.C:
			r.mu.RLock()
			empty := len(r.participants) == 0
			since := r.emptySince
			r.mu.RUnlock()
			if empty && !since.IsZero() && time.Since(since) > r.opts.IdleLimit {
				log.Info().Str("module", "core.room").Str("room_id", r.ID).Msg("closing idle room")
				r.Close()
				return
			}
		}
	}
}

func (r *Room) IsActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isActive
}

func (r *Room) Owner() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// SetOwner marks the call initiator. The room pre-provisions their
// participant entry so answer-side lookups always succeed.
func (r *Room) SetOwner(userID, participantID string) *Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owner = participantID
	p, ok := r.participants[participantID]
	if !ok {
		p = NewParticipant(userID, r.ID, participantID)
		r.participants[participantID] = p
		r.emptySince = time.Time{}
	}
	return p
}

func (r *Room) AddParticipant(p *Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isActive {
		return &PreconditionError{Op: "addParticipant", Reason: "room is closed"}
	}
	if _, ok := r.participants[p.ID]; ok {
		return &ConflictError{Resource: "participant", ID: p.ID}
	}
	r.participants[p.ID] = p
	r.emptySince = time.Time{}
	r.worker.UpdateActivity()
	return nil
}

func (r *Room) Participant(participantID string) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[participantID]
	return p, ok
}

func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// RemoveParticipant cleans the participant up and sweeps every room
// object still tagged with their id. Removing an unknown participant is
// a no-op.
func (r *Room) RemoveParticipant(participantID string) {
	r.mu.Lock()
	p, ok := r.participants[participantID]
	if ok {
		delete(r.participants, participantID)
	}
	if len(r.participants) == 0 {
		r.emptySince = time.Now()
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	p.CleanUp()
	r.sweepTagged(participantID)
	r.worker.UpdateActivity()
	log.Info().Str("module", "core.room").Str("room_id", r.ID).Str("participant_id", participantID).Msg("participant removed")
}

func appDataParticipant(appData mediasoup.H) string {
	if appData == nil {
		return ""
	}
	id, _ := appData["participantId"].(string)
	return id
}

// sweepTagged drops room-tracked objects whose appData names the given
// participant. CleanUp already closed them; this is map hygiene so
// closed objects never leak into GetProducers or stats.
func (r *Room) sweepTagged(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, producer := range r.producers {
		if appDataParticipant(producer.AppData()) == participantID {
			if r.observer != nil && producer.Kind() == media.KindAudio {
				r.observer.RemoveProducer(id)
			}
			delete(r.producers, id)
		}
	}
	for id, consumer := range r.consumers {
		if appDataParticipant(consumer.AppData()) == participantID {
			delete(r.consumers, id)
		}
	}
	for id, transport := range r.transports {
		if appDataParticipant(transport.AppData()) == participantID {
			delete(r.transports, id)
		}
	}
}

// CreateTransportForParticipant creates a WebRTC transport tagged with
// the participant's id so a later removal can find it.
func (r *Room) CreateTransportForParticipant(participantID, role string, enableSctp bool) (media.Transport, error) {
	r.mu.RLock()
	active := r.isActive
	r.mu.RUnlock()
	if !active {
		return nil, &PreconditionError{Op: "createTransport", Reason: "room is closed"}
	}
	transport, err := r.router.CreateWebRtcTransport(media.WebRtcTransportOptions{
		ListenIP:    r.opts.ListenIP,
		AnnouncedIP: r.opts.AnnouncedIP,
		EnableSctp:  enableSctp,
		AppData:     mediasoup.H{"participantId": participantID, "role": role},
	})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.transports[transport.Id()] = transport
	r.mu.Unlock()
	r.worker.UpdateActivity()
	return transport, nil
}

// AddProducer registers a producer with the room. Audio producers feed
// the level observer so their volumes appear in broadcasts.
func (r *Room) AddProducer(producer media.Producer) {
	r.mu.Lock()
	r.producers[producer.Id()] = producer
	observer := r.observer
	r.mu.Unlock()
	if observer != nil && producer.Kind() == media.KindAudio {
		if err := observer.AddProducer(producer.Id()); err != nil {
			log.Warn().Str("module", "core.room").Str("room_id", r.ID).Str("producer_id", producer.Id()).Err(err).Msg("failed to add producer to audio observer")
		}
	}
	r.worker.UpdateActivity()
}

func (r *Room) Producer(producerID string) (media.Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[producerID]
	return p, ok
}

// RemoveProducer unregisters a producer from the room and closes it.
func (r *Room) RemoveProducer(producerID string) {
	if producer, ok := r.forgetProducer(producerID); ok {
		producer.Close()
	}
}

// ForgetProducer drops a producer from the room's registry and the
// audio observer without closing it. For producers whose lifecycle is
// owned elsewhere, e.g. by a translation channel.
func (r *Room) ForgetProducer(producerID string) {
	r.forgetProducer(producerID)
}

func (r *Room) forgetProducer(producerID string) (media.Producer, bool) {
	r.mu.Lock()
	producer, ok := r.producers[producerID]
	if ok {
		delete(r.producers, producerID)
	}
	observer := r.observer
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	if observer != nil && producer.Kind() == media.KindAudio {
		observer.RemoveProducer(producerID)
	}
	return producer, true
}

func (r *Room) AddConsumer(consumer media.Consumer) {
	r.mu.Lock()
	r.consumers[consumer.Id()] = consumer
	r.mu.Unlock()
	r.worker.UpdateActivity()
}

func (r *Room) Consumer(consumerID string) (media.Consumer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.consumers[consumerID]
	return c, ok
}

// GetProducers lists every live producer with the metadata a joining
// participant needs to consume it. The caller's own producers are
// excluded.
func (r *Room) GetProducers(excludeParticipantID string) []ProducerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]ProducerInfo, 0, len(r.producers))
	for id, producer := range r.producers {
		ownerID := appDataParticipant(producer.AppData())
		if ownerID == excludeParticipantID {
			continue
		}
		sharer := false
		if owner, ok := r.participants[ownerID]; ok {
			sharer = owner.IsScreenSharer()
		}
		infos = append(infos, ProducerInfo{
			ProducerID:     id,
			Kind:           producer.Kind(),
			RtpParameters:  producer.RtpParameters(),
			ParticipantID:  ownerID,
			IsScreenSharer: sharer,
		})
	}
	return infos
}

// DataProducerInfo describes the room volume channel.
type DataProducerInfo struct {
	ID                   string                          `json:"id"`
	Label                string                          `json:"label"`
	SctpStreamParameters *mediasoup.SctpStreamParameters `json:"sctpStreamParameters"`
}

func (r *Room) DataProducerInfo() (DataProducerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.dataProducer == nil {
		return DataProducerInfo{}, false
	}
	return DataProducerInfo{
		ID:                   r.dataProducer.Id(),
		Label:                volumeDataLabel,
		SctpStreamParameters: r.dataProducer.SctpStreamParameters(),
	}, true
}

func (r *Room) CreatePipeTransport(appData mediasoup.H) (media.Transport, error) {
	transport, err := r.router.CreatePipeTransport(media.PipeTransportOptions{
		ListenIP: r.opts.ListenIP,
		AppData:  appData,
	})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.pipeTransports[transport.Id()] = transport
	r.mu.Unlock()
	return transport, nil
}

// PipeProducerToRoom forwards a local producer into another room's
// router so its participants can consume it.
func (r *Room) PipeProducerToRoom(producerID string, target *Room) error {
	r.mu.RLock()
	_, ok := r.producers[producerID]
	r.mu.RUnlock()
	if !ok {
		return &NotFoundError{Resource: "producer", ID: producerID}
	}
	return r.router.PipeProducerToRouter(producerID, target.router)
}

func (r *Room) RemovePipeTransport(transportID string) {
	r.mu.Lock()
	transport, ok := r.pipeTransports[transportID]
	if ok {
		delete(r.pipeTransports, transportID)
	}
	r.mu.Unlock()
	if ok {
		transport.Close()
	}
}

func (r *Room) Stats() RoomStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RoomStats{
		RoomID:         r.ID,
		Owner:          r.owner,
		Participants:   len(r.participants),
		Producers:      len(r.producers),
		Consumers:      len(r.consumers),
		Transports:     len(r.transports),
		PipeTransports: len(r.pipeTransports),
		Active:         r.isActive,
	}
}

// Health reports whether the room's router and worker are still usable.
func (r *Room) Health() RoomHealth {
	r.mu.RLock()
	active := r.isActive
	participants := len(r.participants)
	r.mu.RUnlock()
	routerAlive := active && !r.router.Closed()
	workerAlive := r.worker.IsActive()
	return RoomHealth{
		RoomID:       r.ID,
		RouterAlive:  routerAlive,
		WorkerAlive:  workerAlive,
		Participants: participants,
		Healthy:      routerAlive && workerAlive,
	}
}

// Close tears the room down: every participant, every tracked media
// object, the router. Terminal and idempotent.
func (r *Room) Close() {
	r.mu.Lock()
	if !r.isActive {
		r.mu.Unlock()
		return
	}
	r.isActive = false
	close(r.stopIdle)
	participants := r.participants
	producers := r.producers
	consumers := r.consumers
	transports := r.transports
	pipeTransports := r.pipeTransports
	observer := r.observer
	dataProducer := r.dataProducer
	dataTransport := r.dataTransport
	onClosed := r.onClosed
	r.participants = make(map[string]*Participant)
	r.producers = make(map[string]media.Producer)
	r.consumers = make(map[string]media.Consumer)
	r.transports = make(map[string]media.Transport)
	r.pipeTransports = make(map[string]media.Transport)
	r.dataProducer = nil
	r.dataTransport = nil
	r.mu.Unlock()

	cleaned := make(map[string]struct{}, len(participants))
	for id, p := range participants {
		p.CleanUp()
		cleaned[id] = struct{}{}
	}
	// CleanUp already closed everything tagged with a live participant;
	// only orphans (owner removed earlier, sweep missed) get closed here.
	orphaned := func(appData mediasoup.H) bool {
		_, owned := cleaned[appDataParticipant(appData)]
		return !owned
	}
	for _, c := range consumers {
		if orphaned(c.AppData()) {
			c.Close()
		}
	}
	for _, p := range producers {
		if orphaned(p.AppData()) {
			p.Close()
		}
	}
	if dataProducer != nil {
		dataProducer.Close()
	}
	if dataTransport != nil {
		dataTransport.Close()
	}
	for _, t := range transports {
		if orphaned(t.AppData()) {
			t.Close()
		}
	}
	for _, t := range pipeTransports {
		t.Close()
	}
	if observer != nil {
		observer.Close()
	}
	r.router.Close()
	log.Info().Str("module", "core.room").Str("room_id", r.ID).Msg("room closed")
	if onClosed != nil {
		onClosed(r.ID)
	}
}
