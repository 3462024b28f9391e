// Package mediatest provides an in-memory media engine for tests. It
// records every close so tests can assert exactly-once release, and it
// never spawns worker processes.
package mediatest

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"

	"github.com/lumicall/mediabridge/internal/media"
)

var seq atomic.Int64

func nextId(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, seq.Add(1))
}

type Engine struct {
	mu      sync.Mutex
	Workers []*Worker
	// NewWorkerErr, when set, fails the next NewWorker call.
	NewWorkerErr error
}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) NewWorker() (media.Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NewWorkerErr != nil {
		return nil, e.NewWorkerErr
	}
	w := &Worker{pid: int(seq.Add(1))}
	e.Workers = append(e.Workers, w)
	return w, nil
}

type Worker struct {
	mu     sync.Mutex
	pid    int
	diedFn func(error)

	Closed      bool
	ResourceErr error
	Routers     []*Router
}

func (w *Worker) Pid() int { return w.pid }

func (w *Worker) GetResourceUsage() (*mediasoup.WorkerResourceUsage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ResourceErr != nil {
		return nil, w.ResourceErr
	}
	if w.Closed {
		return nil, errors.New("worker closed")
	}
	return &mediasoup.WorkerResourceUsage{}, nil
}

func (w *Worker) OnDied(f func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.diedFn = f
}

// Die simulates the worker process dying and fires the death handler.
func (w *Worker) Die(err error) {
	w.mu.Lock()
	w.Closed = true
	f := w.diedFn
	w.mu.Unlock()
	if f != nil {
		f(err)
	}
}

func (w *Worker) FailProbes(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ResourceErr = err
}

func (w *Worker) CreateRouter(mediaCodecs []*mediasoup.RtpCodecCapability) (media.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Closed {
		return nil, errors.New("worker closed")
	}
	r := &Router{
		id:         nextId("router"),
		codecs:     mediaCodecs,
		producers:  make(map[string]*Producer),
		Consumable: true,
	}
	w.Routers = append(w.Routers, r)
	return r, nil
}

func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Closed = true
	return nil
}

type Router struct {
	mu        sync.Mutex
	id        string
	closed    bool
	codecs    []*mediasoup.RtpCodecCapability
	producers map[string]*Producer

	// Consumable controls CanConsume for every producer.
	Consumable bool
	Transports []*Transport
	Observers  []*AudioObserver
	Piped      []string
}

func (r *Router) Id() string { return r.id }

func (r *Router) RtpCapabilities() *mediasoup.RtpCapabilities {
	return &mediasoup.RtpCapabilities{}
}

func (r *Router) newTransport(kind string, appData mediasoup.H) *Transport {
	t := &Transport{
		id:      nextId(kind),
		kind:    kind,
		appData: appData,
		router:  r,
	}
	r.Transports = append(r.Transports, t)
	return t
}

func (r *Router) CreateWebRtcTransport(opts media.WebRtcTransportOptions) (media.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("router closed")
	}
	return r.newTransport("webrtc", opts.AppData), nil
}

func (r *Router) CreatePlainTransport(opts media.PlainTransportOptions) (media.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("router closed")
	}
	t := r.newTransport("plain", opts.AppData)
	t.tuple = &media.Tuple{IP: opts.ListenIP, Port: uint16(10000 + seq.Add(1)%10000)}
	return t, nil
}

func (r *Router) CreatePipeTransport(opts media.PipeTransportOptions) (media.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("router closed")
	}
	return r.newTransport("pipe", opts.AppData), nil
}

func (r *Router) CreateAudioObserver(opts media.AudioObserverOptions) (media.AudioObserver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obs := &AudioObserver{producers: make(map[string]struct{})}
	r.Observers = append(r.Observers, obs)
	return obs, nil
}

func (r *Router) CanConsume(producerId string, rtpCapabilities *mediasoup.RtpCapabilities) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.producers[producerId]
	return ok && r.Consumable
}

func (r *Router) PipeProducerToRouter(producerId string, target media.Router) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Piped = append(r.Piped, producerId)
	return nil
}

func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type Transport struct {
	mu      sync.Mutex
	id      string
	kind    string
	appData mediasoup.H
	router  *Router
	tuple   *media.Tuple

	CloseCount  int
	Connected   bool
	ConnectOpts *mediasoup.TransportConnectOptions
}

func (t *Transport) Id() string           { return t.id }
func (t *Transport) AppData() mediasoup.H { return t.appData }

func (t *Transport) Connect(opts *mediasoup.TransportConnectOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Connected = true
	t.ConnectOpts = opts
	return nil
}

func (t *Transport) Produce(kind mediasoup.MediaKind, rtpParameters *mediasoup.RtpParameters, appData mediasoup.H) (media.Producer, error) {
	p := &Producer{
		id:            nextId("producer"),
		kind:          kind,
		rtpParameters: rtpParameters,
		appData:       appData,
	}
	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(producerId string, rtpCapabilities *mediasoup.RtpCapabilities, paused bool, appData mediasoup.H) (media.Consumer, error) {
	t.router.mu.Lock()
	p, ok := t.router.producers[producerId]
	t.router.mu.Unlock()
	if !ok {
		return nil, errors.New("producer not found")
	}
	return &Consumer{
		id:         nextId("consumer"),
		kind:       p.kind,
		producerId: producerId,
		appData:    appData,
		Paused:     paused,
	}, nil
}

func (t *Transport) ProduceData(label string, streamId uint16) (media.DataProducer, error) {
	return &DataProducer{
		id: nextId("dataproducer"),
		sctp: &mediasoup.SctpStreamParameters{
			StreamId: streamId,
		},
	}, nil
}

func (t *Transport) ConsumeData(dataProducerId string) (media.DataConsumer, error) {
	return &DataConsumer{
		id:   nextId("dataconsumer"),
		sctp: &mediasoup.SctpStreamParameters{},
	}, nil
}

func (t *Transport) WebRtcInfo() *media.WebRtcConnectionInfo {
	if t.kind != "webrtc" {
		return nil
	}
	return &media.WebRtcConnectionInfo{}
}

func (t *Transport) PlainTuple() *media.Tuple {
	return t.tuple
}

func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CloseCount++
}

type Producer struct {
	mu            sync.Mutex
	id            string
	kind          mediasoup.MediaKind
	rtpParameters *mediasoup.RtpParameters
	appData       mediasoup.H

	CloseCount int
}

func (p *Producer) Id() string                { return p.id }
func (p *Producer) Kind() mediasoup.MediaKind { return p.kind }
func (p *Producer) RtpParameters() *mediasoup.RtpParameters {
	if p.rtpParameters != nil {
		return p.rtpParameters
	}
	return &mediasoup.RtpParameters{}
}
func (p *Producer) AppData() mediasoup.H { return p.appData }
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCount++
}

type Consumer struct {
	mu         sync.Mutex
	id         string
	kind       mediasoup.MediaKind
	producerId string
	appData    mediasoup.H

	Paused     bool
	CloseCount int
}

func (c *Consumer) Id() string                { return c.id }
func (c *Consumer) Kind() mediasoup.MediaKind { return c.kind }
func (c *Consumer) RtpParameters() *mediasoup.RtpParameters {
	return &mediasoup.RtpParameters{}
}
func (c *Consumer) ProducerId() string   { return c.producerId }
func (c *Consumer) AppData() mediasoup.H { return c.appData }
func (c *Consumer) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Paused = false
	return nil
}
func (c *Consumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCount++
}

type DataProducer struct {
	mu   sync.Mutex
	id   string
	sctp *mediasoup.SctpStreamParameters

	Sent       [][]byte
	CloseCount int
}

func (p *DataProducer) Id() string { return p.id }
func (p *DataProducer) SctpStreamParameters() *mediasoup.SctpStreamParameters {
	return p.sctp
}
func (p *DataProducer) Send(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Sent = append(p.Sent, payload)
	return nil
}
func (p *DataProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCount++
}

type DataConsumer struct {
	mu   sync.Mutex
	id   string
	sctp *mediasoup.SctpStreamParameters

	CloseCount int
}

func (c *DataConsumer) Id() string { return c.id }
func (c *DataConsumer) SctpStreamParameters() *mediasoup.SctpStreamParameters {
	return c.sctp
}
func (c *DataConsumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCount++
}

type AudioObserver struct {
	mu        sync.Mutex
	producers map[string]struct{}
	volumesFn func([]media.VolumeEntry)
	silenceFn func()

	Closed bool
}

func (o *AudioObserver) AddProducer(producerId string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.producers[producerId] = struct{}{}
	return nil
}

func (o *AudioObserver) RemoveProducer(producerId string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.producers, producerId)
	return nil
}

func (o *AudioObserver) HasProducer(producerId string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.producers[producerId]
	return ok
}

func (o *AudioObserver) OnVolumes(f func(volumes []media.VolumeEntry)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volumesFn = f
}

func (o *AudioObserver) OnSilence(f func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.silenceFn = f
}

// EmitVolumes drives the volumes callback as the engine would.
func (o *AudioObserver) EmitVolumes(entries []media.VolumeEntry) {
	o.mu.Lock()
	f := o.volumesFn
	o.mu.Unlock()
	if f != nil {
		f(entries)
	}
}

func (o *AudioObserver) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Closed = true
}
