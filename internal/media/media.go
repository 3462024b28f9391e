// Package media abstracts the media engine behind small behavioral
// interfaces. Parameter blobs (RTP/DTLS/SCTP structures) are the engine
// binding's own types and are passed through opaquely; this layer never
// validates their shape.
package media

import (
	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"
)

// Media kinds as the engine spells them on the wire.
const (
	KindAudio = mediasoup.MediaKind("audio")
	KindVideo = mediasoup.MediaKind("video")
)

// Engine spawns media worker processes.
type Engine interface {
	NewWorker() (Worker, error)
}

// Worker wraps one OS-level media worker process.
// Owned by the worker manager; the manager must Close() it.
type Worker interface {
	Pid() int
	// GetResourceUsage probes the worker process; failure means the
	// process is unreachable or dead.
	GetResourceUsage() (*mediasoup.WorkerResourceUsage, error)
	// OnDied sets a callback invoked when the worker process dies
	// unexpectedly.
	OnDied(func(error))
	CreateRouter(mediaCodecs []*mediasoup.RtpCodecCapability) (Router, error)
	Close() error
}

// AudioObserverOptions configures periodic volume sampling on a router.
type AudioObserverOptions struct {
	Interval   uint16 // ms
	Threshold  int8   // dBvo
	MaxEntries uint16
}

// WebRtcTransportOptions is the subset of transport knobs this layer sets.
type WebRtcTransportOptions struct {
	ListenIP    string
	AnnouncedIP string
	EnableSctp  bool
	AppData     mediasoup.H
}

// PlainTransportOptions configures an RTP transport without ICE/DTLS,
// used for server-to-server bridging.
type PlainTransportOptions struct {
	ListenIP    string
	AnnouncedIP string
	RtcpMux     bool
	Comedia     bool
	AppData     mediasoup.H
}

// PipeTransportOptions configures a router-to-router transport.
type PipeTransportOptions struct {
	ListenIP string
	AppData  mediasoup.H
}

// Router is a worker-scoped routing context negotiating codec
// capabilities and hosting a room's transports.
type Router interface {
	Id() string
	RtpCapabilities() *mediasoup.RtpCapabilities
	CreateWebRtcTransport(opts WebRtcTransportOptions) (Transport, error)
	CreatePlainTransport(opts PlainTransportOptions) (Transport, error)
	CreatePipeTransport(opts PipeTransportOptions) (Transport, error)
	CreateAudioObserver(opts AudioObserverOptions) (AudioObserver, error)
	CanConsume(producerId string, rtpCapabilities *mediasoup.RtpCapabilities) bool
	// PipeProducerToRouter forwards a producer into another router for
	// multi-worker scale-out. The target must come from the same engine.
	PipeProducerToRouter(producerId string, target Router) error
	Close() error
	Closed() bool
}

// WebRtcConnectionInfo is what a client needs to complete ICE/DTLS setup.
type WebRtcConnectionInfo struct {
	IceParameters  mediasoup.IceParameters   `json:"iceParameters"`
	IceCandidates  []mediasoup.IceCandidate  `json:"iceCandidates"`
	DtlsParameters mediasoup.DtlsParameters  `json:"dtlsParameters"`
	SctpParameters *mediasoup.SctpParameters `json:"sctpParameters,omitempty"`
}

// Tuple is the local half of a plain transport's RTP path.
type Tuple struct {
	IP   string
	Port uint16
}

// Transport is a negotiated network path carrying producers/consumers.
type Transport interface {
	Id() string
	AppData() mediasoup.H
	// Connect supplies the remote end's parameters: DTLS for WebRTC
	// transports, ip/port for plain transports.
	Connect(opts *mediasoup.TransportConnectOptions) error
	Produce(kind mediasoup.MediaKind, rtpParameters *mediasoup.RtpParameters, appData mediasoup.H) (Producer, error)
	Consume(producerId string, rtpCapabilities *mediasoup.RtpCapabilities, paused bool, appData mediasoup.H) (Consumer, error)
	ProduceData(label string, streamId uint16) (DataProducer, error)
	ConsumeData(dataProducerId string) (DataConsumer, error)
	// WebRtcInfo returns nil for non-WebRTC transports.
	WebRtcInfo() *WebRtcConnectionInfo
	// PlainTuple returns nil for non-plain transports.
	PlainTuple() *Tuple
	Close()
}

// Producer is an outbound media stream published into a room.
type Producer interface {
	Id() string
	Kind() mediasoup.MediaKind
	RtpParameters() *mediasoup.RtpParameters
	AppData() mediasoup.H
	Close()
}

// Consumer is an inbound subscription to a producer.
type Consumer interface {
	Id() string
	Kind() mediasoup.MediaKind
	RtpParameters() *mediasoup.RtpParameters
	ProducerId() string
	AppData() mediasoup.H
	Resume() error
	Close()
}

type DataProducer interface {
	Id() string
	SctpStreamParameters() *mediasoup.SctpStreamParameters
	Send(payload []byte) error
	Close()
}

type DataConsumer interface {
	Id() string
	SctpStreamParameters() *mediasoup.SctpStreamParameters
	Close()
}

// VolumeEntry is one sampled producer volume.
type VolumeEntry struct {
	ProducerId string `json:"producerId"`
	Volume     int8   `json:"volume"`
}

// AudioObserver reports periodic audio levels for registered producers.
type AudioObserver interface {
	AddProducer(producerId string) error
	RemoveProducer(producerId string) error
	OnVolumes(func(volumes []VolumeEntry))
	OnSilence(func())
	Close()
}
