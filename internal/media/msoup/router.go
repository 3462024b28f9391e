package msoup

import (
	"errors"

	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"

	"github.com/lumicall/mediabridge/internal/media"
)

type router struct {
	router *mediasoup.Router
}

func (r *router) Id() string {
	return r.router.Id()
}

func (r *router) RtpCapabilities() *mediasoup.RtpCapabilities {
	return r.router.RtpCapabilities()
}

func (r *router) CreateWebRtcTransport(opts media.WebRtcTransportOptions) (media.Transport, error) {
	t, err := r.router.CreateWebRtcTransport(&mediasoup.WebRtcTransportOptions{
		ListenInfos: []mediasoup.TransportListenInfo{
			{
				Protocol:         mediasoup.TransportProtocolUDP,
				Ip:               opts.ListenIP,
				AnnouncedAddress: opts.AnnouncedIP,
			},
		},
		EnableUdp:  ptr(true),
		PreferUdp:  true,
		EnableSctp: opts.EnableSctp,
		AppData:    opts.AppData,
	})
	if err != nil {
		return nil, err
	}
	return &transport{transport: t}, nil
}

func (r *router) CreatePlainTransport(opts media.PlainTransportOptions) (media.Transport, error) {
	t, err := r.router.CreatePlainTransport(&mediasoup.PlainTransportOptions{
		ListenInfo: mediasoup.TransportListenInfo{
			Protocol:         mediasoup.TransportProtocolUDP,
			Ip:               opts.ListenIP,
			AnnouncedAddress: opts.AnnouncedIP,
		},
		RtcpMux: ptr(opts.RtcpMux),
		Comedia: opts.Comedia,
		AppData: opts.AppData,
	})
	if err != nil {
		return nil, err
	}
	return &transport{transport: t}, nil
}

func (r *router) CreatePipeTransport(opts media.PipeTransportOptions) (media.Transport, error) {
	t, err := r.router.CreatePipeTransport(&mediasoup.PipeTransportOptions{
		ListenInfo: mediasoup.TransportListenInfo{
			Protocol: mediasoup.TransportProtocolUDP,
			Ip:       opts.ListenIP,
		},
		AppData: opts.AppData,
	})
	if err != nil {
		return nil, err
	}
	return &transport{transport: t}, nil
}

func (r *router) CreateAudioObserver(opts media.AudioObserverOptions) (media.AudioObserver, error) {
	obs, err := r.router.CreateAudioLevelObserver(&mediasoup.AudioLevelObserverOptions{
		Interval:   opts.Interval,
		Threshold:  opts.Threshold,
		MaxEntries: opts.MaxEntries,
	})
	if err != nil {
		return nil, err
	}
	return &audioObserver{observer: obs}, nil
}

func (r *router) CanConsume(producerId string, rtpCapabilities *mediasoup.RtpCapabilities) bool {
	return r.router.CanConsume(producerId, rtpCapabilities)
}

func (r *router) PipeProducerToRouter(producerId string, target media.Router) error {
	dst, ok := target.(*router)
	if !ok {
		return errors.New("target router is not a mediasoup router")
	}
	_, err := r.router.PipeToRouter(&mediasoup.PipeToRouterOptions{
		ProducerId: producerId,
		Router:     dst.router,
	})
	return err
}

func (r *router) Close() error {
	return r.router.Close()
}

func (r *router) Closed() bool {
	return r.router.Closed()
}

type audioObserver struct {
	observer *mediasoup.RtpObserver
}

func (o *audioObserver) AddProducer(producerId string) error {
	return o.observer.AddProducer(producerId)
}

func (o *audioObserver) RemoveProducer(producerId string) error {
	return o.observer.RemoveProducer(producerId)
}

func (o *audioObserver) OnVolumes(f func(volumes []media.VolumeEntry)) {
	o.observer.OnVolume(func(volumes []mediasoup.AudioLevelObserverVolume) {
		entries := make([]media.VolumeEntry, 0, len(volumes))
		for _, v := range volumes {
			entries = append(entries, media.VolumeEntry{
				ProducerId: v.Producer.Id(),
				Volume:     v.Volume,
			})
		}
		f(entries)
	})
}

func (o *audioObserver) OnSilence(f func()) {
	o.observer.OnSilence(f)
}

func (o *audioObserver) Close() {
	o.observer.Close()
}
