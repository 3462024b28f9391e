package msoup

import (
	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"

	"github.com/lumicall/mediabridge/internal/media"
)

type transport struct {
	transport *mediasoup.Transport
}

func (t *transport) Id() string {
	return t.transport.Id()
}

func (t *transport) AppData() mediasoup.H {
	return t.transport.AppData()
}

func (t *transport) Connect(opts *mediasoup.TransportConnectOptions) error {
	return t.transport.Connect(opts)
}

func (t *transport) Produce(kind mediasoup.MediaKind, rtpParameters *mediasoup.RtpParameters, appData mediasoup.H) (media.Producer, error) {
	p, err := t.transport.Produce(&mediasoup.ProducerOptions{
		Kind:          kind,
		RtpParameters: rtpParameters,
		AppData:       appData,
	})
	if err != nil {
		return nil, err
	}
	return &producer{producer: p}, nil
}

func (t *transport) Consume(producerId string, rtpCapabilities *mediasoup.RtpCapabilities, paused bool, appData mediasoup.H) (media.Consumer, error) {
	c, err := t.transport.Consume(&mediasoup.ConsumerOptions{
		ProducerId:      producerId,
		RtpCapabilities: rtpCapabilities,
		Paused:          paused,
		AppData:         appData,
	})
	if err != nil {
		return nil, err
	}
	return &consumer{consumer: c}, nil
}

func (t *transport) ProduceData(label string, streamId uint16) (media.DataProducer, error) {
	p, err := t.transport.ProduceData(&mediasoup.DataProducerOptions{
		Label: label,
		SctpStreamParameters: &mediasoup.SctpStreamParameters{
			StreamId: streamId,
			Ordered:  ptr(true),
		},
	})
	if err != nil {
		return nil, err
	}
	return &dataProducer{producer: p}, nil
}

func (t *transport) ConsumeData(dataProducerId string) (media.DataConsumer, error) {
	c, err := t.transport.ConsumeData(&mediasoup.DataConsumerOptions{
		DataProducerId: dataProducerId,
		Ordered:        ptr(true),
	})
	if err != nil {
		return nil, err
	}
	return &dataConsumer{consumer: c}, nil
}

func (t *transport) WebRtcInfo() *media.WebRtcConnectionInfo {
	data := t.transport.Data().WebRtcTransportData
	if data == nil {
		return nil
	}
	return &media.WebRtcConnectionInfo{
		IceParameters:  data.IceParameters,
		IceCandidates:  data.IceCandidates,
		DtlsParameters: data.DtlsParameters,
		SctpParameters: data.SctpParameters,
	}
}

func (t *transport) PlainTuple() *media.Tuple {
	data := t.transport.Data().PlainTransportData
	if data == nil {
		return nil
	}
	return &media.Tuple{
		IP:   data.Tuple.LocalAddress,
		Port: data.Tuple.LocalPort,
	}
}

func (t *transport) Close() {
	t.transport.Close()
}

type producer struct {
	producer *mediasoup.Producer
}

func (p *producer) Id() string                              { return p.producer.Id() }
func (p *producer) Kind() mediasoup.MediaKind               { return p.producer.Kind() }
func (p *producer) RtpParameters() *mediasoup.RtpParameters { return p.producer.RtpParameters() }
func (p *producer) AppData() mediasoup.H                    { return p.producer.AppData() }
func (p *producer) Close()                                  { p.producer.Close() }

type consumer struct {
	consumer *mediasoup.Consumer
}

func (c *consumer) Id() string                              { return c.consumer.Id() }
func (c *consumer) Kind() mediasoup.MediaKind               { return c.consumer.Kind() }
func (c *consumer) RtpParameters() *mediasoup.RtpParameters { return c.consumer.RtpParameters() }
func (c *consumer) ProducerId() string                      { return c.consumer.ProducerId() }
func (c *consumer) AppData() mediasoup.H                    { return c.consumer.AppData() }
func (c *consumer) Resume() error                           { return c.consumer.Resume() }
func (c *consumer) Close()                                  { c.consumer.Close() }

type dataProducer struct {
	producer *mediasoup.DataProducer
}

func (p *dataProducer) Id() string { return p.producer.Id() }
func (p *dataProducer) SctpStreamParameters() *mediasoup.SctpStreamParameters {
	return p.producer.SctpStreamParameters()
}
func (p *dataProducer) Send(payload []byte) error { return p.producer.Send(payload) }
func (p *dataProducer) Close()                    { p.producer.Close() }

type dataConsumer struct {
	consumer *mediasoup.DataConsumer
}

func (c *dataConsumer) Id() string { return c.consumer.Id() }
func (c *dataConsumer) SctpStreamParameters() *mediasoup.SctpStreamParameters {
	return c.consumer.SctpStreamParameters()
}
func (c *dataConsumer) Close() { c.consumer.Close() }
