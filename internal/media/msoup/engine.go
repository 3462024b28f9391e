// Package msoup binds the media interfaces to mediasoup worker processes.
package msoup

import (
	"context"

	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"

	"github.com/lumicall/mediabridge/internal/media"
)

func ptr[T any](v T) *T { return &v }

// Engine spawns mediasoup-worker subprocesses from a fixed binary path.
type Engine struct {
	workerBin string
}

func NewEngine(workerBin string) *Engine {
	return &Engine{workerBin: workerBin}
}

func (e *Engine) NewWorker() (media.Worker, error) {
	w, err := mediasoup.NewWorker(e.workerBin)
	if err != nil {
		return nil, err
	}
	return &worker{worker: w}, nil
}

type worker struct {
	worker *mediasoup.Worker
}

func (w *worker) Pid() int {
	return w.worker.Pid()
}

func (w *worker) GetResourceUsage() (*mediasoup.WorkerResourceUsage, error) {
	return w.worker.GetResourceUsage()
}

func (w *worker) OnDied(f func(error)) {
	w.worker.OnDied(func(_ context.Context, err error) {
		f(err)
	})
}

func (w *worker) CreateRouter(mediaCodecs []*mediasoup.RtpCodecCapability) (media.Router, error) {
	r, err := w.worker.CreateRouter(&mediasoup.RouterOptions{
		MediaCodecs: mediaCodecs,
	})
	if err != nil {
		return nil, err
	}
	return &router{router: r}, nil
}

func (w *worker) Close() error {
	w.worker.Close()
	return nil
}
