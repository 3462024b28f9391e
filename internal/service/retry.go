package service

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lumicall/mediabridge/internal/core"
)

const (
	retryAttempts = 3
	retryDelay    = 50 * time.Millisecond
)

// retry re-runs fn on transient connection resets from the media engine.
// Anything else fails immediately.
func retry[T any](op string, fn func() (T, error)) (T, error) {
	var zero T
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		var v T
		v, err = fn()
		if err == nil {
			return v, nil
		}
		if !core.IsTransient(err) {
			return zero, err
		}
		log.Warn().Str("module", "service").Str("op", op).Int("attempt", attempt).Err(err).Msg("transient failure, retrying")
		time.Sleep(retryDelay)
	}
	return zero, err
}
