// Package statsd wraps the few statsd calls the runtime makes.
// It hides the datadog dependency so only this file changes if the metrics backend does.
package statsd

import (
	"strings"
	"sync/atomic"
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

type holder struct {
	client ddstatsd.ClientInterface
}

var current atomic.Pointer[holder]

func init() {
	current.Store(&holder{client: &ddstatsd.NoOpClient{}})
}

// Client returns the active client. It is a no-op client until Init succeeds.
func Client() ddstatsd.ClientInterface {
	return current.Load().client
}

// Init replaces the package client with one sending to address.
func Init(address string, tags []string) error {
	if address == "" {
		return eris.New("address must not be empty")
	}
	opts := []ddstatsd.Option{
		// The statsd namespace is the prefix of all metrics
		ddstatsd.WithNamespace("colony"),
	}
	if len(tags) > 0 {
		opts = append(opts, ddstatsd.WithTags(tags))
	}

	newClient, err := ddstatsd.New(address, opts...)
	if err != nil {
		return eris.Wrap(err, "creating statsd client")
	}
	current.Store(&holder{client: newClient})
	return nil
}

// Reset restores the no-op client, closing the previous one.
func Reset() {
	old := current.Swap(&holder{client: &ddstatsd.NoOpClient{}})
	if err := old.client.Close(); err != nil {
		log.Logger.Warn().Err(err).Msg("failed to close statsd client")
	}
}

// Tag formats a key:value tag.
func Tag(key, value string) string {
	return key + ":" + strings.ReplaceAll(value, ":", "_")
}

// EmitTiming reports the time elapsed since start under name.
func EmitTiming(name string, start time.Time, tags ...string) {
	if err := Client().Timing(name, time.Since(start), tags, 1); err != nil {
		log.Logger.Warn().Msgf("failed to emit %s stat: %v", name, err)
	}
}

// EmitCount reports a counter increment under name.
func EmitCount(name string, value int64, tags ...string) {
	if err := Client().Count(name, value, tags, 1); err != nil {
		log.Logger.Warn().Msgf("failed to emit %s stat: %v", name, err)
	}
}
