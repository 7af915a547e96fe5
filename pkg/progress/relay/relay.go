// Package relay carries progress events between processes over redis pub/sub.
// Workers subscribe a Publisher to their local bus; the API server runs Forward
// to re-emit those events on its own bus so stream observers see queued runs.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
	"github.com/feichai0017/migration-orchestrator/pkg/progress"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "migration:events"

// OriginKey is added to the data of relayed events.
const OriginKey = "origin"

type envelope struct {
	Source string         `json:"source"`
	Event  progress.Event `json:"event"`
}

// Publisher is a progress.Sink that publishes every event to a redis channel.
type Publisher struct {
	rdb     redis.UniversalClient
	channel string
	source  string
	timeout time.Duration
	logger  logger.Logger
}

// NewPublisher creates a publisher tagging events with source.
func NewPublisher(rdb redis.UniversalClient, channel, source string, log logger.Logger) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Publisher{rdb: rdb, channel: channel, source: source, timeout: 2 * time.Second, logger: log.Named("relay")}
}

// Send implements progress.Sink. Publish failures are logged and the event is
// dropped; the subscription stays on the bus so relaying resumes once redis
// is reachable again.
func (p *Publisher) Send(ev progress.Event) error {
	data, err := json.Marshal(envelope{Source: p.source, Event: ev})
	if err != nil {
		p.logger.Warn("Dropping unencodable event", logger.String("eventId", ev.ID), logger.Error(err))
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		p.logger.Warn("Failed to publish event",
			logger.String("eventId", ev.ID),
			logger.String("type", string(ev.Type)),
			logger.Error(err),
		)
	}
	return nil
}

// newBackOff paces Run's resubscribe attempts.
var newBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Run keeps Forward alive until ctx is done, resubscribing with exponential
// backoff whenever the subscription fails or closes.
func Run(ctx context.Context, rdb redis.UniversalClient, channel, self string, bus progress.Emitter, log logger.Logger) error {
	if log == nil {
		log = logger.NewNop()
	}
	operation := func() error {
		err := Forward(ctx, rdb, channel, self, bus, log)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = errors.New("relay subscription closed")
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("Retrying event relay", logger.Duration("wait", wait), logger.Error(err))
	}
	err := backoff.RetryNotify(operation, backoff.WithContext(newBackOff(), ctx), notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Forward subscribes to channel and re-emits every foreign event on bus until
// ctx is done. Events published by self are ignored.
func Forward(ctx context.Context, rdb redis.UniversalClient, channel, self string, bus progress.Emitter, log logger.Logger) error {
	if channel == "" {
		channel = DefaultChannel
	}
	ps := rdb.Subscribe(ctx, channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return errors.Wrapf(err, "failed to subscribe to %s", channel)
	}
	return forward(ctx, ps.Channel(), self, bus, log)
}

func forward(ctx context.Context, msgs <-chan *redis.Message, self string, bus progress.Emitter, log logger.Logger) error {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("relay")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn("Discarding malformed relay message", logger.Error(err))
				continue
			}
			if env.Source == self {
				continue
			}
			data := make(map[string]interface{}, len(env.Event.Data)+1)
			for k, v := range env.Event.Data {
				data[k] = v
			}
			data[OriginKey] = env.Source
			if err := bus.Emit(env.Event.Type, data); err != nil {
				log.Warn("Failed to re-emit relayed event",
					logger.String("type", string(env.Event.Type)),
					logger.Error(err),
				)
			}
		}
	}
}
