// Package progress implements the process-wide event bus. Emitters hand events
// to a bounded channel; a single broadcaster goroutine stamps ids, appends them
// to the history ring and fans them out to subscriber queues. Every subscriber
// has its own pump goroutine so a slow or failing sink never stalls the others.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
	"github.com/feichai0017/migration-orchestrator/pkg/metrics"
)

var (
	// ErrClosed is returned by Emit and Subscribe after Close.
	ErrClosed = errors.New("progress bus closed")
	// ErrBufferFull is returned by Emit when the broadcaster is saturated.
	ErrBufferFull = errors.New("progress bus buffer full")
)

// Config tunes a Bus.
type Config struct {
	HistorySize      int           `mapstructure:"historySize"`
	ReplayCount      int           `mapstructure:"replayCount"`
	BufferSize       int           `mapstructure:"bufferSize"`
	SubscriberBuffer int           `mapstructure:"subscriberBuffer"`
	Heartbeat        time.Duration `mapstructure:"heartbeat"`
}

// DefaultConfig returns the stock bus settings.
func DefaultConfig() Config {
	return Config{
		HistorySize:      200,
		ReplayCount:      20,
		BufferSize:       1024,
		SubscriberBuffer: 256,
		Heartbeat:        30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	if c.ReplayCount < 0 {
		c.ReplayCount = 0
	}
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = def.SubscriberBuffer
	}
	return c
}

type pending struct {
	t    EventType
	data map[string]interface{}
	at   time.Time
}

// Bus is the progress event hub.
type Bus struct {
	cfg    Config
	logger logger.Logger

	in    chan pending
	flush chan chan struct{}
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

	// owned by the broadcaster goroutine
	seq    uint64
	lastMs int64

	mu      sync.RWMutex
	history []Event
	subs    map[string]*Subscription
}

// NewBus starts a bus. Call Close to stop its goroutines.
func NewBus(cfg Config, log logger.Logger) *Bus {
	if log == nil {
		log = logger.NewNop()
	}
	cfg = cfg.withDefaults()
	b := &Bus{
		cfg:     cfg,
		logger:  log.Named("bus"),
		in:      make(chan pending, cfg.BufferSize),
		flush:   make(chan chan struct{}),
		done:    make(chan struct{}),
		history: make([]Event, 0, cfg.HistorySize),
		subs:    make(map[string]*Subscription),
	}
	b.wg.Add(1)
	go b.broadcast()
	return b
}

// Emit queues an event without blocking. Unknown types are rejected with an
// ERR_BUS_UNKNOWN_EVENT error; a saturated buffer drops the event.
func (b *Bus) Emit(t EventType, data map[string]interface{}) error {
	if !t.Valid() {
		metrics.EventDropped("unknown_type")
		b.logger.Warn("Rejected event with unknown type", logger.String("type", string(t)))
		return errors.NewCoded(errors.CodeBusUnknownEvent, "unknown event type %q", t)
	}
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	select {
	case b.in <- pending{t: t, data: data, at: time.Now().UTC()}:
		return nil
	default:
		metrics.EventDropped("buffer_full")
		return ErrBufferFull
	}
}

func (b *Bus) broadcast() {
	defer b.wg.Done()
	for {
		select {
		case p := <-b.in:
			b.publish(p)
		case reply := <-b.flush:
			b.drain()
			close(reply)
		case <-b.done:
			return
		}
	}
}

func (b *Bus) drain() {
	for {
		select {
		case p := <-b.in:
			b.publish(p)
		default:
			return
		}
	}
}

func (b *Bus) nextID(at time.Time) string {
	ms := at.UnixMilli()
	if ms < b.lastMs {
		ms = b.lastMs
	}
	b.lastMs = ms
	b.seq++
	return fmt.Sprintf("%013d-%010d", ms, b.seq)
}

func (b *Bus) publish(p pending) {
	ev := Event{ID: b.nextID(p.at), Type: p.t, Data: p.data, Timestamp: p.at}

	b.mu.Lock()
	if len(b.history) == b.cfg.HistorySize {
		copy(b.history, b.history[1:])
		b.history = b.history[:len(b.history)-1]
	}
	b.history = append(b.history, ev)
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	metrics.EventPublished(string(ev.Type))
	for _, s := range subs {
		s.offer(ev)
	}
}

// Flush blocks until every event emitted before the call has been published
// to history and handed to subscriber queues.
func (b *Bus) Flush() {
	reply := make(chan struct{})
	select {
	case b.flush <- reply:
		<-reply
	case <-b.done:
	}
}

// SubscribeOption customises a subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	replay      int
	lastEventID string
}

// WithReplay sets how many history events are replayed on subscribe.
func WithReplay(n int) SubscribeOption {
	return func(o *subscribeOptions) { o.replay = n }
}

// WithLastEventID resumes after id when it is still in history; otherwise the
// default replay window is used.
func WithLastEventID(id string) SubscribeOption {
	return func(o *subscribeOptions) { o.lastEventID = id }
}

// Subscribe registers sink. Replayed events are queued before any live event,
// in their original order.
func (b *Bus) Subscribe(sink Sink, opts ...SubscribeOption) (*Subscription, error) {
	o := subscribeOptions{replay: b.cfg.ReplayCount}
	for _, opt := range opts {
		opt(&o)
	}

	b.mu.Lock()
	select {
	case <-b.done:
		b.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	replay := b.replayLocked(o)
	size := b.cfg.SubscriberBuffer
	if len(replay) > size {
		size = len(replay)
	}
	s := &Subscription{
		id:    xid.New().String(),
		bus:   b,
		sink:  sink,
		queue: make(chan Event, size),
		done:  make(chan struct{}),
	}
	for _, ev := range replay {
		s.queue <- ev
	}
	b.subs[s.id] = s
	count := len(b.subs)
	b.wg.Add(1)
	b.mu.Unlock()

	metrics.SetSubscribers(count)
	go s.pump(b.cfg.Heartbeat)
	b.logger.Debug("Subscriber added",
		logger.String("subscription", s.id),
		logger.Int("replayed", len(replay)),
	)
	return s, nil
}

func (b *Bus) replayLocked(o subscribeOptions) []Event {
	if o.lastEventID != "" {
		for i, ev := range b.history {
			if ev.ID == o.lastEventID {
				return append([]Event(nil), b.history[i+1:]...)
			}
		}
		o.replay = b.cfg.ReplayCount
	}
	if o.replay <= 0 {
		return nil
	}
	start := len(b.history) - o.replay
	if start < 0 {
		start = 0
	}
	return append([]Event(nil), b.history[start:]...)
}

// Unsubscribe removes s. Safe to call more than once and from inside a sink.
func (b *Bus) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	s.once.Do(func() {
		b.mu.Lock()
		delete(b.subs, s.id)
		count := len(b.subs)
		b.mu.Unlock()
		close(s.done)
		metrics.SetSubscribers(count)
	})
}

// GetHistory returns up to count of the most recent events, oldest first,
// optionally restricted to types. count <= 0 returns everything that matches.
func (b *Bus) GetHistory(count int, types ...EventType) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.history))
	for _, ev := range b.history {
		if len(types) > 0 && !hasType(types, ev.Type) {
			continue
		}
		out = append(out, ev)
	}
	if count > 0 && len(out) > count {
		out = out[len(out)-count:]
	}
	return out
}

func hasType(types []EventType, t EventType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close stops the broadcaster and every subscriber pump. Events still queued
// are discarded.
func (b *Bus) Close() {
	b.once.Do(func() {
		b.mu.Lock()
		close(b.done)
		b.mu.Unlock()
	})
	b.wg.Wait()
}

// Subscription is a live registration on the bus.
type Subscription struct {
	id    string
	bus   *Bus
	sink  Sink
	queue chan Event
	done  chan struct{}
	once  sync.Once
}

// ID returns the subscription id.
func (s *Subscription) ID() string { return s.id }

// Done is closed once the subscription has been removed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close unsubscribes.
func (s *Subscription) Close() { s.bus.Unsubscribe(s) }

func (s *Subscription) offer(ev Event) {
	select {
	case s.queue <- ev:
	default:
		metrics.EventDropped("slow_subscriber")
	}
}

func (s *Subscription) pump(heartbeat time.Duration) {
	defer s.bus.wg.Done()

	var tick <-chan time.Time
	ka, streaming := s.sink.(Keepaliver)
	if streaming && heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		case <-s.bus.done:
			return
		case ev := <-s.queue:
			if err := s.sink.Send(ev); err != nil {
				s.bus.logger.Debug("Dropping subscriber after failed write",
					logger.String("subscription", s.id),
					logger.Error(err),
				)
				s.bus.Unsubscribe(s)
				return
			}
		case <-tick:
			if err := ka.Keepalive(); err != nil {
				s.bus.Unsubscribe(s)
				return
			}
		}
	}
}
