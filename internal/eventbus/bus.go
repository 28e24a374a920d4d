package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrBufferFull is returned when Publish cannot enqueue without blocking.
	ErrBufferFull = errors.New("eventbus: buffer full")
	// ErrClosed is returned when publishing to a closed bus.
	ErrClosed = errors.New("eventbus: closed")
)

// Handler consumes one event. Handlers run on the bus goroutine, one
// delivery at a time, with a per-delivery deadline.
type Handler func(ctx context.Context, payload any) error

// Options size the bus.
type Options struct {
	Buffer          int
	DeliveryTimeout time.Duration
}

type subscriber struct {
	name    string
	handler Handler
}

type message struct {
	topic   string
	payload any
}

// Bus is an in-process publish/subscribe channel. Publishing never waits
// on subscribers.
type Bus struct {
	opts   Options
	logger zerolog.Logger

	mu     sync.RWMutex
	subs   map[string][]subscriber
	closed bool

	queue chan message
	done  chan struct{}
	once  sync.Once
}

// New constructs a bus; call Run to start delivery.
func New(opts Options, logger zerolog.Logger) *Bus {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 10 * time.Second
	}
	return &Bus{
		opts:   opts,
		logger: logger.With().Str("component", "eventbus").Logger(),
		subs:   make(map[string][]subscriber),
		queue:  make(chan message, opts.Buffer),
		done:   make(chan struct{}),
	}
}

// Subscribe registers handler for topic under a name used in logs.
func (b *Bus) Subscribe(topic, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], subscriber{name: name, handler: handler})
}

// Publish enqueues payload for topic.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	select {
	case b.queue <- message{topic: topic, payload: payload}:
		return nil
	default:
		return fmt.Errorf("%w: topic %s", ErrBufferFull, topic)
	}
}

// Run delivers queued events until Close drains the queue or ctx ends.
func (b *Bus) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case msg, ok := <-b.queue:
			if !ok {
				return
			}
			b.dispatch(ctx, msg)
		case <-ctx.Done():
			b.drain()
			return
		}
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
// It must only be called after Run has been started.
func (b *Bus) Close() {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.queue)
		b.mu.Unlock()
	})
	<-b.done
}

func (b *Bus) drain() {
	for {
		select {
		case msg, ok := <-b.queue:
			if !ok {
				return
			}
			b.dispatch(context.Background(), msg)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, msg message) {
	b.mu.RLock()
	subs := append([]subscriber(nil), b.subs[msg.topic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(ctx, sub, msg)
	}
}

func (b *Bus) deliver(ctx context.Context, sub subscriber, msg message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.opts.DeliveryTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Str("topic", msg.topic).Str("subscriber", sub.name).
				Interface("panic", r).Msg("subscriber panicked")
		}
	}()

	if err := sub.handler(ctx, msg.payload); err != nil {
		b.logger.Error().Err(err).Str("topic", msg.topic).Str("subscriber", sub.name).Msg("subscriber failed")
	}
}
