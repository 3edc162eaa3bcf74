// Package notify provides an in-process pub/sub bus used to decouple the
// control protocol engine from the client facade and from optional
// application-facing side channels (diagnostic lines, settings-file
// changes). Delivery runs on watermill's in-memory gochannel, topic-per-Kind,
// so subscribers get the buffering/back-pressure semantics of a real message
// bus instead of an unbounded fan-out goroutine per publish.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Kind identifies the category of a notification, and doubles as the
// watermill topic name.
type Kind string

const (
	// ResultObserved fires whenever the protocol engine finishes parsing a
	// result frame. Data is ResultObservedData.
	ResultObserved Kind = "result_observed"
	// DiagnosticLine fires for each line read from the child's diagnostic
	// stream. Data is string.
	DiagnosticLine Kind = "diagnostic_line"
	// SettingsChanged fires when a watched settings file is modified.
	// Data is string (the file path).
	SettingsChanged Kind = "settings_changed"
)

// ResultObservedData is the payload of a ResultObserved notification.
type ResultObservedData struct {
	SessionID string `json:"session_id"`
}

// Event is one notification carried on the bus. Data must be
// JSON-marshalable: it travels through the gochannel as an encoded payload.
type Event struct {
	Kind Kind `json:"kind"`
	Data any  `json:"data"`
}

// Subscriber receives events of a single Kind. Data arrives as decoded by
// encoding/json into an any: a string payload is still a string and can be
// type-asserted, but a struct payload arrives as map[string]any and must be
// re-decoded into its concrete type.
type Subscriber func(Event)

// Bus is one connection's notification bus, owned by exactly one Client
// Facade instance and closed alongside it.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu     sync.Mutex
	cancel map[Kind][]context.CancelFunc
	closed bool
}

// New creates a bus ready to accept subscriptions and publishes.
func New() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NopLogger{},
		),
		cancel: make(map[Kind][]context.CancelFunc),
	}
}

// Subscribe registers fn for events of kind and starts a goroutine pumping
// the topic's gochannel output to fn until the bus is closed or the
// returned unsubscribe func is called.
func (b *Bus) Subscribe(kind Kind, fn Subscriber) (unsubscribe func()) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}

	messages, err := b.pubsub.Subscribe(context.Background(), string(kind))
	if err != nil {
		b.mu.Unlock()
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel[kind] = append(b.cancel[kind], cancel)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal(msg.Payload, &evt); err == nil {
					fn(evt)
				}
				msg.Ack()
			}
		}
	}()

	return cancel
}

// Publish encodes e and delivers it to every subscriber of e.Kind via the
// watermill topic named after the kind.
func (b *Bus) Publish(e Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}

	return b.pubsub.Publish(string(e.Kind), message.NewMessage(watermill.NewUUID(), payload))
}

// Close stops delivery and releases the underlying gochannel. Safe to call
// more than once.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, cancels := range b.cancel {
		for _, cancel := range cancels {
			cancel()
		}
	}
	b.cancel = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}
