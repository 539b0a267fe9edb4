// Package bus carries protocol messages between palmscroll endpoints.
//
// Endpoints share no state. Each registered endpoint owns a mailbox that hands
// requests to its Handler one at a time, in arrival order. Senders either wait
// for the answer (Send) or fire and forget (Post).
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ayusman/palmscroll/internal/protocol"
)

// ErrDuplicateEndpoint is returned when registering a name that is already taken.
var ErrDuplicateEndpoint = errors.New("endpoint already registered")

// Bus routes messages to registered endpoints.
type Bus struct {
	mu        sync.RWMutex
	mailboxes map[protocol.Endpoint]*mailbox
	tabs      *Tabs
	logger    *slog.Logger
	tracer    trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		mailboxes: make(map[protocol.Endpoint]*mailbox),
		tabs:      NewTabs(),
		logger:    logger.With("component", "bus"),
		tracer:    otel.Tracer("github.com/ayusman/palmscroll/internal/bus"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Tabs returns the registry of page tabs known to the bus.
func (b *Bus) Tabs() *Tabs {
	return b.tabs
}

// Register attaches h to endpoint. The returned function detaches it; queued
// requests are then answered with protocol.ErrNoReceiver.
func (b *Bus) Register(endpoint protocol.Endpoint, h Handler) (func(), error) {
	if h == nil {
		return nil, errors.New("handler is required")
	}

	b.mu.Lock()
	if b.ctx.Err() != nil {
		b.mu.Unlock()
		return nil, errors.New("bus is closed")
	}
	if _, exists := b.mailboxes[endpoint]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEndpoint, endpoint)
	}
	mb := newMailbox(b.ctx, endpoint, h, b.logger)
	b.mailboxes[endpoint] = mb
	b.mu.Unlock()

	if endpoint.IsTab() {
		b.tabs.Add(endpoint.TabID())
	}

	go mb.run()
	b.logger.Debug("endpoint registered", "endpoint", endpoint)

	var once sync.Once
	return func() {
		once.Do(func() { b.unregister(endpoint, mb) })
	}, nil
}

func (b *Bus) unregister(endpoint protocol.Endpoint, mb *mailbox) {
	b.mu.Lock()
	if current, ok := b.mailboxes[endpoint]; ok && current == mb {
		delete(b.mailboxes, endpoint)
	}
	b.mu.Unlock()

	if endpoint.IsTab() {
		b.tabs.Remove(endpoint.TabID())
	}
	mb.close()
	b.logger.Debug("endpoint unregistered", "endpoint", endpoint)
}

// Has reports whether endpoint is registered.
func (b *Bus) Has(endpoint protocol.Endpoint) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.mailboxes[endpoint]
	return ok
}

func (b *Bus) lookup(endpoint protocol.Endpoint) (*mailbox, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	mb, ok := b.mailboxes[endpoint]
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrNoReceiver, endpoint)
	}
	return mb, nil
}

// Send delivers msg to endpoint `to` and waits for the answer.
// The error is non-nil only when the message could not be delivered or ctx
// ended first; handler failures come back as an unsuccessful Response.
func (b *Bus) Send(ctx context.Context, from, to protocol.Endpoint, msg protocol.Message) (protocol.Response, error) {
	ctx, span := b.tracer.Start(ctx, "bus.send", trace.WithAttributes(
		attribute.String("message.type", string(msg.Kind)),
		attribute.String("message.from", string(from)),
		attribute.String("message.to", string(to)),
	))
	defer span.End()

	resp, err := b.send(ctx, from, to, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if !resp.Success {
		span.SetStatus(codes.Error, resp.Error)
	}
	return resp, err
}

func (b *Bus) send(ctx context.Context, from, to protocol.Endpoint, msg protocol.Message) (protocol.Response, error) {
	if err := msg.Validate(); err != nil {
		return protocol.Response{}, err
	}

	mb, err := b.lookup(to)
	if err != nil {
		return protocol.Response{}, err
	}

	req := newRequest(from, to, msg, true)
	if err := mb.enqueue(envelope{req: req, span: trace.SpanContextFromContext(ctx)}); err != nil {
		return protocol.Response{}, err
	}

	select {
	case resp := <-req.reply:
		return resp, nil
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	}
}

// Call is Send with the response folded into the error.
func (b *Bus) Call(ctx context.Context, from, to protocol.Endpoint, msg protocol.Message) (protocol.Response, error) {
	resp, err := b.Send(ctx, from, to, msg)
	if err != nil {
		return resp, err
	}
	return resp, resp.Err()
}

// Post delivers msg without waiting for an answer.
func (b *Bus) Post(from, to protocol.Endpoint, msg protocol.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	mb, err := b.lookup(to)
	if err != nil {
		return err
	}
	return mb.enqueue(envelope{req: newRequest(from, to, msg, false)})
}

// SendActiveTab delivers msg to the active tab and waits for the answer.
func (b *Bus) SendActiveTab(ctx context.Context, from protocol.Endpoint, msg protocol.Message) (protocol.Response, error) {
	to, ok := b.tabs.Active()
	if !ok {
		return protocol.Response{}, fmt.Errorf("%w: no active tab", protocol.ErrNoReceiver)
	}
	return b.Send(ctx, from, to, msg)
}

// PostActiveTab delivers msg to the active tab without waiting.
func (b *Bus) PostActiveTab(from protocol.Endpoint, msg protocol.Message) error {
	to, ok := b.tabs.Active()
	if !ok {
		return fmt.Errorf("%w: no active tab", protocol.ErrNoReceiver)
	}
	return b.Post(from, to, msg)
}

// Close detaches every endpoint.
func (b *Bus) Close() {
	b.mu.Lock()
	b.cancel()
	mailboxes := b.mailboxes
	b.mailboxes = make(map[protocol.Endpoint]*mailbox)
	b.mu.Unlock()

	for _, mb := range mailboxes {
		mb.close()
	}
}
