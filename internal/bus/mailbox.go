package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/ayusman/palmscroll/internal/protocol"
)

type envelope struct {
	req  *Request
	span trace.SpanContext
}

// mailbox queues requests for one endpoint and dispatches them in arrival order.
type mailbox struct {
	endpoint protocol.Endpoint
	handler  Handler
	logger   *slog.Logger

	mu     sync.Mutex
	items  []envelope
	closed bool
	notify chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newMailbox(parent context.Context, endpoint protocol.Endpoint, h Handler, logger *slog.Logger) *mailbox {
	ctx, cancel := context.WithCancel(parent)
	return &mailbox{
		endpoint: endpoint,
		handler:  h,
		logger:   logger,
		notify:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (mb *mailbox) enqueue(env envelope) error {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return fmt.Errorf("%w: %s", protocol.ErrNoReceiver, mb.endpoint)
	}
	mb.items = append(mb.items, env)
	mb.mu.Unlock()

	select {
	case mb.notify <- struct{}{}:
	default:
	}
	return nil
}

func (mb *mailbox) next() (envelope, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed || len(mb.items) == 0 {
		return envelope{}, false
	}
	env := mb.items[0]
	mb.items[0] = envelope{}
	mb.items = mb.items[1:]
	return env, true
}

func (mb *mailbox) run() {
	defer close(mb.done)

	for {
		if env, ok := mb.next(); ok {
			mb.dispatch(env)
			continue
		}

		select {
		case <-mb.notify:
		case <-mb.ctx.Done():
			mb.close()
			return
		}
	}
}

func (mb *mailbox) dispatch(env envelope) {
	req := env.req
	ctx := mb.ctx
	if env.span.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, env.span)
	}

	defer func() {
		if r := recover(); r != nil {
			mb.logger.Error("handler panic", "endpoint", mb.endpoint, "type", req.Message.Kind, "panic", r)
			req.Fail(fmt.Errorf("handler panic: %v", r))
		}
	}()

	mb.handler.ServeMessage(ctx, req)

	if !req.deferred.Load() {
		req.Fail(fmt.Errorf("%w: %s on %s", protocol.ErrNoResponse, req.Message.Kind, mb.endpoint))
	}
}

// close rejects queued requests and stops accepting new ones.
func (mb *mailbox) close() {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return
	}
	mb.closed = true
	pending := mb.items
	mb.items = nil
	mb.mu.Unlock()

	mb.cancel()
	for _, env := range pending {
		env.req.Fail(fmt.Errorf("%w: %s", protocol.ErrNoReceiver, mb.endpoint))
	}
}
