package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ayusman/palmscroll/internal/protocol"
)

// Handler serves the messages delivered to one endpoint.
//
// ServeMessage is called from the endpoint's mailbox goroutine, one request at
// a time. It must either Respond before returning or hand the work off with
// Async; returning without doing either answers the sender with
// protocol.ErrNoResponse.
type Handler interface {
	ServeMessage(ctx context.Context, req *Request)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *Request)

// ServeMessage calls f(ctx, req).
func (f HandlerFunc) ServeMessage(ctx context.Context, req *Request) {
	f(ctx, req)
}

// Request is one delivered message awaiting an answer.
type Request struct {
	Message protocol.Message
	From    protocol.Endpoint
	To      protocol.Endpoint

	reply    chan protocol.Response
	once     sync.Once
	deferred atomic.Bool
}

func newRequest(from, to protocol.Endpoint, msg protocol.Message, wantReply bool) *Request {
	req := &Request{Message: msg, From: from, To: to}
	if wantReply {
		req.reply = make(chan protocol.Response, 1)
	}
	return req
}

// Respond answers the request. Only the first call has an effect.
func (r *Request) Respond(resp protocol.Response) {
	r.once.Do(func() {
		if r.reply != nil {
			r.reply <- resp
		}
	})
}

// Fail answers the request with a failure built from err.
func (r *Request) Fail(err error) {
	r.Respond(protocol.Failure(err))
}

// Async runs fn off the mailbox goroutine and answers with its result, so the
// endpoint can keep handling messages while fn waits.
func (r *Request) Async(fn func() protocol.Response) {
	r.deferred.Store(true)
	go func() {
		r.Respond(fn())
	}()
}

// WantsReply reports whether the sender is waiting for an answer.
func (r *Request) WantsReply() bool {
	return r.reply != nil
}
