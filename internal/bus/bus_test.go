package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/palmscroll/internal/protocol"
)

func echoHandler() Handler {
	return HandlerFunc(func(ctx context.Context, req *Request) {
		req.Respond(protocol.OKWith(map[string]string{"type": string(req.Message.Kind), "from": string(req.From)}))
	})
}

func TestBus_SendRoundTrip(t *testing.T) {
	b := New(nil)
	defer b.Close()

	_, err := b.Register(protocol.Background, echoHandler())
	require.NoError(t, err)

	resp, err := b.Send(context.Background(), protocol.Control, protocol.Background, protocol.New(protocol.KindGetStatus))
	require.NoError(t, err)
	require.True(t, resp.Success)

	var out map[string]string
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, "GET_STATUS", out["type"])
	assert.Equal(t, "control", out["from"])
}

func TestBus_NoReceiver(t *testing.T) {
	b := New(nil)
	defer b.Close()

	_, err := b.Send(context.Background(), protocol.Background, protocol.Capture, protocol.New(protocol.KindInitInference))
	assert.ErrorIs(t, err, protocol.ErrNoReceiver)

	err = b.Post(protocol.Background, protocol.Capture, protocol.New(protocol.KindStopCamera))
	assert.ErrorIs(t, err, protocol.ErrNoReceiver)
}

func TestBus_DuplicateRegister(t *testing.T) {
	b := New(nil)
	defer b.Close()

	_, err := b.Register(protocol.Capture, echoHandler())
	require.NoError(t, err)

	_, err = b.Register(protocol.Capture, echoHandler())
	assert.ErrorIs(t, err, ErrDuplicateEndpoint)
}

func TestBus_InvalidMessageRejected(t *testing.T) {
	b := New(nil)
	defer b.Close()

	_, err := b.Register(protocol.Background, echoHandler())
	require.NoError(t, err)

	_, err = b.Send(context.Background(), protocol.Control, protocol.Background, protocol.Message{Kind: "NOPE"})
	assert.ErrorIs(t, err, protocol.ErrUnknownMessage)
}

func TestBus_HandlerWithoutResponse(t *testing.T) {
	b := New(nil)
	defer b.Close()

	_, err := b.Register(protocol.Background, HandlerFunc(func(ctx context.Context, req *Request) {}))
	require.NoError(t, err)

	resp, err := b.Send(context.Background(), protocol.Control, protocol.Background, protocol.New(protocol.KindGetStatus))
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.ErrorIs(t, resp.Err(), protocol.ErrNoResponse)
}

func TestBus_HandlerPanicBecomesFailure(t *testing.T) {
	b := New(nil)
	defer b.Close()

	_, err := b.Register(protocol.Background, HandlerFunc(func(ctx context.Context, req *Request) {
		panic("kaboom")
	}))
	require.NoError(t, err)

	resp, err := b.Send(context.Background(), protocol.Control, protocol.Background, protocol.New(protocol.KindGetStatus))
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "kaboom")
}

func TestBus_ArrivalOrder(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})

	_, err := b.Register(protocol.Background, HandlerFunc(func(ctx context.Context, req *Request) {
		mu.Lock()
		seen = append(seen, req.Message.Gesture)
		n := len(seen)
		mu.Unlock()
		req.Respond(protocol.OK())
		if n == 50 {
			close(done)
		}
	}))
	require.NoError(t, err)

	var want []string
	for i := 0; i < 50; i++ {
		name := string(rune('A'+i%26)) + string(rune('a'+i/26))
		want = append(want, name)
		require.NoError(t, b.Post(protocol.Capture, protocol.Background, protocol.GestureDetected(name, 0.9, time.Now())))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for messages")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen)
}

func TestBus_OneAtATimeUnlessAsync(t *testing.T) {
	b := New(nil)
	defer b.Close()

	release := make(chan struct{})
	_, err := b.Register(protocol.Background, HandlerFunc(func(ctx context.Context, req *Request) {
		switch req.Message.Kind {
		case protocol.KindStartGestures:
			req.Async(func() protocol.Response {
				<-release
				return protocol.OK()
			})
		default:
			req.Respond(protocol.OK())
		}
	}))
	require.NoError(t, err)

	startDone := make(chan protocol.Response, 1)
	go func() {
		resp, _ := b.Send(context.Background(), protocol.Control, protocol.Background, protocol.New(protocol.KindStartGestures))
		startDone <- resp
	}()

	// The async start must not block the mailbox.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := b.Send(ctx, protocol.Control, protocol.Background, protocol.New(protocol.KindGetStatus))
	require.NoError(t, err)
	assert.True(t, resp.Success)

	close(release)
	select {
	case resp := <-startDone:
		assert.True(t, resp.Success)
	case <-time.After(time.Second):
		t.Fatal("async response never arrived")
	}
}

func TestBus_SendRespectsContext(t *testing.T) {
	b := New(nil)
	defer b.Close()

	_, err := b.Register(protocol.Capture, HandlerFunc(func(ctx context.Context, req *Request) {
		req.Async(func() protocol.Response {
			<-ctx.Done()
			return protocol.Failure(ctx.Err())
		})
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = b.Send(ctx, protocol.Background, protocol.Capture, protocol.New(protocol.KindStartCamera))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestBus_UnregisterRejectsQueued(t *testing.T) {
	b := New(nil)
	defer b.Close()

	block := make(chan struct{})
	unregister, err := b.Register(protocol.Capture, HandlerFunc(func(ctx context.Context, req *Request) {
		<-block
		req.Respond(protocol.OK())
	}))
	require.NoError(t, err)

	first := make(chan error, 1)
	second := make(chan protocol.Response, 1)
	go func() {
		_, err := b.Send(context.Background(), protocol.Background, protocol.Capture, protocol.New(protocol.KindStopCamera))
		first <- err
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		resp, _ := b.Send(context.Background(), protocol.Background, protocol.Capture, protocol.New(protocol.KindStopCamera))
		second <- resp
	}()
	time.Sleep(20 * time.Millisecond)

	unregister()
	close(block)

	select {
	case resp := <-second:
		assert.False(t, resp.Success)
		assert.ErrorIs(t, resp.Err(), protocol.ErrNoReceiver)
	case <-time.After(time.Second):
		t.Fatal("queued request was never rejected")
	}
	require.NoError(t, <-first)
	assert.False(t, b.Has(protocol.Capture))
}

func TestBus_TabsFollowRegistration(t *testing.T) {
	b := New(nil)
	defer b.Close()

	unregisterA, err := b.Register(protocol.TabEndpoint("a"), echoHandler())
	require.NoError(t, err)
	_, err = b.Register(protocol.TabEndpoint("b"), echoHandler())
	require.NoError(t, err)

	active, ok := b.Tabs().Active()
	require.True(t, ok)
	assert.Equal(t, protocol.TabEndpoint("a"), active)
	assert.Equal(t, []string{"a", "b"}, b.Tabs().List())

	unregisterA()
	active, ok = b.Tabs().Active()
	require.True(t, ok)
	assert.Equal(t, protocol.TabEndpoint("b"), active)

	resp, err := b.SendActiveTab(context.Background(), protocol.Control, protocol.New(protocol.KindGetStatus))
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestTabs_SetActive(t *testing.T) {
	tabs := NewTabs()
	_, ok := tabs.Active()
	assert.False(t, ok)

	tabs.Add("x")
	tabs.Add("y")
	tabs.Add("y")
	assert.Equal(t, []string{"x", "y"}, tabs.List())

	require.NoError(t, tabs.SetActive("y"))
	assert.Equal(t, "y", tabs.ActiveID())
	assert.ErrorIs(t, tabs.SetActive("z"), protocol.ErrNoReceiver)

	tabs.Remove("y")
	assert.Equal(t, "x", tabs.ActiveID())
	tabs.Remove("x")
	assert.Equal(t, "", tabs.ActiveID())
}
