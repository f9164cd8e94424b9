package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/uartrpc/pkg/link"
)

// chanLink is a FrameLink moving whole payloads over channels.
type chanLink struct {
	recvCh    chan []byte
	sentCh    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newChanLink() *chanLink {
	return &chanLink{
		recvCh: make(chan []byte),
		sentCh: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (l *chanLink) Send(payload []byte) error {
	l.sentCh <- append([]byte(nil), payload...)
	return nil
}

func (l *chanLink) Receive(buf []byte) (int, error) {
	select {
	case p := <-l.recvCh:
		return copy(buf, p), nil
	case <-l.closed:
		return 0, io.EOF
	}
}

func (l *chanLink) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func sumHandler(ctx context.Context, args []byte) ([]byte, error) {
	if len(args) != 8 {
		return nil, &RemoteError{Code: CodeInternal}
	}
	a, b := binary.LittleEndian.Uint32(args), binary.LittleEndian.Uint32(args[4:])
	return []byte(strconv.FormatUint(uint64(a+b), 10)), nil
}

type transportTestEnv struct {
	t         *testing.T
	link      *chanLink
	transport *Transport
	cancel    context.CancelFunc
	done      chan error
}

func newTransportTestEnv(t *testing.T) *transportTestEnv {
	env := &transportTestEnv{t: t, link: newChanLink(), done: make(chan error, 1)}
	env.transport = New(env.link, nil)
	require.NoError(t, env.transport.Registry().RegisterFunc("sum", sumHandler))
	var ctx context.Context
	ctx, env.cancel = context.WithCancel(context.Background())
	go func() { env.done <- env.transport.Run(ctx) }()
	t.Cleanup(env.stop)
	return env
}

func (e *transportTestEnv) stop() {
	e.cancel()
	select {
	case <-e.done:
	case <-time.After(time.Second):
		e.t.Error("dispatch loop didn't stop")
	}
}

func (e *transportTestEnv) inject(payload ...byte) {
	select {
	case e.link.recvCh <- payload:
	case <-time.After(500 * time.Millisecond):
		e.t.Fatal("inject timeout")
	}
}

func (e *transportTestEnv) expectSent(payload ...byte) {
	require.Equal(e.t, payload, e.nextSent())
}

func (e *transportTestEnv) nextSent() []byte {
	select {
	case p := <-e.link.sentCh:
		return p
	case <-time.After(500 * time.Millisecond):
		e.t.Fatal("expect sent timeout")
	}
	return nil
}

func (e *transportTestEnv) expectNothingSent() {
	select {
	case p := <-e.link.sentCh:
		e.t.Fatalf("unexpected payload sent: %v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

type callResult struct {
	data []byte
	err  error
}

func (e *transportTestEnv) callAsync(name string, args []byte, timeout time.Duration) <-chan callResult {
	ch := make(chan callResult, 1)
	go func() {
		data, err := e.transport.CallWithTimeout(name, args, timeout)
		ch <- callResult{data: data, err: err}
	}()
	return ch
}

func (e *transportTestEnv) waitResult(ch <-chan callResult) callResult {
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		e.t.Fatal("call didn't return")
	}
	return callResult{}
}

func TestDispatch(t *testing.T) {
	testCases := []struct {
		name   string
		setup  func(*Registry)
		in     []byte
		expect []byte
	}{
		{
			name:   "sum",
			in:     []byte{0x0B, 0x05, 's', 'u', 'm', 0x00, 1, 0, 0, 0, 2, 0, 0, 0},
			expect: []byte{0x16, 0x05, '3'},
		},
		{
			name:   "sum with bad args",
			in:     []byte{0x0B, 0x06, 's', 'u', 'm', 0x00, 1},
			expect: []byte{0x21, 0x06, 0x02},
		},
		{
			name:   "unknown function",
			in:     []byte{0x0B, 0x07, 'm', 'u', 'l', 0x00, 1, 2},
			expect: []byte{0x21, 0x07, 0x01},
		},
		{
			name:   "name prefix is not a match",
			in:     []byte{0x0B, 0x08, 's', 'u', 0x00},
			expect: []byte{0x21, 0x08, 0x01},
		},
		{
			name:   "missing terminator",
			in:     []byte{0x0B, 0x09, 's', 'u', 'm'},
			expect: []byte{0x21, 0x09, 0x02},
		},
		{
			name:   "request without name",
			in:     []byte{0x0B, 0x0A},
			expect: []byte{0x21, 0x0A, 0x02},
		},
		{
			name: "empty result",
			setup: func(r *Registry) {
				r.RegisterFunc("nop", func(context.Context, []byte) ([]byte, error) { return nil, nil })
			},
			in:     []byte{0x0B, 0x0B, 'n', 'o', 'p', 0x00},
			expect: []byte{0x16, 0x0B},
		},
		{
			name: "handler error code",
			setup: func(r *Registry) {
				r.RegisterFunc("fail", func(context.Context, []byte) ([]byte, error) {
					return nil, &RemoteError{Code: 0x33}
				})
			},
			in:     []byte{0x0B, 0x0C, 'f', 'a', 'i', 'l', 0x00},
			expect: []byte{0x21, 0x0C, 0x33},
		},
		{
			name: "handler plain error",
			setup: func(r *Registry) {
				r.RegisterFunc("fail", func(context.Context, []byte) ([]byte, error) {
					return nil, errors.New("boom")
				})
			},
			in:     []byte{0x0B, 0x0D, 'f', 'a', 'i', 'l', 0x00},
			expect: []byte{0x21, 0x0D, 0x02},
		},
		{
			name: "handler panic",
			setup: func(r *Registry) {
				r.RegisterFunc("panic", func(context.Context, []byte) ([]byte, error) {
					panic("boom")
				})
			},
			in:     []byte{0x0B, 0x0E, 'p', 'a', 'n', 'i', 'c', 0x00},
			expect: []byte{0x21, 0x0E, 0x02},
		},
		{
			name: "args with embedded NUL",
			setup: func(r *Registry) {
				r.RegisterFunc("echo", func(_ context.Context, args []byte) ([]byte, error) {
					return append([]byte(nil), args...), nil
				})
			},
			in:     []byte{0x0B, 0x0F, 'e', 'c', 'h', 'o', 0x00, 'a', 0x00, 'b'},
			expect: []byte{0x16, 0x0F, 'a', 0x00, 'b'},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTransportTestEnv(t)
			if tc.setup != nil {
				tc.setup(env.transport.Registry())
			}
			env.inject(tc.in...)
			env.expectSent(tc.expect...)
		})
	}
}

func TestDispatchIgnoresInvalidPayloads(t *testing.T) {
	env := newTransportTestEnv(t)
	env.inject()
	env.inject(0x0B)
	env.inject(0x42, 0x01, 0x02)
	env.inject(0x16, 0x01, 'x')
	env.inject(0x21, 0x01, 0x01)
	env.expectNothingSent()
	env.inject(0x0B, 0x02, 's', 'u', 'm', 0x00, 2, 0, 0, 0, 2, 0, 0, 0)
	env.expectSent(0x16, 0x02, '4')
	require.Equal(t, uint64(2), env.transport.Stats().RepliesDropped)
}

func TestCall(t *testing.T) {
	env := newTransportTestEnv(t)
	res := env.callAsync("sum", []byte{1, 0, 0, 0, 2, 0, 0, 0}, time.Second)
	req := env.nextSent()
	require.Equal(t, []byte{0x0B, 0x01, 's', 'u', 'm', 0x00, 1, 0, 0, 0, 2, 0, 0, 0}, req)
	env.inject(0x16, req[1], '3')
	r := env.waitResult(res)
	require.NoError(t, r.err)
	require.Equal(t, "3", string(r.data))
	require.False(t, env.transport.Pending())
}

func TestCallRemoteError(t *testing.T) {
	env := newTransportTestEnv(t)
	res := env.callAsync("mul", nil, time.Second)
	req := env.nextSent()
	env.inject(0x21, req[1], 0x01)
	r := env.waitResult(res)
	require.Nil(t, r.data)
	var remoteErr *RemoteError
	require.True(t, errors.As(r.err, &remoteErr))
	require.Equal(t, CodeFunctionNotFound, remoteErr.Code)
}

func TestCallEmptyResponse(t *testing.T) {
	env := newTransportTestEnv(t)
	res := env.callAsync("nop", nil, time.Second)
	req := env.nextSent()
	env.inject(0x16, req[1])
	r := env.waitResult(res)
	require.NoError(t, r.err)
	require.Empty(t, r.data)
}

func TestCallIgnoresStaleReply(t *testing.T) {
	env := newTransportTestEnv(t)
	res := env.callAsync("sum", nil, time.Second)
	req := env.nextSent()
	counter := req[1]

	env.inject(0x16, counter-1, 'x')
	env.inject(0x21, counter+1, 0x01)
	select {
	case r := <-res:
		t.Fatalf("call satisfied by stale reply: %v", r)
	case <-time.After(50 * time.Millisecond):
	}
	require.True(t, env.transport.Pending())

	env.inject(0x16, counter, 'o', 'k')
	r := env.waitResult(res)
	require.NoError(t, r.err)
	require.Equal(t, "ok", string(r.data))
	require.Equal(t, uint64(2), env.transport.Stats().RepliesDropped)
}

func TestCallSingleOutstanding(t *testing.T) {
	env := newTransportTestEnv(t)
	res := env.callAsync("sum", nil, time.Second)
	req := env.nextSent()

	_, err := env.transport.CallWithTimeout("sum", nil, time.Second)
	require.Equal(t, ErrCallPending, err)
	env.expectNothingSent()

	env.inject(0x16, req[1], '0')
	require.NoError(t, env.waitResult(res).err)
	require.Equal(t, uint64(1), env.transport.Stats().CallsRejected)
}

func TestCallTimeout(t *testing.T) {
	env := newTransportTestEnv(t)
	start := time.Now()
	_, err := env.transport.CallWithTimeout("sum", []byte{1, 0, 0, 0, 2, 0, 0, 0}, 100*time.Millisecond)
	elapsed := time.Since(start)
	require.Equal(t, ErrTimeout, err)
	require.True(t, elapsed >= 100*time.Millisecond, "returned after %s", elapsed)
	require.True(t, elapsed < 400*time.Millisecond, "returned after %s", elapsed)
	require.False(t, env.transport.Pending())
	timedOut := env.nextSent()

	res := env.callAsync("sum", []byte{1, 0, 0, 0, 2, 0, 0, 0}, time.Second)
	req := env.nextSent()
	require.Equal(t, timedOut[1]+1, req[1])

	env.inject(0x16, timedOut[1], '9')
	env.inject(0x16, req[1], '3')
	r := env.waitResult(res)
	require.NoError(t, r.err)
	require.Equal(t, "3", string(r.data))

	stats := env.transport.Stats()
	require.Equal(t, uint64(1), stats.CallsTimedOut)
	require.Equal(t, uint64(1), stats.CallsCompleted)
	require.Equal(t, uint64(1), stats.RepliesDropped)
}

func TestCallDefaultTimeout(t *testing.T) {
	env := newTransportTestEnv(t)
	env.transport.WithTimeout(50 * time.Millisecond)
	_, err := env.transport.Call(context.Background(), "sum", nil)
	require.Equal(t, ErrTimeout, err)
}

func TestCallCanceled(t *testing.T) {
	env := newTransportTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		env.nextSent()
		cancel()
	}()
	_, err := env.transport.Call(ctx, "sum", nil)
	require.Equal(t, context.Canceled, err)
	require.False(t, env.transport.Pending())
}

func TestCallCounterWraps(t *testing.T) {
	env := newTransportTestEnv(t)
	env.transport.counter = 0xff
	res := env.callAsync("sum", nil, time.Second)
	req := env.nextSent()
	require.Equal(t, byte(0), req[1])
	env.inject(0x16, 0x00, 'w')
	require.NoError(t, env.waitResult(res).err)
}

func TestCallInvalidName(t *testing.T) {
	env := newTransportTestEnv(t)
	_, err := env.transport.CallWithTimeout("", nil, time.Second)
	require.Equal(t, ErrEmptyName, err)
	_, err = env.transport.CallWithTimeout("a\x00b", nil, time.Second)
	require.Equal(t, ErrInvalidName, err)
	env.expectNothingSent()
}

type failingLink struct {
	chanLink
	err error
}

func (l *failingLink) Send([]byte) error {
	return l.err
}

func TestCallSendFailure(t *testing.T) {
	errBroken := errors.New("broken")
	tr := New(&failingLink{err: errBroken}, nil)
	_, err := tr.CallWithTimeout("sum", nil, time.Second)
	require.True(t, errors.Is(err, errBroken))
	require.False(t, tr.Pending())
	require.Equal(t, uint64(1), tr.Stats().CallsFailed)
}

func TestRunStopsOnLinkError(t *testing.T) {
	l := newChanLink()
	l.Close()
	require.Equal(t, io.EOF, New(l, nil).Run(context.Background()))
}

func TestEndToEnd(t *testing.T) {
	connA, connB := net.Pipe()
	linkA, linkB := link.New(connA), link.New(connB)

	regB := NewRegistry(4)
	require.NoError(t, regB.RegisterFunc("sum", sumHandler))
	require.NoError(t, regB.RegisterFunc("echo", func(_ context.Context, args []byte) ([]byte, error) {
		return append([]byte(nil), args...), nil
	}))
	regA := NewRegistry(4)
	require.NoError(t, regA.RegisterFunc("ping", func(context.Context, []byte) ([]byte, error) {
		return []byte("pong"), nil
	}))

	a, b := New(linkA, regA), New(linkB, regB)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, tr := range []*Transport{a, b} {
		wg.Add(1)
		go func(tr *Transport) {
			defer wg.Done()
			tr.Run(ctx)
		}(tr)
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	out, err := a.CallWithTimeout("sum", []byte{40, 0, 0, 0, 2, 0, 0, 0}, time.Second)
	require.NoError(t, err)
	require.Equal(t, "42", string(out))

	out, err = a.CallWithTimeout("echo", []byte("hello"), time.Second)
	require.NoError(t, err)
	require.Equal(t, "hello", string(out))

	_, err = a.CallWithTimeout("missing", nil, time.Second)
	require.Equal(t, &RemoteError{Code: CodeFunctionNotFound}, err)

	out, err = b.CallWithTimeout("ping", nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, "pong", string(out))

	require.Equal(t, uint64(4), linkB.Stats().FramesReceived)
}
