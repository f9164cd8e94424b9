package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/uartrpc/pkg/framework"
	"github.com/robotalks/uartrpc/pkg/link"
)

// FrameLink is the link layer used by a Transport.
type FrameLink interface {
	Send(payload []byte) error
	Receive(buf []byte) (int, error)
}

const (
	// DefaultBufferSize is the default capacity of the receive buffer.
	DefaultBufferSize = 256
	// DefaultCallTimeout is applied to calls without a deadline.
	DefaultCallTimeout = 5 * time.Second
)

// Transport provides RPC calls and request dispatching over a FrameLink.
type Transport struct {
	// Timeout bounds calls whose context carries no deadline.
	// Zero waits until the context is done.
	Timeout time.Duration

	link       FrameLink
	registry   *Registry
	bufferSize int

	lock    sync.Mutex
	counter byte
	pending *pendingCall

	counters counters
}

// pendingCall is the correlation state of the outstanding call.
type pendingCall struct {
	counter byte
	replyCh chan *reply
}

// reply is handed over from the dispatch loop to the caller, which becomes
// its only owner.
type reply struct {
	code ErrorCode
	data []byte
}

// Stats is a snapshot of transport counters.
type Stats struct {
	CallsStarted       uint64
	CallsCompleted     uint64
	CallsFailed        uint64
	CallsTimedOut      uint64
	CallsRejected      uint64
	RequestsDispatched uint64
	UnknownFunctions   uint64
	HandlerErrors      uint64
	RepliesDropped     uint64
}

type counters struct {
	callsStarted       atomic.Uint64
	callsCompleted     atomic.Uint64
	callsFailed        atomic.Uint64
	callsTimedOut      atomic.Uint64
	callsRejected      atomic.Uint64
	requestsDispatched atomic.Uint64
	unknownFunctions   atomic.Uint64
	handlerErrors      atomic.Uint64
	repliesDropped     atomic.Uint64
}

// New creates a Transport over l serving functions from registry.
// A nil registry creates an empty one with default capacity.
func New(l FrameLink, registry *Registry) *Transport {
	if registry == nil {
		registry = NewRegistry(DefaultRegistryCapacity)
	}
	return &Transport{
		Timeout:    DefaultCallTimeout,
		link:       l,
		registry:   registry,
		bufferSize: DefaultBufferSize,
	}
}

// WithBufferSize sets the receive buffer capacity used by Run.
// Frames with larger payloads are dropped by the link layer.
func (t *Transport) WithBufferSize(size int) *Transport {
	if size >= 0 {
		t.bufferSize = size
	}
	return t
}

// WithTimeout sets Timeout.
func (t *Transport) WithTimeout(timeout time.Duration) *Transport {
	t.Timeout = timeout
	return t
}

// Registry returns the function registry.
func (t *Transport) Registry() *Registry {
	return t.registry
}

// Register registers a handler into the registry.
func (t *Transport) Register(name string, handler Handler) error {
	return t.registry.Register(name, handler)
}

// Pending indicates a call is waiting for its reply.
func (t *Transport) Pending() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.pending != nil
}

// CallWithTimeout calls function name with args and waits up to timeout.
func (t *Transport) CallWithTimeout(name string, args []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.Call(ctx, name, args)
}

// Call invokes function name on the peer and waits for its reply.
//
// Only one call may be outstanding; a concurrent Call fails immediately with
// ErrCallPending without sending anything. An Error reply is returned as a
// *RemoteError. When ctx expires first, ErrTimeout is returned and a late
// reply is dropped by the dispatch loop.
func (t *Transport) Call(ctx context.Context, name string, args []byte) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok && t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	call, payload, err := t.begin(name, args)
	if err != nil {
		return nil, err
	}
	defer t.finish(call)

	if err := t.link.Send(payload); err != nil {
		t.counters.callsFailed.Add(1)
		return nil, fmt.Errorf("send request %q: %w", name, err)
	}

	select {
	case r := <-call.replyCh:
		t.counters.callsCompleted.Add(1)
		if r.code != CodeOK {
			return nil, &RemoteError{Code: r.code}
		}
		return r.data, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			t.counters.callsTimedOut.Add(1)
			glog.V(1).Infof("call %q (counter %d) timed out", name, call.counter)
			return nil, ErrTimeout
		}
		t.counters.callsFailed.Add(1)
		return nil, ctx.Err()
	}
}

func (t *Transport) begin(name string, args []byte) (*pendingCall, []byte, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.pending != nil {
		t.counters.callsRejected.Add(1)
		return nil, nil, ErrCallPending
	}
	t.counter++
	call := &pendingCall{counter: t.counter, replyCh: make(chan *reply, 1)}
	t.pending = call
	t.counters.callsStarted.Add(1)
	return call, NewRequest(call.counter, name, args).Bytes(), nil
}

func (t *Transport) finish(call *pendingCall) {
	t.lock.Lock()
	if t.pending == call {
		t.pending = nil
	}
	t.lock.Unlock()
}

// Run runs the dispatch loop until ctx is done or the link fails.
// Cancelling ctx closes the link when it implements io.Closer, which is the
// only way to interrupt a blocked receive.
func (t *Transport) Run(ctx context.Context) error {
	return fx.RunWithContextCancel(ctx, t.closeLink, func() error {
		return t.Serve(ctx)
	})
}

// Serve receives and handles frames until the link returns an error.
func (t *Transport) Serve(ctx context.Context) error {
	buf := make([]byte, t.bufferSize)
	for {
		n, err := t.link.Receive(buf)
		if err != nil {
			return err
		}
		t.HandlePayload(ctx, buf[:n])
	}
}

// HandlePayload handles one received link payload.
// Nothing of payload is retained after it returns.
func (t *Transport) HandlePayload(ctx context.Context, payload []byte) {
	msg, err := DecodeMessage(payload)
	switch err {
	case nil:
	case ErrMissingTerminator:
		glog.V(2).Infof("malformed request (counter %d)", msg.Counter)
		t.reply(NewError(msg.Counter, CodeInternal))
		return
	default:
		glog.V(2).Infof("payload ignored: %v", err)
		return
	}
	switch msg.Type {
	case TypeRequest:
		t.dispatch(ctx, msg)
	case TypeResponse, TypeError:
		t.deliver(msg)
	}
}

func (t *Transport) dispatch(ctx context.Context, req *Message) {
	t.counters.requestsDispatched.Add(1)
	handler := t.registry.Lookup(req.Name)
	if handler == nil {
		t.counters.unknownFunctions.Add(1)
		glog.V(1).Infof("function %q not found", req.Name)
		t.reply(NewError(req.Counter, CodeFunctionNotFound))
		return
	}
	result, err := t.serve(ctx, handler, req)
	if err != nil {
		t.counters.handlerErrors.Add(1)
		t.reply(NewError(req.Counter, CodeOf(err)))
		return
	}
	t.reply(NewResponse(req.Counter, result))
}

func (t *Transport) serve(ctx context.Context, handler Handler, req *Message) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("handler %q panic: %v", req.Name, r)
			result, err = nil, &RemoteError{Code: CodeInternal}
		}
	}()
	return handler.ServeRPC(ctx, req.Data)
}

func (t *Transport) reply(msg *Message) {
	err := t.link.Send(msg.Bytes())
	if _, tooLarge := err.(*link.PayloadTooLargeError); tooLarge && msg.Type == TypeResponse {
		glog.Warningf("response to counter %d too large (%d bytes)", msg.Counter, len(msg.Data))
		err = t.link.Send(NewError(msg.Counter, CodeInternal).Bytes())
	}
	if err != nil {
		glog.Warningf("send reply to counter %d: %v", msg.Counter, err)
	}
}

func (t *Transport) deliver(msg *Message) {
	t.lock.Lock()
	defer t.lock.Unlock()
	call := t.pending
	if call == nil || call.counter != msg.Counter {
		t.counters.repliesDropped.Add(1)
		glog.V(2).Infof("stale reply dropped (counter %d)", msg.Counter)
		return
	}
	r := &reply{code: CodeOK}
	if msg.Type == TypeError {
		r.code = msg.Code
	} else if len(msg.Data) > 0 {
		r.data = append([]byte(nil), msg.Data...)
	}
	select {
	case call.replyCh <- r:
	default:
		t.counters.repliesDropped.Add(1)
		glog.V(2).Infof("duplicate reply dropped (counter %d)", msg.Counter)
	}
}

func (t *Transport) closeLink() {
	if closer, ok := t.link.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			glog.Warningf("close link: %v", err)
		}
	}
}

// Stats returns a snapshot of the counters.
func (t *Transport) Stats() Stats {
	c := &t.counters
	return Stats{
		CallsStarted:       c.callsStarted.Load(),
		CallsCompleted:     c.callsCompleted.Load(),
		CallsFailed:        c.callsFailed.Load(),
		CallsTimedOut:      c.callsTimedOut.Load(),
		CallsRejected:      c.callsRejected.Load(),
		RequestsDispatched: c.requestsDispatched.Load(),
		UnknownFunctions:   c.unknownFunctions.Load(),
		HandlerErrors:      c.handlerErrors.Load(),
		RepliesDropped:     c.repliesDropped.Load(),
	}
}
