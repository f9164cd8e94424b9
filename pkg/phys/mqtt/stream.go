package mqtt

import (
	"errors"
	"io"
	"sync"

	"github.com/golang/glog"
)

// Role selects the direction of the topic pair used by a Stream.
type Role int

// Roles.
const (
	// RoleHost reads DEVICE/tx and writes DEVICE/rx.
	RoleHost Role = iota
	// RoleDevice reads DEVICE/rx and writes DEVICE/tx.
	RoleDevice
)

// DefaultBacklog is the number of undelivered chunks kept by a Stream.
const DefaultBacklog = 64

var errStreamClosed = errors.New("stream closed")

// Publisher publishes a payload to a topic.
type Publisher interface {
	Pub(topic string, payload []byte) error
}

// Stream tunnels a byte stream over a pair of MQTT topics.
//
// Each Write is published as a single message. Messages received on the
// subscribed topic are concatenated in order and returned by Read. Message
// boundaries are not preserved.
type Stream struct {
	SubTopic string
	PubTopic string

	pub     Publisher
	sub     *Subscription
	chunkCh chan []byte
	chunk   []byte

	readLock  sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// TopicsFor returns the topics subscribed and published by role for device.
func TopicsFor(device string, role Role) (sub, pub string) {
	rx, tx := device+"/rx", device+"/tx"
	if role == RoleDevice {
		return rx, tx
	}
	return tx, rx
}

// NewStream creates a Stream on q for the device and starts receiving.
func NewStream(q *Queue, device string, role Role) *Stream {
	s := newStream(q, device, role)
	s.sub = q.Sub(s.SubTopic, s.handleMsg)
	return s
}

func newStream(pub Publisher, device string, role Role) *Stream {
	s := &Stream{
		pub:     pub,
		chunkCh: make(chan []byte, DefaultBacklog),
		closed:  make(chan struct{}),
	}
	s.SubTopic, s.PubTopic = TopicsFor(device, role)
	return s
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	s.readLock.Lock()
	defer s.readLock.Unlock()
	for len(s.chunk) == 0 {
		select {
		case chunk := <-s.chunkCh:
			s.chunk = chunk
		case <-s.closed:
			return 0, io.EOF
		}
	}
	n := copy(p, s.chunk)
	s.chunk = s.chunk[n:]
	return n, nil
}

// Write implements io.Writer.
func (s *Stream) Write(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, errStreamClosed
	default:
	}
	if err := s.pub.Pub(s.PubTopic, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close implements io.Closer. The underlying Queue is not closed.
func (s *Stream) Close() (err error) {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.sub != nil {
			err = s.sub.Close()
		}
	})
	return
}

func (s *Stream) handleMsg(_ string, payload []byte) {
	if len(payload) == 0 {
		return
	}
	chunk := append([]byte(nil), payload...)
	select {
	case s.chunkCh <- chunk:
	case <-s.closed:
	default:
		glog.Warningf("MQTT stream %q backlog full, %d bytes dropped", s.SubTopic, len(chunk))
	}
}
