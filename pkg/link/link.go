package link

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
)

// Link sends and receives frames over a byte stream.
//
// Send is safe for concurrent use; concurrent callers are serialized so
// frames never interleave on the sink. Receive must be called from a single
// goroutine at a time.
type Link struct {
	rw io.ReadWriter

	sendLock sync.Mutex
	sendBuf  []byte

	recvLock sync.Mutex
	readBuf  [1]byte
	parser   Parser

	counters counters
}

// Stats is a snapshot of link counters.
type Stats struct {
	FramesSent      uint64
	FramesReceived  uint64
	BytesSkipped    uint64
	HeaderCRCErrors uint64
	MarkerErrors    uint64
	FrameCRCErrors  uint64
	OversizeFrames  uint64
}

type counters struct {
	framesSent      atomic.Uint64
	framesReceived  atomic.Uint64
	bytesSkipped    atomic.Uint64
	headerCRCErrors atomic.Uint64
	markerErrors    atomic.Uint64
	frameCRCErrors  atomic.Uint64
	oversizeFrames  atomic.Uint64
}

// New creates a Link over rw.
func New(rw io.ReadWriter) *Link {
	return &Link{rw: rw}
}

// ReadWriter returns the underlying byte stream.
func (l *Link) ReadWriter() io.ReadWriter {
	return l.rw
}

// Send frames payload and writes the frame with a single Write.
// A short write is reported as io.ErrShortWrite; nothing is retried.
func (l *Link) Send(payload []byte) error {
	l.sendLock.Lock()
	defer l.sendLock.Unlock()
	frame, err := AppendFrame(l.sendBuf[:0], payload)
	if err != nil {
		return err
	}
	l.sendBuf = frame
	n, err := l.rw.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return io.ErrShortWrite
	}
	l.counters.framesSent.Add(1)
	return nil
}

// Receive blocks until a valid frame arrives and copies its payload into buf.
// Malformed frames, including frames whose payload exceeds len(buf), are
// dropped silently. Only an error from the byte stream ends the search.
func (l *Link) Receive(buf []byte) (int, error) {
	l.recvLock.Lock()
	defer l.recvLock.Unlock()
	l.parser.Reset(buf)
	for {
		b, err := l.readByte()
		if err != nil {
			return 0, err
		}
		pr := l.parser.Parse(b)
		if pr.Complete {
			l.counters.framesReceived.Add(1)
			return len(pr.Payload), nil
		}
		l.account(pr)
	}
}

// Stats returns a snapshot of the counters.
func (l *Link) Stats() Stats {
	c := &l.counters
	return Stats{
		FramesSent:      c.framesSent.Load(),
		FramesReceived:  c.framesReceived.Load(),
		BytesSkipped:    c.bytesSkipped.Load(),
		HeaderCRCErrors: c.headerCRCErrors.Load(),
		MarkerErrors:    c.markerErrors.Load(),
		FrameCRCErrors:  c.frameCRCErrors.Load(),
		OversizeFrames:  c.oversizeFrames.Load(),
	}
}

// Close closes the byte stream if it supports io.Closer.
func (l *Link) Close() error {
	if closer, ok := l.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (l *Link) readByte() (byte, error) {
	for {
		n, err := l.rw.Read(l.readBuf[:])
		if n == 1 {
			return l.readBuf[0], nil
		}
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			return 0, err
		}
	}
}

func (l *Link) account(pr ParseResult) {
	if pr.Skipped {
		l.counters.bytesSkipped.Add(1)
		return
	}
	switch pr.Reject {
	case RejectNone:
		return
	case RejectHeaderCRC:
		l.counters.headerCRCErrors.Add(1)
	case RejectFrameCRC:
		l.counters.frameCRCErrors.Add(1)
	case RejectOversize:
		l.counters.oversizeFrames.Add(1)
	default:
		l.counters.markerErrors.Add(1)
	}
	if glog.V(2) {
		glog.Infof("frame dropped: %s (len=%d)", pr.Reject, pr.Length)
	}
}
