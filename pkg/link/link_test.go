package link

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type shortWriter struct {
	bytes.Buffer
}

func (w *shortWriter) Write(p []byte) (int, error) {
	w.Buffer.Write(p[:len(p)-1])
	return len(p) - 1, nil
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func (r *failingReader) Write(p []byte) (int, error) {
	return len(p), nil
}

func TestLinkSendReceive(t *testing.T) {
	var stream bytes.Buffer
	l := New(&stream)
	require.NoError(t, l.Send([]byte("hello")))
	require.NoError(t, l.Send(nil))
	require.NoError(t, l.Send([]byte{0x0B, 0x01, 'x', 0x00}))

	buf := make([]byte, 32)
	n, err := l.Receive(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
	n, err = l.Receive(buf)
	require.NoError(t, err)
	require.Zero(t, n)
	n, err = l.Receive(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0x0B, 0x01, 'x', 0x00}, buf[:n])

	_, err = l.Receive(buf)
	require.Equal(t, io.EOF, err)

	stats := l.Stats()
	require.Equal(t, uint64(3), stats.FramesSent)
	require.Equal(t, uint64(3), stats.FramesReceived)
}

func TestLinkSendShortWrite(t *testing.T) {
	l := New(&shortWriter{})
	require.Equal(t, io.ErrShortWrite, l.Send([]byte{1, 2, 3}))
	require.Zero(t, l.Stats().FramesSent)
}

func TestLinkSendTooLarge(t *testing.T) {
	var stream bytes.Buffer
	l := New(&stream)
	err := l.Send(make([]byte, MaxPayloadLen+1))
	require.IsType(t, &PayloadTooLargeError{}, err)
	require.Zero(t, stream.Len())
}

func TestLinkReceiveSkipsGarbage(t *testing.T) {
	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x01, StopByte})
	bad := mustFrame([]byte{1, 2, 3})
	bad[3] ^= 0x80
	stream.Write(bad)
	stream.Write(mustFrame(make([]byte, 20)))
	stream.Write(mustFrame([]byte("ok")))

	l := New(&stream)
	buf := make([]byte, 8)
	n, err := l.Receive(buf)
	require.NoError(t, err)
	require.Equal(t, "ok", string(buf[:n]))

	stats := l.Stats()
	require.Equal(t, uint64(1), stats.HeaderCRCErrors)
	require.Equal(t, uint64(1), stats.OversizeFrames)
	require.NotZero(t, stats.BytesSkipped)
}

func TestLinkReceiveReadError(t *testing.T) {
	errBroken := errors.New("broken")
	frame := mustFrame([]byte("abc"))
	l := New(&failingReader{data: frame[:6], err: errBroken})
	_, err := l.Receive(make([]byte, 8))
	require.Equal(t, errBroken, err)
}

func TestLinkReceiveRestartsAfterError(t *testing.T) {
	r := &failingReader{data: mustFrame([]byte("abc"))[:6], err: io.ErrUnexpectedEOF}
	l := New(r)
	_, err := l.Receive(make([]byte, 8))
	require.Error(t, err)

	r.data = mustFrame([]byte("xyz"))
	buf := make([]byte, 8)
	n, err := l.Receive(buf)
	require.NoError(t, err)
	require.Equal(t, "xyz", string(buf[:n]))
}

func TestLinkConcurrentSends(t *testing.T) {
	var stream bytes.Buffer
	l := New(&stream)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				require.NoError(t, l.Send(bytes.Repeat([]byte{byte(i)}, 10+i)))
			}
		}(i)
	}
	wg.Wait()

	buf := make([]byte, 64)
	for count := 0; count < 8*20; count++ {
		n, err := l.Receive(buf)
		require.NoError(t, err)
		require.Equal(t, bytes.Repeat(buf[:1], n), buf[:n])
		require.Equal(t, 10+int(buf[0]), n)
	}
	require.Zero(t, l.Stats().BytesSkipped)
}
