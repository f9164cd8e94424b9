package link

// Parser parses bytes received into frames.
//
// Payload bytes are copied into the buffer given to Reset. Bytes beyond the
// buffer capacity are still consumed and folded into the CRC, but the frame
// is rejected once its full CRC arrives.
type Parser struct {
	buf     []byte
	state   parseState
	length  int
	recvLen int
	hdr     [3]byte
	crc     byte
}

// RejectReason tells why a candidate frame was abandoned.
type RejectReason int

const (
	// RejectNone means nothing was rejected by the step.
	RejectNone RejectReason = iota
	// RejectHeaderCRC means the header CRC mismatched.
	RejectHeaderCRC
	// RejectDataStart means the data-start marker was missing.
	RejectDataStart
	// RejectFrameCRC means the full CRC mismatched.
	RejectFrameCRC
	// RejectOversize means the payload doesn't fit the receive buffer.
	RejectOversize
	// RejectStop means the stop marker was missing.
	RejectStop
)

var rejectNames = [...]string{
	RejectNone:      "none",
	RejectHeaderCRC: "header crc",
	RejectDataStart: "data start",
	RejectFrameCRC:  "frame crc",
	RejectOversize:  "oversize",
	RejectStop:      "stop",
}

// String implements fmt.Stringer.
func (r RejectReason) String() string {
	if r >= 0 && int(r) < len(rejectNames) {
		return rejectNames[r]
	}
	return "unknown"
}

// ParseResult indicates the result after one parsing step.
type ParseResult struct {
	// Payload is set (possibly empty) when a frame completed.
	Payload []byte
	// Complete indicates a valid frame has been received.
	Complete bool
	// Skipped indicates the byte was discarded while hunting for a start marker.
	Skipped bool
	// Reject is set when the current candidate frame was abandoned.
	Reject RejectReason
	// Length is the declared payload length of the rejected frame.
	Length int
}

type parseState int

const (
	stateWaitStart parseState = iota // hunting for StartByte
	stateLenLow                      // waiting for length low byte
	stateLenHigh                     // waiting for length high byte
	stateHdrCRC                      // waiting for header CRC
	stateDataStart                   // waiting for DataStartByte
	statePayload                     // receiving payload
	stateFullCRC                     // waiting for full CRC
	stateStop                        // waiting for StopByte
)

// NewParser creates a Parser writing payloads into buf.
func NewParser(buf []byte) *Parser {
	p := &Parser{}
	p.Reset(buf)
	return p
}

// Reset discards any partial frame and switches to buffer buf.
func (p *Parser) Reset(buf []byte) {
	p.buf = buf
	p.state = stateWaitStart
	p.length, p.recvLen, p.crc = 0, 0, 0
}

// Capacity returns the size of the receive buffer.
func (p *Parser) Capacity() int {
	return len(p.buf)
}

// Hunting indicates the parser is searching for a start marker.
func (p *Parser) Hunting() bool {
	return p.state == stateWaitStart
}

// Parse consumes one byte.
func (p *Parser) Parse(b byte) (pr ParseResult) {
	switch p.state {
	case stateWaitStart:
		if b != StartByte {
			pr.Skipped = true
			return
		}
		p.hdr[0] = b
		p.crc = CRC8Update(0, b)
		p.state = stateLenLow
	case stateLenLow:
		p.hdr[1] = b
		p.crc = CRC8Update(p.crc, b)
		p.length = int(b)
		p.state = stateLenHigh
	case stateLenHigh:
		p.hdr[2] = b
		p.crc = CRC8Update(p.crc, b)
		p.length |= int(b) << 8
		p.state = stateHdrCRC
	case stateHdrCRC:
		if CRC8(p.hdr[:]) != b {
			return p.reject(RejectHeaderCRC)
		}
		p.crc = CRC8Update(p.crc, b)
		p.state = stateDataStart
	case stateDataStart:
		if b != DataStartByte {
			return p.reject(RejectDataStart)
		}
		p.crc = CRC8Update(p.crc, b)
		p.recvLen = 0
		if p.length == 0 {
			p.state = stateFullCRC
		} else {
			p.state = statePayload
		}
	case statePayload:
		if p.recvLen < len(p.buf) {
			p.buf[p.recvLen] = b
		}
		p.crc = CRC8Update(p.crc, b)
		p.recvLen++
		if p.recvLen >= p.length {
			p.state = stateFullCRC
		}
	case stateFullCRC:
		if p.length > len(p.buf) {
			return p.reject(RejectOversize)
		}
		if p.crc != b {
			return p.reject(RejectFrameCRC)
		}
		p.state = stateStop
	case stateStop:
		if b != StopByte {
			return p.reject(RejectStop)
		}
		p.state = stateWaitStart
		pr.Complete = true
		pr.Payload = p.buf[:p.length]
	}
	return
}

func (p *Parser) reject(reason RejectReason) ParseResult {
	pr := ParseResult{Reject: reason, Length: p.length}
	p.state = stateWaitStart
	return pr
}
