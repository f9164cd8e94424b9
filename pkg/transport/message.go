package transport

import "bytes"

// MessageType is the type tag leading every message.
type MessageType byte

// Message types.
const (
	TypeRequest  MessageType = 0x0B
	TypeResponse MessageType = 0x16
	TypeError    MessageType = 0x21
)

// Message is a decoded transport message.
//
// Slices produced by DecodeMessage alias the decoded payload.
type Message struct {
	Type    MessageType
	Counter byte
	// Name is the function name of a Request.
	Name []byte
	// Data holds the arguments of a Request or the result of a Response.
	Data []byte
	// Code is the error code of an Error.
	Code ErrorCode
}

// NewRequest creates a Request message.
func NewRequest(counter byte, name string, args []byte) *Message {
	return &Message{Type: TypeRequest, Counter: counter, Name: []byte(name), Data: args}
}

// NewResponse creates a Response message.
func NewResponse(counter byte, result []byte) *Message {
	return &Message{Type: TypeResponse, Counter: counter, Data: result}
}

// NewError creates an Error message.
func NewError(counter byte, code ErrorCode) *Message {
	return &Message{Type: TypeError, Counter: counter, Code: code}
}

// Len returns the encoded size.
func (m *Message) Len() int {
	switch m.Type {
	case TypeRequest:
		return 2 + len(m.Name) + 1 + len(m.Data)
	case TypeError:
		return 3
	default:
		return 2 + len(m.Data)
	}
}

// AppendTo appends the encoded message to dst.
func (m *Message) AppendTo(dst []byte) []byte {
	dst = append(dst, byte(m.Type), m.Counter)
	switch m.Type {
	case TypeRequest:
		dst = append(dst, m.Name...)
		dst = append(dst, 0)
		dst = append(dst, m.Data...)
	case TypeError:
		dst = append(dst, byte(m.Code))
	default:
		dst = append(dst, m.Data...)
	}
	return dst
}

// Bytes returns encoded bytes for sending.
func (m *Message) Bytes() []byte {
	return m.AppendTo(make([]byte, 0, m.Len()))
}

// DecodeMessage decodes a link payload.
//
// Once the type tag and counter are known they are kept in the returned
// Message even when err is not nil, so a malformed request can still be
// answered.
func DecodeMessage(payload []byte) (*Message, error) {
	if len(payload) < 2 {
		return nil, ErrShortMessage
	}
	m := &Message{Type: MessageType(payload[0]), Counter: payload[1]}
	switch m.Type {
	case TypeRequest:
		end := bytes.IndexByte(payload[2:], 0)
		if end < 0 {
			return m, ErrMissingTerminator
		}
		m.Name = payload[2 : 2+end]
		m.Data = payload[2+end+1:]
	case TypeResponse:
		m.Data = payload[2:]
	case TypeError:
		if len(payload) < 3 {
			m.Code = CodeInternal
		} else {
			m.Code = ErrorCode(payload[2])
		}
	default:
		return m, ErrUnknownType
	}
	return m, nil
}
