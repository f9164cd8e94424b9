package link

import "fmt"

// PayloadTooLargeError is returned when a payload can't be described by the
// 16-bit length field.
type PayloadTooLargeError struct {
	Length int
}

// Error implements error.
func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("payload too large: %d bytes (max %d)", e.Length, MaxPayloadLen)
}
