// Package link provides the framing layer of the serial RPC stack.
package link

// The link layer is communicated over a peer-to-peer byte stream (e.g. UART)
// and focuses on recovering from line noise without any retransmission.
//
// Every payload is wrapped into a self-delimiting frame:
//
//	offset  size  field
//	0       1     start marker (0xFA)
//	1       2     payload length, little-endian
//	3       1     header CRC-8 over bytes [0..3)
//	4       1     data-start marker (0xFB)
//	5       len   payload
//	5+len   1     full CRC-8 over bytes [0..5+len)
//	6+len   1     stop marker (0xFE)
//
// A malformed frame is never reported. The receiver abandons the candidate
// and hunts for the next start marker, so corruption only shows up as latency
// and in Stats.
