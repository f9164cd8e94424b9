// Package transport provides RPC semantics on top of the link layer.
package transport

// Each link payload carries one message:
//
//	Request : [0x0B][counter][name bytes][0x00][arg bytes]
//	Response: [0x16][counter][result bytes]
//	Error   : [0x21][counter][error code]
//
// A Transport owns a Registry of named handlers, a dispatch loop (Run) that
// serves inbound requests and routes replies, and a synchronous Call API.
// At most one call is outstanding per Transport; the 8-bit counter of the
// pending call is the only thing correlating a reply with its request, and
// replies carrying any other counter are dropped.
