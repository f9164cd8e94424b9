// Package handlers provides the functions served by rpcd.
package handlers

import (
	"context"
	"encoding/binary"
	"strconv"

	"github.com/robotalks/uartrpc/pkg/transport"
)

// Sum adds two little-endian uint32 values and returns the decimal ASCII
// result. The addition wraps at 32 bits.
func Sum(_ context.Context, args []byte) ([]byte, error) {
	if len(args) != 8 {
		return nil, &transport.RemoteError{Code: transport.CodeInternal}
	}
	a := binary.LittleEndian.Uint32(args[0:4])
	b := binary.LittleEndian.Uint32(args[4:8])
	return strconv.AppendUint(nil, uint64(a+b), 10), nil
}

// SumArgs encodes the arguments of Sum.
func SumArgs(a, b uint32) []byte {
	args := make([]byte, 8)
	binary.LittleEndian.PutUint32(args[0:4], a)
	binary.LittleEndian.PutUint32(args[4:8], b)
	return args
}

// Echo returns a copy of args.
func Echo(_ context.Context, args []byte) ([]byte, error) {
	return append([]byte(nil), args...), nil
}

// ID returns a handler replying with id.
func ID(id string) transport.HandlerFunc {
	return func(context.Context, []byte) ([]byte, error) {
		return []byte(id), nil
	}
}

// RegisterAll registers sum, echo and id.
func RegisterAll(r *transport.Registry, deviceID string) error {
	if err := r.RegisterFunc("sum", Sum); err != nil {
		return err
	}
	if err := r.RegisterFunc("echo", Echo); err != nil {
		return err
	}
	return r.Register("id", ID(deviceID))
}
