package transport

import (
	"context"
	"time"

	"github.com/golang/glog"
	"golang.org/x/time/rate"
)

// Handler serves a registered function.
//
// args aliases the receive buffer and is only valid until ServeRPC returns.
// The returned result is owned by the dispatch loop. Returning a RemoteError
// selects the error code replied to the caller; any other error is replied as
// CodeInternal.
type Handler interface {
	ServeRPC(ctx context.Context, args []byte) ([]byte, error)
}

// HandlerFunc is func type of Handler.
type HandlerFunc func(ctx context.Context, args []byte) ([]byte, error)

// ServeRPC implements Handler.
func (f HandlerFunc) ServeRPC(ctx context.Context, args []byte) ([]byte, error) {
	return f(ctx, args)
}

// Middleware decorates the handler registered under name.
type Middleware func(name string, next Handler) Handler

// Chain composes middlewares, the first one being the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(name string, next Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](name, next)
		}
		return next
	}
}

// Logging logs every served request at verbosity 1 and failures as warnings.
func Logging() Middleware {
	return func(name string, next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, args []byte) ([]byte, error) {
			start := time.Now()
			result, err := next.ServeRPC(ctx, args)
			if err != nil {
				glog.Warningf("rpc %q failed after %s: %v", name, time.Since(start), err)
			} else if glog.V(1) {
				glog.Infof("rpc %q served in %s (%d bytes in, %d bytes out)", name, time.Since(start), len(args), len(result))
			}
			return result, err
		})
	}
}

// RateLimit rejects requests exceeding r per second with bursts of burst.
// All handlers decorated by the returned Middleware share one token bucket.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(name string, next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, args []byte) ([]byte, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next.ServeRPC(ctx, args)
		})
	}
}
