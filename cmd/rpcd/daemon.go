package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/golang/glog"

	"github.com/robotalks/uartrpc/pkg/env"
	fx "github.com/robotalks/uartrpc/pkg/framework"
	"github.com/robotalks/uartrpc/pkg/handlers"
	"github.com/robotalks/uartrpc/pkg/link"
	"github.com/robotalks/uartrpc/pkg/phys"
	"github.com/robotalks/uartrpc/pkg/transport"
)

// Daemon serves the registered functions on the configured endpoint and
// on websocket peers. All links share one registry.
type Daemon struct {
	Config   *env.Config
	Registry *transport.Registry
}

// NewDaemon creates a Daemon with the demo handlers registered.
func NewDaemon(conf *env.Config) (*Daemon, error) {
	registry := transport.NewRegistry(conf.RegistryCapacity).Use(conf.Middlewares()...)
	if err := handlers.RegisterAll(registry, conf.DeviceID); err != nil {
		return nil, fmt.Errorf("register handlers: %w", err)
	}
	return &Daemon{Config: conf, Registry: registry}, nil
}

// NewTransport creates a Transport over stream.
func (d *Daemon) NewTransport(stream io.ReadWriter) *transport.Transport {
	return transport.New(link.New(stream), d.Registry).
		WithBufferSize(d.Config.BufferSize).
		WithTimeout(d.Config.CallTimeout.Duration)
}

// Runners returns the runners to start.
func (d *Daemon) Runners() []fx.Runnable {
	runners := []fx.Runnable{fx.NamedRun("link", fx.RunFunc(d.RunLink))}
	if d.Config.WSListen != "" {
		runners = append(runners, fx.NamedRun("websocket", fx.RunFunc(d.RunWebsocket)))
	}
	return runners
}

// RunLink opens the endpoint and runs the dispatch loop on it.
func (d *Daemon) RunLink(ctx context.Context) error {
	stream, err := phys.Open(d.Config.Endpoint, d.Config.PhysOptions(true))
	if err != nil {
		return err
	}
	glog.Infof("serving %v on %s", d.Registry.Names(), d.Config.Endpoint)
	return d.NewTransport(stream).Run(ctx)
}

// RunWebsocket accepts websocket peers until ctx is done.
func (d *Daemon) RunWebsocket(ctx context.Context) error {
	srv := &http.Server{Addr: d.Config.WSListen, Handler: d.WebsocketHandler()}
	glog.Infof("websocket listening on %s", d.Config.WSListen)
	return fx.RunWithContextCancel(ctx, func() { srv.Close() }, srv.ListenAndServe)
}

// WebsocketHandler runs a Transport for each websocket peer.
func (d *Daemon) WebsocketHandler() http.Handler {
	return phys.WebsocketHandler(func(stream io.ReadWriteCloser) {
		if err := d.NewTransport(stream).Serve(context.Background()); err != nil && err != io.EOF {
			glog.V(1).Infof("websocket peer stopped: %v", err)
		}
	})
}
