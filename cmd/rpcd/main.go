package main

import (
	"flag"

	"github.com/golang/glog"

	"github.com/robotalks/uartrpc/pkg/env"
	fx "github.com/robotalks/uartrpc/pkg/framework"
)

//go-build: CGO_ENABLED=0

var wsListen string

func init() {
	env.SetupFlags()
	flag.StringVar(&wsListen, "ws", "", "Also accept websocket peers on this address.")
}

func main() {
	flag.Parse()

	conf, err := env.NewConfig()
	if err != nil {
		glog.Exit(err)
	}
	if wsListen != "" {
		conf.WSListen = wsListen
	}
	d, err := NewDaemon(conf)
	if err != nil {
		glog.Exit(err)
	}
	if err := fx.NewRunner().HandleSignals().Go(d.Runners()...).Wait(); err != nil {
		glog.Exit(err)
	}
}
