package main

import (
	"github.com/robotalks/uartrpc/pkg/cli/sh"
	"github.com/robotalks/uartrpc/pkg/env"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
