/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima2d/engine"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/testbed"
)

func main() {
	cfgPath := flag.String("config", "config.toml", "path to the TOML configuration")
	assetsDir := flag.String("assets", "assets", "directory of images uploaded by the testbed")
	flag.Parse()

	if err := run(*cfgPath, *assetsDir); err != nil {
		core.LogFatal("%s", err)
	}
}

func run(cfgPath, assetsDir string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	e, err := engine.New(cfgPath, testbed.NewTestGame(assetsDir))
	if err != nil {
		return err
	}
	if err := e.Initialize(); err != nil {
		return err
	}
	runErr := e.Run(ctx)
	if err := e.Shutdown(); err != nil && runErr == nil {
		return err
	}
	return runErr
}
