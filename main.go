/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/testbed"
)

func main() {
	configPath := flag.String("config", "lumen.toml", "path of the engine configuration")
	headless := flag.Bool("headless", false, "render without a window or GPU")
	frames := flag.Uint64("frames", 0, "stop after this many frames")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		core.LogFatal("failed to load configuration: %s", err)
	}
	if *headless {
		cfg.Renderer.Backend = "headless"
	}
	if *frames > 0 {
		cfg.Renderer.MaxFrames = *frames
	}

	tb := testbed.NewTestGame()

	e, err := engine.New(tb.Game, cfg)
	if err != nil {
		core.LogFatal("failed to create the engine: %s", err)
	}

	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		core.LogFatal("failed to initialize the engine: %s", err)
	}

	// capture sigterm and other system calls to stop the frame loop
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	runErr := e.Run(ctx)
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogError("engine stopped: %s", runErr)
		os.Exit(1)
	}
}
