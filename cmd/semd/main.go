package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gvsall/libpthread"
)

func main() {

	var (
		configFile = flag.String("config", "", "YAML config file")
		socket     = flag.String("socket", "", "unix socket to serve on (overrides the config file)")
		debug      = flag.Bool("debug", false, "log every operation")
	)

	flag.Parse()

	var cfg = libpthread.DefaultConfig()

	if *configFile != "" {
		var err error
		if cfg, err = libpthread.LoadConfig(*configFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	if *socket != "" {
		cfg.Socket = *socket
	}

	if *debug {
		cfg.Debug = true
	}

	var log = getOutput(cfg.Debug)

	defer func() {
		if r := recover(); r != nil {
			log.Error(r)
			os.Exit(1)
		}
	}()

	var ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer stop()

	var srv = libpthread.NewServer(cfg, log)

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(srv.ListenAndServe)

	eg.Go(func() error {
		<-ctx.Done()
		var sctx, cancel = context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := eg.Wait(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
