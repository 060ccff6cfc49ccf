// iokerneld is the iokernel dataplane daemon.
//
// It polls a network port on a dedicated goroutine, classifies received
// frames by destination MAC, and forwards zero-copy buffer references into
// registered client processes over shared memory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/vmsearch/shenango/pkg/config"
	"github.com/vmsearch/shenango/pkg/daemon"
	"github.com/vmsearch/shenango/pkg/shm"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "cleanup" {
		cfg, err := config.Load("/etc/iokerneld/config.toml")
		if err != nil {
			fmt.Fprintf(os.Stderr, "cleanup: %v\n", err)
			os.Exit(1)
		}
		if err := shm.Unlink(cfg.Pool.Name); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("stale shared memory segments removed")
		return
	}

	configFile := flag.String("config", "/etc/iokerneld/config.toml", "configuration file path")
	metricsAddr := flag.String("metrics-addr", "", "metrics listen address (overrides config)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	d := daemon.New(daemon.Options{
		ConfigFile:  *configFile,
		MetricsAddr: *metricsAddr,
	})

	if err := d.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "iokerneld: %v\n", err)
		os.Exit(1)
	}
}
