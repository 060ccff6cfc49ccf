// Package daemon implements the iokernel daemon lifecycle: it builds the
// packet pool, the port, the control channels, and the dispatch engine,
// runs the polling loop on a dedicated goroutine, and serves metrics until
// a shutdown signal arrives.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vmsearch/shenango/pkg/config"
	"github.com/vmsearch/shenango/pkg/dataplane"
	"github.com/vmsearch/shenango/pkg/ethdev"
	"github.com/vmsearch/shenango/pkg/lrpc"
	"github.com/vmsearch/shenango/pkg/mempool"
	"github.com/vmsearch/shenango/pkg/proc"
)

// Options configures the daemon.
type Options struct {
	ConfigFile  string
	MetricsAddr string // overrides the config file when non-empty
}

// Daemon wires the dataplane together and owns its lifecycle.
type Daemon struct {
	opts  Options
	cfg   config.Config
	pool  *mempool.Pool
	port  ethdev.Port
	dp    *dataplane.Dataplane
	procs *proc.Table

	// Control-plane-side channel endpoints, for the embedding control
	// plane to drive registration.
	cmdOut *lrpc.ChanOut
	noteIn *lrpc.ChanIn
}

// New creates a daemon.
func New(opts Options) *Daemon {
	if opts.ConfigFile == "" {
		opts.ConfigFile = "/etc/iokerneld/config.toml"
	}
	return &Daemon{opts: opts}
}

// ProcTable returns the process handle table the control plane registers
// descriptors in before issuing commands.
func (d *Daemon) ProcTable() *proc.Table { return d.procs }

// ControlChannels returns the control-plane-side endpoints: the command
// sender and the notification receiver.
func (d *Daemon) ControlChannels() (*lrpc.ChanOut, *lrpc.ChanIn) {
	return d.cmdOut, d.noteIn
}

// Run starts the daemon and blocks until shutdown. Initialization failures
// are fatal; once the polling loop is running, per-packet and per-command
// errors only ever surface as log lines.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("starting iokernel daemon",
		"config", d.opts.ConfigFile,
		"pid", os.Getpid())

	cfg, err := config.Load(d.opts.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if d.opts.MetricsAddr != "" {
		cfg.MetricsAddr = d.opts.MetricsAddr
	}
	d.cfg = cfg

	pool, err := mempool.Create(cfg.Pool.Name, cfg.Pool.Count, cfg.Pool.CacheSize,
		cfg.Pool.PrivSize, cfg.Pool.DataRoom, cfg.Pool.Node)
	if err != nil {
		return fmt.Errorf("create packet pool: %w", err)
	}
	d.pool = pool
	defer pool.Destroy()

	port, err := ethdev.OpenAFPacket(cfg.Interface, pool)
	if err != nil {
		return fmt.Errorf("open port: %w", err)
	}
	d.port = port
	defer port.Close()

	if err := port.Configure(ethdev.DefaultConfig()); err != nil {
		return fmt.Errorf("configure port: %w", err)
	}
	if err := port.EnablePromiscuous(); err != nil {
		return fmt.Errorf("enable promiscuous mode: %w", err)
	}

	cmdIn, cmdOut, err := lrpc.NewPair(cfg.Control.QueueSize)
	if err != nil {
		return fmt.Errorf("init control channel: %w", err)
	}
	noteIn, noteOut, err := lrpc.NewPair(cfg.Control.QueueSize)
	if err != nil {
		return fmt.Errorf("init notification channel: %w", err)
	}
	d.cmdOut = cmdOut
	d.noteIn = noteIn
	d.procs = proc.NewTable()

	dp, err := dataplane.New(dataplane.Options{
		Pool:       pool,
		Port:       port,
		Procs:      d.procs,
		ControlIn:  cmdIn,
		ControlOut: noteOut,
	})
	if err != nil {
		return fmt.Errorf("build dataplane: %w", err)
	}
	d.dp = dp

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var wg sync.WaitGroup

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(dataplane.NewCollector(dp))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("metrics listener started", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("metrics listener failed", "err", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		dp.Run(ctx)
	}()

	<-ctx.Done()
	slog.Info("signal received, shutting down")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	wg.Wait()
	return nil
}
