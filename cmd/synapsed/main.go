// Command synapsed runs the session control core daemon: it wires the
// default CIO aggregator and its four subsystem adapters (tracker, disk,
// listener, RPC), loads Config, and runs the control loop until SIGINT or
// SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	synapse "github.com/aereaux/synapse"
	"github.com/aereaux/synapse/internal/cio"
	"github.com/aereaux/synapse/internal/disk"
	"github.com/aereaux/synapse/internal/listener"
	"github.com/aereaux/synapse/internal/logger"
	"github.com/aereaux/synapse/internal/rpc"
	"github.com/aereaux/synapse/internal/throttle"
	"github.com/aereaux/synapse/internal/tracker"
	"github.com/aereaux/synapse/session"
	"github.com/alecthomas/kingpin"
	"github.com/uber-go/tally"
)

var (
	app        = kingpin.New("synapsed", "Session control core daemon")
	configPath = app.Flag("config", "Path to YAML config file").Short('c').Default("synapse.yaml").String()
	logLevel   = app.Flag("log-level", "Override the configured log level").String()
)

var log = logger.New("main")

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := synapse.LoadConfig(*configPath)
	if err != nil {
		fatal("load config", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trackerRequests := make(chan tracker.Request, 64)
	trackerResults := make(chan tracker.Result, 64)
	diskRequests := make(chan disk.Request, 64)
	diskResults := make(chan disk.Response, 64)
	listenerRequests := make(chan listener.Request, 1)
	listenerResults := make(chan listener.Result, 64)
	rpcCommands := make(chan rpc.Message, 64)

	trackerClient := tracker.NewClient(time.Duration(cfg.TrackerTimeoutSeconds) * time.Second)
	go trackerClient.Run(ctx, trackerRequests, trackerResults)

	diskWorker := disk.NewWorker(cfg.SessionDir, cfg.DiskWorkers)
	go diskWorker.Run(ctx, diskRequests, diskResults)

	acceptor, err := listener.Listen(cfg.ListenAddr)
	if err != nil {
		fatal("start listener", err)
	}
	go acceptor.Run(ctx, listenerRequests, listenerResults)

	rpcServer := rpc.NewServer(cfg.RPCAddr, rpcCommands)
	go func() {
		if err := rpcServer.Run(ctx); err != nil {
			log.Errorf("main: rpc server stopped: %s", err)
		}
	}()

	agg := cio.NewAggregator(
		trackerRequests, trackerResults,
		diskRequests, diskResults,
		listenerRequests, listenerResults,
		rpcCommands,
		rpcServer,
	)
	defer agg.Close()

	stats := newStatsScope()
	thr := throttle.New(agg, cfg.ThrottleUpBps, cfg.ThrottleDownBps)

	sess, err := session.New(*cfg, agg, thr, stats)
	if err != nil {
		fatal("construct session", err)
	}

	installSignalHandler(cancel)

	if err := sess.Run(ctx); err != nil {
		log.Errorf("main: session run failed: %s", err)
		os.Exit(1)
	}
}

func installSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Notice(fmt.Sprintf("main: received signal %s, shutting down", sig))
		cancel()
	}()
}

func newStatsScope() tally.Scope {
	scope, _ := tally.NewRootScope(tally.ScopeOptions{Prefix: "synapsed"}, 0)
	return scope
}

func fatal(action string, err error) {
	log.Errorf("main: %s: %s", action, err)
	os.Exit(1)
}
