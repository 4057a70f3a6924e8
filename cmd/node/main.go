// Command chordnode runs one peer of the ring: it loads its configuration,
// binds its listening endpoint, joins (or starts) the ring and serves
// PUT/GET/DELETE and membership RPCs until it departs or is interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chordring/internal/bootstrap"
	"chordring/internal/config"
	"chordring/internal/logger"
	zapfactory "chordring/internal/logger/zap"
	"chordring/internal/node"
	"chordring/internal/ringid"
	"chordring/internal/rpcclient"
	"chordring/internal/server"
	"chordring/internal/telemetry"
)

var defaultConfigPath = "config/node/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %q: %v", *configPath, err)
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.ValidateConfig(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	var lgr logger.Logger
	if cfg.Logger.Active {
		zapLog, err := zapfactory.New(cfg.Logger)
		if err != nil {
			log.Fatalf("failed to initialize logger: %v", err)
		}
		defer func() { _ = zapLog.Sync() }()
		lgr = zapfactory.NewZapAdapter(zapLog)
	} else {
		lgr = &logger.NopLogger{}
	}
	cfg.LogConfig(lgr)

	lis, advertised, err := server.Listen(cfg.DHT.Mode, cfg.Node.Bind, cfg.Node.Host, cfg.Node.Port)
	if err != nil {
		lgr.Error("failed to initialize listener", logger.F("err", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = lis.Close() }()
	lgr.Debug("created listener", logger.F("addr", advertised))

	space, err := ringid.NewSpace(cfg.DHT.IDBits)
	if err != nil {
		lgr.Error("failed to initialize identifier space", logger.F("err", err.Error()))
		os.Exit(1)
	}

	var id ringid.ID
	if cfg.Node.Id == "" {
		id = space.Hash(advertised)
	} else {
		id, err = space.FromHexString(cfg.Node.Id)
		if err != nil {
			lgr.Error("invalid node id in configuration", logger.F("err", err.Error()))
			os.Exit(1)
		}
	}
	self := ringid.Node{ID: id, Addr: advertised}
	lgr = lgr.Named("node").With(logger.FNode("self", self))
	lgr.Info("node initializing")

	shutdownTracer := telemetry.InitTracer(cfg.Telemetry, "chordring-node", id)
	defer func() { _ = shutdownTracer(context.Background()) }()

	client := rpcclient.New(
		rpcclient.WithLogger(lgr.Named("rpcclient")),
		rpcclient.WithTimeout(cfg.DHT.Replication.ChainTimeout.AsDuration()),
	)

	n := node.New(self, space, cfg.DHT.Replication, client, node.WithLogger(lgr))
	lgr.Debug("node core initialized")

	srv := server.New(lis, n, server.WithLogger(lgr.Named("server")))
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()
	lgr.Info("server listening")

	var disco bootstrap.Bootstrap
	switch cfg.DHT.Bootstrap.Mode {
	case "route53":
		disco, err = bootstrap.NewRoute53Bootstrap(cfg.DHT.Bootstrap.Route53)
		if err != nil {
			lgr.Error("failed to initialize route53 bootstrap", logger.F("err", err.Error()))
			srv.Stop()
			os.Exit(1)
		}
	case "static":
		disco = bootstrap.NewStaticBootstrap(cfg.DHT.Bootstrap.Peers)
	case "init":
		disco = bootstrap.NewStaticBootstrap(nil)
	default:
		lgr.Error("unsupported bootstrap mode", logger.F("mode", cfg.DHT.Bootstrap.Mode))
		srv.Stop()
		os.Exit(1)
	}

	joinCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	peers, err := disco.Discover(joinCtx)
	cancel()
	if err != nil {
		lgr.Error("failed to resolve bootstrap peers", logger.F("err", err.Error()))
		srv.Stop()
		os.Exit(1)
	}
	lgr.Info("resolved bootstrap peers", logger.F("peers", peers))

	joinRing(n, peers, lgr)

	regCtx, regCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := disco.Register(regCtx, self); err != nil {
		lgr.Warn("failed to register node in discovery directory", logger.F("err", err.Error()))
	} else {
		lgr.Info("node registered in discovery directory")
	}
	regCancel()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := disco.Deregister(ctx, self); err != nil {
			lgr.Warn("failed to deregister node", logger.F("err", err.Error()))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		lgr.Info("shutdown signal received, departing gracefully")
		departCtx, departCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := n.Depart(departCtx); err != nil {
			lgr.Warn("depart failed", logger.F("err", err.Error()))
		}
		departCancel()
		srv.Stop()

	case err := <-serveErr:
		if err != nil {
			lgr.Error("server terminated unexpectedly", logger.F("err", err.Error()))
			os.Exit(1)
		}
	}
}

// joinRing contacts the first discovered bootstrap peer to join the ring;
// an empty candidate list starts a brand-new ring. Node.Join never
// surfaces a failure here: an unreachable or malformed bootstrap peer
// makes it degrade to founding a single-node ring internally, which is
// the spec's required behavior, not a startup error.
func joinRing(n *node.Node, peers []string, lgr logger.Logger) {
	bootstrap := ""
	if len(peers) > 0 {
		bootstrap = peers[0]
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = n.Join(ctx, bootstrap)
	if bootstrap != "" {
		lgr.Info("attempted to join ring via bootstrap peer", logger.F("peer", bootstrap))
	}
}
