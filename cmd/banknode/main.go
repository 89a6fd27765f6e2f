package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/example/bank-node/internal/admin"
	"github.com/example/bank-node/internal/config"
	"github.com/example/bank-node/internal/dispatch"
	"github.com/example/bank-node/internal/ledger"
	"github.com/example/bank-node/internal/logging"
	"github.com/example/bank-node/internal/node"
	"github.com/example/bank-node/internal/proxy"
	"github.com/example/bank-node/internal/robbery"
	"github.com/example/bank-node/internal/server"
	"github.com/example/bank-node/pkg/audit"
)

var version = "dev"

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)
	config.BindEnv(v)

	cmd := &cobra.Command{
		Use:          "banknode",
		Short:        "Run a bank node",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	addFlags(cmd)
	return cmd
}

func addFlags(cmd *cobra.Command) {
	d := config.Defaults()
	f := cmd.Flags()

	f.Int("port", d.Port, "Service port, also used when forwarding to other banks")
	f.String("bank-ip", d.BankIP, "Address this bank answers to (detected when empty)")
	f.Int("timeout", d.Timeout, "Client idle timeout in seconds")
	f.Duration("proxy-timeout", d.ProxyTimeout, "Bound for one round trip to another bank")

	f.Int("rp-port-from", d.RPPortFrom, "First port probed by robbery plans")
	f.Int("rp-port-to", d.RPPortTo, "Last port probed by robbery plans")
	f.Int("rp-concurrency", d.RPConcurrency, "Parallel robbery plan probes")

	f.String("store", d.Store, "Account store: memory, sqlite, postgres, badger")
	f.String("store-dsn", d.StoreDSN, "sqlite file, postgres URL or badger directory")

	f.String("log-level", d.LogLevel, "debug, info, warn, error, fatal, panic")
	f.String("log-file", d.LogFile, "JSON log file, empty disables")

	f.String("admin-listen", d.AdminListen, "gRPC health listen address, empty disables")
	f.String("metrics-listen", d.MetricsListen, "Prometheus listen address, empty disables")

	f.Float64("command-rate", d.CommandRate, "Commands per second per connection, 0 for unlimited")
	f.Int("command-burst", d.CommandBurst, "Command burst per connection")
	f.Uint32("breaker-failures", d.BreakerFailures, "Failures that open a peer's breaker, 0 disables")
	f.Duration("breaker-cooldown", d.BreakerCooldown, "How long an open breaker fails fast")
}

func run(parent context.Context, cfg *config.Config) error {
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	log := logging.Component(logger, "banknode")

	identity, err := node.Resolve(cfg.BankIP, cfg.Port)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := ledger.Open(ctx, cfg.Store, cfg.StoreDSN, logging.Component(logger, "store"))
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}
	defer store.Close()

	chain := audit.NewChainLogger(audit.LogrusSink(logging.Component(logger, "audit")))
	book := ledger.New(store,
		ledger.WithAudit(chain),
		ledger.WithLogger(logging.Component(logger, "ledger")),
	)

	forwarder := proxy.NewClient(proxy.Config{
		Timeout:         cfg.ProxyTimeout,
		BreakerFailures: cfg.BreakerFailures,
		BreakerCooldown: cfg.BreakerCooldown,
	}, logging.Component(logger, "proxy"))

	planner := robbery.NewPlanner(robbery.Config{
		Host:        identity.Address,
		SelfPort:    identity.Port,
		PortFrom:    cfg.RPPortFrom,
		PortTo:      cfg.RPPortTo,
		Concurrency: cfg.RPConcurrency,
	}, forwarder, book, logging.Component(logger, "robbery"))

	dispatcher := dispatch.New(identity, book, forwarder, planner, logging.Component(logger, "dispatch"))

	srv := server.New(dispatcher, server.Config{
		IdleTimeout:  cfg.IdleTimeout(),
		CommandRate:  cfg.CommandRate,
		CommandBurst: cfg.CommandBurst,
	}, logging.Component(logger, "server"))

	if err := srv.Listen(net.JoinHostPort("", strconv.Itoa(cfg.Port))); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	log.WithFields(logrus.Fields{
		"identity": identity.String(),
		"store":    cfg.Store,
		"timeout":  cfg.IdleTimeout(),
		"version":  version,
	}).Info("bank node started")

	health := admin.NewHealthServer(logging.Component(logger, "admin"))
	health.SetServing(true)
	metricsSrv := admin.NewMetricsServer(health.Serving, logging.Component(logger, "metrics"))

	g, gctx := errgroup.WithContext(ctx)

	if cfg.AdminListen != "" {
		ln, err := net.Listen("tcp", cfg.AdminListen)
		if err != nil {
			srv.Close()
			return fmt.Errorf("failed to listen on admin address: %w", err)
		}
		g.Go(func() error { return health.Serve(ln) })
	}
	if cfg.MetricsListen != "" {
		ln, err := net.Listen("tcp", cfg.MetricsListen)
		if err != nil {
			srv.Close()
			health.Stop()
			return fmt.Errorf("failed to listen on metrics address: %w", err)
		}
		g.Go(func() error { return metricsSrv.Serve(ln) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		health.SetServing(false)
		srv.Close()
		health.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("shutdown with error")
		return err
	}
	log.Info("bank node stopped")
	return nil
}
