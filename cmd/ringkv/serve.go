package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ringkv/internal/admin"
	"ringkv/internal/clock"
	"ringkv/internal/config"
	"ringkv/internal/metrics"
	"ringkv/internal/node"
	"ringkv/internal/replication"
	"ringkv/internal/transport/grpcnet"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run one node over gRPC",
		Long: `Run a single node. --peers maps every node address, this one
included, to its gRPC endpoint, e.g.
  --node 2:0 --introducer 1:0 --peers 1:0=127.0.0.1:7001,2:0=127.0.0.1:7002
One tick passes every --tick-interval.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	self := cfg.Address()
	log := logrus.NewEntry(logger).WithField("node", self.String())

	peers, err := config.ParsePeers(cfg.Peers)
	if err != nil {
		return err
	}
	if _, ok := peers[self]; !ok {
		return fmt.Errorf("%w: --peers has no endpoint for %s", config.ErrInvalid, self)
	}
	if _, ok := peers[cfg.IntroducerAddress()]; !ok {
		return fmt.Errorf("%w: --peers has no endpoint for introducer %s", config.ErrInvalid, cfg.IntroducerAddress())
	}

	tr := grpcnet.New(self, peers, log)
	if err := tr.Start(); err != nil {
		return err
	}
	defer tr.Stop()

	m := metrics.New()
	results := admin.NewResults(admin.DefaultResultCapacity)
	clk := clock.NewCounter(0)

	nc := cfg.NodeConfig(self)
	nc.Seed = cfg.Seed
	n := node.New(nc, clk, tr,
		node.WithLogger(log),
		node.WithMetrics(m),
		node.WithResultObserver(func(r replication.Result) {
			results.Record(r)
			log.WithFields(logrus.Fields{
				"tx":      r.TxID,
				"op":      r.Op.String(),
				"key":     r.Key,
				"success": r.Success,
			}).Debug("Transaction finished")
		}),
	)
	n.Start()
	defer n.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go clock.Drive(clk, cfg.TickInterval, done, func(int64) { n.Tick() })
	defer close(done)

	log.WithFields(logrus.Fields{
		"introducer": cfg.IntroducerAddress().String(),
		"peers":      len(peers),
		"tick":       cfg.TickInterval.String(),
	}).Info("Node started")

	if cfg.AdminAddr == "" {
		<-ctx.Done()
		return nil
	}
	srv := admin.NewServer(n, results, m.Handler(), log)
	if err := srv.ListenAndServe(ctx, cfg.AdminAddr); err != nil {
		return err
	}
	log.Info("Node stopped")
	return nil
}
