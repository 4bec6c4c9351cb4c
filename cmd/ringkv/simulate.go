package main

import (
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ringkv/internal/admin"
	"ringkv/internal/config"
	"ringkv/internal/message"
	"ringkv/internal/metrics"
	"ringkv/internal/sim"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a deterministic in-process cluster",
		Long: `Run a cluster of simulated nodes over a lossy in-memory network.
Without --scenario the built-in workload runs: the group forms, keys are
created, a node crashes and the keys are read, updated and deleted through
the survivors. Flags given explicitly override the scenario file.`,
		RunE: runSimulate,
	}
	cmd.Flags().Bool("hold", false, "Keep serving the admin API of the first live node after the run")
	return cmd
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	log := logrus.NewEntry(logger)

	scenario, err := scenarioFor(cmd, cfg)
	if err != nil {
		return err
	}

	m := metrics.New()
	opts := scenario.Options(sim.Options{Protocol: cfg, Log: log, Metrics: m})
	cluster, err := sim.NewCluster(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"scenario": scenario.Name,
		"nodes":    scenario.Nodes,
		"ticks":    scenario.Ticks,
	}).Info("Starting simulation")

	sum, err := sim.Run(ctx, cluster, scenario, log)
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), scenario.Name, sum)

	hold, _ := cmd.Flags().GetBool("hold")
	if !hold || cfg.AdminAddr == "" {
		return nil
	}
	live := cluster.Live()
	if len(live) == 0 {
		return fmt.Errorf("no live node to serve")
	}
	srv := admin.NewServer(live[0], nil, m.Handler(), log)
	return srv.ListenAndServe(ctx, cfg.AdminAddr)
}

// scenarioFor loads --scenario or builds the default workload from cfg.
func scenarioFor(cmd *cobra.Command, cfg config.Config) (*sim.Scenario, error) {
	var s *sim.Scenario
	if cfg.Scenario != "" {
		loaded, err := sim.LoadScenario(cfg.Scenario)
		if err != nil {
			return nil, err
		}
		s = loaded
	} else {
		s = sim.DefaultScenario(cfg.Nodes)
		s.Ticks = cfg.Ticks
		s.Seed = cfg.Seed
		s.DropRate = cfg.DropRate
	}

	flags := cmd.Flags()
	if flags.Changed("nodes") {
		s.Nodes = cfg.Nodes
	}
	if flags.Changed("ticks") {
		s.Ticks = cfg.Ticks
	}
	if flags.Changed("seed") {
		s.Seed = cfg.Seed
	}
	if flags.Changed("drop-rate") {
		s.DropRate = cfg.DropRate
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func printSummary(w io.Writer, name string, sum sim.Summary) {
	fmt.Fprintf(w, "scenario %s: %d ticks, %d live nodes\n", name, sum.Ticks, sum.LiveNodes)
	fmt.Fprintf(w, "issued %d, rejected %d, timed out %d, stabilization transactions %d\n",
		sum.Issued, sum.Rejected, sum.TimedOut, sum.Internal)

	kinds := make([]message.Kind, 0, len(sum.Success)+len(sum.Failure))
	seen := map[message.Kind]bool{}
	for _, m := range []map[message.Kind]int{sum.Success, sum.Failure} {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				kinds = append(kinds, k)
			}
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-7s success %d failure %d\n", k, sum.Success[k], sum.Failure[k])
	}

	for _, a := range sum.Failed {
		fmt.Fprintf(w, "failed node %s\n", a)
	}
}
