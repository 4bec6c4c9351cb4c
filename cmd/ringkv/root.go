package main

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ringkv/internal/config"
)

// Version of the ringkv binary.
const Version = "0.3.0"

func newRootCmd() *cobra.Command {
	cobra.OnInitialize(config.LoadEnvFiles)

	root := &cobra.Command{
		Use:   "ringkv",
		Short: "gossip membership and a replicated key-value ring",
		Long: fmt.Sprintf(`ringkv (v%s)

A key-value store replicated three ways over a consistent hashing ring.
Membership is kept by heartbeat gossip; every write and read needs a
quorum of two replicas. Settings can be given as flags, as RINGKV_<FLAG>
environment variables (e.g. RINGKV_FAIL_TIMEOUT=8) or in a YAML file.`, Version),
		SilenceUsage: true,
	}
	config.BindFlags(root.PersistentFlags())

	root.AddCommand(newSimulateCmd(), newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of ringkv",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ringkv v%s\n", Version)
		},
	}
}

// loadConfig resolves the settings of cmd from flags, environment and the
// optional config file.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	v, err := config.NewViper(cmd.Flags())
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(v)
}

// newLogger builds the process logger. Text goes to out; json uses
// millisecond timestamps.
func newLogger(level, format string, out io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(out)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(lvl)

	switch format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return logger, nil
}
