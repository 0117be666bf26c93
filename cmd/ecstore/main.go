// ecstore runs a member of an ecstore cluster and inspects its configuration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ecstore/internal/config"
	"ecstore/internal/node"
	"ecstore/internal/rpc"
)

var (
	cfgFile  string
	logLevel string

	// serve overrides
	nodeID     string
	listenAddr string
	peersFlag  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "ecstore",
		Short:        "ecstore - replicated object store with conditional writes",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "ecstore.yaml", "path to the YAML configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides log_level in the config)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a cluster member",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&nodeID, "node-id", "", "node id (overrides node.id)")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides node.listen)")
	serveCmd.Flags().StringVar(&peersFlag, "peers", "", "peers as id=addr,id=addr (replaces peers)")

	rootCmd.AddCommand(serveCmd, newValidateCmd(), newPlaceCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if logLevel == "" {
		return
	}
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// loadConfig reads and validates the configuration file after applying
// overrides.
func loadConfig(overrides ...func(*config.Config) error) (*config.Config, error) {
	data, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := config.Decode(data)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		if err := o(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logLevel == "" {
		zerolog.SetGlobalLevel(cfg.Level())
	}
	return cfg, nil
}

// serveOverrides applies the serve flags on top of the file.
func serveOverrides(cfg *config.Config) error {
	if nodeID != "" {
		cfg.Node.ID = nodeID
	}
	if listenAddr != "" {
		cfg.Node.Listen = listenAddr
	}
	if peersFlag != "" {
		peers, err := config.ParsePeers(peersFlag)
		if err != nil {
			return err
		}
		cfg.Peers = peers
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(serveOverrides)
	if err != nil {
		return err
	}

	buckets, err := cfg.BuildBuckets()
	if err != nil {
		return err
	}
	table, err := rpc.NewProcedureTable(cfg.ProcedureIDs())
	if err != nil {
		return err
	}
	ncfg := node.Config{
		ID:                cfg.Node.ID,
		Listen:            cfg.Node.Listen,
		Peers:             cfg.Seeds(),
		VNodes:            cfg.Node.VNodes,
		Buckets:           buckets,
		Procedures:        table,
		PerReplicaTimeout: time.Duration(cfg.Timeouts.PerReplica),
		ProbeInterval:     time.Duration(cfg.Timeouts.ProbeInterval),
		SuspectTimeout:    time.Duration(cfg.Timeouts.SuspectTimeout),
		ReadRepair:        cfg.ReadRepair,
		MetricsAddr:       cfg.Node.MetricsAddr,
		Logger:            log.Logger,
	}
	if len(cfg.Devices) > 0 {
		if ncfg.Devices, err = cfg.BuildRegistry(); err != nil {
			return err
		}
	}

	n, err := node.New(ncfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- n.Start() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		n.Stop()
		return <-errCh
	case err := <-errCh:
		n.Stop()
		return err
	}
}
