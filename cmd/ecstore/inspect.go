package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ecstore/internal/device"
	"ecstore/internal/ring"
	"ecstore/internal/router"
	"ecstore/internal/storage"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and print bucket placement",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			buckets, err := cfg.BuildBuckets()
			if err != nil {
				return err
			}

			rt, err := router.New(router.Config{
				Local:  router.NewLocalReplica(cfg.Node.ID, storage.NewInMemoryStore(cfg.Node.ID)),
				Logger: log.Logger,
			}, ring.New(cfg.RingMembers(), cfg.Node.VNodes), buckets)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BUCKET\tKIND\tSEGMENT\tLEADER\tMEMBERS")
			for _, b := range buckets {
				sets, err := rt.Placement(b.ID())
				if err != nil {
					return fmt.Errorf("bucket %s: %w", b.ID(), err)
				}
				for seg, rs := range sets {
					leader, _ := rs.Leader()
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", b.ID(), b.Kind().Tag, seg, leader, strings.Join(rs.Members(), ","))
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d buckets, %d devices, %d servers)\n",
				cfgFile, len(cfg.Buckets), len(cfg.Devices), len(cfg.Servers))
			return nil
		},
	}
}

func newPlaceCmd() *cobra.Command {
	var (
		deviceID string
		segments uint32
	)
	cmd := &cobra.Command{
		Use:   "place",
		Short: "Show how segments would be placed on a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := cfg.BuildRegistry()
			if err != nil {
				return err
			}

			p, err := device.NewAllocator(log.Logger, nil).PlaceOnDevice(reg, deviceID, segments)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SEGMENT\tDEVICE")
			for seg, d := range p {
				fmt.Fprintf(w, "%d\t%s\n", seg, d)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d segments on %d devices\n", len(p), p.Distinct())
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "device to place on")
	cmd.Flags().Uint32Var(&segments, "segments", 1, "number of segments")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}
