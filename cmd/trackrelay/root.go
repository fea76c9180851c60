package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/trackrelay/internal/admin"
	"github.com/danmuck/trackrelay/internal/config"
	"github.com/danmuck/trackrelay/internal/motion"
	"github.com/danmuck/trackrelay/internal/observability"
	"github.com/danmuck/trackrelay/internal/protocol/record"
	"github.com/danmuck/trackrelay/internal/receiver"
	"github.com/danmuck/trackrelay/internal/relay"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const appName = "trackrelay"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Relay synthetic motion-tracking frames to a consuming runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newWatchCmd(), newInitCmd(), newCheckCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept consumers and stream pose frames",
		RunE: func(cmd *cobra.Command, _ []string) error {
			observability.InitLogger(appName)
			cfg, err := loadAppConfig(cfgFile)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, &cfg); err != nil {
				return err
			}
			if err := cfg.finish(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "relay config file (toml)")
	cmd.Flags().String("listen", relay.DefaultListenAddr, "relay listen address")
	cmd.Flags().String("admin", "", "admin HTTP listen address; empty disables it")
	cmd.Flags().String("profile", "", "device profile file (toml)")
	cmd.Flags().Float64("cadence", relay.DefaultCadenceHz, "pose frames per second")
	return cmd
}

func serve(ctx context.Context, cfg appConfig) error {
	observability.RegisterMetrics()
	svc, err := relay.NewService(cfg.Service, motion.NewOrbit(cfg.Service.Profile.Motion))
	if err != nil {
		return err
	}
	log.Info().
		Str("profile", cfg.Service.Profile.Name).
		Int("devices", len(cfg.Service.Profile.Devices)).
		Msg("trackrelay.serve starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	if cfg.AdminAddr != "" {
		srv := admin.New(cfg.AdminAddr, svc, cfg.CORSOrigins)
		g.Go(func() error { return srv.Serve(gctx) })
	}
	return g.Wait()
}

func newWatchCmd() *cobra.Command {
	var (
		addr   string
		frames int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect as a consumer and report received frames",
		RunE: func(cmd *cobra.Command, _ []string) error {
			observability.InitLogger(appName)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, addr, frames)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1"+relay.DefaultListenAddr, "relay address")
	cmd.Flags().IntVar(&frames, "frames", 0, "stop after this many frames; 0 runs until interrupted")
	return cmd
}

func watch(ctx context.Context, addr string, frames int) error {
	cfg := receiver.DefaultConfig(addr)
	cfg.ReadTimeout = 0
	rx, err := receiver.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	context.AfterFunc(ctx, func() { _ = rx.Close() })
	defer rx.Close()

	topo, err := rx.NextTopology()
	if err != nil {
		return err
	}
	log.Info().Strs("devices", deviceNames(topo.Descriptors)).Msg("trackrelay.watch topology")

	// Later topology and settings messages arrive while frames stream.
	go func() {
		for {
			msg, err := rx.NextManager()
			if err != nil {
				return
			}
			if msg.Tag == record.TagTopology {
				if t, err := msg.Topology(); err == nil {
					log.Info().Strs("devices", deviceNames(t.Descriptors)).Msg("trackrelay.watch topology")
				}
				continue
			}
			log.Info().Uint32("tag", msg.Tag).Msg("trackrelay.watch manager message")
		}
	}()

	var received atomic.Uint64
	report := time.NewTicker(time.Second)
	defer report.Stop()
	go func() {
		var last uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-report.C:
				n := received.Load()
				log.Info().Uint64("frames", n).Uint64("per_second", n-last).Msg("trackrelay.watch progress")
				last = n
			}
		}
	}()

	for frames <= 0 || received.Load() < uint64(frames) {
		recs, err := rx.NextFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		n := received.Add(1)
		log.Trace().Uint64("seq", n).Int("records", len(recs)).Msg("trackrelay.watch frame")
	}
	log.Info().Uint64("frames", received.Load()).Msg("trackrelay.watch done")
	return nil
}

func deviceNames(descs []record.DeviceDescriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.String()
	}
	return out
}

func newInitCmd() *cobra.Command {
	var (
		kind      string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a starter relay or profile config",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], kind, overwrite); err != nil {
				return err
			}
			log.Info().Str("path", args[0]).Str("kind", kind).Msg("trackrelay.init wrote config")
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "relay", "config kind: relay or profile")
	cmd.Flags().BoolVar(&overwrite, "force", false, "overwrite an existing file")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a relay config and the profile it names",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadAppConfig(cfgFile)
			if err != nil {
				return err
			}
			if err := cfg.finish(); err != nil {
				return err
			}
			descs, err := cfg.Service.Profile.Descriptors()
			if err != nil {
				return err
			}
			size, err := record.FrameSize(descs)
			if err != nil {
				return err
			}
			cmd.Printf("ok: %s, %d devices, %d-byte frames at %g Hz\n",
				cfg.Service.Profile.Name, len(descs), size, cfg.Service.CadenceHz)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "relay config file (toml)")
	return cmd
}
