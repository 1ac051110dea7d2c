package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"SimFed/internal/api"
	"SimFed/internal/config"
	"SimFed/internal/forwarder"
	"SimFed/internal/logger"
	"SimFed/internal/metrics"
	"SimFed/internal/network"
)

func newForwardCommand(g *globalFlags) *cobra.Command {
	var upstream, downstream, httpAddr, key string

	cmd := &cobra.Command{
		Use:   "forward",
		Short: "Bridge local federates to a remote federation network",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("upstream") {
				cfg.Forwarder.UpstreamAddr = upstream
			}
			if flags.Changed("downstream") {
				cfg.Forwarder.DownstreamAddr = downstream
			}
			if flags.Changed("key") {
				cfg.Forwarder.KeyPath = key
			}

			if cfg.Forwarder.UpstreamAddr == "" {
				return fmt.Errorf("forward needs an upstream address")
			}

			return runForwarder(cmd.Context(), cfg, httpAddr)
		},
	}

	cmd.Flags().StringVar(&upstream, "upstream", "", "hub address to dial")
	cmd.Flags().StringVar(&downstream, "downstream", "", "address local federates connect to")
	cmd.Flags().StringVar(&httpAddr, "http", "", "metrics HTTP address, empty to disable")
	cmd.Flags().StringVar(&key, "key", "", "key seed file (generated if missing)")

	return cmd
}

func runForwarder(ctx context.Context, cfg config.Config, httpAddr string) error {
	keys, err := loadOrGenerateKeys(cfg.Forwarder.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	metrics.Register(prometheus.DefaultRegisterer)

	up, err := network.NewNode(network.Config{PrivateKey: keys.identity})
	if err != nil {
		return fmt.Errorf("create upstream transport:\n%w", err)
	}

	down, err := network.NewNode(network.Config{
		PrivateKey: keys.identity,
		ListenAddr: cfg.Forwarder.DownstreamAddr,
		Relay:      true,
	})
	if err != nil {
		_ = up.Close()
		return fmt.Errorf("create downstream transport:\n%w", err)
	}

	fwd := forwarder.New(up, down, forwarder.Config{
		Rules:     cfg.Forwarder.Rules,
		QueueSize: cfg.Forwarder.QueueSize,
		EchoTTL:   cfg.Channel.DedupTTL,
	})

	defer func() {
		if cerr := fwd.Close(); cerr != nil {
			logger.Warn("forwarder shutdown incomplete", "error", cerr)
		}
	}()

	if err := down.Start(); err != nil {
		return fmt.Errorf("start downstream transport:\n%w", err)
	}

	if _, err := up.Connect(cfg.Forwarder.UpstreamAddr); err != nil {
		return fmt.Errorf("connect upstream:\n%w", err)
	}

	if httpAddr != "" {
		server := api.New(httpAddr, nil, nil)
		if err := server.Start(); err != nil {
			return fmt.Errorf("start http api:\n%w", err)
		}

		defer server.Stop()
	}

	logger.Info("starting simfed forwarder",
		"upstream", cfg.Forwarder.UpstreamAddr,
		"downstream", down.Addr(),
	)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down forwarder")
			return nil
		case <-ticker.C:
			st := fwd.Stats()
			logger.Info("forwarder stats",
				"downstream", st.Forwarded[forwarder.Downstream],
				"upstream", st.Forwarded[forwarder.Upstream],
				"dropped_downstream", st.Dropped[forwarder.Downstream],
				"dropped_upstream", st.Dropped[forwarder.Upstream],
			)
		}
	}
}
