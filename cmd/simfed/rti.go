package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"SimFed/internal/api"
	"SimFed/internal/checkpoint"
	"SimFed/internal/config"
	"SimFed/internal/logger"
	"SimFed/internal/metrics"
	"SimFed/internal/network"
	"SimFed/internal/rti"
	"SimFed/internal/storage"
)

func newRTICommand(g *globalFlags) *cobra.Command {
	var listen, httpAddr, data, key string

	cmd := &cobra.Command{
		Use:   "rti",
		Short: "Run the RTI hub federates connect to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.RTI.ListenAddr = listen
			}
			if flags.Changed("http") {
				cfg.RTI.HTTPAddr = httpAddr
			}
			if flags.Changed("data") {
				cfg.RTI.DataPath = data
			}
			if flags.Changed("key") {
				cfg.RTI.KeyPath = key
			}

			return runRTI(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "QUIC listen address")
	cmd.Flags().StringVar(&httpAddr, "http", "", "monitoring HTTP address, empty to disable")
	cmd.Flags().StringVar(&data, "data", "", "checkpoint database directory")
	cmd.Flags().StringVar(&key, "key", "", "key seed file (generated if missing)")

	return cmd
}

// rtiDaemon holds what runRTI started, in start order.
type rtiDaemon struct {
	db     *storage.Storage
	node   *network.Node
	rti    *rti.RTI
	server *api.Server
}

func runRTI(ctx context.Context, cfg config.Config) error {
	keys, err := loadOrGenerateKeys(cfg.RTI.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	d := &rtiDaemon{}
	defer func() {
		if cerr := d.close(); cerr != nil {
			logger.Warn("shutdown incomplete", "error", cerr)
		}
	}()

	if err := d.start(cfg, keys); err != nil {
		return err
	}

	logger.Info("starting simfed rti",
		"pubkey", hex.EncodeToString(keys.checkpoint.PublicKey()),
		"quic", d.node.Addr(),
		"http", cfg.RTI.HTTPAddr,
		"data", cfg.RTI.DataPath,
		"filters", cfg.Channel.Filters,
	)

	<-ctx.Done()
	logger.Info("shutting down rti")

	return nil
}

func (d *rtiDaemon) start(cfg config.Config, keys *nodeKeys) error {
	metrics.Register(prometheus.DefaultRegisterer)

	db, err := storage.Open(cfg.RTI.DataPath, storage.Options{})
	if err != nil {
		return fmt.Errorf("open storage:\n%w", err)
	}

	d.db = db

	node, err := network.NewNode(network.Config{
		PrivateKey: keys.identity,
		ListenAddr: cfg.RTI.ListenAddr,
		Relay:      true,
	})
	if err != nil {
		return fmt.Errorf("create transport:\n%w", err)
	}

	d.node = node

	node.OnConnect(func(p *network.Peer) {
		logger.Info("peer connected", "addr", p.Address())
	})
	node.OnDisconnect(func(p *network.Peer) {
		logger.Info("peer disconnected", "addr", p.Address())
	})

	r, err := rti.New(node, rti.Config{
		Channel:      cfg.ChannelOptions("rti"),
		Store:        checkpoint.NewStore(db),
		Key:          keys.checkpoint,
		SaveSettle:   cfg.RTI.SaveSettle,
		TombstoneTTL: cfg.RTI.TombstoneTTL,
	})
	if err != nil {
		return fmt.Errorf("create rti:\n%w", err)
	}

	d.rti = r

	if err := node.Start(); err != nil {
		return fmt.Errorf("start transport:\n%w", err)
	}

	if cfg.RTI.HTTPAddr != "" {
		d.server = api.New(cfg.RTI.HTTPAddr, r, nil)
		if err := d.server.Start(); err != nil {
			return fmt.Errorf("start http api:\n%w", err)
		}
	}

	return nil
}

// close stops everything started, most recent first.
func (d *rtiDaemon) close() error {
	var err error

	if d.server != nil {
		err = multierr.Append(err, d.server.Stop())
	}

	if d.rti != nil {
		err = multierr.Append(err, d.rti.Close())
	}

	if d.node != nil {
		err = multierr.Append(err, d.node.Close())
	}

	if d.db != nil {
		err = multierr.Append(err, d.db.Close())
	}

	return err
}
