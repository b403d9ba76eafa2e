package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"proofnet/internal/chain/cometbft"
	"proofnet/internal/config"
	"proofnet/internal/crypto"
	"proofnet/internal/gossip"
	"proofnet/internal/logging"
	"proofnet/internal/metrics"
	"proofnet/internal/notify"
	"proofnet/internal/rpc"
	"proofnet/internal/storage"
	"proofnet/internal/worker"
)

// node owns every long lived component of a proofnode process.
type node struct {
	cfg    *config.AppConfig
	logger logging.Logger

	store     *storage.KVStore
	prom      *metrics.Prom
	transport gossip.Transport
	app       *cometbft.App
	worker    *worker.Worker
	broker    *notify.Broker
}

func newNode(cfg *config.AppConfig, logger logging.Logger) (n *node, err error) {
	n = &node{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			err = multierr.Append(err, n.close())
			n = nil
		}
	}()

	keys, err := crypto.LoadKeystore(cfg.Node.Keys, cfg.Node.KeyDir)
	if err != nil {
		return n, fmt.Errorf("load keys: %w", err)
	}
	for _, pub := range keys.Keys() {
		logger.Infof("Authority key %s (%s)", pub.Hex(), crypto.DeriveAddress(pub).Hex())
	}

	n.store, err = storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return n, fmt.Errorf("open storage: %w", err)
	}

	var provider metrics.Provider = metrics.Noop{}
	if cfg.Metrics.Enabled {
		n.prom = metrics.NewProm()
		provider = n.prom
	}

	genesis, err := cfg.Network.Genesis()
	if err != nil {
		return n, err
	}
	protocol := gossip.ProtocolName(genesis, cfg.Network.ForkID)
	n.transport, err = newTransport(cfg, protocol)
	if err != nil {
		return n, err
	}

	validator, err := gossip.NewValidator(gossip.ValidatorConfig{
		RetentionWindow:    cfg.Gossip.RetentionWindow,
		FutureWindow:       cfg.Gossip.FutureWindow,
		SeenCacheSize:      cfg.Gossip.SeenCacheSize,
		CompletedCacheSize: cfg.Gossip.CompletedCacheSize,
	}, logging.Component("gossip"))
	if err != nil {
		return n, fmt.Errorf("gossip validator: %w", err)
	}

	n.app = cometbft.NewApp(cometbft.AppConfig{
		Store:           n.store,
		RecentBlocks:    cfg.Chain.RecentBlocks,
		FinalizedBuffer: cfg.Chain.FinalizedBuffer,
		Logger:          logging.Component("abci"),
	})

	n.broker = notify.NewBroker(provider)
	n.worker, err = worker.New(worker.Config{
		Policy:                 cfg.Witness.Policy(),
		RetentionWindow:        cfg.Gossip.RetentionWindow,
		MaxBufferedVotes:       cfg.Witness.MaxBufferedVotes,
		RetryInterval:          cfg.Timeouts.RetryInterval,
		RebroadcastInterval:    cfg.Timeouts.RebroadcastInterval,
		BackfillTimeout:        cfg.Timeouts.BackfillTimeout,
		PersistInitialInterval: cfg.Timeouts.PersistInitialInterval,
		PersistMaxInterval:     cfg.Timeouts.PersistMaxInterval,
	}, worker.Deps{
		Source:    n.app,
		Transport: n.transport,
		Gossip:    validator,
		Keystore:  keys,
		Store:     n.store,
		Broker:    n.broker,
		Metrics:   provider,
		Logger:    logging.Component("worker"),
	})
	if err != nil {
		return n, err
	}
	logger.Infof("Gossip protocol %s", protocol)
	return n, nil
}

func newTransport(cfg *config.AppConfig, protocol string) (gossip.Transport, error) {
	g := cfg.Gossip
	if !g.Enable || g.Transport == "local" {
		// single process: votes only loop back to this node
		return gossip.NewLocalHub().Join(cfg.Node.Name, g.InboxSize), nil
	}
	t, err := gossip.NewMemberlistTransport(gossip.MemberlistConfig{
		NodeName:       cfg.Node.Name,
		BindAddress:    g.BindAddress,
		BindPort:       g.BindPort,
		AdvertiseAddr:  g.AdvertiseAddress,
		AdvertisePort:  g.AdvertisePort,
		Seeds:          g.Seeds,
		GossipInterval: g.GossipInterval,
		ProbeInterval:  g.ProbeInterval,
		RetransmitMult: g.RetransmitMult,
		InboxSize:      g.InboxSize,
		Protocol:       protocol,
	}, logging.Component("memberlist"))
	if err != nil {
		return nil, fmt.Errorf("gossip transport: %w", err)
	}
	return t, nil
}

// run blocks until ctx ends or a component fails.
func (n *node) run(ctx context.Context) error {
	var lis net.Listener
	if n.cfg.RPC.Enabled {
		var err error
		if lis, err = net.Listen("tcp", n.cfg.RPC.ListenAddr); err != nil {
			return fmt.Errorf("rpc listen on %s: %w", n.cfg.RPC.ListenAddr, err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return n.worker.Run(ctx) })
	g.Go(func() error {
		return cometbft.Serve(ctx, n.cfg.Chain.ABCIAddr, n.cfg.Chain.Transport, n.app)
	})

	if n.prom != nil {
		srv := &http.Server{
			Addr:              n.cfg.Metrics.ListenAddr,
			Handler:           n.prom.Handler(),
			ReadHeaderTimeout: n.cfg.Timeouts.ReadHeaderTimeout,
		}
		g.Go(func() error {
			n.logger.Infof("Metrics listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeouts.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if lis != nil {
		srv := rpc.NewServer(n.store, n.broker, rpc.Config{SubscriberBuffer: n.cfg.RPC.SubscriberBuffer}, logging.Component("rpc"))
		srv.Start(lis)
		g.Go(func() error {
			<-ctx.Done()
			srv.Stop()
			return nil
		})
	}

	return g.Wait()
}

// close releases every component, collecting all errors.
func (n *node) close() error {
	var err error
	if n.broker != nil {
		n.broker.Close()
	}
	if n.transport != nil {
		err = multierr.Append(err, n.transport.Close())
	}
	if n.store != nil {
		err = multierr.Append(err, n.store.Close())
	}
	return err
}
