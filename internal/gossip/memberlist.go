package gossip

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/memberlist"
	log "github.com/sirupsen/logrus"

	"proofnet/internal/logging"
)

// MemberlistConfig configures the memberlist transport.
type MemberlistConfig struct {
	NodeName       string
	BindAddress    string
	BindPort       int
	AdvertiseAddr  string
	AdvertisePort  int
	Seeds          []string
	GossipInterval time.Duration
	ProbeInterval  time.Duration
	RetransmitMult int
	InboxSize      int
	// Protocol labels every packet so separate networks never mix.
	Protocol string
}

// MemberlistTransport gossips votes over a hashicorp/memberlist cluster.
type MemberlistTransport struct {
	config     MemberlistConfig
	memberlist *memberlist.Memberlist
	delegate   *voteDelegate
	logger     logging.Logger
	logWriter  io.Closer

	shutdownOnce sync.Once
	mu           sync.RWMutex
	shutdown     bool
}

// NewMemberlistTransport creates the memberlist instance and joins seeds.
func NewMemberlistTransport(cfg MemberlistConfig, logger logging.Logger) (*MemberlistTransport, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeName
	mlConfig.BindAddr = cfg.BindAddress
	mlConfig.BindPort = cfg.BindPort
	mlConfig.Label = cfg.Protocol

	if cfg.AdvertiseAddr != "" {
		mlConfig.AdvertiseAddr = cfg.AdvertiseAddr
	}
	if cfg.AdvertisePort > 0 {
		mlConfig.AdvertisePort = cfg.AdvertisePort
	}
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	} else {
		mlConfig.GossipInterval = 200 * time.Millisecond
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	} else {
		mlConfig.ProbeInterval = 1 * time.Second
	}

	retransmit := cfg.RetransmitMult
	if retransmit <= 0 {
		retransmit = mlConfig.RetransmitMult
	}
	var created atomic.Pointer[memberlist.Memberlist]
	delegate := newVoteDelegate(cfg.NodeName, cfg.InboxSize, logger)
	delegate.queue = &memberlist.TransmitLimitedQueue{
		NumNodes: func() int {
			if ml := created.Load(); ml != nil {
				return ml.NumMembers()
			}
			return 1
		},
		RetransmitMult: retransmit,
	}
	mlConfig.Delegate = delegate
	mlConfig.Events = delegate

	// memberlist's own logs go through logrus at debug level
	logWriter := logging.L().WriterLevel(log.DebugLevel)
	mlConfig.LogOutput = logWriter

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		logWriter.Close()
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	created.Store(ml)

	logger.Info("Created gossip memberlist",
		"node", cfg.NodeName,
		"bind_addr", fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.BindPort),
		"protocol", cfg.Protocol)

	t := &MemberlistTransport{
		config:     cfg,
		memberlist: ml,
		delegate:   delegate,
		logger:     logger,
		logWriter:  logWriter,
	}

	if len(cfg.Seeds) > 0 {
		if err := t.JoinSeeds(cfg.Seeds); err != nil {
			// the node can still be discovered by peers later
			logger.Warn("Failed to join some gossip seeds", "error", err, "seeds", cfg.Seeds)
		}
	}
	return t, nil
}

// JoinSeeds attempts to join the provided seed nodes
func (t *MemberlistTransport) JoinSeeds(seeds []string) error {
	if len(seeds) == 0 {
		return nil
	}
	numJoined, err := t.memberlist.Join(seeds)
	if err != nil {
		return fmt.Errorf("join seeds: %w", err)
	}
	t.logger.Info("Joined gossip cluster", "num_joined", numJoined, "total_seeds", len(seeds))
	return nil
}

func (t *MemberlistTransport) NumMembers() int { return t.memberlist.NumMembers() }

func (t *MemberlistTransport) LocalNode() *memberlist.Node { return t.memberlist.LocalNode() }

// Broadcast queues data for epidemic dissemination on topic.
func (t *MemberlistTransport) Broadcast(ctx context.Context, topic Topic, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.shutdown {
		return ErrClosed
	}
	t.delegate.enqueue(encodeEnvelope(topic, data))
	return nil
}

func (t *MemberlistTransport) Messages() <-chan Message { return t.delegate.inbox }

// Close leaves the cluster gracefully and shuts memberlist down.
func (t *MemberlistTransport) Close() error {
	var shutdownErr error
	t.shutdownOnce.Do(func() {
		t.logger.Info("Shutting down gossip transport")

		t.mu.Lock()
		t.shutdown = true
		t.mu.Unlock()

		if err := t.memberlist.Leave(5 * time.Second); err != nil {
			t.logger.Warn("Failed to leave memberlist gracefully", "error", err)
		}
		if err := t.memberlist.Shutdown(); err != nil {
			shutdownErr = fmt.Errorf("shutdown memberlist: %w", err)
		}
		t.delegate.queue.Reset()
		t.delegate.close()
		t.logWriter.Close()
	})
	return shutdownErr
}
