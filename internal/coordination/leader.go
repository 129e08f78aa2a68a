// Package coordination elects the single node that runs the periodic
// portfolio and risk cycle when several core instances share one ledger.
package coordination

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

// Elector reports whether this node currently holds leadership.
type Elector interface {
	IsLeader() bool
}

// AlwaysLeader is the Elector of a single-node deployment.
type AlwaysLeader struct{}

func (AlwaysLeader) IsLeader() bool { return true }

// Config configures the etcd election.
type Config struct {
	Endpoints   []string
	Prefix      string
	NodeID      string
	DialTimeout time.Duration
	SessionTTL  int
	// RetryDelay is the pause before campaigning again after losing the lease.
	RetryDelay time.Duration
}

// EtcdElector campaigns for leadership under Prefix. Leadership is held
// while the session lease is alive and lost as soon as it expires.
type EtcdElector struct {
	cfg    Config
	client *clientv3.Client
	logger *zap.Logger

	leader atomic.Bool

	mu       sync.Mutex
	election *concurrency.Election
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewEtcdElector connects to etcd. Campaigning starts with Start.
func NewEtcdElector(cfg Config, logger *zap.Logger) (*EtcdElector, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}
	if cfg.NodeID == "" {
		host, _ := os.Hostname()
		cfg.NodeID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 10
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return &EtcdElector{cfg: cfg, client: client, logger: logger}, nil
}

// Start begins campaigning in the background until ctx ends or Close is called.
func (e *EtcdElector) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done != nil {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.run(ctx)
}

func (e *EtcdElector) run(ctx context.Context) {
	defer close(e.done)
	for {
		if err := e.campaign(ctx); err != nil && ctx.Err() == nil {
			e.logger.Warn("Leader election failed", zap.String("node_id", e.cfg.NodeID), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.RetryDelay):
		}
	}
}

// campaign blocks until leadership is won and then until it is lost.
func (e *EtcdElector) campaign(ctx context.Context) error {
	session, err := concurrency.NewSession(e.client,
		concurrency.WithTTL(e.cfg.SessionTTL), concurrency.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to create etcd session: %w", err)
	}
	defer session.Close()

	election := concurrency.NewElection(session, e.cfg.Prefix)
	e.mu.Lock()
	e.election = election
	e.mu.Unlock()

	e.logger.Debug("Campaigning for leadership", zap.String("node_id", e.cfg.NodeID))
	if err := election.Campaign(ctx, e.cfg.NodeID); err != nil {
		return err
	}
	e.leader.Store(true)
	e.logger.Info("Became scheduler leader", zap.String("node_id", e.cfg.NodeID))

	select {
	case <-ctx.Done():
		resignCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := election.Resign(resignCtx); err != nil {
			e.logger.Warn("Failed to resign leadership", zap.Error(err))
		}
	case <-session.Done():
		e.logger.Warn("Lost scheduler leadership", zap.String("node_id", e.cfg.NodeID))
	}
	e.leader.Store(false)
	return nil
}

// IsLeader reports whether this node holds leadership right now.
func (e *EtcdElector) IsLeader() bool {
	return e.leader.Load()
}

// Leader returns the node id of the current leader.
func (e *EtcdElector) Leader(ctx context.Context) (string, error) {
	e.mu.Lock()
	election := e.election
	e.mu.Unlock()
	if election == nil {
		return "", fmt.Errorf("election not started")
	}
	resp, err := election.Leader(ctx)
	if err != nil {
		return "", err
	}
	if len(resp.Kvs) == 0 {
		return "", concurrency.ErrElectionNoLeader
	}
	return string(resp.Kvs[0].Value), nil
}

// Close stops campaigning, resigning if leader, and closes the client.
func (e *EtcdElector) Close() error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return e.client.Close()
}
