package main

import (
	"context"
	"crypto/ed25519"
	"os"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/ybbus/jsonrpc"
	xrate "golang.org/x/time/rate"

	pg "github.com/code-payments/stake-pool-server/pkg/database/postgres"
	"github.com/code-payments/stake-pool-server/pkg/lock"
	lock_etcd "github.com/code-payments/stake-pool-server/pkg/lock/etcd"
	lock_memory "github.com/code-payments/stake-pool-server/pkg/lock/memory"
	"github.com/code-payments/stake-pool-server/pkg/metrics"
	"github.com/code-payments/stake-pool-server/pkg/rate"
	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/stakepool"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/data/journal"
	journal_memory "github.com/code-payments/stake-pool-server/pkg/stakepool/data/journal/memory"
	journal_postgres "github.com/code-payments/stake-pool-server/pkg/stakepool/data/journal/postgres"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/driver"
)

const (
	lockRootKey     = "/stakepool/locks"
	etcdDialTimeout = 5 * time.Second
)

// environment holds everything a command needs to talk to the pool.
type environment struct {
	log *logrus.Entry

	conf     *stakepool.Config
	client   solana.Client
	registry *prometheus.Registry
	journal  journal.Store
	driver   *driver.Driver

	closers []func()
}

// newEnvironment connects every collaborator named in config and builds the
// Driver. Callers must Close the environment.
func newEnvironment(ctx context.Context, config *stakepool.Config) (*environment, error) {
	env := &environment{
		log:      logrus.StandardLogger().WithField("type", "stakepool/cli"),
		conf:     config,
		client:   newClient(config),
		registry: metrics.NewRegistry(),
	}

	d, err := env.build(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.driver = d
	return env, nil
}

func (e *environment) build(ctx context.Context) (*driver.Driver, error) {
	if err := e.conf.Validate(); err != nil {
		return nil, err
	}

	if e.conf.PayerKeypair == "" {
		return nil, errors.Wrap(stakepool.ErrInvalidConfig, "payer_keypair is not set")
	}
	payer, err := solana.LoadKeypair(e.conf.PayerKeypair)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load payer")
	}

	var owner ed25519.PrivateKey
	if e.conf.OwnerKeypair != "" {
		owner, err = solana.LoadKeypair(e.conf.OwnerKeypair)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load owner")
		}
	}

	l, err := e.newLock(ctx)
	if err != nil {
		return nil, err
	}

	e.journal, err = e.newJournal()
	if err != nil {
		return nil, err
	}

	return driver.New(e.conf, e.client, payer, owner, l, e.journal, driver.NewMetrics(e.registry))
}

var newClient = func(config *stakepool.Config) solana.Client {
	var limiter rate.Limiter = rate.NoLimiter{}
	if config.RPCRateLimit > 0 {
		limiter = rate.NewLocalRateLimiter(xrate.Limit(config.RPCRateLimit))
	}
	if len(config.RPCHeaders) == 0 {
		return solana.New(config.RPCEndpoint, limiter)
	}
	return solana.NewWithRPCOptions(config.RPCEndpoint, limiter, &jsonrpc.RPCClientOpts{
		CustomHeaders: config.RPCHeaders,
	})
}

// newLock returns the pool's lock: an etcd election when endpoints are
// configured, otherwise a process local lock.
func (e *environment) newLock(ctx context.Context) (lock.DistributedLock, error) {
	name := base58.Encode(e.conf.Pool())

	if len(e.conf.Lock.EtcdEndpoints) == 0 {
		e.log.Debug("no etcd endpoints, using a process local lock")
		return lock_memory.NewManager().Create(ctx, name)
	}

	client, err := lock_etcd.Dial(e.conf.Lock.EtcdEndpoints, etcdDialTimeout)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, func() { client.Close() })

	hostname, _ := os.Hostname()
	manager, err := lock_etcd.NewManager(client, lockRootKey, e.conf.Lock.TTL, hostname)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, manager.Close)

	return manager.Create(ctx, name)
}

// newJournal returns the postgres journal when a DSN is configured, otherwise
// an in memory one that lasts for the process.
func (e *environment) newJournal() (journal.Store, error) {
	if e.conf.Journal.PostgresDSN == "" {
		e.log.Debug("no journal dsn, journaling in memory")
		return journal_memory.New(), nil
	}

	db, err := pg.NewWithDSN(e.conf.Journal.PostgresDSN)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, func() { db.Close() })

	return journal_postgres.New(db), nil
}

// Close releases the environment's connections in reverse order of opening.
func (e *environment) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// withEnvironment runs fn against an environment built from the loaded
// config.
func withEnvironment(ctx context.Context, fn func(ctx context.Context, env *environment) error) error {
	env, err := newEnvironment(ctx, conf)
	if err != nil {
		return err
	}
	defer env.Close()

	return fn(ctx, env)
}

// exclusive is withEnvironment with fn run under the pool's lock.
func exclusive(ctx context.Context, fn func(ctx context.Context, env *environment) error) error {
	return withEnvironment(ctx, func(ctx context.Context, env *environment) error {
		return env.driver.Exclusive(ctx, func(ctx context.Context) error {
			return fn(ctx, env)
		})
	})
}

func parseKeys(args []string) ([]ed25519.PublicKey, error) {
	keys := make([]ed25519.PublicKey, 0, len(args))
	for _, arg := range args {
		key, err := solana.ParsePublicKey(arg)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
