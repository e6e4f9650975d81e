// Package etcd implements lock.Manager on top of etcd elections. A Manager
// holds a single session lease; every lock it creates is tied to that lease.
package etcd

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.etcd.io/etcd/api/v3/mvccpb"
	v3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/code-payments/stake-pool-server/pkg/lock"
)

var ErrManagerClosed = errors.New("lock manager is closed")

// Dial connects to the etcd cluster at the given endpoints
func Dial(endpoints []string, dialTimeout time.Duration) (*v3.Client, error) {
	client, err := v3.New(v3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error dialing etcd")
	}
	return client, nil
}

type Manager struct {
	log     *logrus.Entry
	client  *v3.Client
	rootKey string
	ttl     int
	value   string

	closeOnce sync.Once
	closeCh   chan struct{}

	sessionMu sync.Mutex
	session   *concurrency.Session
}

// NewManager creates a Manager whose locks live under rootKey. The value is
// stored against every held lock to identify the holder.
//
// The ttl must be within [1s, 60s].
func NewManager(client *v3.Client, rootKey string, ttl time.Duration, value string) (*Manager, error) {
	if ttl < time.Second || ttl > time.Minute {
		return nil, errors.Errorf("invalid lock ttl: %v (must be [1s, 60s])", ttl)
	}

	ttlSeconds := int(ttl.Round(time.Second).Seconds())

	session, err := newSession(client, ttlSeconds)
	if err != nil {
		return nil, errors.Wrap(err, "error creating etcd session")
	}

	m := &Manager{
		log: logrus.StandardLogger().WithFields(logrus.Fields{
			"type": "lock/etcd",
			"root": rootKey,
		}),
		client:  client,
		rootKey: rootKey,
		ttl:     ttlSeconds,
		value:   value,

		closeCh: make(chan struct{}),
		session: session,
	}

	// The session keeps itself alive, but can end for good if the cluster
	// loses its leader for longer than the ttl.
	go m.renewSession()

	return m, nil
}

func newSession(client *v3.Client, ttlSeconds int) (*concurrency.Session, error) {
	return concurrency.NewSession(
		client,
		concurrency.WithTTL(ttlSeconds),
		concurrency.WithContext(v3.WithRequireLeader(context.Background())),
	)
}

// Create implements lock.Manager.Create
func (m *Manager) Create(_ context.Context, name string) (lock.DistributedLock, error) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	if m.session == nil {
		return nil, ErrManagerClosed
	}

	key := path.Join(m.rootKey, name)
	return &Lock{
		log: m.log.WithField("key", key),
		m:   m,
		key: key,
	}, nil
}

// Close closes the manager's session, releasing every lock it holds.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.sessionMu.Lock()
		defer m.sessionMu.Unlock()

		close(m.closeCh)

		if err := m.session.Close(); err != nil {
			m.log.WithError(err).Warn("failure closing etcd session")
		}
		m.session = nil
	})
}

func (m *Manager) currentSession() *concurrency.Session {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()
	return m.session
}

func (m *Manager) renewSession() {
	for {
		session := m.currentSession()
		if session == nil {
			return
		}

		select {
		case <-m.closeCh:
			return
		case <-session.Done():
		}

		m.log.Info("etcd session expired, recreating")

		session, err := newSession(m.client, m.ttl)
		if err != nil {
			m.log.WithError(err).Warn("failure recreating etcd session, retrying in 1s")
			time.Sleep(time.Second)
			continue
		}

		m.sessionMu.Lock()
		if m.session == nil {
			m.sessionMu.Unlock()
			session.Close()
			return
		}
		m.session = session
		m.sessionMu.Unlock()
	}
}

type Lock struct {
	log *logrus.Entry
	m   *Manager
	key string

	electionMu sync.Mutex
	election   *concurrency.Election
}

// Acquire implements lock.DistributedLock.Acquire
func (l *Lock) Acquire(ctx context.Context) (<-chan struct{}, error) {
	l.electionMu.Lock()
	defer l.electionMu.Unlock()

	if l.election != nil {
		return nil, errors.New("cannot call Acquire concurrently")
	}

	session := l.m.currentSession()
	if session == nil {
		return nil, ErrManagerClosed
	}

	campaignCtx, cancelCampaign := context.WithCancel(ctx)
	election := concurrency.NewElection(session, l.key)
	if err := election.Campaign(campaignCtx, l.m.value); err != nil {
		cancelCampaign()
		return nil, errors.Wrap(err, "error campaigning for lock")
	}

	l.log.Debug("lock acquired")
	l.election = election

	watchCh := session.Client().Watch(
		v3.WithRequireLeader(campaignCtx),
		election.Key(),
		v3.WithRev(election.Rev()),
	)

	lostCh := make(chan struct{})
	go func() {
		defer cancelCampaign()
		defer l.resign(ctx, election)

		// Signal the loss before resigning, which blocks while the cluster
		// has no leader.
		defer close(lostCh)

		l.watch(session, election, watchCh)
	}()

	return lostCh, nil
}

func (l *Lock) watch(session *concurrency.Session, election *concurrency.Election, watchCh v3.WatchChan) {
	for {
		select {
		case <-session.Done():
			l.log.Warn("etcd session ended, releasing lock")
			return

		case watchEvent, ok := <-watchCh:
			if !ok {
				return
			}

			if err := watchEvent.Err(); err != nil {
				l.log.WithError(err).Warn("failure watching lock key")
				return
			}

			for _, event := range watchEvent.Events {
				switch event.Type {
				case mvccpb.PUT:
					if event.Kv.CreateRevision != election.Rev() {
						l.log.Warn("lock key create revision changed, releasing lock")
						return
					}
				case mvccpb.DELETE:
					l.log.Trace("lock key removed")
					return
				}
			}
		}
	}
}

func (l *Lock) resign(ctx context.Context, election *concurrency.Election) {
	l.electionMu.Lock()
	defer l.electionMu.Unlock()

	if l.election != election {
		return
	}

	if err := election.Resign(ctx); err != nil {
		l.log.WithError(err).Warn("failure resigning lock on cleanup")
	}
	l.election = nil
}

// Unlock implements lock.DistributedLock.Unlock
func (l *Lock) Unlock(ctx context.Context) error {
	l.electionMu.Lock()
	defer l.electionMu.Unlock()

	if l.election == nil {
		return nil
	}

	err := l.election.Resign(ctx)
	l.election = nil
	return err
}

// IsLocked implements lock.DistributedLock.IsLocked
func (l *Lock) IsLocked() bool {
	l.electionMu.Lock()
	defer l.electionMu.Unlock()

	return l.election != nil && l.election.Key() != ""
}
