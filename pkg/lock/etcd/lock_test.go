//go:build integration

package etcd

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/require"
	v3 "go.etcd.io/etcd/client/v3"

	"github.com/code-payments/stake-pool-server/pkg/etcdtest"
	"github.com/code-payments/stake-pool-server/pkg/lock"
)

func TestLock(t *testing.T) {
	require := require.New(t)

	pool, err := dockertest.NewPool("")
	require.NoError(err)

	client, teardown, err := etcdtest.StartEtcd(pool)
	require.NoError(err)
	defer teardown()

	for _, tc := range []struct {
		name string
		f    func(t *testing.T, client *v3.Client)
	}{
		{name: "Happy", f: testHappy},
		{name: "SecondManagerWaits", f: testSecondManagerWaits},
		{name: "Cancellation", f: testCancellation},
		{name: "Close", f: testClose},
		{name: "DoubleAcquire", f: testDoubleAcquire},
		{name: "DoubleUnlock", f: testDoubleUnlock},
		{name: "Run", f: testRun},
	} {
		t.Run(tc.name, func(t *testing.T) { tc.f(t, client) })
	}
}

func testHappy(t *testing.T, client *v3.Client) {
	require := require.New(t)

	m, err := NewManager(client, "/stakepool/locks", 10*time.Second, "orchestrator")
	require.NoError(err)
	defer m.Close()

	l, err := m.Create(context.Background(), "pool")
	require.NoError(err)
	require.False(l.IsLocked())

	lostCh, err := l.Acquire(context.Background())
	require.NoError(err)
	require.True(l.IsLocked())

	kvs, err := client.Get(context.Background(), "/stakepool/locks/pool", v3.WithPrefix())
	require.NoError(err)
	require.Len(kvs.Kvs, 1)
	require.Equal("orchestrator", string(kvs.Kvs[0].Value))

	require.NoError(l.Unlock(context.Background()))
	<-lostCh
	require.False(l.IsLocked())
}

func testSecondManagerWaits(t *testing.T, client *v3.Client) {
	require := require.New(t)

	managers := make([]*Manager, 2)
	for i := range managers {
		m, err := NewManager(client, "/stakepool/locks", 10*time.Second, fmt.Sprintf("orchestrator-%d", i))
		require.NoError(err)
		defer m.Close()
		managers[i] = m
	}

	first, err := managers[0].Create(context.Background(), "pool")
	require.NoError(err)
	_, err = first.Acquire(context.Background())
	require.NoError(err)

	second, err := managers[1].Create(context.Background(), "pool")
	require.NoError(err)

	err = lock.Run(context.Background(), second, time.Second, func(context.Context) error {
		return nil
	})
	require.Equal(lock.ErrLockHeld, err)

	acquired := make(chan struct{})
	go func() {
		_, err := second.Acquire(context.Background())
		require.NoError(err)
		close(acquired)
	}()

	select {
	case <-acquired:
		require.FailNow("lock should be held")
	case <-time.After(time.Second):
	}

	require.NoError(first.Unlock(context.Background()))
	<-acquired
	require.True(second.IsLocked())
	require.NoError(second.Unlock(context.Background()))
}

func testCancellation(t *testing.T, client *v3.Client) {
	require := require.New(t)

	m, err := NewManager(client, "/stakepool/locks", 10*time.Second, "orchestrator")
	require.NoError(err)
	defer m.Close()

	l, err := m.Create(context.Background(), "pool")
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lostCh, err := l.Acquire(ctx)
	require.NoError(err)
	cancel()

	<-lostCh

	_, err = l.Acquire(ctx)
	require.ErrorIs(err, context.Canceled)
}

func testClose(t *testing.T, client *v3.Client) {
	require := require.New(t)

	m, err := NewManager(client, "/stakepool/locks", 10*time.Second, "orchestrator")
	require.NoError(err)
	defer m.Close()

	l, err := m.Create(context.Background(), "pool")
	require.NoError(err)

	lostCh, err := l.Acquire(context.Background())
	require.NoError(err)

	m.Close()
	<-lostCh

	_, err = l.Acquire(context.Background())
	require.Equal(ErrManagerClosed, err)

	l, err = m.Create(context.Background(), "pool")
	require.Nil(l)
	require.Equal(ErrManagerClosed, err)
}

func testDoubleAcquire(t *testing.T, client *v3.Client) {
	require := require.New(t)

	m, err := NewManager(client, "/stakepool/locks", 10*time.Second, "orchestrator")
	require.NoError(err)
	defer m.Close()

	l, err := m.Create(context.Background(), "pool")
	require.NoError(err)

	_, err = l.Acquire(context.Background())
	require.NoError(err)
	defer l.Unlock(context.Background())

	_, err = l.Acquire(context.Background())
	require.ErrorContains(err, "concurrently")
}

func testDoubleUnlock(t *testing.T, client *v3.Client) {
	require := require.New(t)

	m, err := NewManager(client, "/stakepool/locks", 10*time.Second, "orchestrator")
	require.NoError(err)
	defer m.Close()

	l, err := m.Create(context.Background(), "pool")
	require.NoError(err)

	lostCh, err := l.Acquire(context.Background())
	require.NoError(err)
	require.NoError(l.Unlock(context.Background()))
	require.NoError(l.Unlock(context.Background()))

	<-lostCh
}

func testRun(t *testing.T, client *v3.Client) {
	require := require.New(t)

	m, err := NewManager(client, "/stakepool/locks", 10*time.Second, "orchestrator")
	require.NoError(err)
	defer m.Close()

	l, err := m.Create(context.Background(), "pool")
	require.NoError(err)

	var ran bool
	err = lock.Run(context.Background(), l, 5*time.Second, func(context.Context) error {
		ran = l.IsLocked()
		return nil
	})
	require.NoError(err)
	require.True(ran)
	require.False(l.IsLocked())
}

func TestNewManager_InvalidTTL(t *testing.T) {
	_, err := NewManager(nil, "/locks", 500*time.Millisecond, "orchestrator")
	require.Error(t, err)

	_, err = NewManager(nil, "/locks", 2*time.Minute, "orchestrator")
	require.Error(t, err)
}
