package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_Exclusive(t *testing.T) {
	m := NewManager()

	first, err := m.Create(context.Background(), "pool")
	require.NoError(t, err)
	second, err := m.Create(context.Background(), "pool")
	require.NoError(t, err)

	lostCh, err := first.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, first.IsLocked())
	assert.False(t, second.IsLocked())

	_, err = first.Acquire(context.Background())
	assert.ErrorContains(t, err, "concurrently")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = second.Acquire(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)

	acquired := make(chan struct{})
	go func() {
		_, err := second.Acquire(context.Background())
		assert.NoError(t, err)
		close(acquired)
	}()

	require.NoError(t, first.Unlock(context.Background()))
	require.NoError(t, first.Unlock(context.Background()))
	<-lostCh
	<-acquired

	assert.False(t, first.IsLocked())
	assert.True(t, second.IsLocked())
}

func TestLock_IndependentNames(t *testing.T) {
	m := NewManager()

	a, _ := m.Create(context.Background(), "a")
	b, _ := m.Create(context.Background(), "b")

	_, err := a.Acquire(context.Background())
	require.NoError(t, err)
	_, err = b.Acquire(context.Background())
	require.NoError(t, err)
}

func TestLock_Cancellation(t *testing.T) {
	m := NewManager()
	l, _ := m.Create(context.Background(), "pool")

	ctx, cancel := context.WithCancel(context.Background())
	lostCh, err := l.Acquire(ctx)
	require.NoError(t, err)

	cancel()
	<-lostCh
	assert.False(t, l.IsLocked())
}

func TestLock_Revoke(t *testing.T) {
	m := NewManager()
	l, _ := m.Create(context.Background(), "pool")

	lostCh, err := l.Acquire(context.Background())
	require.NoError(t, err)

	m.Revoke("pool")
	<-lostCh
	assert.False(t, l.IsLocked())

	m.Revoke("pool")
}
