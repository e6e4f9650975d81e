package lock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrLockHeld is returned by Run when the lock could not be acquired
	// within the acquisition timeout.
	ErrLockHeld = errors.New("lock is held by another process")

	// ErrLockLost is returned by Run when the lock was lost while the guarded
	// function was running.
	ErrLockLost = errors.New("lock was lost")
)

// Manager creates and manages locks. Locks produced for a given name
// are re-entrant per Manager.
//
// As locks are re-entrant per manager, use a sync.Mutex (or some other state
// management mechanism) to coordinate local concurrency.
type Manager interface {
	// Create creates an unlocked DistributedLock for a specific key.
	Create(ctx context.Context, name string) (DistributedLock, error)
}

// DistributedLock is a handle to a lock that spans across multiple processes.
type DistributedLock interface {
	// Acquire attempts to acquire the lock, blocking until the lock has been
	// successfully acquired.
	//
	// The returned channel is closed when the lock is lost. The lock can be
	// lost when the context is cancelled, Unlock() is called, or the underlying
	// implementation detects that the lock _might_ have been lost.
	Acquire(ctx context.Context) (<-chan struct{}, error)

	// Unlock unlocks the lock, if the lock is held.
	//
	// Unlock is idempotent.
	Unlock(ctx context.Context) error

	// IsLocked returns whether the lock is held by the process/manager.
	IsLocked() bool
}

// Run acquires l, waiting at most acquireTimeout, and runs fn while the lock
// is held. The context passed to fn is cancelled if the lock is lost.
func Run(ctx context.Context, l DistributedLock, acquireTimeout time.Duration, fn func(ctx context.Context) error) error {
	log := logrus.StandardLogger().WithField("type", "lock").WithField("method", "Run")

	lockCtx, cancelLock := context.WithCancel(ctx)
	defer cancelLock()

	var timedOut atomic.Bool
	timer := time.AfterFunc(acquireTimeout, func() {
		timedOut.Store(true)
		cancelLock()
	})

	lostCh, err := l.Acquire(lockCtx)
	timer.Stop()
	if err != nil && timedOut.Load() && ctx.Err() == nil {
		return ErrLockHeld
	} else if err != nil {
		return errors.Wrap(err, "error acquiring lock")
	}

	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := l.Unlock(unlockCtx); err != nil {
			log.WithError(err).Warn("failure releasing lock")
		}
	}()

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	var lost bool
	done := make(chan struct{})
	go func() {
		defer close(done)

		select {
		case <-lostCh:
			lost = true
			cancelWork()
		case <-workCtx.Done():
		}
	}()

	err = fn(workCtx)
	cancelWork()
	<-done

	if lost && ctx.Err() == nil {
		if err != nil {
			return errors.Wrap(ErrLockLost, err.Error())
		}
		return ErrLockLost
	}
	return err
}
