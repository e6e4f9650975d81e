package driver

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/stake-pool-server/pkg/config"
	"github.com/code-payments/stake-pool-server/pkg/lock"
)

// Scheduler runs the Driver's cycle on a cron schedule. A cycle still running
// when the next one is due causes that one to be skipped.
type Scheduler struct {
	log *logrus.Entry

	driver   *Driver
	schedule string
	opts     CycleOptions
	paused   config.Bool
}

func NewScheduler(driver *Driver, schedule string, opts CycleOptions) *Scheduler {
	return &Scheduler{
		log:      logrus.StandardLogger().WithField("type", "stakepool/scheduler"),
		driver:   driver,
		schedule: schedule,
		opts:     opts,
	}
}

// WithPauseSwitch makes every scheduled run consult paused first and skip the
// cycle while it reads true.
func (s *Scheduler) WithPauseSwitch(paused config.Bool) *Scheduler {
	s.paused = paused
	return s
}

// Start runs one cycle immediately, then cycles on schedule until ctx is
// cancelled. It returns once the running cycle, if any, has stopped.
func (s *Scheduler) Start(ctx context.Context) error {
	log := s.log.WithFields(logrus.Fields{
		"method":   "Start",
		"schedule": s.schedule,
	})

	logger := cron.PrintfLogger(s.log)
	c := cron.New(
		cron.WithLocation(time.Local),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	_, err := c.AddFunc(s.schedule, func() {
		s.runOnce(ctx)
	})
	if err != nil {
		return errors.Wrapf(err, "invalid schedule %q", s.schedule)
	}

	s.runOnce(ctx)

	c.Start()
	log.Info("scheduler started")

	<-ctx.Done()
	log.Info("stopping scheduler")
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if s.paused != nil && s.paused.Get(ctx) {
		s.log.Info("scheduler paused, skipping cycle")
		return
	}

	err := s.driver.RunCycle(ctx, s.opts)
	switch {
	case err == nil:
	case errors.Is(err, lock.ErrLockHeld):
		s.log.Info("another process holds the pool lock, skipping cycle")
	case ctx.Err() != nil:
		s.log.Debug("cycle interrupted by shutdown")
	default:
		// Already logged by RunCycle. The next scheduled cycle starts afresh.
	}
}
