package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config_memory "github.com/code-payments/stake-pool-server/pkg/config/memory"
	"github.com/code-payments/stake-pool-server/pkg/config/wrapper"
	"github.com/code-payments/stake-pool-server/pkg/testutil"
)

func TestScheduler(t *testing.T) {
	env := setup(t)
	validators := testutil.GenerateSolanaKeys(t, 2)
	env.initialize(11*lamportsPerSol, validators...)

	ctx, cancel := context.WithCancel(env.ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- NewScheduler(env.driver, "@every 1h", CycleOptions{}).Start(ctx)
	}()

	require.Eventually(t, func() bool {
		return env.reserve() == lamportsPerSol
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	for _, entry := range env.program.Roster(env.ledger) {
		assert.EqualValues(t, 5*lamportsPerSol, entry.Balance)
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	env := setup(t)

	err := NewScheduler(env.driver, "not a schedule", CycleOptions{}).Start(env.ctx)
	assert.Error(t, err)
	assert.Empty(t, env.ledger.Submitted())
}

func TestScheduler_Paused(t *testing.T) {
	env := setup(t)
	validators := testutil.GenerateSolanaKeys(t, 2)
	env.initialize(11*lamportsPerSol, validators...)

	source := config_memory.NewConfig(true)
	scheduler := NewScheduler(env.driver, "@every 1h", CycleOptions{}).
		WithPauseSwitch(wrapper.NewBoolConfig(source, false))

	scheduler.runOnce(env.ctx)
	assert.Empty(t, env.ledger.Submitted())
	assert.EqualValues(t, 11*lamportsPerSol, env.reserve())

	source.SetValue(false)
	scheduler.runOnce(env.ctx)
	assert.EqualValues(t, lamportsPerSol, env.reserve())
}
