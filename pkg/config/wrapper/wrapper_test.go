package wrapper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/stake-pool-server/pkg/config"
	"github.com/code-payments/stake-pool-server/pkg/config/memory"
)

func TestBoolConfig(t *testing.T) {
	ctx := context.Background()
	source := memory.NewConfig(nil)
	c := NewBoolConfig(source, true)

	v, err := c.GetSafe(ctx)
	require.NoError(t, err)
	assert.True(t, v)

	source.SetValue(false)
	assert.False(t, c.Get(ctx))

	source.SetValue([]byte("true"))
	assert.True(t, c.Get(ctx))

	source.SetValue("not a bool")
	v, err = c.GetSafe(ctx)
	assert.Error(t, err)
	assert.True(t, v)

	source.ClearValue()
	source.InduceErrors()
	v, err = c.GetSafe(ctx)
	assert.Error(t, err)
	assert.True(t, v)
}

func TestUint64Config(t *testing.T) {
	ctx := context.Background()
	source := memory.NewConfig(uint64(7))
	c := NewUint64Config(source, 3)

	assert.EqualValues(t, 7, c.Get(ctx))

	source.SetValue("12")
	assert.EqualValues(t, 12, c.Get(ctx))

	source.SetValue(12.5)
	v, err := c.GetSafe(ctx)
	assert.Equal(t, ErrUnsuportedConversion, err)
	assert.EqualValues(t, 12, v)

	source.ClearValue()
	assert.EqualValues(t, 3, c.Get(ctx))
}

func TestDurationConfig(t *testing.T) {
	ctx := context.Background()
	source := memory.NewConfig([]byte("90s"))
	c := NewDurationConfig(source, time.Minute)

	assert.Equal(t, 90*time.Second, c.Get(ctx))

	source.SetValue(time.Hour)
	assert.Equal(t, time.Hour, c.Get(ctx))

	c.Shutdown()
	_, err := c.GetSafe(ctx)
	assert.Equal(t, config.ErrShutdown, err)
}
