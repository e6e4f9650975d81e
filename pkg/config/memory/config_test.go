package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/code-payments/stake-pool-server/pkg/config"
)

func TestConfig(t *testing.T) {
	ctx := context.Background()
	c := NewConfig(nil)

	_, err := c.Get(ctx)
	assert.Equal(t, config.ErrNoValue, err)

	c.SetValue("value")
	v, err := c.Get(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "value", v)

	c.InduceErrors()
	_, err = c.Get(ctx)
	assert.Equal(t, errDeveloperInduced, err)

	c.StopInducingErrors()
	c.ClearValue()
	_, err = c.Get(ctx)
	assert.Equal(t, config.ErrNoValue, err)

	c.Shutdown()
	_, err = c.Get(ctx)
	assert.Equal(t, config.ErrShutdown, err)
}
