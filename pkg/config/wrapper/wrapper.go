package wrapper

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/config"
)

// ErrUnsuportedConversion indicates the wrapper cannot convert the source type
var ErrUnsuportedConversion = errors.New("config: wrapper conversion from source type not implemented")

type typed[T any] struct {
	override     config.Config
	defaultValue T
	parse        func(string) (T, error)

	stateMu   sync.RWMutex
	lastValue T
}

func newTyped[T any](override config.Config, defaultValue T, parse func(string) (T, error)) config.Value[T] {
	return &typed[T]{
		override:     override,
		defaultValue: defaultValue,
		parse:        parse,
		lastValue:    defaultValue,
	}
}

// NewBoolConfig wraps override as a bool, accepting bools or strconv.ParseBool
// input.
func NewBoolConfig(override config.Config, defaultValue bool) config.Bool {
	return newTyped(override, defaultValue, strconv.ParseBool)
}

// NewUint64Config wraps override as a uint64.
func NewUint64Config(override config.Config, defaultValue uint64) config.Uint64 {
	return newTyped(override, defaultValue, func(s string) (uint64, error) {
		return strconv.ParseUint(s, 10, 64)
	})
}

// NewDurationConfig wraps override as a time.Duration, accepting
// time.ParseDuration input.
func NewDurationConfig(override config.Config, defaultValue time.Duration) config.Duration {
	return newTyped(override, defaultValue, time.ParseDuration)
}

// GetSafe gets a config value and propagates any errors that arise. The last
// known value is returned alongside any error.
func (c *typed[T]) GetSafe(ctx context.Context) (T, error) {
	override, err := c.override.Get(ctx)

	c.stateMu.RLock()
	lastValue := c.lastValue
	c.stateMu.RUnlock()

	if err == config.ErrNoValue {
		c.set(c.defaultValue)
		return c.defaultValue, nil
	} else if err != nil {
		return lastValue, err
	}

	var newValue T
	switch v := override.(type) {
	case T:
		newValue = v
	case []byte:
		newValue, err = c.parse(string(v))
		if err != nil {
			return lastValue, err
		}
	case string:
		newValue, err = c.parse(v)
		if err != nil {
			return lastValue, err
		}
	default:
		return lastValue, ErrUnsuportedConversion
	}

	c.set(newValue)
	return newValue, nil
}

// Get is GetSafe without the error.
func (c *typed[T]) Get(ctx context.Context) T {
	val, _ := c.GetSafe(ctx)
	return val
}

// Shutdown signals the config to stop all underlying resources
func (c *typed[T]) Shutdown() {
	c.override.Shutdown()
}

func (c *typed[T]) set(v T) {
	c.stateMu.Lock()
	c.lastValue = v
	c.stateMu.Unlock()
}
