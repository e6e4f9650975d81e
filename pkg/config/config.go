// Package config provides runtime tunables that are resolved on every read,
// so operators can flip them without restarting a long running process.
package config

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNoValue indicates no value was set for the config
	ErrNoValue = errors.New("config: no value set")

	// ErrShutdown indicates the use of a Config after calling Shutdown
	ErrShutdown = errors.New("config: shutdown")
)

// Config is a source of raw configuration values.
type Config interface {
	// Get returns the latest raw value
	Get(ctx context.Context) (interface{}, error)

	// Shutdown signals the config to stop all underlying resources
	Shutdown()
}

// Value is a Config converted to a concrete type, falling back to a default
// when the source has nothing set.
type Value[T any] interface {
	Get(ctx context.Context) T
	GetSafe(ctx context.Context) (T, error)
	Shutdown()
}

type (
	Bool     = Value[bool]
	Uint64   = Value[uint64]
	Duration = Value[time.Duration]
)
