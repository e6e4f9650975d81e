package journal

import (
	"context"

	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/database/query"
)

var (
	ErrNotFound      = errors.New("journal record not found")
	ErrAlreadyExists = errors.New("journal record already exists")
)

type Store interface {
	// Put creates a journal record for a submitted transaction
	//
	// Returns ErrAlreadyExists if a record already exists for the signature.
	Put(ctx context.Context, record *Record) error

	// Update updates the outcome of a journal record
	//
	// Returns ErrNotFound if no record exists.
	Update(ctx context.Context, record *Record) error

	// Get finds the journal record for a transaction signature
	//
	// Returns ErrNotFound if no record is found.
	Get(ctx context.Context, signature string) (*Record, error)

	// GetAllByCycle gets every record written during a cycle, in submission
	// order.
	//
	// Returns ErrNotFound if no record is found.
	GetAllByCycle(ctx context.Context, cycleId string) ([]*Record, error)

	// GetAll pages through every record by id
	//
	// Returns ErrNotFound if no record is found.
	GetAll(ctx context.Context, opts ...query.Option) ([]*Record, error)

	// CountByStatus counts all records in a provided status
	CountByStatus(ctx context.Context, status Status) (uint64, error)
}
