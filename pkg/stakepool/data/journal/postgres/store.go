package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/code-payments/stake-pool-server/pkg/database/query"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/data/journal"
)

type store struct {
	db *sqlx.DB
}

// New returns a new postgres-backed journal.Store
func New(db *sql.DB) journal.Store {
	return &store{
		db: sqlx.NewDb(db, "pgx"),
	}
}

// Put implements journal.Store.Put
func (s *store) Put(ctx context.Context, record *journal.Record) error {
	obj, err := toModel(record)
	if err != nil {
		return err
	}

	err = obj.dbPut(ctx, s.db)
	if err != nil {
		return err
	}

	res := fromModel(obj)
	res.CopyTo(record)

	return nil
}

// Update implements journal.Store.Update
func (s *store) Update(ctx context.Context, record *journal.Record) error {
	obj, err := toModel(record)
	if err != nil {
		return err
	}

	err = obj.dbUpdate(ctx, s.db)
	if err != nil {
		return err
	}

	res := fromModel(obj)
	res.CopyTo(record)

	return nil
}

// Get implements journal.Store.Get
func (s *store) Get(ctx context.Context, signature string) (*journal.Record, error) {
	model, err := dbGetBySignature(ctx, s.db, signature)
	if err != nil {
		return nil, err
	}

	return fromModel(model), nil
}

// GetAllByCycle implements journal.Store.GetAllByCycle
func (s *store) GetAllByCycle(ctx context.Context, cycleId string) ([]*journal.Record, error) {
	models, err := dbGetAllByCycle(ctx, s.db, cycleId)
	if err != nil {
		return nil, err
	}

	return fromModels(models), nil
}

// GetAll implements journal.Store.GetAll
func (s *store) GetAll(ctx context.Context, opts ...query.Option) ([]*journal.Record, error) {
	page, err := query.NewPage(opts...)
	if err != nil {
		return nil, err
	}

	models, err := dbGetAll(ctx, s.db, page)
	if err != nil {
		return nil, err
	}

	return fromModels(models), nil
}

// CountByStatus implements journal.Store.CountByStatus
func (s *store) CountByStatus(ctx context.Context, status journal.Status) (uint64, error) {
	return dbCountByStatus(ctx, s.db, status)
}

func fromModels(models []*model) []*journal.Record {
	var res []*journal.Record
	for _, model := range models {
		res = append(res, fromModel(model))
	}
	return res
}
