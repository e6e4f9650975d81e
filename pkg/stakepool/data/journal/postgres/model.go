package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	pgutil "github.com/code-payments/stake-pool-server/pkg/database/postgres"
	"github.com/code-payments/stake-pool-server/pkg/database/query"
	"github.com/code-payments/stake-pool-server/pkg/pointer"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/data/journal"
)

const (
	tableName = "stakepool__core_submission"

	allColumns = `id, cycle_id, step, signature, instructions, status, program_code, error, created_at, confirmed_at`
)

type model struct {
	Id sql.NullInt64 `db:"id"`

	CycleId   string `db:"cycle_id"`
	Step      string `db:"step"`
	Signature string `db:"signature"`

	Instructions int64 `db:"instructions"`

	Status      uint8          `db:"status"`
	ProgramCode sql.NullInt64  `db:"program_code"`
	Error       sql.NullString `db:"error"`

	CreatedAt   time.Time    `db:"created_at"`
	ConfirmedAt sql.NullTime `db:"confirmed_at"`
}

func toModel(obj *journal.Record) (*model, error) {
	if err := obj.Validate(); err != nil {
		return nil, err
	}

	m := &model{
		CycleId:   obj.CycleId,
		Step:      string(obj.Step),
		Signature: obj.Signature,

		Instructions: int64(obj.Instructions),

		Status: uint8(obj.Status),
		Error: sql.NullString{
			Valid:  obj.Error != nil,
			String: pointer.OrDefault(obj.Error, ""),
		},

		CreatedAt: obj.CreatedAt,
	}

	if obj.ProgramCode != nil {
		m.ProgramCode = sql.NullInt64{Valid: true, Int64: int64(*obj.ProgramCode)}
	}
	if obj.ConfirmedAt != nil {
		m.ConfirmedAt = sql.NullTime{Valid: true, Time: *obj.ConfirmedAt}
	}

	return m, nil
}

func fromModel(obj *model) *journal.Record {
	return &journal.Record{
		Id: uint64(obj.Id.Int64),

		CycleId:   obj.CycleId,
		Step:      journal.Step(obj.Step),
		Signature: obj.Signature,

		Instructions: uint32(obj.Instructions),

		Status:      journal.Status(obj.Status),
		ProgramCode: pointer.IfValid(obj.ProgramCode.Valid, uint32(obj.ProgramCode.Int64)),
		Error:       pointer.IfValid(obj.Error.Valid, obj.Error.String),

		CreatedAt:   obj.CreatedAt,
		ConfirmedAt: pointer.IfValid(obj.ConfirmedAt.Valid, obj.ConfirmedAt.Time),
	}
}

func (m *model) dbPut(ctx context.Context, db *sqlx.DB) error {
	err := pgutil.ExecuteInTx(ctx, db, sql.LevelDefault, func(tx *sqlx.Tx) error {
		query := `INSERT INTO ` + tableName + `
			(cycle_id, step, signature, instructions, status, program_code, error, created_at, confirmed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING ` + allColumns

		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}

		return tx.QueryRowxContext(
			ctx,
			query,
			m.CycleId,
			m.Step,
			m.Signature,
			m.Instructions,
			m.Status,
			m.ProgramCode,
			m.Error,
			m.CreatedAt,
			m.ConfirmedAt,
		).StructScan(m)
	})
	return pgutil.CheckUniqueViolation(err, journal.ErrAlreadyExists)
}

func (m *model) dbUpdate(ctx context.Context, db *sqlx.DB) error {
	err := pgutil.ExecuteInTx(ctx, db, sql.LevelDefault, func(tx *sqlx.Tx) error {
		query := `UPDATE ` + tableName + `
			SET status = $2, program_code = $3, error = $4, confirmed_at = $5
			WHERE signature = $1
			RETURNING ` + allColumns

		return tx.QueryRowxContext(
			ctx,
			query,
			m.Signature,
			m.Status,
			m.ProgramCode,
			m.Error,
			m.ConfirmedAt,
		).StructScan(m)
	})
	return pgutil.CheckNoRows(err, journal.ErrNotFound)
}

func dbGetBySignature(ctx context.Context, db *sqlx.DB, signature string) (*model, error) {
	var res model

	query := `SELECT ` + allColumns + ` FROM ` + tableName + `
		WHERE signature = $1
	`

	err := db.GetContext(ctx, &res, query, signature)
	if err != nil {
		return nil, pgutil.CheckNoRows(err, journal.ErrNotFound)
	}
	return &res, nil
}

func dbGetAllByCycle(ctx context.Context, db *sqlx.DB, cycleId string) ([]*model, error) {
	res := []*model{}

	query := `SELECT ` + allColumns + ` FROM ` + tableName + `
		WHERE cycle_id = $1
		ORDER BY id ASC
	`

	err := db.SelectContext(ctx, &res, query, cycleId)
	if err != nil {
		return nil, pgutil.CheckNoRows(err, journal.ErrNotFound)
	} else if len(res) == 0 {
		return nil, journal.ErrNotFound
	}
	return res, nil
}

func dbGetAll(ctx context.Context, db *sqlx.DB, page *query.Page) ([]*model, error) {
	res := []*model{}

	// The always-true predicate gives Paginate a WHERE clause to extend
	sqlQuery, args := query.Paginate(
		`SELECT `+allColumns+` FROM `+tableName+` WHERE (TRUE)`,
		nil,
		page,
	)

	err := db.SelectContext(ctx, &res, sqlQuery, args...)
	if err != nil {
		return nil, pgutil.CheckNoRows(err, journal.ErrNotFound)
	} else if len(res) == 0 {
		return nil, journal.ErrNotFound
	}
	return res, nil
}

func dbCountByStatus(ctx context.Context, db *sqlx.DB, status journal.Status) (uint64, error) {
	var res uint64

	query := `SELECT COUNT(*) FROM ` + tableName + `
		WHERE status = $1
	`

	err := db.GetContext(ctx, &res, query, status)
	if err != nil {
		return 0, err
	}
	return res, nil
}
