package test

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/pkg/errors"

	_ "github.com/jackc/pgx/v4/stdlib" //nolint:revive

	"github.com/code-payments/stake-pool-server/pkg/retry"
	"github.com/code-payments/stake-pool-server/pkg/retry/backoff"
	"github.com/code-payments/stake-pool-server/pkg/testutil/docker"
)

const (
	image = "postgres"
	tag   = "14.5"
	port  = 5432

	user     = "stakepool"
	password = "stakepool"
	dbname   = "stakepool"
)

// StartPostgresDB runs a throwaway postgres and returns a connection to it
// once it accepts pings.
func StartPostgresDB(pool *dockertest.Pool) (*sql.DB, func(), error) {
	container, err := docker.Run(pool, image, tag, port,
		"POSTGRES_USER="+user,
		"POSTGRES_PASSWORD="+password,
		"POSTGRES_DB="+dbname,
	)
	if err != nil {
		return nil, func() {}, err
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", user, password, container.Address, dbname)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		container.Purge()
		return nil, func() {}, errors.Wrap(err, "failed to open db")
	}

	_, err = retry.Retry(
		db.Ping,
		retry.Limit(60),
		retry.Backoff(backoff.Constant(500*time.Millisecond), 500*time.Millisecond),
	)
	if err != nil {
		db.Close()
		container.Purge()
		return nil, func() {}, errors.Wrap(err, "postgres never became ready")
	}

	return db, container.Purge, nil
}
