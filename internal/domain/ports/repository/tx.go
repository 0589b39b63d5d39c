package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle passed back into repository methods.
// Postgres repositories accept pgx.Tx or nil (pool).
type Tx interface{}

// NoTX runs a repository call outside of any transaction.
var NoTX interface{}

type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
