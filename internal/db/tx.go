package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// TxFunc runs inside a transaction. The Querier it receives is the
// transaction itself; every statement issued through it commits or rolls
// back as one unit.
type TxFunc func(ctx context.Context, q Querier) error

// WithinTx begins a transaction, runs fn, and commits on success. Any error
// (or panic) from fn rolls the whole transaction back before the error is
// returned, so no partial effect ever becomes visible.
func (p *Postgres) WithinTx(ctx context.Context, fn TxFunc) (err error) {
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db: failed to begin transaction: %w", err)
	}

	defer func() {
		if pv := recover(); pv != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction after panic")
			}
			panic(pv)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("db: failed to commit transaction: %w", commitErr)
			}
		}
	}()

	err = fn(ctx, tx)
	return err
}
