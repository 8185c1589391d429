package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const metaKeyStrategy = "strategy"

// BindStrategy records name as the store's matching strategy when none is
// bound yet, and otherwise fails with ErrStrategyMismatch unless the bound
// strategy is name.
func (s *Store) BindStrategy(ctx context.Context, name string) error {
	insertSQL, insertArgs, err := psql.Insert("store_meta").
		Columns("meta_key", "meta_value").
		Values(metaKeyStrategy, name).
		Suffix("ON CONFLICT(meta_key) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build SQL for BindStrategy: %w", err)
	}

	return s.withTx(ctx, "bind strategy", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertSQL, insertArgs...); err != nil {
			return &StoreError{Op: "bind strategy", Err: err}
		}
		bound, _, err := boundStrategy(ctx, tx)
		if err != nil {
			return err
		}
		if bound != name {
			return &StoreError{Op: "bind strategy", Err: fmt.Errorf("%w: store uses %q, requested %q", ErrStrategyMismatch, bound, name)}
		}
		return nil
	})
}

// BoundStrategy returns the strategy the store was built with, if any.
func (s *Store) BoundStrategy(ctx context.Context) (string, bool, error) {
	var name string
	var ok bool
	err := s.withConn(ctx, "bound strategy", func(q Querier) error {
		var err error
		name, ok, err = boundStrategy(ctx, q)
		return err
	})
	return name, ok, err
}

func boundStrategy(ctx context.Context, q Querier) (string, bool, error) {
	sqlStr, args, err := psql.Select("meta_value").From("store_meta").Where(sq.Eq{"meta_key": metaKeyStrategy}).ToSql()
	if err != nil {
		return "", false, fmt.Errorf("failed to build SQL for BoundStrategy: %w", err)
	}
	var name string
	err = q.QueryRowContext(ctx, sqlStr, args...).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &StoreError{Op: "bound strategy", Err: err}
	}
	return name, true, nil
}
