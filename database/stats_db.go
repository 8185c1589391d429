package database

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	sq "github.com/Masterminds/squirrel"
)

// Stats summarises the store contents.
type Stats struct {
	ImageCount        int64            `json:"image_count"`
	ObjectCount       int64            `json:"object_count"`
	PerClassCounts    map[string]int64 `json:"per_class_counts"`
	MeanSignatureSize float64          `json:"mean_signature_size"`
}

// AggregateStats counts images and objects, breaks objects down per class
// and averages signature_size over objects that carry a signature.
func (s *Store) AggregateStats(ctx context.Context) (Stats, error) {
	stats := Stats{PerClassCounts: map[string]int64{}}

	err := s.withConn(ctx, "aggregate stats", func(q Querier) error {
		if err := scalar(ctx, q, psql.Select("COUNT(*)").From("images"), &stats.ImageCount); err != nil {
			return err
		}
		if err := scalar(ctx, q, psql.Select("COUNT(*)").From("objects"), &stats.ObjectCount); err != nil {
			return err
		}

		var mean sql.NullFloat64
		meanQuery := psql.Select("AVG(signature_size)").From("objects").Where(sq.Gt{"signature_size": 0})
		if err := scalar(ctx, q, meanQuery, &mean); err != nil {
			return err
		}
		if mean.Valid {
			stats.MeanSignatureSize = math.Round(mean.Float64*100) / 100
		}

		sqlStr, args, err := psql.Select("object_class", "COUNT(*)").
			From("objects").
			GroupBy("object_class").
			OrderBy("object_class ASC").
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build SQL for per-class counts: %w", err)
		}
		rows, err := q.QueryContext(ctx, sqlStr, args...)
		if err != nil {
			return &StoreError{Op: "aggregate stats", Err: err}
		}
		defer rows.Close()
		for rows.Next() {
			var class string
			var count int64
			if err := rows.Scan(&class, &count); err != nil {
				return &StoreError{Op: "aggregate stats", Err: err}
			}
			stats.PerClassCounts[class] = count
		}
		if err := rows.Err(); err != nil {
			return &StoreError{Op: "aggregate stats", Err: err}
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func scalar(ctx context.Context, q Querier, b sq.SelectBuilder, dest any) error {
	sqlStr, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build SQL for aggregate: %w", err)
	}
	if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(dest); err != nil {
		return &StoreError{Op: "aggregate stats", Err: err}
	}
	return nil
}
