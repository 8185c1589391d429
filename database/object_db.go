package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/camden-git/objectmatch/models"
	"github.com/camden-git/objectmatch/signature"
)

// ImageMeta carries the optional columns of an image row.
type ImageMeta struct {
	Width   *int
	Height  *int
	TakenAt *int64
}

// Object is an object row joined with its owning image. The raw signature
// blob is kept for scoring and never serialised.
type Object struct {
	ID              int64       `json:"id"`
	ImageID         int64       `json:"image_id"`
	ObjectClass     string      `json:"object_class"`
	Confidence      float64     `json:"confidence"`
	BBox            models.BBox `json:"bbox"`
	ObjectImagePath string      `json:"object_image_path"`
	SignatureSize   int         `json:"signature_size"`
	CreatedAt       int64       `json:"created_at"`
	ImageFilename   string      `json:"image_filename"`
	ImagePath       string      `json:"image_path"`
	Signature       []byte      `json:"-"`
}

// ObjectFilter selects objects for ListObjects and CountObjects. An empty
// Class matches every class; Limit 0 means no limit.
type ObjectFilter struct {
	Class            string
	MinSignatureSize int
	Limit            int
	Offset           int
}

// InsertImage records a source image and returns its new id.
func (s *Store) InsertImage(ctx context.Context, filename, path string, meta *ImageMeta) (int64, error) {
	var width, height *int
	var takenAt *int64
	if meta != nil {
		width, height, takenAt = meta.Width, meta.Height, meta.TakenAt
	}

	queryBuilder := psql.Insert("images").
		Columns("filename", "filepath", "width", "height", "taken_at", "created_at").
		Values(filename, filepath.ToSlash(path), width, height, takenAt, time.Now().Unix()).
		Suffix("RETURNING id")
	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build SQL for InsertImage: %w", err)
	}

	var imageID int64
	err = s.withConn(ctx, "insert image", func(q Querier) error {
		if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(&imageID); err != nil {
			return &StoreError{Op: "insert image", Err: err}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return imageID, nil
}

// InsertObject persists one region under imageID. The signature is encoded
// to a BLOB, or stored as NULL with size 0 when absent or empty.
func (s *Store) InsertObject(ctx context.Context, imageID int64, region models.Region) (int64, error) {
	blob, err := signature.Encode(region.Signature)
	if err != nil {
		return 0, &StoreError{Op: "insert object", Err: err}
	}
	var sigValue any
	size := 0
	if blob != nil {
		sigValue = blob
		size = region.SignatureSize()
	}

	queryBuilder := psql.Insert("objects").
		Columns("image_id", "object_class", "confidence",
			"bbox_x1", "bbox_y1", "bbox_x2", "bbox_y2",
			"object_image_path", "signature", "signature_size", "created_at").
		Values(imageID, region.ObjectClass, region.Confidence,
			region.BBox.X1, region.BBox.Y1, region.BBox.X2, region.BBox.Y2,
			filepath.ToSlash(region.ObjectImagePath), sigValue, size, time.Now().Unix()).
		Suffix("RETURNING id")
	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build SQL for InsertObject: %w", err)
	}

	var objectID int64
	err = s.withTx(ctx, "insert object", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM images WHERE id = ?", imageID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return &StoreError{Op: "insert object", Err: fmt.Errorf("%w: id %d", ErrImageNotFound, imageID)}
		}
		if err != nil {
			return &StoreError{Op: "insert object", Err: err}
		}
		if err := tx.QueryRowContext(ctx, sqlStr, args...).Scan(&objectID); err != nil {
			return &StoreError{Op: "insert object", Err: err}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return objectID, nil
}

func objectSelect() sq.SelectBuilder {
	return psql.Select(
		"o.id", "o.image_id", "o.object_class", "o.confidence",
		"o.bbox_x1", "o.bbox_y1", "o.bbox_x2", "o.bbox_y2",
		"o.object_image_path", "o.signature", "o.signature_size", "o.created_at",
		"i.filename", "i.filepath",
	).
		From("objects o").
		Join("images i ON o.image_id = i.id")
}

func applyFilter(b sq.SelectBuilder, f ObjectFilter) sq.SelectBuilder {
	b = b.Where(sq.GtOrEq{"o.signature_size": f.MinSignatureSize})
	if f.Class != "" {
		b = b.Where(sq.Eq{"o.object_class": f.Class})
	}
	return b
}

func scanObjectRow(scanner interface {
	Scan(dest ...interface{}) error
}) (Object, error) {
	var o Object
	err := scanner.Scan(
		&o.ID, &o.ImageID, &o.ObjectClass, &o.Confidence,
		&o.BBox.X1, &o.BBox.Y1, &o.BBox.X2, &o.BBox.Y2,
		&o.ObjectImagePath, &o.Signature, &o.SignatureSize, &o.CreatedAt,
		&o.ImageFilename, &o.ImagePath,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Object{}, sql.ErrNoRows
		}
		return Object{}, fmt.Errorf("failed to scan object row: %w", err)
	}
	return o, nil
}

// ListObjects returns the objects matching f joined with their image,
// ordered by confidence descending with insertion order breaking ties.
func (s *Store) ListObjects(ctx context.Context, f ObjectFilter) ([]Object, error) {
	queryBuilder := applyFilter(objectSelect(), f).
		OrderBy("o.confidence DESC", "o.id ASC")
	if f.Limit > 0 {
		queryBuilder = queryBuilder.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		queryBuilder = queryBuilder.Offset(uint64(f.Offset))
	}
	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for ListObjects: %w", err)
	}

	objects := []Object{}
	err = s.withConn(ctx, "list objects", func(q Querier) error {
		rows, err := q.QueryContext(ctx, sqlStr, args...)
		if err != nil {
			return &StoreError{Op: "list objects", Err: err}
		}
		defer rows.Close()
		for rows.Next() {
			obj, err := scanObjectRow(rows)
			if err != nil {
				log.Printf("store: skipping unreadable object row: %v", err)
				continue
			}
			objects = append(objects, obj)
		}
		if err := rows.Err(); err != nil {
			return &StoreError{Op: "list objects", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

// CountObjects returns how many objects match f, ignoring Limit and Offset.
func (s *Store) CountObjects(ctx context.Context, f ObjectFilter) (int64, error) {
	queryBuilder := applyFilter(psql.Select("COUNT(*)").From("objects o"), f)
	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build SQL for CountObjects: %w", err)
	}

	var count int64
	err = s.withConn(ctx, "count objects", func(q Querier) error {
		if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
			return &StoreError{Op: "count objects", Err: err}
		}
		return nil
	})
	return count, err
}

// GetObject fetches a single object by id.
func (s *Store) GetObject(ctx context.Context, objectID int64) (Object, error) {
	sqlStr, args, err := objectSelect().Where(sq.Eq{"o.id": objectID}).Limit(1).ToSql()
	if err != nil {
		return Object{}, fmt.Errorf("failed to build SQL for GetObject: %w", err)
	}

	var obj Object
	err = s.withConn(ctx, "get object", func(q Querier) error {
		var scanErr error
		obj, scanErr = scanObjectRow(q.QueryRowContext(ctx, sqlStr, args...))
		if errors.Is(scanErr, sql.ErrNoRows) {
			return &StoreError{Op: "get object", Err: fmt.Errorf("%w: id %d", ErrObjectNotFound, objectID)}
		}
		if scanErr != nil {
			return &StoreError{Op: "get object", Err: scanErr}
		}
		return nil
	})
	if err != nil {
		return Object{}, err
	}
	return obj, nil
}
