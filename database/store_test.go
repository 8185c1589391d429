package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/camden-git/objectmatch/models"
	"github.com/camden-git/objectmatch/signature"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "features.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func region(class string, conf float64, sig signature.Signature) models.Region {
	return models.Region{
		ObjectClass:     class,
		Confidence:      conf,
		BBox:            models.BBox{X1: 1, Y1: 2, X2: 30, Y2: 40},
		ObjectImagePath: "extracted_objects/a_obj_000_conf0.90.jpg",
		Signature:       sig,
	}
}

func embedding(n int) signature.Embedding {
	e := make(signature.Embedding, n)
	e[0] = 1
	return e
}

func TestInsertObjectRequiresExistingImage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertObject(ctx, 42, region("clipper", 0.9, embedding(8)))
	if err == nil {
		t.Fatal("expected error for missing image")
	}
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected *StoreError, got %T: %v", err, err)
	}
	if !errors.Is(err, ErrImageNotFound) {
		t.Fatalf("expected ErrImageNotFound, got %v", err)
	}
}

func TestInsertAssignsAscendingIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.InsertImage(ctx, "a.jpg", "/data/a.jpg", nil)
	if err != nil {
		t.Fatalf("InsertImage: %v", err)
	}
	second, err := s.InsertImage(ctx, "b.jpg", "/data/b.jpg", nil)
	if err != nil {
		t.Fatalf("InsertImage: %v", err)
	}
	if second <= first {
		t.Fatalf("expected ascending ids, got %d then %d", first, second)
	}
}

func TestSignatureSizeZeroIffNull(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	imageID, err := s.InsertImage(ctx, "a.jpg", "/data/a.jpg", nil)
	if err != nil {
		t.Fatalf("InsertImage: %v", err)
	}
	emptySet, _ := signature.NewDescriptorSet(nil)
	inputs := []signature.Signature{nil, emptySet, embedding(16)}
	for _, sig := range inputs {
		if _, err := s.InsertObject(ctx, imageID, region("clipper", 0.5, sig)); err != nil {
			t.Fatalf("InsertObject: %v", err)
		}
	}

	objects, err := s.ListObjects(ctx, ObjectFilter{})
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(objects) != 3 {
		t.Fatalf("expected 3 objects, got %d", len(objects))
	}
	for _, o := range objects {
		if (o.SignatureSize == 0) != (o.Signature == nil) {
			t.Fatalf("object %d: signature_size=%d but blob nil=%v", o.ID, o.SignatureSize, o.Signature == nil)
		}
	}
}

func TestListObjectsOrderAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	imageID, err := s.InsertImage(ctx, "a.jpg", "/data/a.jpg", nil)
	if err != nil {
		t.Fatalf("InsertImage: %v", err)
	}
	type row struct {
		class string
		conf  float64
		size  int
	}
	rows := []row{
		{"clipper", 0.70, 200},
		{"clipper", 0.95, 200},
		{"lighter", 0.80, 200},
		{"clipper", 0.70, 200},
		{"clipper", 0.99, 50},
	}
	ids := make([]int64, len(rows))
	for i, r := range rows {
		id, err := s.InsertObject(ctx, imageID, region(r.class, r.conf, embedding(r.size)))
		if err != nil {
			t.Fatalf("InsertObject: %v", err)
		}
		ids[i] = id
	}

	tests := []struct {
		name   string
		filter ObjectFilter
		want   []int64
	}{
		{"all", ObjectFilter{}, []int64{ids[4], ids[1], ids[2], ids[0], ids[3]}},
		{"class", ObjectFilter{Class: "clipper"}, []int64{ids[4], ids[1], ids[0], ids[3]}},
		{"min size", ObjectFilter{Class: "clipper", MinSignatureSize: 100}, []int64{ids[1], ids[0], ids[3]}},
		{"paged", ObjectFilter{Limit: 2, Offset: 1}, []int64{ids[1], ids[2]}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.ListObjects(ctx, tc.filter)
			if err != nil {
				t.Fatalf("ListObjects: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d objects, got %d", len(tc.want), len(got))
			}
			for i := range got {
				if got[i].ID != tc.want[i] {
					t.Fatalf("position %d: expected id %d, got %d", i, tc.want[i], got[i].ID)
				}
				if got[i].ImageFilename != "a.jpg" || got[i].ImagePath != "/data/a.jpg" {
					t.Fatalf("image join missing: %+v", got[i])
				}
			}
		})
	}

	count, err := s.CountObjects(ctx, ObjectFilter{Class: "clipper", MinSignatureSize: 100, Limit: 1})
	if err != nil {
		t.Fatalf("CountObjects: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}
}

func TestGetObject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	imageID, _ := s.InsertImage(ctx, "a.jpg", "/data/a.jpg", nil)
	objectID, err := s.InsertObject(ctx, imageID, region("clipper", 0.9, embedding(4)))
	if err != nil {
		t.Fatalf("InsertObject: %v", err)
	}

	obj, err := s.GetObject(ctx, objectID)
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if obj.BBox != (models.BBox{X1: 1, Y1: 2, X2: 30, Y2: 40}) {
		t.Fatalf("unexpected bbox %+v", obj.BBox)
	}

	if _, err := s.GetObject(ctx, objectID+100); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestAggregateStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	imageID, _ := s.InsertImage(ctx, "a.jpg", "/data/a.jpg", nil)
	s.InsertImage(ctx, "b.jpg", "/data/b.jpg", nil)
	for _, r := range []models.Region{
		region("clipper", 0.9, embedding(384)),
		region("clipper", 0.8, embedding(385)),
		region("lighter", 0.7, embedding(385)),
		region("lighter", 0.6, nil),
	} {
		if _, err := s.InsertObject(ctx, imageID, r); err != nil {
			t.Fatalf("InsertObject: %v", err)
		}
	}

	stats, err := s.AggregateStats(ctx)
	if err != nil {
		t.Fatalf("AggregateStats: %v", err)
	}
	if stats.ImageCount != 2 || stats.ObjectCount != 4 {
		t.Fatalf("unexpected counts %+v", stats)
	}
	if stats.PerClassCounts["clipper"] != 2 || stats.PerClassCounts["lighter"] != 2 {
		t.Fatalf("unexpected per-class counts %v", stats.PerClassCounts)
	}
	if stats.MeanSignatureSize != 384.67 {
		t.Fatalf("expected mean 384.67, got %v", stats.MeanSignatureSize)
	}
}

func TestResetIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	imageID, _ := s.InsertImage(ctx, "a.jpg", "/data/a.jpg", nil)
	s.InsertObject(ctx, imageID, region("clipper", 0.9, embedding(4)))
	if err := s.BindStrategy(ctx, "dinov2_vits14"); err != nil {
		t.Fatalf("BindStrategy: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.Reset(ctx); err != nil {
			t.Fatalf("Reset #%d: %v", i+1, err)
		}
		stats, err := s.AggregateStats(ctx)
		if err != nil {
			t.Fatalf("AggregateStats: %v", err)
		}
		if stats.ImageCount != 0 || stats.ObjectCount != 0 || len(stats.PerClassCounts) != 0 || stats.MeanSignatureSize != 0 {
			t.Fatalf("expected empty stats after reset, got %+v", stats)
		}
	}

	if _, ok, _ := s.BoundStrategy(ctx); ok {
		t.Fatal("expected reset to clear the strategy binding")
	}
}

func TestBindStrategyRejectsMixing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.BindStrategy(ctx, "sift"); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if err := s.BindStrategy(ctx, "sift"); err != nil {
		t.Fatalf("rebinding the same strategy: %v", err)
	}
	err := s.BindStrategy(ctx, "dinov2_vitb14")
	if !errors.Is(err, ErrStrategyMismatch) {
		t.Fatalf("expected ErrStrategyMismatch, got %v", err)
	}

	name, ok, err := s.BoundStrategy(ctx)
	if err != nil || !ok || name != "sift" {
		t.Fatalf("expected bound strategy sift, got %q %v %v", name, ok, err)
	}
}

func TestConcurrentInserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			imageID, err := s.InsertImage(ctx, fmt.Sprintf("img%d.jpg", w), fmt.Sprintf("/data/img%d.jpg", w), nil)
			if err != nil {
				errs <- err
				return
			}
			for i := 0; i < 3; i++ {
				if _, err := s.InsertObject(ctx, imageID, region("clipper", 0.5, embedding(4))); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent insert failed: %v", err)
	}

	stats, err := s.AggregateStats(ctx)
	if err != nil {
		t.Fatalf("AggregateStats: %v", err)
	}
	if stats.ImageCount != workers || stats.ObjectCount != workers*3 {
		t.Fatalf("unexpected counts %+v", stats)
	}
}
