package media

import (
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
)

func createPatternImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 10), B: 100, A: 255})
		}
	}
	return img
}

func TestRegionFilename(t *testing.T) {
	tests := []struct {
		path  string
		index int
		conf  float64
		want  string
	}{
		{"/data/IMG_0001.JPG", 0, 0.8765, "IMG_0001_obj_000_conf0.88.jpg"},
		{"photo.v2.png", 12, 0.5, "photo.v2_obj_012_conf0.50.jpg"},
		{"a.webp", 999, 1, "a_obj_999_conf1.00.jpg"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			if got := RegionFilename(tc.path, tc.index, tc.conf); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestIsRasterImage(t *testing.T) {
	for name, want := range map[string]bool{
		"a.JPG": true, "b.jpeg": true, "c.Png": true, "d.bmp": true,
		"e.TIFF": true, "f.webp": true, "g.gif": false, "h.txt": false, "noext": false,
	} {
		if got := IsRasterImage(name); got != want {
			t.Errorf("IsRasterImage(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestListImagesIsFlatAndNatural(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"img10.jpg", "img2.PNG", "img1.jpeg", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "nested", "img0.jpg"), []byte("x"), 0644)

	paths, err := ListImages(dir)
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	want := []string{"img1.jpeg", "img2.PNG", "img10.jpg"}
	if len(paths) != len(want) {
		t.Fatalf("expected %d images, got %v", len(want), paths)
	}
	for i, p := range paths {
		if filepath.Base(p) != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], filepath.Base(p))
		}
	}
}

func TestCropClampsToBounds(t *testing.T) {
	img := createPatternImage(20, 10)

	out, err := Crop(img, image.Rect(15, 5, 30, 30))
	if err != nil {
		t.Fatalf("Crop: %v", err)
	}
	if out.Bounds() != image.Rect(0, 0, 5, 5) {
		t.Fatalf("expected 5x5 crop at origin, got %v", out.Bounds())
	}
	r, g, _, _ := out.At(0, 0).RGBA()
	if uint8(r>>8) != 150 || uint8(g>>8) != 50 {
		t.Fatalf("crop does not start at (15,5): r=%d g=%d", r>>8, g>>8)
	}

	if _, err := Crop(img, image.Rect(40, 40, 50, 50)); err == nil {
		t.Fatal("expected error for a box outside the image")
	}
}

func TestProcessorSaveRegion(t *testing.T) {
	base := t.TempDir()
	store, err := NewLocalStorage(base, map[AssetType]string{AssetTypeObject: "extracted_objects"})
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	p := NewProcessor(store, AssetTypeObject)

	path, err := p.SaveRegion(createPatternImage(12, 8), "a_obj_000_conf0.90.jpg")
	if err != nil {
		t.Fatalf("SaveRegion: %v", err)
	}
	if path != filepath.Join(base, "extracted_objects", "a_obj_000_conf0.90.jpg") {
		t.Fatalf("unexpected path %s", path)
	}
	decoded, err := imaging.Open(path)
	if err != nil {
		t.Fatalf("saved region is not a readable JPEG: %v", err)
	}
	if decoded.Bounds().Dx() != 12 || decoded.Bounds().Dy() != 8 {
		t.Fatalf("unexpected saved size %v", decoded.Bounds())
	}

	rc, _, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	io.Copy(io.Discard, rc)
	rc.Close()

	if _, _, err := store.Open(filepath.Join(base, "..", "outside.jpg")); err == nil {
		t.Fatal("expected access outside the store to be denied")
	}
	if _, err := store.Save(AssetTypeObject, "../..", "x.jpg", strings.NewReader("x")); err == nil {
		t.Fatal("expected traversal in dir hint to be rejected")
	}

	if err := store.Clear(AssetTypeObject); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(base, "extracted_objects"))
	if len(entries) != 0 {
		t.Fatalf("expected empty directory after Clear, got %d entries", len(entries))
	}
}

func TestReadMetadataWithoutExif(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.png")
	if err := imaging.Save(createPatternImage(7, 3), path); err != nil {
		t.Fatal(err)
	}
	meta, err := ReadMetadata(path)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if meta.Width == nil || *meta.Width != 7 || meta.Height == nil || *meta.Height != 3 {
		t.Fatalf("unexpected dimensions %+v", meta)
	}
	if meta.TakenAt != nil {
		t.Fatalf("expected no capture time, got %d", *meta.TakenAt)
	}
}
