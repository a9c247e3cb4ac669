package imaging

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pigmentdev/pigment/internal/tensor"
)

func TestToImage(t *testing.T) {
	t.Run("rgb values rescaled once", func(t *testing.T) {
		// 2x2 RGB tensor with known values in model range [-1, 1].
		tt := tensor.MustNew(1, 3, 2, 2)
		tt.Data[0] = -1 // R(0,0) -> 0
		tt.Data[1] = 0  // R(0,1) -> 128
		tt.Data[2] = 1  // R(1,0) -> 255

		img, err := ToImage(tt)
		if err != nil {
			t.Fatalf("ToImage: %v", err)
		}
		nrgba, ok := img.(*image.NRGBA)
		if !ok {
			t.Fatalf("expected NRGBA, got %T", img)
		}
		if got := nrgba.Pix[0]; got != 0 {
			t.Fatalf("pixel (0,0) R: got %d want 0", got)
		}
		if got := nrgba.Pix[4]; got != 128 {
			t.Fatalf("pixel (0,1) R: got %d want 128", got)
		}
		if got := nrgba.Pix[nrgba.PixOffset(0, 1)]; got != 255 {
			t.Fatalf("pixel (1,0) R: got %d want 255", got)
		}
	})

	t.Run("out of range values clamped", func(t *testing.T) {
		tt := tensor.MustNew(1, 3, 1, 1)
		tt.Data[0] = 5
		tt.Data[1] = -5

		img, err := ToImage(tt)
		if err != nil {
			t.Fatalf("ToImage: %v", err)
		}
		nrgba := img.(*image.NRGBA)
		if nrgba.Pix[0] != 255 || nrgba.Pix[1] != 0 {
			t.Fatalf("expected clamped pixel, got %v", nrgba.Pix[:3])
		}
	})

	t.Run("grayscale", func(t *testing.T) {
		tt := tensor.MustNew(1, 1, 4, 4)
		img, err := ToImage(tt)
		if err != nil {
			t.Fatalf("ToImage: %v", err)
		}
		if _, ok := img.(*image.Gray); !ok {
			t.Fatalf("expected Gray, got %T", img)
		}
	})

	t.Run("batch rejected", func(t *testing.T) {
		if _, err := ToImage(tensor.MustNew(2, 3, 4, 4)); err == nil {
			t.Fatal("expected error for batched tensor")
		}
	})

	t.Run("unsupported channels rejected", func(t *testing.T) {
		if _, err := ToImage(tensor.MustNew(1, 4, 4, 4)); err == nil {
			t.Fatal("expected error for 4-channel tensor")
		}
	})
}

func TestWritePNG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.png")

	tt := tensor.MustNew(1, 3, 8, 6)
	if err := WritePNG(tt, path); err != nil {
		t.Fatalf("WritePNG: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode written PNG: %v", err)
	}
	if img.Bounds().Dx() != 6 || img.Bounds().Dy() != 8 {
		t.Fatalf("unexpected bounds: %v", img.Bounds())
	}
}

func TestSplit(t *testing.T) {
	tt := tensor.MustNew(3, 4, 2, 2)
	for i := range tt.Data {
		tt.Data[i] = float32(i)
	}

	parts, err := Split(tt)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	stride := 4 * 2 * 2
	for i, p := range parts {
		if p.Shape[0] != 1 {
			t.Fatalf("part %d not a single image: %v", i, p.Shape)
		}
		if p.Data[0] != float32(i*stride) {
			t.Fatalf("part %d starts at %v, want %d", i, p.Data[0], i*stride)
		}
	}
}

func TestPixelDecoder(t *testing.T) {
	tt := tensor.MustNew(1, 3, 2, 2)
	out, err := PixelDecoder{}.Decode(context.Background(), tt)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != tt {
		t.Fatal("PixelDecoder should pass the latent through")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (PixelDecoder{}).Decode(ctx, tt); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
