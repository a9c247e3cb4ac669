// Package imaging owns the hand-off after the denoising loop: decoding the
// final latent through an external VAE and converting the pixel tensor to
// an image file.
package imaging

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/pigmentdev/pigment/internal/tensor"
)

// Decoder is the external decode collaborator the pipeline hands its final
// sample to. The HTTP predictor client satisfies this; PixelDecoder covers
// pixel-space schedulers and tests.
type Decoder interface {
	Decode(ctx context.Context, latent *tensor.Tensor) (*tensor.Tensor, error)
}

// PixelDecoder treats the sample as already being in pixel space.
type PixelDecoder struct{}

func (PixelDecoder) Decode(ctx context.Context, latent *tensor.Tensor) (*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return latent, nil
}

// ToImage converts a decoded [N,C,H,W] or [C,H,W] tensor in model range
// [-1, 1] to an 8-bit image. The value rescale (x/2 + 0.5, then clamp) is
// applied here and nowhere else. One and three channel tensors are
// supported; batches are rejected so callers split them first.
func ToImage(t *tensor.Tensor) (image.Image, error) {
	n, c, h, w, err := t.NCHW()
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, fmt.Errorf("imaging: expected a single image, got batch of %d", n)
	}

	plane := h * w
	at := func(ch, y, x int) uint8 {
		v := t.Data[ch*plane+y*w+x]/2 + 0.5
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		return uint8(v*255 + 0.5)
	}

	switch c {
	case 1:
		img := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetGray(x, y, color.Gray{Y: at(0, y, x)})
			}
		}
		return img, nil
	case 3:
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := img.PixOffset(x, y)
				img.Pix[i+0] = at(0, y, x)
				img.Pix[i+1] = at(1, y, x)
				img.Pix[i+2] = at(2, y, x)
				img.Pix[i+3] = 255
			}
		}
		return img, nil
	default:
		return nil, fmt.Errorf("imaging: unsupported channel count %d", c)
	}
}

// WritePNG encodes the tensor and writes it to path.
func WritePNG(t *tensor.Tensor, path string) error {
	img, err := ToImage(t)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("imaging: create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("imaging: encode %s: %w", path, err)
	}
	return f.Close()
}

// Split separates a batched [N,C,H,W] tensor into N single-image tensors.
func Split(t *tensor.Tensor) ([]*tensor.Tensor, error) {
	n, c, h, w, err := t.NCHW()
	if err != nil {
		return nil, err
	}
	stride := c * h * w
	out := make([]*tensor.Tensor, n)
	for i := 0; i < n; i++ {
		img, err := tensor.FromData(t.Data[i*stride:(i+1)*stride], 1, c, h, w)
		if err != nil {
			return nil, err
		}
		out[i] = img
	}
	return out, nil
}
