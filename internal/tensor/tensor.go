package tensor

import (
	"math"
	"math/rand"
)

// Tensor is a dense float32 buffer with an explicit shape, stored in
// row-major (NCHW for image data) order. It is the unit the pipeline moves
// between scheduler and predictor: samples, residual predictions, and
// decoded images are all Tensors.
//
// Tensors are replaced, never mutated, across pipeline steps. The in-place
// helpers below exist for scheduler internals that own their buffers.
type Tensor struct {
	Shape []int
	Data  []float32
}

var (
	errNegativeDim    = tensorError("negative tensor dimension")
	errShapeOverflow  = tensorError("tensor shape overflows element count")
	errDataMismatch   = tensorError("data length does not match shape")
	errShapeMismatch  = tensorError("tensor shape mismatch")
	errEmptyShape     = tensorError("tensor shape must have at least one dimension")
	errNotImageShaped = tensorError("tensor is not image shaped")
)

type tensorError string

func (e tensorError) Error() string { return string(e) }

// ErrShapeMismatch is the sentinel returned whenever two tensors that must
// agree in shape do not.
var ErrShapeMismatch error = errShapeMismatch

func checkShape(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, errEmptyShape
	}
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, errNegativeDim
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, errShapeOverflow
		}
		n *= d
	}
	return n, nil
}

// New allocates a zero-filled tensor of the given shape.
func New(shape ...int) (*Tensor, error) {
	n, err := checkShape(shape)
	if err != nil {
		return nil, err
	}
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, n),
	}, nil
}

// MustNew is New for shapes known good at compile time; it panics on error.
func MustNew(shape ...int) *Tensor {
	t, err := New(shape...)
	if err != nil {
		panic(err)
	}
	return t
}

// FromData wraps an existing buffer. The slice is retained, not copied.
func FromData(data []float32, shape ...int) (*Tensor, error) {
	n, err := checkShape(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, errDataMismatch
	}
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  data,
	}, nil
}

// Randn allocates a tensor filled with standard-normal values drawn from
// rng. The same rng state always yields the same tensor, which is what
// makes seeded generation reproducible.
func Randn(rng *rand.Rand, shape ...int) (*Tensor, error) {
	t, err := New(shape...)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64())
	}
	return t, nil
}

// Numel returns the total element count.
func (t *Tensor) Numel() int { return len(t.Data) }

// SameShape reports whether t and other have identical shapes.
func (t *Tensor) SameShape(other *Tensor) bool {
	if len(t.Shape) != len(other.Shape) {
		return false
	}
	for i, d := range t.Shape {
		if d != other.Shape[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  make([]float32, len(t.Data)),
	}
	copy(out.Data, t.Data)
	return out
}

// NCHW unpacks an image-shaped tensor's dimensions. It accepts [N,C,H,W]
// and [C,H,W] (treated as batch of one).
func (t *Tensor) NCHW() (n, c, h, w int, err error) {
	switch len(t.Shape) {
	case 4:
		return t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3], nil
	case 3:
		return 1, t.Shape[0], t.Shape[1], t.Shape[2], nil
	default:
		return 0, 0, 0, 0, errNotImageShaped
	}
}
