package tensor

// Element-wise helpers used by the schedulers and guidance. All of them
// check shapes up front and allocate a fresh result; none touch their
// operands.

// Scale returns s * t.
func Scale(t *Tensor, s float32) *Tensor {
	out := t.Clone()
	for i := range out.Data {
		out.Data[i] *= s
	}
	return out
}

// AddScaled returns a + s*b.
func AddScaled(a, b *Tensor, s float32) (*Tensor, error) {
	if !a.SameShape(b) {
		return nil, ErrShapeMismatch
	}
	out := a.Clone()
	for i, v := range b.Data {
		out.Data[i] += s * v
	}
	return out, nil
}

// Sub returns a - b.
func Sub(a, b *Tensor) (*Tensor, error) {
	return AddScaled(a, b, -1)
}

// Lerp returns a + s*(b-a), the guidance merge used for classifier-free
// guidance (a = unconditional, b = conditional, s = guidance scale).
func Lerp(a, b *Tensor, s float32) (*Tensor, error) {
	if !a.SameShape(b) {
		return nil, ErrShapeMismatch
	}
	out := a.Clone()
	for i := range out.Data {
		out.Data[i] += s * (b.Data[i] - a.Data[i])
	}
	return out, nil
}
