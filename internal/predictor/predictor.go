// Package predictor abstracts the prediction model the pipeline drives.
// The real network lives out of process behind an HTTP server; tests and
// dry runs use the deterministic stub.
package predictor

import (
	"context"
	"hash/fnv"

	"github.com/pigmentdev/pigment/internal/tensor"
)

// Predictor maps (noisy sample, timestep, conditioning) to the noise
// residual the model believes is present in the sample. conditioning is an
// opaque prompt string; empty means unconditional.
type Predictor interface {
	Predict(ctx context.Context, sample *tensor.Tensor, timestep int, conditioning string) (*tensor.Tensor, error)
}

// Stub is a closed-form Predictor for tests and --dry-run generation. It
// predicts the sample itself as the noise, shifted by a small
// conditioning-dependent bias so guided and unguided calls differ.
type Stub struct{}

func (Stub) Predict(ctx context.Context, sample *tensor.Tensor, timestep int, conditioning string) (*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := sample.Clone()
	if conditioning != "" {
		h := fnv.New32a()
		_, _ = h.Write([]byte(conditioning))
		bias := float32(h.Sum32()%1000)/1000*0.02 - 0.01
		for i := range out.Data {
			out.Data[i] += bias
		}
	}
	return out, nil
}
