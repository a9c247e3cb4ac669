package predictor

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"

	"github.com/pigmentdev/pigment/internal/tensor"
)

// Client talks to an external prediction server over HTTP. The server owns
// the UNet forward pass and the VAE; pigment only ships tensors back and
// forth. Client satisfies both Predictor and the pipeline's Decoder.
type Client struct {
	http *resty.Client
}

// NewClient builds a client for a prediction server base URL, e.g.
// "http://127.0.0.1:7860".
func NewClient(baseURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{http: c}
}

type tensorPayload struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

func toPayload(t *tensor.Tensor) tensorPayload {
	return tensorPayload{Shape: t.Shape, Data: t.Data}
}

func (p tensorPayload) tensor() (*tensor.Tensor, error) {
	return tensor.FromData(p.Data, p.Shape...)
}

type predictRequest struct {
	Sample       tensorPayload `json:"sample"`
	Timestep     int           `json:"timestep"`
	Conditioning string        `json:"conditioning,omitempty"`
}

type predictResponse struct {
	Residual tensorPayload `json:"residual"`
}

type decodeRequest struct {
	Latent tensorPayload `json:"latent"`
}

type decodeResponse struct {
	Image tensorPayload `json:"image"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) Predict(ctx context.Context, sample *tensor.Tensor, timestep int, conditioning string) (*tensor.Tensor, error) {
	req := predictRequest{
		Sample:       toPayload(sample),
		Timestep:     timestep,
		Conditioning: conditioning,
	}
	var resp predictResponse
	if err := c.post(ctx, "/v1/predict", req, &resp); err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	residual, err := resp.Residual.tensor()
	if err != nil {
		return nil, fmt.Errorf("predict: malformed residual: %w", err)
	}
	if !residual.SameShape(sample) {
		return nil, fmt.Errorf("predict: residual shape %v does not match sample shape %v: %w",
			residual.Shape, sample.Shape, tensor.ErrShapeMismatch)
	}
	return residual, nil
}

// Decode asks the server's VAE to turn a latent into pixel space.
func (c *Client) Decode(ctx context.Context, latent *tensor.Tensor) (*tensor.Tensor, error) {
	var resp decodeResponse
	if err := c.post(ctx, "/v1/decode", decodeRequest{Latent: toPayload(latent)}, &resp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	img, err := resp.Image.tensor()
	if err != nil {
		return nil, fmt.Errorf("decode: malformed image: %w", err)
	}
	return img, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		var e errorResponse
		if json.Unmarshal(resp.Body(), &e) == nil && e.Error != "" {
			return fmt.Errorf("server returned %s: %s", resp.Status(), e.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status())
	}
	return json.Unmarshal(resp.Body(), out)
}

// WaitReady polls the server's health endpoint until it answers or the
// attempts are exhausted. Model servers routinely take a while to map
// weights, so startup probes are retried with backoff.
func (c *Client) WaitReady(ctx context.Context, attempts uint) error {
	return retry.Do(
		func() error {
			resp, err := c.http.R().SetContext(ctx).Get("/healthz")
			if err != nil {
				return err
			}
			if resp.IsError() {
				return fmt.Errorf("health check returned %s", resp.Status())
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}
