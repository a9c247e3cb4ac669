// Package api exposes the generation pipeline over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image/png"
	"math/rand"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/pigmentdev/pigment/internal/imaging"
	"github.com/pigmentdev/pigment/internal/logger"
	"github.com/pigmentdev/pigment/internal/pipeline"
)

// Generator is the slice of the pipeline the server drives. *pipeline.Pipeline
// satisfies it.
type Generator interface {
	Run(ctx context.Context, req *pipeline.Request) (*pipeline.Result, error)
	RunBatch(ctx context.Context, req *pipeline.Request, count int) ([]*pipeline.Result, error)
}

// Limits bound what one request may ask for.
type Limits struct {
	MaxSteps int
	MaxSize  int
	MaxBatch int
}

// DefaultLimits mirror what a single-GPU prediction server can take.
func DefaultLimits() Limits {
	return Limits{MaxSteps: 1000, MaxSize: 2048, MaxBatch: 8}
}

type Server struct {
	gen       Generator
	model     string
	scheduler string
	limits    Limits
	limiter   *clientLimiter
	log       logger.Logger
	seedSrc   func() int64
}

// NewServer builds the API server. model and schedulerKind are reported by
// GET /v1/models; rps bounds per-client request rates (0 disables).
func NewServer(gen Generator, model, schedulerKind string, limits Limits, rps float64, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	var limiter *clientLimiter
	if rps > 0 {
		limiter = newClientLimiter(rps)
	}
	seedRng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Server{
		gen:       gen,
		model:     model,
		scheduler: schedulerKind,
		limits:    limits,
		limiter:   limiter,
		log:       log,
		seedSrc:   func() int64 { return seedRng.Int63() },
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/images/generations", s.handleGenerate)
	e.GET("/v1/models", s.handleListModels)
	e.GET("/healthz", s.handleHealth)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListModels(c *echo.Context) error {
	return c.JSON(http.StatusOK, ModelList{
		Object: "list",
		Data: []ModelInfo{
			{ID: s.model, Object: "model", Scheduler: s.scheduler},
		},
	})
}

func (s *Server) handleGenerate(c *echo.Context) error {
	if s.limiter != nil && !s.limiter.allow(c.RealIP()) {
		return c.JSON(http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
	}

	var req GenerationRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "malformed request body"})
	}

	pReq, batch, err := s.toPipelineRequest(&req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
	}

	id := "gen_" + uuid.NewString()
	log := s.log.With("request_id", id)
	log.Info("generation requested",
		"steps", pReq.Steps, "batch", batch, "size", req.Width, "seed", pReq.Seed)

	results, err := s.gen.RunBatch(c.Request().Context(), pReq, batch)
	if err != nil {
		log.Error("generation failed", "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
	}

	resp := GenerationResponse{
		ID:      id,
		Created: time.Now().Unix(),
		Steps:   pReq.Steps,
		Images:  make([]GeneratedImage, 0, len(results)),
	}
	for _, res := range results {
		encoded, err := encodePNG(res)
		if err != nil {
			log.Error("image encode failed", "error", err)
			return c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
		}
		resp.Images = append(resp.Images, GeneratedImage{Seed: res.Seed, PNG: encoded})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) toPipelineRequest(req *GenerationRequest) (*pipeline.Request, int, error) {
	if req.Prompt == "" {
		return nil, 0, newInvalidRequest("prompt is required")
	}

	steps := req.Steps
	if steps == 0 {
		steps = 50
	}
	if steps < 1 || steps > s.limits.MaxSteps {
		return nil, 0, newInvalidRequest("steps out of range")
	}

	width, height := req.Width, req.Height
	if width == 0 {
		width = 512
	}
	if height == 0 {
		height = 512
	}
	if width < 8 || height < 8 || width > s.limits.MaxSize || height > s.limits.MaxSize {
		return nil, 0, newInvalidRequest("width or height out of range")
	}

	batch := req.Batch
	if batch == 0 {
		batch = 1
	}
	if batch < 1 || batch > s.limits.MaxBatch {
		return nil, 0, newInvalidRequest("batch out of range")
	}

	seed := s.seedSrc()
	if req.Seed != nil {
		seed = *req.Seed
	}

	return &pipeline.Request{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Steps:          steps,
		Seed:           seed,
		Width:          width,
		Height:         height,
		Channels:       3,
		GuidanceScale:  req.GuidanceScale,
	}, batch, nil
}

func encodePNG(res *pipeline.Result) (string, error) {
	img, err := imaging.ToImage(res.Image)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
