package api

// GenerationRequest is the body of POST /v1/images/generations.
type GenerationRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	Seed           *int64  `json:"seed,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	GuidanceScale  float32 `json:"guidance_scale,omitempty"`
	Batch          int     `json:"batch,omitempty"`
}

// GeneratedImage is one finished image: the seed that produced it and the
// PNG bytes, base64-encoded.
type GeneratedImage struct {
	Seed int64  `json:"seed"`
	PNG  string `json:"png_b64"`
}

// GenerationResponse is the reply to a generation request.
type GenerationResponse struct {
	ID      string           `json:"id"`
	Created int64            `json:"created"`
	Steps   int              `json:"steps"`
	Images  []GeneratedImage `json:"images"`
}

// ModelInfo describes the model the server is driving.
type ModelInfo struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	Scheduler string `json:"scheduler,omitempty"`
}

// ModelList is the reply to GET /v1/models.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

type errorBody struct {
	Error string `json:"error"`
}
