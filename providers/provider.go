package providers

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnsupportedRequest is returned when a provider receives a request variant
// it does not know how to send.
var ErrUnsupportedRequest = errors.New("unsupported request variant")

// Request is the closed set of provider request shapes. Each variant belongs
// to one family of model parameters.
type Request interface {
	// ModelID is the provider-side model identifier.
	ModelID() string
	isRequest()
}

// InstructionEdit edits an inline image following a natural-language
// instruction (fal.ai HiDream-E1-1 and similar).
type InstructionEdit struct {
	Model               string
	ImageURL            string // data URI or http(s) URL
	EditInstruction     string
	NegativePrompt      string
	NumInferenceSteps   int
	GuidanceScale       float64
	EnableSafetyChecker bool
	OutputFormat        string
}

// PromptEdit edits hosted images with a prompt (fal.ai Seedream edit,
// Pollinations kontext).
type PromptEdit struct {
	Model               string
	Prompt              string
	ImageURLs           []string
	EnableSafetyChecker bool
}

// TaskEdit is submitted as an asynchronous task and awaited (ModelScope).
type TaskEdit struct {
	Model    string
	Prompt   string
	ImageURL string
}

// Img2Img sends raw image bytes to a diffusion img2img model (Cloudflare).
type Img2Img struct {
	Model          string
	Prompt         string
	NegativePrompt string
	Image          []byte
	Strength       float64
	Guidance       float64
	NumSteps       int
}

func (r InstructionEdit) ModelID() string { return r.Model }
func (r PromptEdit) ModelID() string      { return r.Model }
func (r TaskEdit) ModelID() string        { return r.Model }
func (r Img2Img) ModelID() string         { return r.Model }

func (InstructionEdit) isRequest() {}
func (PromptEdit) isRequest()      {}
func (TaskEdit) isRequest()        {}
func (Img2Img) isRequest()         {}

// Image is one produced image reference: an http(s) URL or an inline data URI.
type Image struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

// Response is the provider result. Raw keeps the undecoded payload for
// diagnostics and is never returned to clients as the result.
type Response struct {
	Images []Image
	Raw    json.RawMessage
}

// ImageProvider is the interface that all AI providers must implement.
type ImageProvider interface {
	// Name returns the name of the provider (e.g., "fal").
	Name() string
	// HasCredentials reports whether an access credential is configured.
	HasCredentials() bool
	// Invoke performs exactly one generation call and waits for its result.
	Invoke(ctx context.Context, req Request) (*Response, error)
}
