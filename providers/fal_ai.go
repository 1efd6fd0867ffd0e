package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

const (
	FalAIName          = "fal"
	defaultFalAIAPIURL = "https://fal.run/"
)

// FalAIProvider implements the ImageProvider for Fal.ai synchronous runs.
type FalAIProvider struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
	log     zerolog.Logger
}

// NewFalAIProvider creates a new Fal.ai client.
func NewFalAIProvider(apiKey string, log zerolog.Logger) *FalAIProvider {
	return &FalAIProvider{
		APIKey:  apiKey,
		BaseURL: defaultFalAIAPIURL,
		Client:  &http.Client{},
		log:     log,
	}
}

func (p *FalAIProvider) Name() string {
	return FalAIName
}

func (p *FalAIProvider) HasCredentials() bool {
	return strings.TrimSpace(p.APIKey) != ""
}

type falAIInstructionPayload struct {
	ImageURL            string  `json:"image_url"`
	EditInstruction     string  `json:"edit_instruction"`
	NegativePrompt      string  `json:"negative_prompt,omitempty"`
	NumInferenceSteps   int     `json:"num_inference_steps,omitempty"`
	GuidanceScale       float64 `json:"guidance_scale,omitempty"`
	EnableSafetyChecker bool    `json:"enable_safety_checker"`
	OutputFormat        string  `json:"output_format,omitempty"`
}

type falAIPromptPayload struct {
	Prompt              string   `json:"prompt"`
	ImageURLs           []string `json:"image_urls"`
	EnableSafetyChecker bool     `json:"enable_safety_checker"`
}

type falAIAPIResponse struct {
	Images []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"images"`
}

// Invoke sends one request to fal.run/<model> and decodes the image list.
func (p *FalAIProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	var payload any
	var logPayload any
	switch r := req.(type) {
	case InstructionEdit:
		body := falAIInstructionPayload{
			ImageURL:            r.ImageURL,
			EditInstruction:     r.EditInstruction,
			NegativePrompt:      r.NegativePrompt,
			NumInferenceSteps:   r.NumInferenceSteps,
			GuidanceScale:       r.GuidanceScale,
			EnableSafetyChecker: r.EnableSafetyChecker,
			OutputFormat:        r.OutputFormat,
		}
		payload = body
		body.ImageURL = redactImageURL(body.ImageURL)
		logPayload = body
	case PromptEdit:
		body := falAIPromptPayload{
			Prompt:              r.Prompt,
			ImageURLs:           r.ImageURLs,
			EnableSafetyChecker: r.EnableSafetyChecker,
		}
		payload = body
		logPayload = body
	default:
		return nil, fmt.Errorf("fal_ai: %w: %T", ErrUnsupportedRequest, req)
	}

	p.log.Info().Str("provider", p.Name()).Str("model", req.ModelID()).Interface("payload", logPayload).Msg("calling provider")

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("fal_ai: failed to marshal payload: %w", err)
	}

	apiURL := strings.TrimRight(p.BaseURL, "/") + "/" + strings.TrimLeft(req.ModelID(), "/")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("fal_ai: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Key "+p.APIKey)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fal_ai: failed to call external API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fal_ai: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fal_ai: API returned non-200 status: %d, body: %s", resp.StatusCode, string(body))
	}

	var apiResp falAIAPIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("fal_ai: failed to decode response: %w", err)
	}

	out := &Response{Raw: json.RawMessage(body)}
	for _, img := range apiResp.Images {
		out.Images = append(out.Images, Image{URL: img.URL, ContentType: img.ContentType})
	}
	return out, nil
}

// redactImageURL replaces inline payloads so logs carry only their size.
func redactImageURL(u string) string {
	if strings.HasPrefix(u, "data:") {
		return fmt.Sprintf("<data uri, %d chars>", len(u))
	}
	return u
}
