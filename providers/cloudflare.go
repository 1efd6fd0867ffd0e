package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"photoart/datauri"

	"github.com/rs/zerolog"
)

const (
	CloudflareName                = "cloudflare"
	defaultCloudflareAPIURLFormat = "https://api.cloudflare.com/client/v4/accounts/%s/ai/run/%s"
)

// CloudflareProvider implements the ImageProvider for Cloudflare Workers AI.
// Its img2img models answer with image bytes, which are returned inline.
type CloudflareProvider struct {
	Client       *http.Client
	AccountID    string
	APIToken     string
	APIURLFormat string
	log          zerolog.Logger
}

// NewCloudflareProvider creates a new Cloudflare client.
func NewCloudflareProvider(accountID, apiToken string, log zerolog.Logger) *CloudflareProvider {
	return &CloudflareProvider{
		Client:       &http.Client{},
		AccountID:    accountID,
		APIToken:     apiToken,
		APIURLFormat: defaultCloudflareAPIURLFormat,
		log:          log,
	}
}

func (p *CloudflareProvider) Name() string {
	return CloudflareName
}

func (p *CloudflareProvider) HasCredentials() bool {
	return strings.TrimSpace(p.AccountID) != "" && strings.TrimSpace(p.APIToken) != ""
}

// cloudflareImg2ImgPayload matches the img2img input schema; the image is an
// array of byte values.
type cloudflareImg2ImgPayload struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Image          []int   `json:"image"`
	Strength       float64 `json:"strength,omitempty"`
	Guidance       float64 `json:"guidance,omitempty"`
	NumSteps       int     `json:"num_steps,omitempty"`
}

// cloudflareImageResponse matches the JSON envelope returned on errors and by
// models that answer with base64 image data.
type cloudflareImageResponse struct {
	Result struct {
		Image string `json:"image"`
	} `json:"result"`
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Invoke runs the img2img model once.
func (p *CloudflareProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	r, ok := req.(Img2Img)
	if !ok {
		return nil, fmt.Errorf("cloudflare: %w: %T", ErrUnsupportedRequest, req)
	}

	image := make([]int, len(r.Image))
	for i, b := range r.Image {
		image[i] = int(b)
	}
	payload := cloudflareImg2ImgPayload{
		Prompt:         r.Prompt,
		NegativePrompt: r.NegativePrompt,
		Image:          image,
		Strength:       r.Strength,
		Guidance:       r.Guidance,
		NumSteps:       r.NumSteps,
	}

	p.log.Info().
		Str("provider", p.Name()).
		Str("model", r.Model).
		Str("prompt", r.Prompt).
		Int("image_bytes", len(r.Image)).
		Msg("calling provider")

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: failed to marshal payload: %w", err)
	}

	apiURL := fmt.Sprintf(p.APIURLFormat, p.AccountID, r.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("cloudflare: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIToken)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: failed to call external API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cloudflare: API returned non-200 status: %d, body: %s", resp.StatusCode, string(body))
	}

	contentType := datauri.NormalizeType(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(contentType, "image/") {
		if len(body) == 0 {
			return &Response{}, nil
		}
		return &Response{
			Images: []Image{{URL: datauri.Encode(contentType, body), ContentType: contentType}},
			Raw:    json.RawMessage(fmt.Sprintf(`{"content_type":%q,"bytes":%d}`, contentType, len(body))),
		}, nil
	}

	// Assume JSON response for other cases
	var imageResp cloudflareImageResponse
	if err := json.Unmarshal(body, &imageResp); err != nil {
		return nil, fmt.Errorf("cloudflare: failed to decode json response body: %w", err)
	}
	if !imageResp.Success || len(imageResp.Errors) > 0 {
		if len(imageResp.Errors) > 0 {
			return nil, fmt.Errorf("cloudflare: API error: %s", imageResp.Errors[0].Message)
		}
		return nil, fmt.Errorf("cloudflare: API reported failure but returned no error details")
	}

	out := &Response{Raw: json.RawMessage(body)}
	if imageResp.Result.Image != "" {
		data, err := base64.StdEncoding.DecodeString(imageResp.Result.Image)
		if err != nil {
			return nil, fmt.Errorf("cloudflare: failed to decode base64 image data: %w", err)
		}
		out.Images = []Image{{URL: datauri.Encode("image/png", data), ContentType: "image/png"}}
	}
	return out, nil
}
