package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"photoart/datauri"

	"github.com/rs/zerolog"
)

const (
	PollinationsAIName           = "pollinations"
	defaultPollinationsAIBaseURL = "https://image.pollinations.ai/prompt/"
)

// PollinationsAIProvider implements the ImageProvider for Pollinations.ai.
// The kontext edit model needs a token and a hosted source image; the answer
// is the image itself, which is returned inline.
type PollinationsAIProvider struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
	log     zerolog.Logger
}

// NewPollinationsAIProvider creates a new Pollinations.ai client.
func NewPollinationsAIProvider(apiKey string, log zerolog.Logger) *PollinationsAIProvider {
	return &PollinationsAIProvider{
		APIKey:  apiKey,
		BaseURL: defaultPollinationsAIBaseURL,
		Client:  &http.Client{},
		log:     log,
	}
}

func (p *PollinationsAIProvider) Name() string {
	return PollinationsAIName
}

func (p *PollinationsAIProvider) HasCredentials() bool {
	return strings.TrimSpace(p.APIKey) != ""
}

// Invoke sends one GET request. Unlike the public endpoint's usual clients it
// never retries; a failed attempt is reported as is.
func (p *PollinationsAIProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	r, ok := req.(PromptEdit)
	if !ok {
		return nil, fmt.Errorf("pollinations: %w: %T", ErrUnsupportedRequest, req)
	}
	if len(r.ImageURLs) == 0 || r.ImageURLs[0] == "" {
		return nil, fmt.Errorf("pollinations: model '%s' requires an image URL", r.Model)
	}

	// The prompt is always part of the path, and needs to be path-escaped.
	fullURL := p.BaseURL + url.PathEscape(r.Prompt)

	params := url.Values{}
	params.Add("image", r.ImageURLs[0])
	params.Add("model", r.Model)
	params.Add("nologo", "true")
	params.Add("private", "true")
	params.Add("safe", strconv.FormatBool(r.EnableSafetyChecker))
	fullURL += "?" + params.Encode()

	p.log.Info().
		Str("provider", p.Name()).
		Str("model", r.Model).
		Str("prompt", r.Prompt).
		Msg("calling provider")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("pollinations: failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("pollinations: failed to call external API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pollinations: failed to read image data: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pollinations: API returned non-200 status: %d, body: %s", resp.StatusCode, string(body))
	}

	contentType := datauri.NormalizeType(resp.Header.Get("Content-Type"))
	raw := json.RawMessage(fmt.Sprintf(`{"content_type":%q,"bytes":%d}`, contentType, len(body)))
	if !strings.HasPrefix(contentType, "image/") || len(body) == 0 {
		return &Response{Raw: raw}, nil
	}
	return &Response{
		Images: []Image{{URL: datauri.Encode(contentType, body), ContentType: contentType}},
		Raw:    raw,
	}, nil
}
