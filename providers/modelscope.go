package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	ModelScopeName            = "modelscope"
	defaultModelScopeBaseURL  = "https://api-inference.modelscope.cn/v1"
	defaultMaxPollingAttempts = 60 // 5 minutes at the default interval
	defaultPollingInterval    = 5 * time.Second
)

// ModelScopeProvider implements the ImageProvider for ModelScope. A request is
// submitted as one async task whose status is then polled until it settles.
type ModelScopeProvider struct {
	APIKey          string
	BaseURL         string
	Client          *http.Client
	PollInterval    time.Duration
	MaxPollAttempts int
	log             zerolog.Logger
}

// NewModelScopeProvider creates a new ModelScope client.
func NewModelScopeProvider(apiKey string, log zerolog.Logger) *ModelScopeProvider {
	return &ModelScopeProvider{
		APIKey:          apiKey,
		BaseURL:         defaultModelScopeBaseURL,
		Client:          &http.Client{},
		PollInterval:    defaultPollingInterval,
		MaxPollAttempts: defaultMaxPollingAttempts,
		log:             log,
	}
}

func (p *ModelScopeProvider) Name() string {
	return ModelScopeName
}

func (p *ModelScopeProvider) HasCredentials() bool {
	return strings.TrimSpace(p.APIKey) != ""
}

type modelScopeAPIPayload struct {
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
	ImageURL string `json:"image_url,omitempty"`
}

type modelScopeAsyncResponse struct {
	TaskID string `json:"task_id"`
}

type modelScopeErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type modelScopeTaskResponse struct {
	TaskStatus   string                `json:"task_status"`
	OutputImages []string              `json:"output_images"`
	Errors       modelScopeErrorDetail `json:"errors,omitempty"`
}

// Invoke submits the task and waits for it to finish.
func (p *ModelScopeProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	r, ok := req.(TaskEdit)
	if !ok {
		return nil, fmt.Errorf("modelscope: %w: %T", ErrUnsupportedRequest, req)
	}
	payload := modelScopeAPIPayload{
		Model:    r.Model,
		Prompt:   r.Prompt,
		ImageURL: r.ImageURL,
	}
	p.log.Info().Str("provider", p.Name()).Str("model", r.Model).Interface("payload", payload).Msg("calling provider")

	taskID, err := p.submit(ctx, payload)
	if err != nil {
		return nil, err
	}
	p.log.Info().Str("task_id", taskID).Msg("modelscope task submitted")

	return p.await(ctx, taskID)
}

func (p *ModelScopeProvider) submit(ctx context.Context, payload modelScopeAPIPayload) (string, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("modelscope: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/images/generations", bytes.NewReader(payloadBytes))
	if err != nil {
		return "", fmt.Errorf("modelscope: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("X-ModelScope-Async-Mode", "true")

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("modelscope: failed to call generation API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("modelscope: generation API returned non-200 status: %d, body: %s", resp.StatusCode, string(body))
	}

	var asyncResp modelScopeAsyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&asyncResp); err != nil {
		return "", fmt.Errorf("modelscope: failed to decode async response: %w", err)
	}
	if asyncResp.TaskID == "" {
		return "", fmt.Errorf("modelscope: did not receive a task ID")
	}
	return asyncResp.TaskID, nil
}

func (p *ModelScopeProvider) await(ctx context.Context, taskID string) (*Response, error) {
	taskURL := p.BaseURL + "/tasks/" + taskID
	timer := time.NewTimer(p.PollInterval)
	defer timer.Stop()

	for i := 0; i < p.MaxPollAttempts; i++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("modelscope: waiting for task %s: %w", taskID, ctx.Err())
		case <-timer.C:
		}
		timer.Reset(p.PollInterval)

		status, body, err := p.poll(ctx, taskURL)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			// the task may still be processing or briefly unavailable
			p.log.Warn().Int("status", status).Str("body", string(body)).Msg("modelscope polling returned non-200 status")
			continue
		}

		var taskResp modelScopeTaskResponse
		if err := json.Unmarshal(body, &taskResp); err != nil {
			return nil, fmt.Errorf("modelscope: failed to decode task response: %w, body: %s", err, string(body))
		}

		switch taskResp.TaskStatus {
		case "SUCCEED":
			out := &Response{Raw: json.RawMessage(body)}
			for _, u := range taskResp.OutputImages {
				out.Images = append(out.Images, Image{URL: u})
			}
			return out, nil
		case "FAILED", "CANCELED":
			errMsg := "modelscope: task failed or was canceled"
			if taskResp.Errors.Message != "" {
				errMsg = fmt.Sprintf("%s. Reason: %s", errMsg, taskResp.Errors.Message)
			}
			return nil, fmt.Errorf("%s. Full Response: %s", errMsg, string(body))
		}
	}

	return nil, fmt.Errorf("modelscope: polling timed out after %d attempts", p.MaxPollAttempts)
}

func (p *ModelScopeProvider) poll(ctx context.Context, taskURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, taskURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("modelscope: failed to create polling request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("X-ModelScope-Task-Type", "image_generation")

	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("modelscope: failed to execute polling request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("modelscope: failed to read polling response body: %w", err)
	}
	return resp.StatusCode, body, nil
}
