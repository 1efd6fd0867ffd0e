package imagehost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultFalStorageInitiateURL = "https://rest.alpha.fal.ai/storage/upload/initiate?storage_type=fal-cdn-v3"

// FalStorageClient uploads files to fal.ai's CDN. An upload is initiated to
// obtain a signed PUT URL and the public file URL, then the bytes are PUT.
type FalStorageClient struct {
	APIKey      string
	InitiateURL string
	Client      *http.Client
}

func NewFalStorageClient(apiKey string) *FalStorageClient {
	return &FalStorageClient{
		APIKey:      apiKey,
		InitiateURL: defaultFalStorageInitiateURL,
		Client:      &http.Client{},
	}
}

func (c *FalStorageClient) Name() string {
	return "fal_storage"
}

func (c *FalStorageClient) HasCredentials() bool {
	return hasKey(c.APIKey)
}

type falInitiateRequest struct {
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name"`
}

type falInitiateResponse struct {
	UploadURL string `json:"upload_url"`
	FileURL   string `json:"file_url"`
}

func (c *FalStorageClient) Upload(ctx context.Context, data []byte, filename, contentType string) (*Upload, error) {
	initiate, err := c.initiate(ctx, filename, contentType)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, initiate.UploadURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("fal_storage: failed to create put request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fal_storage: failed to put file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fal_storage: put returned status %d, body: %s", resp.StatusCode, string(body))
	}

	return &Upload{URL: initiate.FileURL}, nil
}

// Delete is a no-op; fal storage expires files on its own.
func (c *FalStorageClient) Delete(ctx context.Context, id string) error {
	return nil
}

func (c *FalStorageClient) initiate(ctx context.Context, filename, contentType string) (*falInitiateResponse, error) {
	payload, err := json.Marshal(falInitiateRequest{ContentType: contentType, FileName: filename})
	if err != nil {
		return nil, fmt.Errorf("fal_storage: failed to marshal initiate payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.InitiateURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("fal_storage: failed to create initiate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Key "+c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fal_storage: failed to initiate upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fal_storage: initiate returned non-200 status: %d, body: %s", resp.StatusCode, string(body))
	}

	var out falInitiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("fal_storage: failed to decode initiate response: %w", err)
	}
	if out.UploadURL == "" || out.FileURL == "" {
		return nil, fmt.Errorf("fal_storage: initiate response is missing upload or file url")
	}
	return &out, nil
}
