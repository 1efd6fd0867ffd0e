package imagehost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
)

const (
	defaultNodeImageUploadURL = "https://api.nodeimage.com/api/upload"
	defaultNodeImageDeleteURL = "https://api.nodeimage.com/api/v1/delete/"
)

// NodeImageClient handles communication with the NodeImage API.
type NodeImageClient struct {
	APIKey    string
	UploadURL string
	DeleteURL string
	Client    *http.Client
}

// NewNodeImageClient creates a new NodeImage client.
func NewNodeImageClient(apiKey string) *NodeImageClient {
	return &NodeImageClient{
		APIKey:    apiKey,
		UploadURL: defaultNodeImageUploadURL,
		DeleteURL: defaultNodeImageDeleteURL,
		Client:    &http.Client{},
	}
}

func (c *NodeImageClient) Name() string {
	return "nodeimage"
}

func (c *NodeImageClient) HasCredentials() bool {
	return hasKey(c.APIKey)
}

// nodeImageUploadResponse matches the structure of the successful upload response.
type nodeImageUploadResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ImageID string `json:"image_id"`
	Links   struct {
		Direct string `json:"direct"`
	} `json:"links"`
}

// nodeImageDeleteResponse matches the structure of the successful delete response.
type nodeImageDeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Upload uploads an image and returns the direct URL and image ID.
func (c *NodeImageClient) Upload(ctx context.Context, data []byte, filename, contentType string) (*Upload, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("nodeimage: failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("nodeimage: failed to copy image bytes to form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("nodeimage: failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.UploadURL, body)
	if err != nil {
		return nil, fmt.Errorf("nodeimage: failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-API-Key", c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nodeimage: failed to execute upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("nodeimage: API returned non-200 status: %d, body: %s", resp.StatusCode, string(body))
	}

	var uploadResp nodeImageUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploadResp); err != nil {
		return nil, fmt.Errorf("nodeimage: failed to decode upload response: %w", err)
	}
	if !uploadResp.Success {
		return nil, fmt.Errorf("nodeimage: API reported an error: %s", uploadResp.Message)
	}
	if uploadResp.Links.Direct == "" {
		return nil, fmt.Errorf("nodeimage: upload response has no direct link")
	}

	return &Upload{ID: uploadResp.ImageID, URL: uploadResp.Links.Direct}, nil
}

// Delete deletes an image by its ID.
func (c *NodeImageClient) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.DeleteURL+id, nil)
	if err != nil {
		return fmt.Errorf("nodeimage: failed to create delete request: %w", err)
	}
	req.Header.Set("X-API-Key", c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("nodeimage: failed to execute delete request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("nodeimage: API returned non-200 status for delete: %d, body: %s", resp.StatusCode, string(body))
	}

	var deleteResp nodeImageDeleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&deleteResp); err != nil {
		return fmt.Errorf("nodeimage: failed to decode delete response: %w", err)
	}
	if !deleteResp.Success {
		return fmt.Errorf("nodeimage: API reported an error on delete: %s", deleteResp.Message)
	}
	return nil
}
