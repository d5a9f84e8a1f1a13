// Package speech wraps the external speech engine behind the synthesizer
// and recognizer ports. The engine speaks an OpenAI-compatible audio API
// over HTTP and reports readiness on /health.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/ariavoice/aria/pkg/otel"
	"github.com/ariavoice/aria/shared/httpclient"
)

const (
	speechPath         = "/audio/speech"
	transcriptionsPath = "/audio/transcriptions"
	healthPath         = "/health"
)

// EngineError reports a non-2xx engine response. Status 503 means the model
// is still loading.
type EngineError struct {
	Status int
	Body   string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine returned %d: %s", e.Status, e.Body)
}

// Client is the speech engine HTTP client shared by the synthesizer and the
// recognizer. All calls honor the caller's context; deadlines belong to the
// turn pipeline, not to this layer.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		http: httpclient.NewShort(
			httpclient.WithTransport(otel.NewPropagatingTransport(nil)),
		),
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// PostJSONRaw posts a JSON payload and returns the raw response body with
// its headers, for endpoints that answer with audio bytes.
func (c *Client) PostJSONRaw(ctx context.Context, endpoint string, payload any) ([]byte, http.Header, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	return c.do(req)
}

// PostMultipart posts form fields plus one file part and decodes the JSON
// response into out.
func (c *Client) PostMultipart(ctx context.Context, endpoint string, fields map[string]string, fileField, fileName string, fileData []byte, out any) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for key, val := range fields {
		if err := writer.WriteField(key, val); err != nil {
			return fmt.Errorf("write field %s: %w", key, err)
		}
	}
	if fileField != "" {
		part, err := writer.CreateFormFile(fileField, fileName)
		if err != nil {
			return fmt.Errorf("create form file: %w", err)
		}
		if _, err := part.Write(fileData); err != nil {
			return fmt.Errorf("write file data: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	body, _, err := c.do(req)
	if err != nil {
		return err
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// GetJSON fetches an endpoint and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	body, _, err := c.do(req)
	if err != nil {
		return err
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) do(req *http.Request) ([]byte, http.Header, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.Header, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.Header, &EngineError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, resp.Header, nil
}
