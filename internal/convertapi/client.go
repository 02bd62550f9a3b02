// Package convertapi talks to the external convert API that turns a hosted
// worksheet image into structured data.
package convertapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rmarchant/sheetscan/internal/domain"
)

const maxResponseBytes = 4 << 20

// Metadata is the fixed set of form fields accompanying every convert call.
type Metadata struct {
	EntityType   string
	EntityID     string
	ClassID      string
	SchoolID     string
	AcademicYear string
}

type Config struct {
	Endpoint string
	Token    string
	Metadata Metadata
	Timeout  time.Duration
}

type Client struct {
	httpClient *http.Client
	endpoint   string
	token      string
	metadata   Metadata
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		endpoint: strings.TrimSpace(cfg.Endpoint),
		token:    strings.TrimSpace(cfg.Token),
		metadata: cfg.Metadata,
	}
}

// Convert forwards the hosted image URL to the convert API and returns the
// raw response body, which is only interpreted by the present package. The
// call fails fast with domain.ErrConvertNotConfigured before any request is
// issued when the endpoint or token is missing. No retries.
func (c *Client) Convert(ctx context.Context, imageURL string) (json.RawMessage, error) {
	if c.endpoint == "" || c.token == "" {
		return nil, domain.ErrConvertNotConfigured
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := map[string]string{
		"image_url":     imageURL,
		"entityType":    c.metadata.EntityType,
		"entityId":      c.metadata.EntityID,
		"class_id":      c.metadata.ClassID,
		"school_id":     c.metadata.SchoolID,
		"academic_year": c.metadata.AcademicYear,
	}
	for field, value := range fields {
		if err := writer.WriteField(field, value); err != nil {
			return nil, fmt.Errorf("build convert form: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close convert form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build convert request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("convert request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read convert response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.APIError{
			API:        "convert",
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody, resp.StatusCode),
		}
	}

	if !json.Valid(respBody) {
		return nil, fmt.Errorf("convert response is not valid JSON")
	}
	return json.RawMessage(respBody), nil
}

// errorMessage prefers the failure body's message field, then detail, then
// a generic status-code message.
func errorMessage(body []byte, status int) string {
	var failure struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &failure); err == nil {
		if failure.Message != "" {
			return failure.Message
		}
		if failure.Detail != "" {
			return failure.Detail
		}
	}
	return fmt.Sprintf("convert failed with status %d", status)
}
