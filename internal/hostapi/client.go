// Package hostapi talks to the external file-hosting API that receives the
// rendered image and answers with a public URL.
package hostapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rmarchant/sheetscan/internal/domain"
)

// FieldName is the multipart field the hosting API expects the file under.
const FieldName = "image"

const maxResponseBytes = 1 << 20

type Config struct {
	Endpoint string
	Timeout  time.Duration
}

type Client struct {
	httpClient *http.Client
	endpoint   string
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		endpoint: strings.TrimSpace(cfg.Endpoint),
	}
}

// Upload POSTs the rendered image as multipart form data and parses the
// hosting API's result. A non-2xx status yields a *domain.APIError carrying
// the message derived from the response body. No retries.
func (c *Client) Upload(ctx context.Context, data []byte, filename, mime string) (domain.UploadResult, error) {
	if c.endpoint == "" {
		return domain.UploadResult{}, fmt.Errorf("upload endpoint is not configured")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreatePart(filePartHeader(filename, mime))
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return domain.UploadResult{}, fmt.Errorf("write upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return domain.UploadResult{}, fmt.Errorf("close upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("read upload response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.UploadResult{}, &domain.APIError{
			API:        "upload",
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody, resp.StatusCode),
		}
	}

	var result domain.UploadResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.UploadResult{}, fmt.Errorf("decode upload response: %w", err)
	}
	return result, nil
}

func filePartHeader(filename, mime string) textproto.MIMEHeader {
	if strings.TrimSpace(mime) == "" {
		mime = "image/jpeg"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FieldName, filename))
	h.Set("Content-Type", mime)
	return h
}

// errorMessage derives the user-visible text from a failure body: detail as
// a string is used directly, detail as a list is reduced to each entry's msg
// field (or the stringified entry) joined by comma. Anything else becomes a
// generic status-code message.
func errorMessage(body []byte, status int) string {
	var failure struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &failure); err == nil {
		switch detail := failure.Detail.(type) {
		case string:
			if detail != "" {
				return detail
			}
		case []any:
			parts := make([]string, 0, len(detail))
			for _, entry := range detail {
				if obj, ok := entry.(map[string]any); ok {
					if msg, ok := obj["msg"].(string); ok {
						parts = append(parts, msg)
						continue
					}
				}
				parts = append(parts, fmt.Sprint(entry))
			}
			if len(parts) > 0 {
				return strings.Join(parts, ", ")
			}
		}
	}
	return fmt.Sprintf("upload failed with status %d", status)
}
