// Package workflow sequences a submit: render the edit, upload the result
// to the hosting API, forward the returned URL to the convert API. Each
// stage is a suspension point; the stages never run in parallel because the
// convert input depends on the upload output.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rmarchant/sheetscan/internal/domain"
)

type Renderer interface {
	Render(ctx context.Context, input []byte, source domain.SourceImage, state domain.EditState) (data []byte, mime string, err error)
}

type Uploader interface {
	Upload(ctx context.Context, data []byte, filename, mime string) (domain.UploadResult, error)
}

type Converter interface {
	Convert(ctx context.Context, imageURL string) (json.RawMessage, error)
}

// StatusRecorder observes each state transition as it happens, so session
// status stays visible while a submit is in flight.
type StatusRecorder interface {
	RecordStatus(ctx context.Context, sessionID, status string)
}

type Request struct {
	SessionID string
	Source    domain.SourceImage
	Edit      domain.EditState
	Input     []byte
}

// Result carries whatever the submit produced before it finished. Upload is
// set as soon as the hosting API succeeded; Convert stays nil when the
// upload returned no URL, which is a valid terminal outcome.
type Result struct {
	Upload  *domain.UploadResult
	Convert json.RawMessage
}

type Runner struct {
	renderer  Renderer
	uploader  Uploader
	converter Converter
	recorder  StatusRecorder
}

func NewRunner(renderer Renderer, uploader Uploader, converter Converter, recorder StatusRecorder) *Runner {
	return &Runner{
		renderer:  renderer,
		uploader:  uploader,
		converter: converter,
		recorder:  recorder,
	}
}

func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	if len(req.Input) == 0 {
		return Result{}, domain.ErrNoImage
	}

	r.record(ctx, req.SessionID, domain.SessionStatusRendering)
	data, mime, err := r.renderer.Render(ctx, req.Input, req.Source, req.Edit)
	if err != nil {
		return Result{}, fmt.Errorf("render stage: %w", err)
	}

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	r.record(ctx, req.SessionID, domain.SessionStatusUploading)
	upload, err := r.uploader.Upload(ctx, data, uploadFilename(req.Source, mime), mime)
	if err != nil {
		return Result{}, fmt.Errorf("upload stage: %w", err)
	}

	out := Result{Upload: &upload}
	if strings.TrimSpace(upload.URL) == "" {
		// Successful upload with no forwarding URL terminates at done.
		return out, nil
	}

	select {
	case <-ctx.Done():
		return out, ctx.Err()
	default:
	}

	r.record(ctx, req.SessionID, domain.SessionStatusConverting)
	raw, err := r.converter.Convert(ctx, upload.URL)
	if err != nil {
		return out, fmt.Errorf("convert stage: %w", err)
	}
	out.Convert = raw
	return out, nil
}

func (r *Runner) record(ctx context.Context, sessionID, status string) {
	if r.recorder == nil {
		return
	}
	r.recorder.RecordStatus(ctx, sessionID, status)
}

// UserMessage reduces a submit error to the single message string attached
// to the session.
func UserMessage(err error) string {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if errors.Is(err, domain.ErrConvertNotConfigured) {
		return domain.ErrConvertNotConfigured.Error()
	}
	if errors.Is(err, domain.ErrNoImage) {
		return domain.ErrNoImage.Error()
	}
	return err.Error()
}

// uploadFilename names the rendered file after the original selection, with
// the extension matching the encoded MIME type.
func uploadFilename(source domain.SourceImage, mime string) string {
	name := strings.TrimSpace(source.Filename)
	if name == "" {
		name = "worksheet"
	}
	name = strings.TrimSuffix(name, filepath.Ext(name))

	switch mime {
	case "image/png":
		return name + ".png"
	case "image/webp":
		return name + ".webp"
	default:
		return name + ".jpg"
	}
}
