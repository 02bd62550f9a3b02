package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/rmarchant/sheetscan/internal/domain"
)

type fakeRenderer struct {
	data []byte
	mime string
	err  error
}

func (f fakeRenderer) Render(ctx context.Context, input []byte, source domain.SourceImage, state domain.EditState) ([]byte, string, error) {
	return f.data, f.mime, f.err
}

type fakeUploader struct {
	result   domain.UploadResult
	err      error
	filename string
	mime     string
	called   bool
}

func (f *fakeUploader) Upload(ctx context.Context, data []byte, filename, mime string) (domain.UploadResult, error) {
	f.called = true
	f.filename = filename
	f.mime = mime
	return f.result, f.err
}

type fakeConverter struct {
	raw    json.RawMessage
	err    error
	gotURL string
	called bool
}

func (f *fakeConverter) Convert(ctx context.Context, imageURL string) (json.RawMessage, error) {
	f.called = true
	f.gotURL = imageURL
	return f.raw, f.err
}

type statusLog struct {
	statuses []string
}

func (s *statusLog) RecordStatus(ctx context.Context, sessionID, status string) {
	s.statuses = append(s.statuses, status)
}

func TestRunHappyPath(t *testing.T) {
	uploader := &fakeUploader{result: domain.UploadResult{Status: "stored", URL: "https://files.example.com/a.jpg"}}
	converter := &fakeConverter{raw: json.RawMessage(`{"url":"https://files.example.com/a.jpg"}`)}
	statuses := &statusLog{}

	runner := NewRunner(fakeRenderer{data: []byte("img"), mime: "image/jpeg"}, uploader, converter, statuses)
	result, err := runner.Run(context.Background(), Request{
		SessionID: "s1",
		Source:    domain.SourceImage{Filename: "scan.png"},
		Input:     []byte("src"),
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if result.Upload == nil || result.Upload.URL != "https://files.example.com/a.jpg" {
		t.Fatalf("unexpected upload result: %+v", result.Upload)
	}
	if len(result.Convert) == 0 {
		t.Fatal("expected convert payload")
	}
	if converter.gotURL != "https://files.example.com/a.jpg" {
		t.Fatalf("expected upload url forwarded to converter, got %q", converter.gotURL)
	}

	want := []string{domain.SessionStatusRendering, domain.SessionStatusUploading, domain.SessionStatusConverting}
	if !reflect.DeepEqual(statuses.statuses, want) {
		t.Fatalf("expected status sequence %v, got %v", want, statuses.statuses)
	}
}

func TestRunEmptyInput(t *testing.T) {
	uploader := &fakeUploader{}
	runner := NewRunner(fakeRenderer{}, uploader, &fakeConverter{}, nil)

	_, err := runner.Run(context.Background(), Request{SessionID: "s1"})
	if !errors.Is(err, domain.ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
	if uploader.called {
		t.Fatal("uploader must not run without an image")
	}
}

func TestRunEmptyUploadURLSkipsConvert(t *testing.T) {
	uploader := &fakeUploader{result: domain.UploadResult{Status: "stored"}}
	converter := &fakeConverter{}
	runner := NewRunner(fakeRenderer{data: []byte("img"), mime: "image/jpeg"}, uploader, converter, nil)

	result, err := runner.Run(context.Background(), Request{SessionID: "s1", Input: []byte("src")})
	if err != nil {
		t.Fatalf("expected terminal success without convert, got %v", err)
	}
	if converter.called {
		t.Fatal("converter must not run without an upload url")
	}
	if result.Upload == nil || result.Convert != nil {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunRenderFailureStopsPipeline(t *testing.T) {
	uploader := &fakeUploader{}
	runner := NewRunner(fakeRenderer{err: fmt.Errorf("boom")}, uploader, &fakeConverter{}, nil)

	_, err := runner.Run(context.Background(), Request{SessionID: "s1", Input: []byte("src")})
	if err == nil || uploader.called {
		t.Fatalf("expected render failure to stop pipeline, err=%v called=%v", err, uploader.called)
	}
}

func TestRunUploadFailureKeepsNoResult(t *testing.T) {
	uploader := &fakeUploader{err: &domain.APIError{API: "upload", StatusCode: 500, Message: "upload failed with status 500"}}
	converter := &fakeConverter{}
	runner := NewRunner(fakeRenderer{data: []byte("img"), mime: "image/jpeg"}, uploader, converter, nil)

	result, err := runner.Run(context.Background(), Request{SessionID: "s1", Input: []byte("src")})
	if err == nil {
		t.Fatal("expected upload failure")
	}
	if converter.called {
		t.Fatal("converter must not run after a failed upload")
	}
	if result.Upload != nil {
		t.Fatalf("expected no upload result on failure, got %+v", result.Upload)
	}
}

func TestRunConvertFailureKeepsUpload(t *testing.T) {
	uploader := &fakeUploader{result: domain.UploadResult{URL: "https://x/a.jpg"}}
	converter := &fakeConverter{err: &domain.APIError{API: "convert", StatusCode: 401, Message: "token expired"}}
	runner := NewRunner(fakeRenderer{data: []byte("img"), mime: "image/jpeg"}, uploader, converter, nil)

	result, err := runner.Run(context.Background(), Request{SessionID: "s1", Input: []byte("src")})
	if err == nil {
		t.Fatal("expected convert failure")
	}
	if result.Upload == nil {
		t.Fatal("expected upload result preserved through convert failure")
	}
	if UserMessage(err) != "token expired" {
		t.Fatalf("expected api message surfaced, got %q", UserMessage(err))
	}
}

func TestUserMessage(t *testing.T) {
	wrapped := fmt.Errorf("convert stage: %w", &domain.APIError{API: "convert", StatusCode: 500, Message: "backend down"})
	if got := UserMessage(wrapped); got != "backend down" {
		t.Fatalf("expected api message through wrapping, got %q", got)
	}
	if got := UserMessage(fmt.Errorf("convert stage: %w", domain.ErrConvertNotConfigured)); got != domain.ErrConvertNotConfigured.Error() {
		t.Fatalf("unexpected message %q", got)
	}
	if got := UserMessage(domain.ErrNoImage); got != domain.ErrNoImage.Error() {
		t.Fatalf("unexpected message %q", got)
	}
	if got := UserMessage(errors.New("render stage: decode failed")); got != "render stage: decode failed" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestUploadFilename(t *testing.T) {
	cases := []struct {
		filename string
		mime     string
		want     string
	}{
		{"scan.png", "image/png", "scan.png"},
		{"scan.png", "image/jpeg", "scan.jpg"},
		{"photo.webp", "image/webp", "photo.webp"},
		{"notes", "image/jpeg", "notes.jpg"},
		{"", "image/png", "worksheet.png"},
		{"  ", "application/pdf", "worksheet.jpg"},
	}
	for _, tc := range cases {
		got := uploadFilename(domain.SourceImage{Filename: tc.filename}, tc.mime)
		if got != tc.want {
			t.Fatalf("uploadFilename(%q, %q): expected %q, got %q", tc.filename, tc.mime, tc.want, got)
		}
	}
}

func TestRunHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	uploader := &fakeUploader{}
	runner := NewRunner(fakeRenderer{data: []byte("img"), mime: "image/jpeg"}, uploader, &fakeConverter{}, nil)

	_, err := runner.Run(ctx, Request{SessionID: "s1", Input: []byte("src")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if uploader.called {
		t.Fatal("uploader must not run after cancellation")
	}
}
