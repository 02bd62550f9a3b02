package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	SessionStatusIdle       = "idle"
	SessionStatusQueued     = "queued"
	SessionStatusRendering  = "rendering"
	SessionStatusUploading  = "uploading"
	SessionStatusConverting = "converting"
	SessionStatusDone       = "done"
	SessionStatusFailed     = "failed"
)

const (
	DefaultGrayscale = 0
	DefaultContrast  = 100
	DefaultRotation  = 0

	MinContrast = 50
	MaxContrast = 150
)

// Rect is a crop rectangle in displayed-pixel units.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EditState carries the live editor adjustments for a session. Crop is nil
// until the user finalizes a region, which means "the full displayed bounds".
type EditState struct {
	Crop      *Rect `json:"crop,omitempty"`
	Grayscale int   `json:"grayscale"`
	Contrast  int   `json:"contrast"`
	Rotation  int   `json:"rotation"`
}

func DefaultEditState() EditState {
	return EditState{
		Grayscale: DefaultGrayscale,
		Contrast:  DefaultContrast,
		Rotation:  DefaultRotation,
	}
}

func (e EditState) Validate() error {
	if e.Contrast < MinContrast || e.Contrast > MaxContrast {
		return fmt.Errorf("contrast must be between %d and %d, got %d", MinContrast, MaxContrast, e.Contrast)
	}
	if e.Crop != nil {
		if e.Crop.Width <= 0 || e.Crop.Height <= 0 {
			return errors.New("crop width and height must be positive")
		}
		if e.Crop.X < 0 || e.Crop.Y < 0 {
			return errors.New("crop origin must not be negative")
		}
	}
	return nil
}

// SourceImage describes the selected image. The bytes live in object
// storage under ObjectKey; the metadata here is immutable once stored.
type SourceImage struct {
	ObjectKey string     `json:"object_key"`
	Filename  string     `json:"filename"`
	MIME      string     `json:"mime"`
	Natural   Dimensions `json:"natural"`
	Displayed Dimensions `json:"displayed"`
}

// UploadResult is the upload collaborator's success contract, kept verbatim.
type UploadResult struct {
	Status   string `json:"status"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

type Session struct {
	ID           string
	Status       string
	Source       *SourceImage
	Edit         EditState
	Upload       *UploadResult
	Convert      json.RawMessage
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SubmitInFlight reports whether a submit is active for the given status.
// Edits and further submits are rejected while one is in flight.
func SubmitInFlight(status string) bool {
	switch status {
	case SessionStatusQueued, SessionStatusRendering, SessionStatusUploading, SessionStatusConverting:
		return true
	default:
		return false
	}
}

// Reset discards everything the session accumulated and returns it to the
// state equivalent to first load.
func (s *Session) Reset(now time.Time) {
	s.Status = SessionStatusIdle
	s.Source = nil
	s.Edit = DefaultEditState()
	s.Upload = nil
	s.Convert = nil
	s.ErrorMessage = ""
	s.UpdatedAt = now
}
