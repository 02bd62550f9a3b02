package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rmarchant/sheetscan/internal/domain"
	"github.com/rmarchant/sheetscan/internal/id"
	"github.com/rmarchant/sheetscan/internal/present"
	"github.com/rmarchant/sheetscan/internal/queue"
	"github.com/rmarchant/sheetscan/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const maxImageBytes = 20 << 20

type Server struct {
	logger                *log.Logger
	queueClient           queueEnqueuer
	sessionStore          store.SessionStore
	storage               objectStorage
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueSubmitSession(ctx context.Context, payload queue.SubmitSessionPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
	RemoveObject(ctx context.Context, objectKey string) error
}

func NewServer(logger *log.Logger, queueClient queueEnqueuer, sessionStore store.SessionStore, storage objectStorage, rateLimiter RateLimiter) *Server {
	if storage == nil {
		storage = unavailableObjectStorage{}
	}

	s := &Server{
		logger:                logger,
		queueClient:           queueClient,
		sessionStore:          sessionStore,
		storage:               storage,
		rateLimiter:           rateLimiter,
		rateLimitUserIDHeader: "X-User-ID",
		metrics:               newMetrics(),
		tracer:                otel.Tracer("sheetscan/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) WriteObject(_ context.Context, _ string, _ []byte, _ string) error {
	return errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) RemoveObject(_ context.Context, _ string) error {
	return errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("POST /v1/sessions/{id}/edit", s.handleEditSession)
	s.mux.HandleFunc("POST /v1/sessions/{id}/submit", s.handleSubmitSession)
	s.mux.HandleFunc("POST /v1/sessions/{id}/reset", s.handleResetSession)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateSession accepts the selected image as multipart form data,
// stashes the bytes in object storage, and opens an editor session with
// default adjustments.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes+(1<<20))
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "image file is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read image"})
		return
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported image format"})
		return
	}

	natural := domain.Dimensions{Width: cfg.Width, Height: cfg.Height}
	displayed := domain.Dimensions{
		Width:  formInt(r, "displayed_width", natural.Width),
		Height: formInt(r, "displayed_height", natural.Height),
	}
	if displayed.Width < 1 || displayed.Height < 1 {
		displayed = natural
	}

	now := time.Now().UTC()
	sessionID := id.New()
	objectKey := fmt.Sprintf("sessions/%s/source", sessionID)
	mime := sourceMIME(header.Header.Get("Content-Type"), format)

	if err := s.storage.WriteObject(r.Context(), objectKey, data, mime); err != nil {
		s.logger.Printf("store source failed for session %s: %v", sessionID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store image"})
		return
	}

	sess := domain.Session{
		ID:     sessionID,
		Status: domain.SessionStatusIdle,
		Source: &domain.SourceImage{
			ObjectKey: objectKey,
			Filename:  header.Filename,
			MIME:      mime,
			Natural:   natural,
			Displayed: displayed,
		},
		Edit:      domain.DefaultEditState(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.sessionStore.Create(r.Context(), sess); err != nil {
		s.logger.Printf("create session failed for session %s: %v", sess.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sess.ID,
		"status":     sess.Status,
		"natural":    natural,
		"displayed":  displayed,
	})
}

type editRequest struct {
	Crop      *cropPatch `json:"crop"`
	Grayscale *int       `json:"grayscale"`
	Contrast  *int       `json:"contrast"`
	Rotation  *int       `json:"rotation"`
}

// cropPatch accepts the crop rectangle in displayed pixels or in percent of
// the displayed bounds.
type cropPatch struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Unit   string  `json:"unit,omitempty"`
}

func (s *Server) handleEditSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	if domain.SubmitInFlight(sess.Status) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": domain.ErrSubmitInFlight.Error()})
		return
	}
	if sess.Source == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": domain.ErrNoImage.Error()})
		return
	}

	var req editRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	edit := sess.Edit
	if req.Crop != nil {
		edit.Crop = resolveCrop(*req.Crop, sess.Source.Displayed)
	}
	if req.Grayscale != nil {
		edit.Grayscale = *req.Grayscale
	}
	if req.Contrast != nil {
		edit.Contrast = *req.Contrast
	}
	if req.Rotation != nil {
		edit.Rotation = *req.Rotation
	}
	if err := edit.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sess.Edit = edit
	if err := s.sessionStore.Update(r.Context(), sess); err != nil {
		s.logger.Printf("update session failed for session %s: %v", sess.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update session"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"status":     sess.Status,
		"edit":       sess.Edit,
	})
}

func (s *Server) handleSubmitSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	if sess.Source == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": domain.ErrNoImage.Error()})
		return
	}
	if domain.SubmitInFlight(sess.Status) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": domain.ErrSubmitInFlight.Error()})
		return
	}

	exists, err := s.storage.ObjectExists(r.Context(), sess.Source.ObjectKey)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": fmt.Sprintf("source object check failed: %v", err)})
		return
	}
	if !exists {
		writeJSON(w, http.StatusConflict, map[string]string{"error": fmt.Sprintf("source object is missing: %s", sess.Source.ObjectKey)})
		return
	}

	payload := queue.SubmitSessionPayload{
		SessionID:   sess.ID,
		Source:      *sess.Source,
		Edit:        sess.Edit,
		RequestedAt: time.Now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueueSubmitSession(r.Context(), payload)
	if err != nil {
		s.logger.Printf("enqueue failed for session %s: %v", sess.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue submit"})
		return
	}

	if _, err := s.sessionStore.UpdateStatus(r.Context(), sess.ID, domain.SessionStatusQueued); err != nil {
		s.logger.Printf("update status failed for session %s: %v", sess.ID, err)
	}
	s.metrics.submitsEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id":  sess.ID,
		"status":      domain.SessionStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionView(sess))
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	if sess.Source != nil {
		if err := s.storage.RemoveObject(r.Context(), sess.Source.ObjectKey); err != nil {
			s.logger.Printf("remove source failed for session %s: %v", sess.ID, err)
		}
	}

	sess.Reset(time.Now().UTC())
	if err := s.sessionStore.Update(r.Context(), sess); err != nil {
		s.logger.Printf("reset session failed for session %s: %v", sess.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to reset session"})
		return
	}

	writeJSON(w, http.StatusOK, sessionView(sess))
}

func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (domain.Session, bool) {
	sessionID := r.PathValue("id")
	sess, ok, err := s.sessionStore.Get(r.Context(), sessionID)
	if err != nil {
		s.logger.Printf("fetch session failed for session %s: %v", sessionID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load session"})
		return domain.Session{}, false
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return domain.Session{}, false
	}
	return sess, true
}

// sessionView is what the UI polls: status, the raw upload result, and the
// presenter's interpretation of the convert response. Absent fields stay
// absent instead of erroring.
func sessionView(sess domain.Session) map[string]any {
	view := map[string]any{
		"session_id": sess.ID,
		"status":     sess.Status,
		"edit":       sess.Edit,
	}
	if sess.Source != nil {
		view["source"] = sess.Source
	}
	if sess.ErrorMessage != "" {
		view["error"] = sess.ErrorMessage
	}
	if sess.Upload != nil {
		view["upload"] = sess.Upload
	}
	if len(sess.Convert) > 0 {
		result := map[string]any{}
		if url := present.URL(sess.Convert); url != "" {
			result["url"] = url
		}
		if meta := present.Metadata(sess.Convert); meta != nil {
			result["metadata"] = meta
		}
		if tables := present.Tables(sess.Convert); len(tables) > 0 {
			result["tables"] = tables
		}
		view["result"] = result
	}
	return view
}

func resolveCrop(patch cropPatch, displayed domain.Dimensions) *domain.Rect {
	if strings.EqualFold(strings.TrimSpace(patch.Unit), "percent") {
		return &domain.Rect{
			X:      patch.X / 100 * float64(displayed.Width),
			Y:      patch.Y / 100 * float64(displayed.Height),
			Width:  patch.Width / 100 * float64(displayed.Width),
			Height: patch.Height / 100 * float64(displayed.Height),
		}
	}
	return &domain.Rect{X: patch.X, Y: patch.Y, Width: patch.Width, Height: patch.Height}
}

func sourceMIME(headerMIME, format string) string {
	headerMIME = strings.TrimSpace(strings.ToLower(headerMIME))
	if strings.HasPrefix(headerMIME, "image/") {
		return headerMIME
	}
	switch format {
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func formInt(r *http.Request, field string, fallback int) int {
	value := strings.TrimSpace(r.FormValue(field))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
