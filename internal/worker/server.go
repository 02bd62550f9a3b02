package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rmarchant/sheetscan/internal/config"
	"github.com/rmarchant/sheetscan/internal/domain"
	"github.com/rmarchant/sheetscan/internal/queue"
	"github.com/rmarchant/sheetscan/internal/render"
	"github.com/rmarchant/sheetscan/internal/store"
	"github.com/rmarchant/sheetscan/internal/workflow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger       *log.Logger
	server       *asynq.Server
	sem          chan struct{}
	source       sourceReader
	runner       *workflow.Runner
	sessionStore store.SessionStore
	metrics      *metrics
	tracer       trace.Tracer
}

type sourceReader interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	source sourceReader,
	uploader workflow.Uploader,
	converter workflow.Converter,
	sessionStore store.SessionStore,
) (*Server, error) {
	if source == nil {
		return nil, fmt.Errorf("source reader is required")
	}

	renderer, err := render.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("initialize renderer: %w", err)
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					logger.Printf("task failed type=%s err=%v", task.Type(), err)
				}),
			},
		),
		sem:          make(chan struct{}, max(1, workerCfg.MaxActiveSubmits)),
		source:       source,
		sessionStore: sessionStore,
		metrics:      newMetrics(),
		tracer:       otel.Tracer("sheetscan/worker"),
	}
	s.runner = workflow.NewRunner(renderer, uploader, converter, statusRecorder{store: sessionStore, logger: logger})
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeSubmitSession, s.handleSubmitSession)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleSubmitSession(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.SessionStatusFailed

	payload, err := queue.ParseSubmitSessionPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.submit_session", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("session.id", payload.SessionID),
		attribute.String("session.mime", payload.Source.MIME),
		attribute.Int("session.rotation", payload.Edit.Rotation),
	)
	defer span.End()
	defer func() {
		s.metrics.submitDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.submitsTotal.WithLabelValues(outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeSubmits.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeSubmits.Dec()
	}()

	s.logger.Printf(
		"Working... session_id=%s object_key=%s rotation=%d",
		payload.SessionID,
		payload.Source.ObjectKey,
		payload.Edit.Rotation,
	)

	input, err := s.source.ReadObject(ctx, payload.Source.ObjectKey)
	if err != nil {
		s.persistFailure(ctx, payload.SessionID, "failed to load source image")
		span.RecordError(err)
		span.SetStatus(codes.Error, "source fetch failed")
		return fmt.Errorf("fetch source: %w", err)
	}

	result, err := s.runner.Run(ctx, workflow.Request{
		SessionID: payload.SessionID,
		Source:    payload.Source,
		Edit:      payload.Edit,
		Input:     input,
	})
	if err != nil {
		s.persistFailure(ctx, payload.SessionID, workflow.UserMessage(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return fmt.Errorf("run submit: %w", err)
	}

	if result.Convert != nil {
		s.metrics.convertCallsTotal.Inc()
	}
	s.persistSuccess(ctx, payload.SessionID, result)
	s.logger.Printf("Processed session_id=%s converted=%t", payload.SessionID, result.Convert != nil)

	outcome = domain.SessionStatusDone
	span.SetStatus(codes.Ok, "processed")
	return nil
}

func (s *Server) persistSuccess(ctx context.Context, sessionID string, result workflow.Result) {
	sess, ok, err := s.sessionStore.Get(ctx, sessionID)
	if err != nil || !ok {
		s.logger.Printf("session lookup failed session_id=%s found=%t err=%v", sessionID, ok, err)
		return
	}

	sess.Status = domain.SessionStatusDone
	sess.Upload = result.Upload
	sess.Convert = result.Convert
	sess.ErrorMessage = ""
	if err := s.sessionStore.Update(ctx, sess); err != nil {
		s.logger.Printf("session update failed session_id=%s err=%v", sessionID, err)
	}
}

func (s *Server) persistFailure(ctx context.Context, sessionID, message string) {
	sess, ok, err := s.sessionStore.Get(ctx, sessionID)
	if err != nil || !ok {
		s.logger.Printf("session lookup failed session_id=%s found=%t err=%v", sessionID, ok, err)
		return
	}

	sess.Status = domain.SessionStatusFailed
	sess.ErrorMessage = message
	if err := s.sessionStore.Update(ctx, sess); err != nil {
		s.logger.Printf("session update failed session_id=%s err=%v", sessionID, err)
	}
}

// statusRecorder mirrors each workflow transition into the session store so
// polling clients see rendering/uploading/converting as they happen.
type statusRecorder struct {
	store  store.SessionStore
	logger *log.Logger
}

func (r statusRecorder) RecordStatus(ctx context.Context, sessionID, status string) {
	if r.store == nil {
		return
	}
	if _, err := r.store.UpdateStatus(ctx, sessionID, status); err != nil {
		r.logger.Printf("status update failed session_id=%s status=%s err=%v", sessionID, status, err)
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
