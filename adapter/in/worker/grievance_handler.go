package worker

import (
	"context"
	"errors"
	"fmt"

	"grievance_server/adapter/out/messaging"
	"grievance_server/core/port/in"
	"grievance_server/core/port/out"
	"grievance_server/pkg/apperr"
	"grievance_server/pkg/logger"
	"grievance_server/pkg/metrics"

	"github.com/goccy/go-json"
)

// Handler dispatches jobs to the grievance service.
type Handler struct {
	svc     in.GrievanceService
	parser  out.EmailParser
	sources map[string]out.MailSource
}

func NewHandler(svc in.GrievanceService, parser out.EmailParser, sources ...out.MailSource) *Handler {
	h := &Handler{
		svc:     svc,
		parser:  parser,
		sources: make(map[string]out.MailSource, len(sources)),
	}
	for _, src := range sources {
		if src != nil {
			h.sources[src.Name()] = src
		}
	}
	return h
}

// Process implements Processor.
func (h *Handler) Process(ctx context.Context, msg *Message) error {
	switch msg.Type {
	case JobIngest:
		return h.processIngest(ctx, msg)
	case JobBatch:
		return h.processBatch(ctx, msg)
	case JobReprocess:
		return h.processReprocess(ctx, msg)
	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return nil
	}
}

// processIngest parses and stores one message. Unparseable input is
// dropped since retrying it cannot succeed.
func (h *Handler) processIngest(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[IngestPayload](msg)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	parsed, err := h.parser.Parse(payload.Name, payload.Raw)
	if err != nil {
		metrics.EmailsIngested.WithLabelValues("stream", "parse_error").Inc()
		logger.WithError(err).Warn("dropping unparseable message %s", payload.Name)
		return nil
	}

	result, err := h.svc.Ingest(ctx, parsed)
	if err != nil {
		return err
	}
	logger.Debug("ingested %s: %s", payload.Name, result.Outcome)
	return nil
}

func (h *Handler) processBatch(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[BatchPayload](msg)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	src, ok := h.sources[payload.Source]
	if !ok {
		logger.Warn("batch job %s names unknown source %q", msg.ID, payload.Source)
		return nil
	}

	raws, err := src.Fetch(ctx)
	if err != nil {
		return apperr.ExternalError(src.Name(), err)
	}

	report, err := h.svc.ProcessBatch(ctx, raws, src.Name())
	if err != nil {
		return err
	}
	logger.Info("batch %s from %s: %d stored, %d duplicate, %d failed",
		msg.ID, src.Name(), report.Stored, report.Duplicates, report.Failed)
	return nil
}

func (h *Handler) processReprocess(ctx context.Context, msg *Message) error {
	report, err := h.svc.Reprocess(ctx)
	if err != nil {
		return err
	}
	logger.Info("reprocess %s: %d records, %d changed", msg.ID, report.Total, report.Changed)
	return nil
}

// ParsePayload decodes a job payload into T.
func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Retryable reports whether a failed job may succeed on a later attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return apperr.HasCode(err, apperr.CodeReprocessInProgress) ||
		apperr.HasCode(err, apperr.CodeStorageError) ||
		apperr.HasCode(err, apperr.CodeExternalError)
}

// StreamHandler feeds Redis stream entries into the worker. Ingest entries
// are handled inline so the entry is acknowledged only once stored; batch
// and reprocess jobs go to the pool.
type StreamHandler struct {
	handler *Handler
	pool    *Pool
}

var _ messaging.JobHandler = (*StreamHandler)(nil)

func NewStreamHandler(handler *Handler, pool *Pool) *StreamHandler {
	return &StreamHandler{handler: handler, pool: pool}
}

func (s *StreamHandler) Handle(ctx context.Context, stream string, data []byte) error {
	switch stream {
	case messaging.StreamIngest:
		var job out.IngestJob
		if err := json.Unmarshal(data, &job); err != nil {
			logger.WithError(err).Warn("dropping malformed ingest entry")
			return nil
		}
		msg := NewMessage(JobIngest, map[string]any{"name": job.Name, "raw": job.Raw})
		if job.ID != "" {
			msg.ID = job.ID
		}
		return s.handler.Process(ctx, msg)

	case messaging.StreamJobs:
		var env messaging.JobEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.WithError(err).Warn("dropping malformed job entry")
			return nil
		}
		var msg *Message
		switch env.Kind {
		case messaging.KindBatch:
			msg = NewMessage(JobBatch, map[string]any{"source": env.Source})
		case messaging.KindReprocess:
			msg = NewMessage(JobReprocess, nil)
		default:
			logger.Warn("Unknown job kind: %s", env.Kind)
			return nil
		}
		if env.ID != "" {
			msg.ID = env.ID
		}
		if !s.pool.Submit(msg) {
			return fmt.Errorf("worker pool not running")
		}
		return nil

	default:
		logger.Warn("Unexpected stream: %s", stream)
		return nil
	}
}
