// Package messaging carries grievance jobs and decision events over Redis
// Streams.
package messaging

import (
	"context"
	"fmt"
	"time"

	"grievance_server/core/domain"
	"grievance_server/core/port/out"
	"grievance_server/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// Stream names
const (
	StreamIngest    = "grievance:ingest"
	StreamJobs      = "grievance:jobs"
	StreamDecisions = "grievance:decisions"
)

// Job kinds on StreamJobs.
const (
	KindBatch     = "batch"
	KindReprocess = "reprocess"
)

// decisionStreamMaxLen caps the decision stream; consumers that fall
// further behind lose the oldest events.
const decisionStreamMaxLen = 100000

var (
	_ out.JobProducer    = (*RedisProducer)(nil)
	_ out.EventPublisher = (*RedisProducer)(nil)
)

// RedisProducer publishes jobs and decision events with XADD.
type RedisProducer struct {
	client *redis.Client
}

func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

// JobEnvelope is the payload on StreamJobs; Kind selects the job.
type JobEnvelope struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (p *RedisProducer) PublishIngest(ctx context.Context, job *out.IngestJob) error {
	return p.publish(ctx, StreamIngest, job, 0)
}

func (p *RedisProducer) PublishBatch(ctx context.Context, job *out.BatchJob) error {
	return p.publish(ctx, StreamJobs, &JobEnvelope{
		Kind: KindBatch, ID: job.ID, Source: job.Source, CreatedAt: job.CreatedAt,
	}, 0)
}

func (p *RedisProducer) PublishReprocess(ctx context.Context, job *out.ReprocessJob) error {
	return p.publish(ctx, StreamJobs, &JobEnvelope{
		Kind: KindReprocess, ID: job.ID, CreatedAt: job.CreatedAt,
	}, 0)
}

// DecisionEvent announces a stored record and how it was threaded.
type DecisionEvent struct {
	Seq             int64              `json:"seq"`
	EmailID         string             `json:"email_id"`
	Sender          string             `json:"sender"`
	Subject         string             `json:"subject"`
	Category        domain.Category    `json:"category"`
	MailType        domain.MailType    `json:"mail_type"`
	FollowupCount   int                `json:"followup_count"`
	ThreadParentID  string             `json:"thread_parent_id,omitempty"`
	ThreadLayer     domain.ThreadLayer `json:"thread_layer,omitempty"`
	SimilarityScore float64            `json:"similarity_score,omitempty"`
	ProcessedAt     time.Time          `json:"processed_at"`
}

// NewDecisionEvent projects a record onto the event shape.
func NewDecisionEvent(e *domain.GrievanceEmail) *DecisionEvent {
	return &DecisionEvent{
		Seq:             e.Seq,
		EmailID:         e.EmailID,
		Sender:          e.Sender,
		Subject:         e.Subject,
		Category:        e.Category,
		MailType:        e.MailType,
		FollowupCount:   e.FollowupCount,
		ThreadParentID:  e.ThreadParentID,
		ThreadLayer:     e.ThreadLayer,
		SimilarityScore: e.SimilarityScore,
		ProcessedAt:     e.ProcessedAt,
	}
}

func (p *RedisProducer) PublishDecision(ctx context.Context, email *domain.GrievanceEmail) error {
	return p.publish(ctx, StreamDecisions, NewDecisionEvent(email), decisionStreamMaxLen)
}

// publish adds one entry with the JSON payload under "data".
func (p *RedisProducer) publish(ctx context.Context, stream string, payload any, maxLen int64) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]any{"data": string(data)},
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}

	err = p.client.XAdd(ctx, args).Err()
	metrics.StreamMessages.WithLabelValues(stream, "published").Inc()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return nil
}
