package worker

import (
	"time"

	"github.com/google/uuid"
)

// JobType represents the type of a job.
type JobType = string

const (
	JobIngest    JobType = "grievance.ingest"    // one raw message
	JobBatch     JobType = "grievance.batch"     // pull and process a mail source
	JobReprocess JobType = "grievance.reprocess" // recompute all threading
)

type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
	Retries   int            `json:"retries"`
}

func NewMessage(jobType string, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// IngestPayload carries one raw message. Raw travels base64 encoded.
type IngestPayload struct {
	Name string `json:"name"`
	Raw  []byte `json:"raw"`
}

// BatchPayload names the source to pull: "dir" or "gmail".
type BatchPayload struct {
	Source string `json:"source"`
}
