package domain

import (
	"strings"
	"time"
)

// MailType distinguishes a new complaint from a continuation of an earlier one.
type MailType string

const (
	MailTypeFresh    MailType = "Fresh"
	MailTypeFollowUp MailType = "Follow-up"
)

// Attachment is an attachment kept from a parsed email.
type Attachment struct {
	Name        string `json:"name"`
	Key         string `json:"key"` // object key in the attachment store
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
	Hash        string `json:"hash"` // hex blake3 of the content
}

// GrievanceEmail is one processed email record.
//
// Seq is the arrival position and defines the order history is replayed in.
// EmailID may be empty; such a record can never be referenced as a parent.
type GrievanceEmail struct {
	Seq           int64        `json:"seq"`
	EmailID       string       `json:"email_id"`
	ParentEmailID string       `json:"parent_email_id,omitempty"`
	Sender        string       `json:"sender"`
	Subject       string       `json:"subject"`
	Content       string       `json:"content"`
	Date          *time.Time   `json:"date,omitempty"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	EMLFile       string       `json:"eml_file,omitempty"`

	Category        Category    `json:"category"`
	MailType        MailType    `json:"mail_type"`
	FollowupCount   int         `json:"followup_count"`
	ThreadParentID  string      `json:"thread_parent_id,omitempty"`
	ThreadLayer     ThreadLayer `json:"thread_layer,omitempty"`
	SimilarityScore float64     `json:"similarity_score,omitempty"`
	ProcessedAt     time.Time   `json:"processed_at"`
}

// ClassificationText is the text the category classifier scores.
func (e *GrievanceEmail) ClassificationText() string {
	if strings.TrimSpace(e.Content) != "" {
		return e.Content
	}
	return e.Subject
}

// ApplyDecision copies a threading decision onto the record.
func (e *GrievanceEmail) ApplyDecision(d ThreadDecision) {
	e.MailType = d.MailType
	e.FollowupCount = d.FollowupCount
	e.ThreadParentID = d.ParentID
	e.ThreadLayer = d.Layer
	e.SimilarityScore = d.Score
}

// ResetThreading clears every field a threading decision sets.
func (e *GrievanceEmail) ResetThreading() {
	e.ApplyDecision(ThreadDecision{MailType: MailTypeFresh})
	e.ThreadLayer = ""
}

// Clone returns a deep copy.
func (e *GrievanceEmail) Clone() *GrievanceEmail {
	c := *e
	if e.Date != nil {
		d := *e.Date
		c.Date = &d
	}
	if e.Attachments != nil {
		c.Attachments = append([]Attachment(nil), e.Attachments...)
	}
	return &c
}

// DisplayDate formats the email date as YYYY-MM-DD, falling back to the
// processing day. The fallback is for display only and never feeds threading.
func (e *GrievanceEmail) DisplayDate() string {
	if e.Date != nil {
		return e.Date.Format(time.DateOnly)
	}
	if !e.ProcessedAt.IsZero() {
		return e.ProcessedAt.Format(time.DateOnly)
	}
	return ""
}

// NormalizeSender lowercases and trims a sender string so index keys match.
func NormalizeSender(sender string) string {
	return strings.ToLower(strings.TrimSpace(sender))
}
