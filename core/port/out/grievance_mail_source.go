package out

import (
	"context"

	"grievance_server/core/domain"
)

// RawEmail is an unparsed message pulled from a source.
type RawEmail struct {
	Name string // file name or provider message id
	Data []byte
}

// MailSource lists raw messages available for ingestion.
type MailSource interface {
	Name() string
	Fetch(ctx context.Context) ([]RawEmail, error)
}

// ParsedEmail is the parser's output before classification and threading.
type ParsedEmail struct {
	Email       *domain.GrievanceEmail
	Attachments []AttachmentBlob
	Raw         []byte // original message, archived for download
}

// AttachmentBlob is an attachment body waiting to be stored.
type AttachmentBlob struct {
	Meta domain.Attachment
	Data []byte
}

// EmailParser converts raw RFC 5322 bytes into a record.
type EmailParser interface {
	Parse(name string, raw []byte) (*ParsedEmail, error)
}
