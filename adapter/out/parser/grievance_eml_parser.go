// Package parser turns raw RFC 5322 messages into grievance records.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"grievance_server/adapter/out/storage"
	"grievance_server/core/domain"
	"grievance_server/core/port/out"
	"grievance_server/pkg/apperr"
	"grievance_server/pkg/logger"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"
)

// DefaultMaxAttachmentBytes is the size above which attachments are dropped.
const DefaultMaxAttachmentBytes = 5 * 1024 * 1024

var _ out.EmailParser = (*EMLParser)(nil)

// EMLParser parses .eml files.
type EMLParser struct {
	maxAttachmentBytes int64
}

func NewEMLParser(maxAttachmentBytes int64) *EMLParser {
	if maxAttachmentBytes <= 0 {
		maxAttachmentBytes = DefaultMaxAttachmentBytes
	}
	return &EMLParser{maxAttachmentBytes: maxAttachmentBytes}
}

// walkState accumulates the pieces of one message while its MIME tree is
// traversed.
type walkState struct {
	plain       strings.Builder
	html        string
	attachText  strings.Builder
	attachments []out.AttachmentBlob
}

// Parse reads one message. name is the source file name (or provider id)
// and is kept as the record's EMLFile.
func (p *EMLParser) Parse(name string, raw []byte) (*out.ParsedEmail, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if message.IsUnknownCharset(err) {
		logger.Debug("[EMLParser] %s: unknown charset: %v", name, err)
	} else if err != nil {
		return nil, apperr.ParseFailed(name, err)
	}

	header := mail.Header{Header: entity.Header}
	email := &domain.GrievanceEmail{
		EmailID:       strings.TrimSpace(header.Get("Message-Id")),
		ParentEmailID: strings.TrimSpace(header.Get("In-Reply-To")),
		Sender:        decodedText(header, "From"),
		Subject:       decodedText(header, "Subject"),
		EMLFile:       filepath.Base(name),
	}
	if date, err := header.Date(); err == nil && !date.IsZero() {
		d := date.UTC()
		email.Date = &d
	}

	st := &walkState{}
	if err := p.walk(entity, st); err != nil {
		return nil, apperr.ParseFailed(name, err)
	}

	body := st.plain.String()
	if body == "" && st.html != "" {
		body = html2text.HTML2Text(st.html)
	}
	email.Content = email.Subject + "\n" + body + "\n" + st.attachText.String()

	for _, a := range st.attachments {
		email.Attachments = append(email.Attachments, a.Meta)
	}

	return &out.ParsedEmail{Email: email, Attachments: st.attachments, Raw: raw}, nil
}

func (p *EMLParser) walk(entity *message.Entity, st *walkState) error {
	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if message.IsUnknownCharset(err) {
				logger.Debug("[EMLParser] unknown part charset: %v", err)
			} else if err != nil {
				return fmt.Errorf("read multipart: %w", err)
			}
			if err := p.walk(part, st); err != nil {
				return err
			}
		}
	}

	mediaType, _, _ := entity.Header.ContentType()
	if mediaType == "" {
		mediaType = "text/plain"
	}
	disposition, _, _ := entity.Header.ContentDisposition()

	if disposition == "attachment" {
		return p.attachment(entity, mediaType, st)
	}

	switch mediaType {
	case "text/plain":
		content, err := io.ReadAll(entity.Body)
		if err != nil {
			// A broken body part is dropped; the rest of the message still counts.
			logger.Warn("[EMLParser] unreadable text part: %v", err)
			return nil
		}
		st.plain.Write(content)
	case "text/html":
		if st.html == "" {
			content, err := io.ReadAll(entity.Body)
			if err != nil {
				logger.Warn("[EMLParser] unreadable html part: %v", err)
				return nil
			}
			st.html = string(content)
		}
	}
	return nil
}

func (p *EMLParser) attachment(entity *message.Entity, mediaType string, st *walkState) error {
	filename, _ := (&mail.AttachmentHeader{Header: entity.Header}).Filename()
	if filename == "" {
		return nil
	}

	// Read one byte past the limit to detect oversize parts without
	// buffering them whole.
	data, err := io.ReadAll(io.LimitReader(entity.Body, p.maxAttachmentBytes+1))
	if err != nil {
		logger.Warn("[EMLParser] unreadable attachment %s: %v", filename, err)
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	if int64(len(data)) > p.maxAttachmentBytes {
		logger.Warn("[EMLParser] skipping large attachment: %s", filename)
		return nil
	}

	key, hash := storage.AttachmentKey(filename, data)
	st.attachments = append(st.attachments, out.AttachmentBlob{
		Meta: domain.Attachment{
			Name:        filename,
			Key:         key,
			ContentType: mediaType,
			Size:        int64(len(data)),
			Hash:        hash,
		},
		Data: data,
	})

	if text, ok := attachmentText(mediaType, filename, data); ok {
		st.attachText.WriteString(text)
	}
	return nil
}

// decodedText decodes RFC 2047 words, falling back to the raw header value.
func decodedText(h mail.Header, key string) string {
	if v, err := h.Text(key); err == nil {
		return strings.TrimSpace(v)
	}
	raw := h.Get(key)
	if v, err := new(mime.WordDecoder).DecodeHeader(raw); err == nil {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(raw)
}
