package persistence

import (
	"database/sql/driver"
	"fmt"
	"time"

	"grievance_server/core/domain"

	"github.com/goccy/go-json"
)

// =============================================================================
// Row Mapping
// =============================================================================

const grievanceColumns = `seq, email_id, parent_email_id, sender, subject, content, email_date,
	attachments, eml_file, category, mail_type, followup_count, thread_parent_id,
	thread_layer, similarity_score, processed_at`

type grievanceRow struct {
	Seq             int64          `db:"seq"`
	EmailID         string         `db:"email_id"`
	ParentEmailID   string         `db:"parent_email_id"`
	Sender          string         `db:"sender"`
	Subject         string         `db:"subject"`
	Content         string         `db:"content"`
	EmailDate       dbTime         `db:"email_date"`
	Attachments     attachmentList `db:"attachments"`
	EMLFile         string         `db:"eml_file"`
	Category        string         `db:"category"`
	MailType        string         `db:"mail_type"`
	FollowupCount   int            `db:"followup_count"`
	ThreadParentID  string         `db:"thread_parent_id"`
	ThreadLayer     string         `db:"thread_layer"`
	SimilarityScore float64        `db:"similarity_score"`
	ProcessedAt     dbTime         `db:"processed_at"`
}

func fromEntity(e *domain.GrievanceEmail) *grievanceRow {
	r := &grievanceRow{
		Seq:             e.Seq,
		EmailID:         e.EmailID,
		ParentEmailID:   e.ParentEmailID,
		Sender:          e.Sender,
		Subject:         e.Subject,
		Content:         e.Content,
		Attachments:     attachmentList(e.Attachments),
		EMLFile:         e.EMLFile,
		Category:        string(e.Category),
		MailType:        string(e.MailType),
		FollowupCount:   e.FollowupCount,
		ThreadParentID:  e.ThreadParentID,
		ThreadLayer:     string(e.ThreadLayer),
		SimilarityScore: e.SimilarityScore,
		ProcessedAt:     dbTime{Time: e.ProcessedAt, Valid: !e.ProcessedAt.IsZero()},
	}
	if e.Date != nil {
		r.EmailDate = dbTime{Time: *e.Date, Valid: true}
	}
	return r
}

func (r *grievanceRow) toEntity() *domain.GrievanceEmail {
	e := &domain.GrievanceEmail{
		Seq:             r.Seq,
		EmailID:         r.EmailID,
		ParentEmailID:   r.ParentEmailID,
		Sender:          r.Sender,
		Subject:         r.Subject,
		Content:         r.Content,
		EMLFile:         r.EMLFile,
		Category:        domain.Category(r.Category),
		MailType:        domain.MailType(r.MailType),
		FollowupCount:   r.FollowupCount,
		ThreadParentID:  r.ThreadParentID,
		ThreadLayer:     domain.ThreadLayer(r.ThreadLayer),
		SimilarityScore: r.SimilarityScore,
	}
	if len(r.Attachments) > 0 {
		e.Attachments = []domain.Attachment(r.Attachments)
	}
	if r.EmailDate.Valid {
		d := r.EmailDate.Time
		e.Date = &d
	}
	if r.ProcessedAt.Valid {
		e.ProcessedAt = r.ProcessedAt.Time
	}
	return e
}

// values returns the insert arguments in grievanceColumns order.
func (r *grievanceRow) values() []any {
	return []any{
		r.Seq, r.EmailID, r.ParentEmailID, r.Sender, r.Subject, r.Content, r.EmailDate,
		r.Attachments, r.EMLFile, r.Category, r.MailType, r.FollowupCount, r.ThreadParentID,
		r.ThreadLayer, r.SimilarityScore, r.ProcessedAt,
	}
}

func (r *grievanceRow) attachmentKeys() []string {
	keys := make([]string, 0, len(r.Attachments))
	for _, a := range r.Attachments {
		keys = append(keys, a.Key)
	}
	return keys
}

// attachmentList is stored as a JSON document (JSONB in Postgres, TEXT in
// SQLite).
type attachmentList []domain.Attachment

func (a attachmentList) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]domain.Attachment(a))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *attachmentList) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("attachments: unsupported type %T", src)
	}
	var list []domain.Attachment
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*a = list
	return nil
}

// dbTime is a nullable timestamp that also reads the text forms SQLite
// hands back.
type dbTime struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

func (t dbTime) Value() (driver.Value, error) {
	if !t.Valid {
		return nil, nil
	}
	return t.Time.UTC(), nil
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = dbTime{}
		return nil
	case time.Time:
		*t = dbTime{Time: v.UTC(), Valid: true}
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("timestamp: unsupported type %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	if s == "" {
		*t = dbTime{}
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = dbTime{Time: parsed.UTC(), Valid: true}
			return nil
		}
	}
	return fmt.Errorf("timestamp: cannot parse %q", s)
}
