package domain

import (
	"regexp"
	"strings"
	"time"
)

// CategoryCount is one row of the category listing.
type CategoryCount struct {
	Name  Category `json:"name"`
	Count int      `json:"count"`
}

// DashboardStats summarises history by mail type.
type DashboardStats struct {
	Total    int `json:"total"`
	Fresh    int `json:"fresh"`
	FollowUp int `json:"followup"`
}

// Add counts one record.
func (s *DashboardStats) Add(e *GrievanceEmail) {
	s.Total++
	switch e.MailType {
	case MailTypeFollowUp:
		s.FollowUp++
	default:
		s.Fresh++
	}
}

// SenderCount is one institution with its email count.
type SenderCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// IngestOutcome labels what happened to one email offered to the service.
type IngestOutcome string

const (
	OutcomeStored     IngestOutcome = "stored"
	OutcomeDuplicate  IngestOutcome = "duplicate"
	OutcomeParseError IngestOutcome = "parse_error"
	OutcomeError      IngestOutcome = "error"
)

// IngestResult reports the fate of one email in a batch.
type IngestResult struct {
	Source   string          `json:"source"`
	EmailID  string          `json:"email_id,omitempty"`
	Outcome  IngestOutcome   `json:"outcome"`
	Category Category        `json:"category,omitempty"`
	Decision *ThreadDecision `json:"decision,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// BatchReport summarises a batch run.
type BatchReport struct {
	BatchID    string         `json:"batch_id"`
	Stored     int            `json:"stored"`
	Duplicates int            `json:"duplicates"`
	Failed     int            `json:"failed"`
	Streams    int            `json:"streams"`
	Results    []IngestResult `json:"results"`
	Duration   time.Duration  `json:"duration_ns"`
}

// ReprocessReport summarises a full threading recomputation.
type ReprocessReport struct {
	Total    int            `json:"total"`
	Changed  int            `json:"changed"`
	Before   DashboardStats `json:"before"`
	After    DashboardStats `json:"after"`
	Duration time.Duration  `json:"duration_ns"`
}

var displayNamePattern = regexp.MustCompile(`^(.+?)\s*<`)

// SenderDisplayName extracts the display name from a From header such as
// `"Govt College X" <office@x.edu>`. Names of three characters or fewer are
// treated as absent.
func SenderDisplayName(from string) string {
	m := displayNamePattern.FindStringSubmatch(strings.TrimSpace(from))
	if m == nil {
		return ""
	}
	name := strings.Trim(strings.TrimSpace(m[1]), `"'`)
	if len(name) <= 3 {
		return ""
	}
	return name
}
