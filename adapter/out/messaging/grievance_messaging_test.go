package messaging

import (
	"testing"
	"time"

	"grievance_server/core/domain"

	"github.com/goccy/go-json"
)

func TestDecisionEventCarriesThreading(t *testing.T) {
	processed := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	e := &domain.GrievanceEmail{
		Seq: 7, EmailID: "<a3>", Sender: "office@x.edu", Subject: "Following up",
		Content:  "long body that must not travel on the event stream",
		Category: "Suspension / Disciplinary", MailType: domain.MailTypeFollowUp,
		FollowupCount: 2, ThreadParentID: "<a2>", ThreadLayer: domain.LayerExplicitReference,
		ProcessedAt: processed,
	}

	data, err := json.Marshal(NewDecisionEvent(e))
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if _, ok := got["content"]; ok {
		t.Error("event must not carry the body")
	}
	if got["thread_parent_id"] != "<a2>" || got["mail_type"] != "Follow-up" || got["followup_count"] != float64(2) {
		t.Errorf("event = %v", got)
	}
}
