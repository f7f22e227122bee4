package domain

// ThreadLayer names the resolver layer that produced a decision.
type ThreadLayer string

const (
	LayerStructural        ThreadLayer = "structural"
	LayerFirstFromSender   ThreadLayer = "first_from_sender"
	LayerExplicitReference ThreadLayer = "explicit_reference"
	LayerSimilarity        ThreadLayer = "similarity"
	LayerDefault           ThreadLayer = "default"
)

// ThreadDecision is the outcome of resolving one email against history.
type ThreadDecision struct {
	MailType      MailType    `json:"mail_type"`
	ParentID      string      `json:"parent_id,omitempty"`
	FollowupCount int         `json:"followup_count"`
	Layer         ThreadLayer `json:"layer"`
	Score         float64     `json:"score,omitempty"`
	Reason        string      `json:"reason,omitempty"`
}

// FreshDecision starts a new thread.
func FreshDecision(layer ThreadLayer, reason string) ThreadDecision {
	return ThreadDecision{
		MailType: MailTypeFresh,
		Layer:    layer,
		Reason:   reason,
	}
}

// FollowUpDecision continues parent's thread one level deeper.
func FollowUpDecision(parent *GrievanceEmail, layer ThreadLayer, reason string) ThreadDecision {
	return ThreadDecision{
		MailType:      MailTypeFollowUp,
		ParentID:      parent.EmailID,
		FollowupCount: parent.FollowupCount + 1,
		Layer:         layer,
		Reason:        reason,
	}
}

// IsFollowUp reports whether the decision links to a parent.
func (d ThreadDecision) IsFollowUp() bool {
	return d.MailType == MailTypeFollowUp
}
