package threading

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultReferenceCues are the follow-up phrasings recognised in subject and
// body text, checked in order.
var DefaultReferenceCues = []string{
	`\bre:?\s`,
	`\bfwd:?\s`,
	`\bregarding previous`,
	`\bas mentioned`,
	`\bas per previous`,
	`\bin continuation`,
	`\bfollowing up`,
	`\bfollow-up`,
	`\bearlier mail`,
	`\bprevious mail`,
	`\bprevious email`,
	`\blast mail`,
	`\bagain sending`,
	`\bresending`,
	`\bresubmit`,
}

// ReferenceDetector finds textual cues that an email continues an earlier one.
type ReferenceDetector struct {
	cues []*regexp.Regexp
}

// NewReferenceDetector compiles the default cues.
func NewReferenceDetector() *ReferenceDetector {
	d, err := NewReferenceDetectorWithCues(DefaultReferenceCues)
	if err != nil {
		panic(err)
	}
	return d
}

// NewReferenceDetectorWithCues compiles custom cues, matched against lowercased text.
func NewReferenceDetectorWithCues(exprs []string) (*ReferenceDetector, error) {
	d := &ReferenceDetector{cues: make([]*regexp.Regexp, 0, len(exprs))}
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile reference cue %q: %w", expr, err)
		}
		d.cues = append(d.cues, re)
	}
	return d, nil
}

// HasExplicitReference reports whether subject or content carries a follow-up cue.
func (d *ReferenceDetector) HasExplicitReference(subject, content string) bool {
	_, ok := d.MatchedCue(subject, content)
	return ok
}

// MatchedCue returns the first cue that matches.
func (d *ReferenceDetector) MatchedCue(subject, content string) (string, bool) {
	text := strings.ToLower(subject + " " + content)
	for _, re := range d.cues {
		if re.MatchString(text) {
			return re.String(), true
		}
	}
	return "", false
}
