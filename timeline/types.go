// Package timeline builds, mutates, and queries the screenshot-comparison
// object graph: single-shot Comparisons and evolving Timelines of screenshots
// linked by change reports.
//
// All persisted records are JSON under the flat kvstore namespace, keyed
// "timeline-<id>" or "comparison-<id>". Every record carries an explicit
// recordType discriminant so readers never guess a record's shape from its
// fields. Timestamps are Unix milliseconds; eviction in kvstore reads the
// updatedAt/timestamp fields of these same bodies, so the field names here
// are part of the persistence contract.
package timeline

import (
	"time"

	"github.com/hazyhaar/snapline/insight"
)

// RecordType discriminates the two persisted entity shapes.
type RecordType string

const (
	RecordTimeline   RecordType = "timeline"
	RecordComparison RecordType = "comparison"
)

// ReportKind classifies a report within a timeline.
type ReportKind string

const (
	// KindInitial is the report linking the first screenshot pair.
	KindInitial ReportKind = "initial"
	// KindContinuation compares a new screenshot against the previous one.
	KindContinuation ReportKind = "continuation"
	// KindSummary is accepted as a stored kind but produced by no operation.
	KindSummary ReportKind = "summary"
)

// Rating is a thumb verdict on a report or comparison.
type Rating string

const (
	RatingUp   Rating = "up"
	RatingDown Rating = "down"
)

// Screenshot is one captured image inside a timeline. Immutable once
// created; Order is the position at insertion time and is never renumbered.
type Screenshot struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Data      string `json:"data"` // data-URI, compressed
	MimeType  string `json:"mimeType"`
	Size      int    `json:"size"` // bytes of the stored data string
	Timestamp int64  `json:"timestamp"`
	Order     int    `json:"order"`
}

// Report is an AI-produced change summary between two screenshots (or
// describing the first pair). Immutable once appended.
type Report struct {
	ID               string            `json:"id"`
	Kind             ReportKind        `json:"kind"`
	FromScreenshotID string            `json:"fromScreenshotId,omitempty"` // absent only for initial
	ToScreenshotID   string            `json:"toScreenshotId"`
	Changes          []string          `json:"changes"`
	Implication      string            `json:"implication"`
	StrategicView    string            `json:"strategicView,omitempty"`
	Insights         []insight.Insight `json:"insights,omitempty"`
	CreatedAt        int64             `json:"createdAt"`
}

// Feedback is a user verdict with an optional note.
type Feedback struct {
	Rating    Rating `json:"rating"`
	Note      string `json:"note,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// Timeline is an ordered series of screenshots plus the reports linking
// consecutive pairs.
//
// Invariants: every non-initial report's FromScreenshotID and
// ToScreenshotID resolve to members of Screenshots; UpdatedAt >= CreatedAt
// and is bumped on every mutation.
type Timeline struct {
	RecordType         RecordType          `json:"recordType"`
	ID                 string              `json:"id"`
	Title              string              `json:"title,omitempty"`
	Screenshots        []Screenshot        `json:"screenshots"`
	Reports            []Report            `json:"reports"`
	FeedbackByReportID map[string]Feedback `json:"feedbackByReportId,omitempty"`
	CreatedAt          int64               `json:"createdAt"`
	UpdatedAt          int64               `json:"updatedAt"`
}

// Comparison is a single-shot result: two images and the summary of their
// differences. Independent of any timeline; convertible into one by copy.
type Comparison struct {
	RecordType  RecordType        `json:"recordType"`
	ID          string            `json:"id"`
	ImageA      string            `json:"imageA"`
	ImageB      string            `json:"imageB"`
	Changes     []string          `json:"changes"`
	Implication string            `json:"implication"`
	Insights    []insight.Insight `json:"insights,omitempty"`
	CreatedAt   int64             `json:"createdAt"`
	Feedback    *Feedback         `json:"feedback,omitempty"`
}

// RawScreenshot is the caller-supplied input to AddScreenshot, before
// compression and ID assignment.
type RawScreenshot struct {
	Name     string `json:"name,omitempty"`
	Data     string `json:"data"` // base64 or data-URI
	MimeType string `json:"mimeType,omitempty"`
}

// Screenshot looks up a screenshot by ID.
func (t *Timeline) Screenshot(id string) (Screenshot, bool) {
	for _, s := range t.Screenshots {
		if s.ID == id {
			return s, true
		}
	}
	return Screenshot{}, false
}

// LastScreenshot returns the most recently added screenshot.
func (t *Timeline) LastScreenshot() (Screenshot, bool) {
	if len(t.Screenshots) == 0 {
		return Screenshot{}, false
	}
	return t.Screenshots[len(t.Screenshots)-1], true
}

func unixMilli(t time.Time) int64 { return t.UnixMilli() }

func timelineKey(id string) string   { return "timeline-" + id }
func comparisonKey(id string) string { return "comparison-" + id }
