package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/snapline/idgen"
	"github.com/hazyhaar/snapline/insight"
	"github.com/hazyhaar/snapline/vision"
)

// Service orchestrates the flows that span the Manager and the outbound
// model calls: single-shot comparison and timeline extension. Insight
// synthesis is strictly best-effort and never blocks the primary result.
type Service struct {
	mgr      *Manager
	comparer vision.Comparer
	insights *insight.Pipeline
	logger   *slog.Logger
}

// NewService wires a Service. insights may be nil to disable synthesis.
func NewService(mgr *Manager, comparer vision.Comparer, insights *insight.Pipeline, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{mgr: mgr, comparer: comparer, insights: insights, logger: logger}
}

// Manager exposes the underlying CRUD layer for transports that need direct
// lookups and deletions.
func (s *Service) Manager() *Manager { return s.mgr }

// Compare runs the full single-shot flow: compress both images, call the
// vision model, synthesize grounded insights, persist and return the
// Comparison.
func (s *Service) Compare(ctx context.Context, imgA, imgB, userContext string) (*Comparison, error) {
	if imgA == "" || imgB == "" {
		return nil, fmt.Errorf("%w: two images are required", ErrInvalidInput)
	}

	compA, err := s.mgr.comp.Compress(imgA, ScreenshotTargetKB)
	if err != nil {
		return nil, fmt.Errorf("compress image A: %w", err)
	}
	compB, err := s.mgr.comp.Compress(imgB, ScreenshotTargetKB)
	if err != nil {
		return nil, fmt.Errorf("compress image B: %w", err)
	}

	summary, err := s.comparer.Compare(ctx, vision.Request{
		Mode:    vision.ModeInitial,
		ImageA:  compA,
		ImageB:  compB,
		Context: userContext,
	})
	if err != nil {
		return nil, err
	}

	cmp := &Comparison{
		RecordType:  RecordComparison,
		ID:          idgen.Prefixed("cmp_", s.mgr.ids)(),
		ImageA:      compA,
		ImageB:      compB,
		Changes:     summary.Changes,
		Implication: summary.Implication,
		Insights:    s.synthesize(ctx, summary),
		CreatedAt:   unixMilli(s.mgr.now()),
	}
	if err := s.mgr.SaveComparison(ctx, cmp); err != nil {
		return nil, err
	}
	return cmp, nil
}

// ExtendTimeline adds a screenshot to a timeline, compares it against the
// previous one, and appends the continuation report. Returns the updated
// timeline and the new report, or (nil, nil, nil) when the timeline does
// not exist.
//
// The screenshot is persisted before the model call: a vision failure loses
// the report, never the user's image.
func (s *Service) ExtendTimeline(ctx context.Context, tlID string, raw RawScreenshot) (*Timeline, *Report, error) {
	tl, err := s.mgr.AddScreenshot(ctx, tlID, raw)
	if err != nil {
		return nil, nil, err
	}
	if tl == nil {
		return nil, nil, nil
	}
	if len(tl.Screenshots) < 2 {
		return nil, nil, fmt.Errorf("%w: timeline %s has no prior screenshot to compare against", ErrInvalidInput, tlID)
	}
	prev := tl.Screenshots[len(tl.Screenshots)-2]
	curr := tl.Screenshots[len(tl.Screenshots)-1]

	summary, err := s.comparer.Compare(ctx, vision.Request{
		Mode:   vision.ModeContinuation,
		ImageA: prev.Data,
		ImageB: curr.Data,
	})
	if err != nil {
		return nil, nil, err
	}

	rep := &Report{
		Kind:             KindContinuation,
		FromScreenshotID: prev.ID,
		ToScreenshotID:   curr.ID,
		Changes:          summary.Changes,
		Implication:      summary.Implication,
		StrategicView:    summary.StrategicView,
		Insights:         s.synthesize(ctx, summary),
	}
	tl, err = s.mgr.AppendReport(ctx, tlID, rep)
	if err != nil {
		return nil, nil, err
	}
	return tl, rep, nil
}

// synthesize derives grounded insights from a change summary. Best effort:
// a nil pipeline or any downstream failure yields no insights.
func (s *Service) synthesize(ctx context.Context, summary *vision.ChangeSummary) []insight.Insight {
	if s.insights == nil {
		return nil
	}
	var b strings.Builder
	b.WriteString(summary.Implication)
	for _, c := range summary.Changes {
		b.WriteString("\n- ")
		b.WriteString(c)
	}
	return s.insights.Insights(ctx, b.String())
}
