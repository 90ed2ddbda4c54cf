package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hazyhaar/snapline/idgen"
	"github.com/hazyhaar/snapline/imaging"
	"github.com/hazyhaar/snapline/kvstore"
)

// ScreenshotTargetKB is the per-image byte budget applied before any
// screenshot is persisted. 400 KB keeps a two-screenshot timeline well under
// the namespace ceiling.
const ScreenshotTargetKB = 400

// ManagerConfig wires the Manager's ports. Store is required; the rest
// default to production implementations.
type ManagerConfig struct {
	Store      *kvstore.Store
	Compressor *imaging.Compressor

	// IDs generates entity identifiers. Default: idgen.Default.
	IDs idgen.Generator

	// Now is the clock, injectable for tests. Default: time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

func (c *ManagerConfig) defaults() {
	if c.Compressor == nil {
		c.Compressor = imaging.New(imaging.Config{})
	}
	if c.IDs == nil {
		c.IDs = idgen.Default
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager is CRUD over Timeline and Comparison records through the storage
// facade, plus the image-bearing operations that must compress before
// persisting.
type Manager struct {
	store  *kvstore.Store
	comp   *imaging.Compressor
	ids    idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	cfg.defaults()
	return &Manager{
		store:  cfg.Store,
		comp:   cfg.Compressor,
		ids:    cfg.IDs,
		now:    cfg.Now,
		logger: cfg.Logger,
	}
}

// CreateFromComparison builds a two-screenshot, one-report Timeline from a
// Comparison. The result is fully formed but NOT persisted; callers save
// explicitly. The comparison's feedback, if any, is copied onto the initial
// report's feedback slot.
func (m *Manager) CreateFromComparison(cmp *Comparison, title string) (*Timeline, error) {
	if cmp == nil {
		return nil, fmt.Errorf("%w: nil comparison", ErrInvalidInput)
	}
	if cmp.ImageA == "" || cmp.ImageB == "" {
		return nil, fmt.Errorf("%w: comparison must carry both images", ErrInvalidInput)
	}
	if len(cmp.Changes) == 0 && cmp.Implication == "" {
		return nil, fmt.Errorf("%w: comparison has no change summary", ErrInvalidInput)
	}

	imgA, err := m.comp.Compress(cmp.ImageA, ScreenshotTargetKB)
	if err != nil {
		return nil, fmt.Errorf("compress image A: %w", err)
	}
	imgB, err := m.comp.Compress(cmp.ImageB, ScreenshotTargetKB)
	if err != nil {
		return nil, fmt.Errorf("compress image B: %w", err)
	}

	now := unixMilli(m.now())
	before := Screenshot{
		ID:        idgen.Prefixed("scr_", m.ids)(),
		Name:      "Before",
		Data:      imgA,
		MimeType:  "image/jpeg",
		Size:      len(imgA),
		Timestamp: now,
		Order:     0,
	}
	after := Screenshot{
		ID:        idgen.Prefixed("scr_", m.ids)(),
		Name:      "After",
		Data:      imgB,
		MimeType:  "image/jpeg",
		Size:      len(imgB),
		Timestamp: now,
		Order:     1,
	}
	report := Report{
		ID:             idgen.Prefixed("rep_", m.ids)(),
		Kind:           KindInitial,
		ToScreenshotID: after.ID,
		Changes:        cmp.Changes,
		Implication:    cmp.Implication,
		Insights:       cmp.Insights,
		CreatedAt:      now,
	}

	tl := &Timeline{
		RecordType:  RecordTimeline,
		ID:          idgen.Prefixed("tl_", m.ids)(),
		Title:       title,
		Screenshots: []Screenshot{before, after},
		Reports:     []Report{report},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if cmp.Feedback != nil {
		tl.FeedbackByReportID = map[string]Feedback{report.ID: *cmp.Feedback}
	}
	return tl, nil
}

// Save persists a timeline, stamping UpdatedAt. A quota failure surfaces as
// kvstore.ErrQuotaExceeded so the caller can show the user-actionable
// free-up-space message instead of a generic write failure.
func (m *Manager) Save(ctx context.Context, tl *Timeline) error {
	if tl == nil || tl.ID == "" {
		return fmt.Errorf("%w: timeline without id", ErrInvalidInput)
	}
	tl.RecordType = RecordTimeline
	tl.UpdatedAt = unixMilli(m.now())
	if tl.CreatedAt == 0 {
		tl.CreatedAt = tl.UpdatedAt
	}
	body, err := json.Marshal(tl)
	if err != nil {
		return fmt.Errorf("serialize timeline %s: %w", tl.ID, err)
	}
	return m.store.Write(ctx, timelineKey(tl.ID), string(body))
}

// Get returns the timeline stored under id, or (nil, nil) when missing,
// malformed, or not actually a timeline record.
func (m *Manager) Get(ctx context.Context, id string) (*Timeline, error) {
	raw, found, err := m.store.Read(ctx, timelineKey(id))
	if err != nil {
		return nil, fmt.Errorf("read timeline %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return parseTimeline(raw, m.logger), nil
}

// ListAll returns every well-formed timeline, newest update first.
func (m *Manager) ListAll(ctx context.Context) ([]*Timeline, error) {
	keys, err := m.store.KeysWithPrefix(ctx, "timeline-")
	if err != nil {
		return nil, fmt.Errorf("list timelines: %w", err)
	}
	var out []*Timeline
	for _, k := range keys {
		raw, found, err := m.store.Read(ctx, k)
		if err != nil || !found {
			continue
		}
		if tl := parseTimeline(raw, m.logger); tl != nil {
			out = append(out, tl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out, nil
}

// ListAllComparisons returns every well-formed comparison, newest first.
func (m *Manager) ListAllComparisons(ctx context.Context) ([]*Comparison, error) {
	keys, err := m.store.KeysWithPrefix(ctx, "comparison-")
	if err != nil {
		return nil, fmt.Errorf("list comparisons: %w", err)
	}
	var out []*Comparison
	for _, k := range keys {
		raw, found, err := m.store.Read(ctx, k)
		if err != nil || !found {
			continue
		}
		if cmp := parseComparison(raw, m.logger); cmp != nil {
			out = append(out, cmp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// AddScreenshot compresses raw and appends it to the timeline, assigning the
// next order index, then persists. Returns (nil, nil) when the timeline does
// not exist; storage is left untouched in that case.
//
// The associated report is appended separately via AppendReport: the API
// boundary that produced the analysis owns that pairing, the manager only
// owns the screenshot-array mutation.
func (m *Manager) AddScreenshot(ctx context.Context, id string, raw RawScreenshot) (*Timeline, error) {
	tl, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tl == nil {
		return nil, nil
	}
	if raw.Data == "" {
		return nil, fmt.Errorf("%w: screenshot data is empty", ErrInvalidInput)
	}

	data, err := m.comp.Compress(raw.Data, ScreenshotTargetKB)
	if err != nil {
		return nil, fmt.Errorf("compress screenshot: %w", err)
	}

	scr := Screenshot{
		ID:        idgen.Prefixed("scr_", m.ids)(),
		Name:      raw.Name,
		Data:      data,
		MimeType:  "image/jpeg",
		Size:      len(data),
		Timestamp: unixMilli(m.now()),
		Order:     len(tl.Screenshots),
	}
	tl.Screenshots = append(tl.Screenshots, scr)
	if err := m.Save(ctx, tl); err != nil {
		return nil, err
	}
	return tl, nil
}

// AppendReport appends an immutable report to the timeline and persists.
// The report's screenshot references must resolve within the timeline.
func (m *Manager) AppendReport(ctx context.Context, id string, rep *Report) (*Timeline, error) {
	tl, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tl == nil {
		return nil, nil
	}
	if rep == nil {
		return nil, fmt.Errorf("%w: nil report", ErrInvalidInput)
	}
	if _, ok := tl.Screenshot(rep.ToScreenshotID); !ok {
		return nil, fmt.Errorf("%w: report references unknown screenshot %q", ErrInvalidInput, rep.ToScreenshotID)
	}
	if rep.Kind != KindInitial {
		if _, ok := tl.Screenshot(rep.FromScreenshotID); !ok {
			return nil, fmt.Errorf("%w: report references unknown screenshot %q", ErrInvalidInput, rep.FromScreenshotID)
		}
	}
	if rep.ID == "" {
		rep.ID = idgen.Prefixed("rep_", m.ids)()
	}
	if rep.CreatedAt == 0 {
		rep.CreatedAt = unixMilli(m.now())
	}
	tl.Reports = append(tl.Reports, *rep)
	if err := m.Save(ctx, tl); err != nil {
		return nil, err
	}
	return tl, nil
}

// ConvertComparisonToTimeline copies a stored comparison into a persisted
// timeline. The original comparison is left in place. Returns (nil, nil)
// when the comparison does not exist.
func (m *Manager) ConvertComparisonToTimeline(ctx context.Context, cmpID, title string) (*Timeline, error) {
	cmp, err := m.GetComparison(ctx, cmpID)
	if err != nil {
		return nil, err
	}
	if cmp == nil {
		return nil, nil
	}
	tl, err := m.CreateFromComparison(cmp, title)
	if err != nil {
		return nil, err
	}
	if err := m.Save(ctx, tl); err != nil {
		return nil, err
	}
	return tl, nil
}

// Delete removes a timeline. Idempotent; reports whether the removal took
// effect without error.
func (m *Manager) Delete(ctx context.Context, id string) bool {
	if err := m.store.Remove(ctx, timelineKey(id)); err != nil {
		m.logger.Warn("delete timeline failed", "id", id, "error", err)
		return false
	}
	return true
}

// DeleteComparison removes a comparison. Idempotent.
func (m *Manager) DeleteComparison(ctx context.Context, id string) bool {
	if err := m.store.Remove(ctx, comparisonKey(id)); err != nil {
		m.logger.Warn("delete comparison failed", "id", id, "error", err)
		return false
	}
	return true
}

// SaveComparison persists a comparison record.
func (m *Manager) SaveComparison(ctx context.Context, cmp *Comparison) error {
	if cmp == nil || cmp.ID == "" {
		return fmt.Errorf("%w: comparison without id", ErrInvalidInput)
	}
	cmp.RecordType = RecordComparison
	if cmp.CreatedAt == 0 {
		cmp.CreatedAt = unixMilli(m.now())
	}
	body, err := json.Marshal(cmp)
	if err != nil {
		return fmt.Errorf("serialize comparison %s: %w", cmp.ID, err)
	}
	return m.store.Write(ctx, comparisonKey(cmp.ID), string(body))
}

// GetComparison returns the comparison stored under id, or (nil, nil) when
// missing or malformed.
func (m *Manager) GetComparison(ctx context.Context, id string) (*Comparison, error) {
	raw, found, err := m.store.Read(ctx, comparisonKey(id))
	if err != nil {
		return nil, fmt.Errorf("read comparison %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return parseComparison(raw, m.logger), nil
}

// SetReportFeedback records a user verdict on one of a timeline's reports.
// Returns (nil, nil) when the timeline does not exist.
func (m *Manager) SetReportFeedback(ctx context.Context, tlID, reportID string, fb Feedback) (*Timeline, error) {
	if err := validateFeedback(fb); err != nil {
		return nil, err
	}
	tl, err := m.Get(ctx, tlID)
	if err != nil {
		return nil, err
	}
	if tl == nil {
		return nil, nil
	}
	known := false
	for _, r := range tl.Reports {
		if r.ID == reportID {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: timeline %s has no report %q", ErrInvalidInput, tlID, reportID)
	}
	if fb.CreatedAt == 0 {
		fb.CreatedAt = unixMilli(m.now())
	}
	if tl.FeedbackByReportID == nil {
		tl.FeedbackByReportID = make(map[string]Feedback)
	}
	tl.FeedbackByReportID[reportID] = fb
	if err := m.Save(ctx, tl); err != nil {
		return nil, err
	}
	return tl, nil
}

// SetComparisonFeedback records a user verdict on a comparison. Returns
// (nil, nil) when the comparison does not exist.
func (m *Manager) SetComparisonFeedback(ctx context.Context, cmpID string, fb Feedback) (*Comparison, error) {
	if err := validateFeedback(fb); err != nil {
		return nil, err
	}
	cmp, err := m.GetComparison(ctx, cmpID)
	if err != nil {
		return nil, err
	}
	if cmp == nil {
		return nil, nil
	}
	if fb.CreatedAt == 0 {
		fb.CreatedAt = unixMilli(m.now())
	}
	cmp.Feedback = &fb
	if err := m.SaveComparison(ctx, cmp); err != nil {
		return nil, err
	}
	return cmp, nil
}

func validateFeedback(fb Feedback) error {
	if fb.Rating != RatingUp && fb.Rating != RatingDown {
		return fmt.Errorf("%w: rating must be %q or %q", ErrInvalidInput, RatingUp, RatingDown)
	}
	return nil
}

// parseTimeline decodes and structurally validates a stored record; any
// failure degrades to nil rather than an error.
func parseTimeline(raw string, logger *slog.Logger) *Timeline {
	var tl Timeline
	if err := json.Unmarshal([]byte(raw), &tl); err != nil {
		logger.Debug("skipping malformed timeline record", "error", err)
		return nil
	}
	if tl.RecordType != "" && tl.RecordType != RecordTimeline {
		return nil
	}
	if tl.ID == "" || tl.Screenshots == nil {
		return nil
	}
	return &tl
}

func parseComparison(raw string, logger *slog.Logger) *Comparison {
	var cmp Comparison
	if err := json.Unmarshal([]byte(raw), &cmp); err != nil {
		logger.Debug("skipping malformed comparison record", "error", err)
		return nil
	}
	if cmp.RecordType != "" && cmp.RecordType != RecordComparison {
		return nil
	}
	if cmp.ID == "" {
		return nil
	}
	return &cmp
}
