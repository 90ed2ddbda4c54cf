package vision

import "context"

// Mock is a Comparer that returns canned summaries. Selected automatically
// when no API key is configured; also used directly in tests.
type Mock struct {
	// Summary overrides the canned result when set.
	Summary *ChangeSummary
	// Err is returned instead of a result when set.
	Err error
	// LastRequest records the most recent request for assertions.
	LastRequest *Request
}

func (m *Mock) Compare(_ context.Context, req Request) (*ChangeSummary, error) {
	m.LastRequest = &req
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Summary != nil {
		cp := *m.Summary
		return &cp, nil
	}
	return &ChangeSummary{
		Changes:     []string{"mock: no model configured"},
		Implication: "Configure an API key to get real comparisons.",
	}, nil
}
