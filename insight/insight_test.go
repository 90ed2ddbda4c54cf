package insight

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGround_FiltersUngrounded(t *testing.T) {
	// WHAT: A principle absent from every retrieved chunk is dropped; one
	// that appears (case-insensitively) is retained.
	chunks := []string{
		"<p>According to <b>Hick's Law</b>, more choices mean slower decisions.</p>",
		"Fitts's law relates target size and distance to acquisition time.",
	}
	candidates := []Insight{
		{Principle: "**Hick's Law**", Outcome: "negative", Rationale: "More menu items were added."},
		{Principle: "Fitts's Law", Outcome: "positive", Rationale: "The button grew."},
		{Principle: "Von Restorff Effect", Outcome: "positive", Rationale: "Fabricated."},
	}

	kept := Ground(candidates, chunks, nil)
	if len(kept) != 2 {
		t.Fatalf("kept %d insights, want 2: %+v", len(kept), kept)
	}
	if kept[0].Principle != "Hick's Law" {
		t.Errorf("markdown not stripped from principle: %q", kept[0].Principle)
	}
	if kept[0].Outcome != OutcomeNegative {
		t.Errorf("outcome: got %q", kept[0].Outcome)
	}
	for _, ins := range kept {
		if ins.Principle == "Von Restorff Effect" {
			t.Error("ungrounded insight survived the filter")
		}
	}
}

func TestGround_CapsAtThree(t *testing.T) {
	chunks := []string{"alpha beta gamma delta"}
	candidates := []Insight{
		{Principle: "alpha", Outcome: "positive"},
		{Principle: "beta", Outcome: "positive"},
		{Principle: "gamma", Outcome: "positive"},
		{Principle: "delta", Outcome: "positive"},
	}
	kept := Ground(candidates, chunks, nil)
	if len(kept) != MaxInsights {
		t.Fatalf("kept %d, want %d", len(kept), MaxInsights)
	}
}

func TestGround_WeirdOutcomeNormalized(t *testing.T) {
	kept := Ground([]Insight{{Principle: "alpha", Outcome: "NEGATIVE"}}, []string{"alpha"}, nil)
	if len(kept) != 1 || kept[0].Outcome != OutcomeNegative {
		t.Fatalf("got %+v", kept)
	}
	kept = Ground([]Insight{{Principle: "alpha", Outcome: "mixed"}}, []string{"alpha"}, nil)
	if len(kept) != 1 || kept[0].Outcome != OutcomePositive {
		t.Fatalf("got %+v", kept)
	}
}

type stubSynth struct {
	insights []Insight
	err      error
}

func (s stubSynth) Synthesize(context.Context, string, []string) ([]Insight, error) {
	return s.insights, s.err
}

type stubRetriever struct {
	chunks []string
	err    error
}

func (s stubRetriever) Retrieve(context.Context, string) ([]string, error) {
	return s.chunks, s.err
}

func TestPipeline_RetrievalFailureYieldsNoInsights(t *testing.T) {
	p := NewPipeline(
		stubRetriever{err: errors.New("connection refused")},
		stubSynth{insights: []Insight{{Principle: "alpha"}}},
		nil)
	if got := p.Insights(context.Background(), "ctx"); got != nil {
		t.Fatalf("expected nil insights on retrieval failure, got %+v", got)
	}
}

func TestPipeline_SynthesisFailureYieldsNoInsights(t *testing.T) {
	p := NewPipeline(
		stubRetriever{chunks: []string{"alpha"}},
		stubSynth{err: errors.New("model unavailable")},
		nil)
	if got := p.Insights(context.Background(), "ctx"); got != nil {
		t.Fatalf("expected nil insights on synthesis failure, got %+v", got)
	}
}

func TestPipeline_HappyPath(t *testing.T) {
	p := NewPipeline(
		stubRetriever{chunks: []string{"the serial position effect matters"}},
		stubSynth{insights: []Insight{
			{Principle: "Serial Position Effect", Outcome: "positive", Rationale: "Key item moved first."},
			{Principle: "Invented Principle", Outcome: "positive", Rationale: "Should be dropped."},
		}},
		nil)
	got := p.Insights(context.Background(), "ctx")
	if len(got) != 1 || got[0].Principle != "Serial Position Effect" {
		t.Fatalf("got %+v", got)
	}
}

func TestHTTPRetriever(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/retrieve" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req retrieveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Query != "checkout changes" {
			t.Errorf("query: %q", req.Query)
		}
		json.NewEncoder(w).Encode(retrieveResponse{Chunks: []string{"c1", "c2"}})
	}))
	defer srv.Close()

	r := NewRetriever(Config{RetrievalEndpoint: srv.URL})
	chunks, err := r.Retrieve(context.Background(), "checkout changes")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(chunks) != 2 || chunks[0] != "c1" {
		t.Fatalf("chunks: %v", chunks)
	}
}

func TestHTTPRetriever_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewRetriever(Config{RetrievalEndpoint: srv.URL})
	if _, err := r.Retrieve(context.Background(), "q"); err == nil {
		t.Fatal("expected error on HTTP 503")
	}
}

func TestNewRetriever_EmptyEndpointIsNoop(t *testing.T) {
	r := NewRetriever(Config{})
	chunks, err := r.Retrieve(context.Background(), "anything")
	if err != nil || chunks != nil {
		t.Fatalf("noop retriever: chunks=%v err=%v", chunks, err)
	}
}
