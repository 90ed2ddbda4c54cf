package vision

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestParseSummary_FencedJSON(t *testing.T) {
	raw := "Here is the analysis:\n```json\n" +
		`{"changes":["button moved","color changed"],"implication":"Cleaner flow.","strategicView":"Conversion focus."}` +
		"\n```"
	got, err := parseSummary(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got.Changes) != 2 || got.Changes[0] != "button moved" {
		t.Errorf("changes: %v", got.Changes)
	}
	if got.Implication != "Cleaner flow." {
		t.Errorf("implication: %q", got.Implication)
	}
	if got.StrategicView != "Conversion focus." {
		t.Errorf("strategicView: %q", got.StrategicView)
	}
}

func TestParseSummary_CapsChangesAtFive(t *testing.T) {
	raw := `{"changes":["1","2","3","4","5","6","7"],"implication":"x"}`
	got, err := parseSummary(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got.Changes) != MaxChanges {
		t.Errorf("got %d changes, want %d", len(got.Changes), MaxChanges)
	}
}

func TestParseSummary_BadPayloads(t *testing.T) {
	cases := []string{
		"no json here at all",
		"{broken",
		`{"unrelated":"fields"}`,
		"",
	}
	for _, raw := range cases {
		if _, err := parseSummary(raw); !errors.Is(err, ErrBadPayload) {
			t.Errorf("parseSummary(%q): got %v, want ErrBadPayload", raw, err)
		}
	}
}

func TestUserPrompt_Modes(t *testing.T) {
	initial := userPrompt(Request{Mode: ModeInitial, ImageA: "a", ImageB: "b"})
	cont := userPrompt(Request{Mode: ModeContinuation, ImageA: "a", ImageB: "b"})
	single := userPrompt(Request{ImageB: "b"})
	if initial == cont {
		t.Error("initial and continuation prompts should differ")
	}
	if !strings.Contains(cont, "previous state") {
		t.Errorf("continuation prompt: %q", cont)
	}
	if !strings.Contains(single, "baseline") {
		t.Errorf("single prompt: %q", single)
	}

	withCtx := userPrompt(Request{Mode: ModeInitial, ImageA: "a", ImageB: "b", Context: "checkout page"})
	if !strings.Contains(withCtx, "checkout page") {
		t.Error("user context not included in prompt")
	}
}

func TestNew_EmptyKeyIsMock(t *testing.T) {
	c := New(Config{})
	if _, ok := c.(*Mock); !ok {
		t.Fatalf("got %T, want *Mock", c)
	}
	got, err := c.Compare(context.Background(), Request{ImageA: "a", ImageB: "b"})
	if err != nil {
		t.Fatalf("mock compare: %v", err)
	}
	if len(got.Changes) == 0 {
		t.Error("mock should return at least one change bullet")
	}
}
