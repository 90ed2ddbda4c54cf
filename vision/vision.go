// Package vision calls the hosted vision model that produces structured
// change summaries for one or two screenshots.
//
// The call contract is a black box: one timeout-bounded attempt, no retry.
// Callers map the sentinel errors to user-facing messages by sub-cause.
package vision

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Sentinel errors for the upstream call, distinguished so the surface layer
// can vary the user message by sub-cause.
var (
	ErrTimeout    = errors.New("vision: model call timed out")
	ErrUpstream   = errors.New("vision: model call failed")
	ErrBadPayload = errors.New("vision: model returned an unusable payload")
)

// Mode selects the prompt: the first pair of a series or a continuation
// against the previous screenshot.
type Mode string

const (
	ModeInitial      Mode = "initial"
	ModeContinuation Mode = "continuation"
)

// Request carries one or two data-URI images plus optional user context.
type Request struct {
	Mode    Mode
	ImageA  string // absent for single-image requests
	ImageB  string
	Context string // optional free-text context from the user
}

// ChangeSummary is the structured result of a comparison.
type ChangeSummary struct {
	Changes       []string `json:"changes"`
	Implication   string   `json:"implication"`
	StrategicView string   `json:"strategicView,omitempty"`
}

// MaxChanges caps the change bullet list.
const MaxChanges = 5

// Comparer produces a ChangeSummary for a screenshot pair.
type Comparer interface {
	Compare(ctx context.Context, req Request) (*ChangeSummary, error)
}

// Config configures the model client.
type Config struct {
	// APIKey for the hosted model. Empty selects the Mock comparer, which
	// produces canned summaries (useful without network access).
	APIKey string `json:"api_key" yaml:"api_key"`

	// BaseURL overrides the default API endpoint (for compatible gateways).
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Model name. Default: "gpt-4o-mini".
	Model string `json:"model" yaml:"model"`

	// Timeout per attempt. Default: 45s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Logger for call diagnostics. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Timeout <= 0 {
		c.Timeout = 45 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates a Comparer from config. An empty APIKey yields the Mock.
func New(cfg Config) Comparer {
	cfg.defaults()
	if cfg.APIKey == "" {
		return &Mock{}
	}
	return newOpenAIComparer(cfg)
}
