package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Synthesizer proposes candidate insights from retrieved chunks. Candidates
// still pass through Ground before being surfaced.
type Synthesizer interface {
	Synthesize(ctx context.Context, contextText string, chunks []string) ([]Insight, error)
}

const synthSystemPrompt = `You extract UX and psychology principles from reference material.
Given reference excerpts and a description of an interface change, respond with
a single JSON object and nothing else:
{"insights": [{"principle": "...", "outcome": "positive"|"negative", "rationale": "..."}]}
Name at most 3 principles, and ONLY principles that literally appear in the
reference excerpts. "positive" means the change honors the principle,
"negative" means it works against it.`

// SynthConfig configures the LLM-backed synthesizer.
type SynthConfig struct {
	// APIKey for the hosted model. Empty yields a synthesizer that always
	// returns no candidates.
	APIKey string `json:"api_key" yaml:"api_key"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Model name. Default: "gpt-4o-mini".
	Model string `json:"model" yaml:"model"`

	// Timeout per attempt. Default: 30s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

func (c *SynthConfig) defaults() {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// NewSynthesizer creates a Synthesizer from config.
func NewSynthesizer(cfg SynthConfig) Synthesizer {
	cfg.defaults()
	if cfg.APIKey == "" {
		return noopSynthesizer{}
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &llmSynthesizer{model: cfg.Model, timeout: cfg.Timeout, opts: opts}
}

type noopSynthesizer struct{}

func (noopSynthesizer) Synthesize(context.Context, string, []string) ([]Insight, error) {
	return nil, nil
}

type llmSynthesizer struct {
	model   string
	timeout time.Duration
	opts    []option.RequestOption
}

func (s *llmSynthesizer) Synthesize(ctx context.Context, contextText string, chunks []string) ([]Insight, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var user strings.Builder
	user.WriteString("Interface change under review:\n")
	user.WriteString(contextText)
	user.WriteString("\n\nReference excerpts:\n")
	for i, c := range chunks {
		fmt.Fprintf(&user, "--- excerpt %d ---\n%s\n", i+1, c)
	}

	client := openai.NewClient(s.opts...)
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(synthSystemPrompt),
			openai.UserMessage(user.String()),
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty choices")
	}
	return parseCandidates(resp.Choices[0].Message.Content)
}

// parseCandidates extracts the insights array from the model reply.
func parseCandidates(raw string) ([]Insight, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}
	var payload struct {
		Insights []Insight `json:"insights"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return nil, fmt.Errorf("decode insights: %w", err)
	}
	return payload.Insights, nil
}
