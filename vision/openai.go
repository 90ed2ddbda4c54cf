package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openaiComparer implements Comparer via the OpenAI chat completions API
// with image content parts. Any OpenAI-compatible gateway works through
// the BaseURL override.
type openaiComparer struct {
	model   string
	timeout time.Duration
	opts    []option.RequestOption
	cfg     Config
}

func newOpenAIComparer(cfg Config) *openaiComparer {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &openaiComparer{
		model:   cfg.Model,
		timeout: cfg.Timeout,
		opts:    opts,
		cfg:     cfg,
	}
}

func (c *openaiComparer) Compare(ctx context.Context, req Request) (*ChangeSummary, error) {
	if req.ImageB == "" {
		return nil, fmt.Errorf("%w: no image to analyze", ErrBadPayload)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(userPrompt(req)),
	}
	if req.ImageA != "" {
		parts = append(parts, openai.ImageContentPart(
			openai.ChatCompletionContentPartImageImageURLParam{URL: req.ImageA}))
	}
	parts = append(parts, openai.ImageContentPart(
		openai.ChatCompletionContentPartImageImageURLParam{URL: req.ImageB}))

	client := openai.NewClient(c.opts...)
	start := time.Now()
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(parts),
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrBadPayload)
	}

	summary, err := parseSummary(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	c.cfg.Logger.Debug("vision compare done",
		"model", c.model, "changes", len(summary.Changes), "elapsed", time.Since(start))
	return summary, nil
}

// parseSummary extracts the JSON object from the model's reply. Models
// sometimes wrap JSON in code fences or prose; the outermost braces win.
func parseSummary(raw string) (*ChangeSummary, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrBadPayload)
	}

	var summary ChangeSummary
	if err := json.Unmarshal([]byte(raw[start:end+1]), &summary); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if len(summary.Changes) == 0 && summary.Implication == "" {
		return nil, fmt.Errorf("%w: neither changes nor implication present", ErrBadPayload)
	}
	if len(summary.Changes) > MaxChanges {
		summary.Changes = summary.Changes[:MaxChanges]
	}
	return &summary, nil
}
