// Package insight turns retrieved reference text into grounded UX-principle
// insights attached to comparison results.
//
// The pipeline is strictly best-effort: retrieval or synthesis failures are
// swallowed and reported as zero insights, never as an error to the caller,
// so the primary comparison result is never blocked.
package insight

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/snapline/textnorm"
)

// MaxInsights caps how many insights a single comparison carries.
const MaxInsights = 3

// Outcome classifies whether a principle is honored or violated.
type Outcome string

const (
	OutcomePositive Outcome = "positive"
	OutcomeNegative Outcome = "negative"
)

// Insight names a UX/psychology principle plus a classification and rationale.
type Insight struct {
	Principle string  `json:"principle"`
	Outcome   Outcome `json:"outcome"`
	Rationale string  `json:"rationale"`
}

// Config configures the insight pipeline.
type Config struct {
	// RetrievalEndpoint is the base URL of the text-retrieval service.
	// Empty disables retrieval (the pipeline then yields no insights).
	RetrievalEndpoint string `json:"retrieval_endpoint" yaml:"retrieval_endpoint"`

	// RetrievalTimeout per request. Default: 30s.
	RetrievalTimeout time.Duration `json:"retrieval_timeout" yaml:"retrieval_timeout"`

	// MaxChunks bounds how many retrieved chunks are considered. Default: 8.
	MaxChunks int `json:"max_chunks" yaml:"max_chunks"`

	// Logger for pipeline diagnostics. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = 30 * time.Second
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = 8
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pipeline wires a Retriever and a Synthesizer behind the grounding filter.
type Pipeline struct {
	retriever Retriever
	synth     Synthesizer
	logger    *slog.Logger
}

// NewPipeline builds a Pipeline from explicit ports.
func NewPipeline(r Retriever, s Synthesizer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{retriever: r, synth: s, logger: logger}
}

// Insights retrieves reference chunks for contextText, synthesizes candidate
// insights, and returns only the grounded ones. Never returns an error:
// every failure degrades to nil.
func (p *Pipeline) Insights(ctx context.Context, contextText string) []Insight {
	chunks, err := p.retriever.Retrieve(ctx, contextText)
	if err != nil {
		p.logger.Warn("retrieval failed, continuing without insights", "error", err)
		return nil
	}
	if len(chunks) == 0 {
		return nil
	}

	candidates, err := p.synth.Synthesize(ctx, contextText, chunks)
	if err != nil {
		p.logger.Warn("insight synthesis failed, continuing without insights", "error", err)
		return nil
	}

	return Ground(candidates, chunks, p.logger)
}

// Ground keeps only candidates whose principle has a case-insensitive
// substring match in at least one plain-texted chunk. The upstream generator
// is not trusted to avoid fabricating terms absent from the retrieval
// context, so ungrounded insights are dropped with a diagnostic note.
func Ground(candidates []Insight, chunks []string, logger *slog.Logger) []Insight {
	if logger == nil {
		logger = slog.Default()
	}
	plain := make([]string, len(chunks))
	for i, c := range chunks {
		plain[i] = strings.ToLower(textnorm.PlainChunk(c))
	}

	var kept []Insight
	for _, cand := range candidates {
		principle := textnorm.StripMarkdown(cand.Principle)
		if principle == "" {
			continue
		}
		needle := strings.ToLower(principle)
		grounded := false
		for _, p := range plain {
			if strings.Contains(p, needle) {
				grounded = true
				break
			}
		}
		if !grounded {
			logger.Debug("dropped ungrounded insight", "principle", principle)
			continue
		}
		kept = append(kept, Insight{
			Principle: principle,
			Outcome:   normalizeOutcome(cand.Outcome),
			Rationale: textnorm.StripMarkdown(cand.Rationale),
		})
		if len(kept) == MaxInsights {
			break
		}
	}
	return kept
}

func normalizeOutcome(o Outcome) Outcome {
	if strings.EqualFold(string(o), string(OutcomeNegative)) {
		return OutcomeNegative
	}
	return OutcomePositive
}
