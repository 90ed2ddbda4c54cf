package vision

import "strings"

const systemPrompt = `You are a product analyst comparing user interface screenshots.
Respond with a single JSON object and nothing else:
{"changes": ["..."], "implication": "...", "strategicView": "..."}
- "changes": at most 5 short bullets describing concrete visual or content differences.
- "implication": one paragraph on what the changes mean for users.
- "strategicView": optional, one paragraph on the likely product intent.`

const initialInstruction = `These are the first two screenshots of a series.
Compare the SECOND image against the FIRST and summarize what changed.`

const continuationInstruction = `The FIRST image is the previous state of an evolving interface;
the SECOND is its newest state. Summarize what changed in this step.`

const singleInstruction = `Describe the notable elements of this screenshot as a baseline
for future comparisons. Use "changes" for the notable elements.`

// userPrompt assembles the instruction text for a request.
func userPrompt(req Request) string {
	var b strings.Builder
	switch {
	case req.ImageA == "":
		b.WriteString(singleInstruction)
	case req.Mode == ModeContinuation:
		b.WriteString(continuationInstruction)
	default:
		b.WriteString(initialInstruction)
	}
	if ctx := strings.TrimSpace(req.Context); ctx != "" {
		b.WriteString("\n\nAdditional context from the user: ")
		b.WriteString(ctx)
	}
	return b.String()
}
