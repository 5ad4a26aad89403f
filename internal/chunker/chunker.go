package chunker

import (
	"fmt"
	"regexp"
	"strings"
)

// paragraphSeparator joins a window's paragraphs back into one text block.
const paragraphSeparator = "\n\n"

var blankLineRe = regexp.MustCompile(`\n[ \t]*\n+`)

// Window is one token-budgeted span of consecutive paragraphs.
// Paragraph bounds are [Start, EndExclusive) into the sequence the
// window was built from.
type Window struct {
	Start        int
	EndExclusive int
	Text         string
	ApproxTokens int
}

// SplitParagraphs normalizes line endings and splits text into non-empty
// trimmed paragraphs on blank-line boundaries. Empty input yields nil.
func SplitParagraphs(text string) []string {
	norm := strings.ReplaceAll(text, "\r\n", "\n")
	norm = strings.ReplaceAll(norm, "\r", "\n")

	var paragraphs []string
	for _, seg := range blankLineRe.Split(norm, -1) {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		paragraphs = append(paragraphs, seg)
	}
	return paragraphs
}

// EstimateTokens approximates the token cost of s by counting whitespace
// separated words. This is a stand-in for a real tokenizer; callers must
// not assume compatibility with any specific embedding model's tokenizer.
func EstimateTokens(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	return len(strings.Fields(s))
}

// BuildWindows partitions paragraphs into overlapping windows under maxTokens.
// Each window holds at least one paragraph, even when that single paragraph
// alone exceeds the budget (oversized paragraphs are accepted as-is rather
// than split). Window starts are strictly increasing, so the loop terminates
// in at most len(paragraphs) iterations.
func BuildWindows(paragraphs []string, maxTokens, overlapTokens int) ([]Window, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("max tokens must be positive, got %d", maxTokens)
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		return nil, fmt.Errorf("overlap tokens must be in [0, %d), got %d", maxTokens, overlapTokens)
	}
	if len(paragraphs) == 0 {
		return nil, nil
	}

	costs := make([]int, len(paragraphs))
	for i, p := range paragraphs {
		costs[i] = EstimateTokens(p)
	}

	var windows []Window
	start := 0
	for {
		// forward fill: always take the paragraph at start, then keep
		// adding while the budget allows
		end := start + 1
		total := costs[start]
		for end < len(paragraphs) && total < maxTokens && total+costs[end] <= maxTokens {
			total += costs[end]
			end++
		}

		text := strings.Join(paragraphs[start:end], paragraphSeparator)
		windows = append(windows, Window{
			Start:        start,
			EndExclusive: end,
			Text:         text,
			ApproxTokens: EstimateTokens(text),
		})

		if end >= len(paragraphs) {
			return windows, nil
		}
		start = nextWindowStart(costs, start, end, overlapTokens)
	}
}

// nextWindowStart walks backward from windowEnd accumulating paragraph costs
// until the requested overlap is covered, then floors the result at
// windowStart+1 so every window advances. The floor is what guarantees
// termination when a single paragraph's cost exceeds the overlap target.
// Postcondition: windowStart < result <= windowEnd.
func nextWindowStart(costs []int, windowStart, windowEnd, overlapTokens int) int {
	next := windowEnd
	if overlapTokens > 0 {
		acc := 0
		for next > windowStart && acc < overlapTokens {
			next--
			acc += costs[next]
		}
	}
	if next <= windowStart {
		next = windowStart + 1
	}
	return next
}
