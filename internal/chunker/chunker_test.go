package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitParagraphs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "empty input",
			text: "",
			want: nil,
		},
		{
			name: "whitespace only",
			text: "  \n\n \t \n",
			want: nil,
		},
		{
			name: "single paragraph",
			text: "Call me Ishmael.",
			want: []string{"Call me Ishmael."},
		},
		{
			name: "blank line split",
			text: "First paragraph.\n\nSecond paragraph.",
			want: []string{"First paragraph.", "Second paragraph."},
		},
		{
			name: "multiple blank lines collapse",
			text: "First.\n\n\n\nSecond.",
			want: []string{"First.", "Second."},
		},
		{
			name: "blank lines with spaces",
			text: "First.\n  \t\nSecond.",
			want: []string{"First.", "Second."},
		},
		{
			name: "windows and mac line endings",
			text: "First.\r\n\r\nSecond.\r\rThird.",
			want: []string{"First.", "Second.", "Third."},
		},
		{
			name: "segments trimmed",
			text: "  First.  \n\n\tSecond.\t",
			want: []string{"First.", "Second."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitParagraphs(tt.text))
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 0, EstimateTokens("   \n\t"))
	assert.Equal(t, 1, EstimateTokens("word"))
	assert.Equal(t, 3, EstimateTokens("A B C"))
	assert.Equal(t, 4, EstimateTokens("  spaced   out\n\twords here  "))
}

func TestBuildWindowsConfigValidation(t *testing.T) {
	paragraphs := []string{"some text"}

	_, err := BuildWindows(paragraphs, 0, 0)
	require.Error(t, err)

	_, err = BuildWindows(paragraphs, -5, 0)
	require.Error(t, err)

	_, err = BuildWindows(paragraphs, 10, 10)
	require.Error(t, err)

	_, err = BuildWindows(paragraphs, 10, 11)
	require.Error(t, err)

	_, err = BuildWindows(paragraphs, 10, -1)
	require.Error(t, err)
}

func TestBuildWindowsEmptyInput(t *testing.T) {
	windows, err := BuildWindows(nil, 100, 20)
	require.NoError(t, err)
	assert.Empty(t, windows)
}

// The worked scenario: paragraph costs 3, 4, 2 with budget 5 and overlap 2
// must yield three single-paragraph windows.
func TestBuildWindowsOverlapScenario(t *testing.T) {
	paragraphs := []string{"A B C", "D E F G", "H I"}

	windows, err := BuildWindows(paragraphs, 5, 2)
	require.NoError(t, err)
	require.Len(t, windows, 3)

	assert.Equal(t, Window{Start: 0, EndExclusive: 1, Text: "A B C", ApproxTokens: 3}, windows[0])
	assert.Equal(t, Window{Start: 1, EndExclusive: 2, Text: "D E F G", ApproxTokens: 4}, windows[1])
	assert.Equal(t, Window{Start: 2, EndExclusive: 3, Text: "H I", ApproxTokens: 2}, windows[2])
}

func TestBuildWindowsAccumulatesUnderBudget(t *testing.T) {
	paragraphs := []string{"a b", "c d", "e f", "g h"}

	windows, err := BuildWindows(paragraphs, 4, 0)
	require.NoError(t, err)
	require.Len(t, windows, 2)

	assert.Equal(t, 0, windows[0].Start)
	assert.Equal(t, 2, windows[0].EndExclusive)
	assert.Equal(t, "a b\n\nc d", windows[0].Text)
	assert.Equal(t, 4, windows[0].ApproxTokens)

	assert.Equal(t, 2, windows[1].Start)
	assert.Equal(t, 4, windows[1].EndExclusive)
}

func TestBuildWindowsZeroOverlapTiles(t *testing.T) {
	var paragraphs []string
	for i := 0; i < 9; i++ {
		paragraphs = append(paragraphs, "one two three")
	}

	windows, err := BuildWindows(paragraphs, 6, 0)
	require.NoError(t, err)

	// non-overlapping tiling: each window starts where the previous ended
	for i := 1; i < len(windows); i++ {
		assert.Equal(t, windows[i-1].EndExclusive, windows[i].Start)
	}
	assert.Equal(t, len(paragraphs), windows[len(windows)-1].EndExclusive)
}

func TestBuildWindowsOversizedParagraph(t *testing.T) {
	big := strings.Repeat("word ", 50)
	paragraphs := []string{"a b", big, "c d"}

	windows, err := BuildWindows(paragraphs, 10, 3)
	require.NoError(t, err)

	// the oversized paragraph is emitted as its own window, not split
	var found bool
	for _, w := range windows {
		if w.Start == 1 {
			found = true
			assert.Equal(t, 2, w.EndExclusive)
			assert.Equal(t, 50, w.ApproxTokens)
		}
	}
	assert.True(t, found, "oversized paragraph should get its own window")
}

func TestBuildWindowsSingleOversizedParagraph(t *testing.T) {
	windows, err := BuildWindows([]string{strings.Repeat("w ", 100)}, 5, 2)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, 0, windows[0].Start)
	assert.Equal(t, 1, windows[0].EndExclusive)
}

// Forward progress and coverage over a spread of shapes and configs: starts
// strictly increase, the loop never runs past len(paragraphs) windows, and
// every paragraph index is covered by at least one window.
func TestBuildWindowsForwardProgressAndCoverage(t *testing.T) {
	shapes := [][]string{
		{"one"},
		{"a b c d e", "f", "g h", "i j k l m n o p", "q"},
		{strings.Repeat("x ", 30), strings.Repeat("y ", 30), strings.Repeat("z ", 30)},
		func() []string {
			var ps []string
			for i := 0; i < 40; i++ {
				ps = append(ps, strings.Repeat("w ", 1+i%7))
			}
			return ps
		}(),
	}
	configs := []struct{ maxTokens, overlapTokens int }{
		{1, 0}, {5, 0}, {5, 4}, {10, 2}, {10, 9}, {100, 50}, {3, 1},
	}

	for si, paragraphs := range shapes {
		for _, cfg := range configs {
			name := fmt.Sprintf("shape%d_max%d_overlap%d", si, cfg.maxTokens, cfg.overlapTokens)
			t.Run(name, func(t *testing.T) {
				windows, err := BuildWindows(paragraphs, cfg.maxTokens, cfg.overlapTokens)
				require.NoError(t, err)
				require.NotEmpty(t, windows)
				require.LessOrEqual(t, len(windows), len(paragraphs))

				covered := make([]bool, len(paragraphs))
				prevStart := -1
				for _, w := range windows {
					assert.Greater(t, w.Start, prevStart, "starts must strictly increase")
					assert.Less(t, w.Start, w.EndExclusive)
					assert.LessOrEqual(t, w.EndExclusive, len(paragraphs))
					assert.GreaterOrEqual(t, w.EndExclusive-w.Start, 1)
					for i := w.Start; i < w.EndExclusive; i++ {
						covered[i] = true
					}
					prevStart = w.Start
				}
				for i, ok := range covered {
					assert.True(t, ok, "paragraph %d not covered", i)
				}
				assert.Equal(t, len(paragraphs), windows[len(windows)-1].EndExclusive)
			})
		}
	}
}

func TestBuildWindowsTextInvariant(t *testing.T) {
	paragraphs := []string{"alpha beta", "gamma", "delta epsilon zeta", "eta"}
	windows, err := BuildWindows(paragraphs, 4, 1)
	require.NoError(t, err)

	for _, w := range windows {
		want := strings.Join(paragraphs[w.Start:w.EndExclusive], "\n\n")
		assert.Equal(t, want, w.Text)
		assert.Equal(t, EstimateTokens(w.Text), w.ApproxTokens)
	}
}

func TestNextWindowStart(t *testing.T) {
	tests := []struct {
		name          string
		costs         []int
		start, end    int
		overlapTokens int
		want          int
	}{
		{
			name:  "zero overlap jumps to end",
			costs: []int{3, 4, 2}, start: 0, end: 2, overlapTokens: 0,
			want: 2,
		},
		{
			name:  "walks back until overlap covered",
			costs: []int{2, 2, 2, 2}, start: 0, end: 3, overlapTokens: 3,
			want: 1,
		},
		{
			name:  "single big paragraph floors at start+1",
			costs: []int{10}, start: 0, end: 1, overlapTokens: 5,
			want: 1,
		},
		{
			name:  "overlap larger than window floors at start+1",
			costs: []int{1, 1, 1}, start: 0, end: 2, overlapTokens: 99,
			want: 1,
		},
		{
			name:  "first paragraph past boundary covers overlap",
			costs: []int{3, 4, 2}, start: 0, end: 1, overlapTokens: 2,
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextWindowStart(tt.costs, tt.start, tt.end, tt.overlapTokens)
			assert.Equal(t, tt.want, got)
			assert.Greater(t, got, tt.start, "must always advance")
		})
	}
}
