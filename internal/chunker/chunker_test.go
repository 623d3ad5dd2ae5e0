package chunker

import (
	"strings"
	"testing"

	"github.com/dgallion1/raptree/internal/apperr"
)

func TestSplit_OneSentencePerChunk(t *testing.T) {
	chunks, err := Split("A. B. C.", 1, WordTokenizer{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"A.", "B.", "C."}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d: %q", len(want), len(chunks), chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d: expected %q, got %q", i, want[i], chunks[i])
		}
	}
}

func TestSplit_SmallTextFitsOneChunk(t *testing.T) {
	text := "First paragraph here.\n\nSecond paragraph here."
	chunks, err := Split(text, 100, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != text {
		t.Errorf("expected paragraphs joined verbatim, got %q", chunks[0])
	}
}

func TestSplit_NeverExceedsBudget(t *testing.T) {
	largeText := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 300) +
		"\n\n" + strings.Repeat("averyveryverylongwordwithoutanyspaces", 3) +
		"\n\n" + strings.Repeat("word ", 500)

	for _, budget := range []int{1, 2, 7, 50, 333} {
		chunks, err := Split(largeText, budget, WordTokenizer{})
		if err != nil {
			t.Fatalf("budget %d: unexpected error: %v", budget, err)
		}
		if len(chunks) < 2 {
			t.Fatalf("budget %d: expected several chunks, got %d", budget, len(chunks))
		}
		for i, c := range chunks {
			if n := EstimateTokens(c); n > budget {
				t.Errorf("budget %d: chunk %d has %d tokens", budget, i, n)
			}
		}
	}
}

func TestSplit_PreservesWordOrder(t *testing.T) {
	text := "one two three four five six seven eight nine ten"
	chunks, err := Split(text, 3, WordTokenizer{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	joined := strings.Join(chunks, " ")
	if joined != text {
		t.Errorf("expected %q, got %q", text, joined)
	}
}

func TestSplit_CJKSentence(t *testing.T) {
	text := "灰姑娘失去了水晶鞋。王子找到了她！"
	chunks, err := Split(text, 4, WordTokenizer{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected CJK text to be split, got %q", chunks)
	}
	for i, c := range chunks {
		if n := EstimateTokens(c); n > 4 {
			t.Errorf("chunk %d %q has %d tokens", i, c, n)
		}
	}
	if strings.Join(chunks, "") != text {
		t.Errorf("expected chunks to reassemble the input, got %q", chunks)
	}
}

func TestSplit_EmptyText(t *testing.T) {
	chunks, err := Split("  \n\n  ", 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected 0 chunks, got %d", len(chunks))
	}
}

func TestSplit_InvalidBudget(t *testing.T) {
	for _, budget := range []int{0, -5} {
		_, err := Split("hello", budget, nil)
		if !apperr.IsConfiguration(err) {
			t.Errorf("budget %d: expected ConfigurationError, got %v", budget, err)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"A.", 1},
		{"one two", 2},
		{"one two three", 3},
		{"水晶鞋", 3},
		{"hello 世界", 3},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q): expected %d, got %d", tt.text, tt.want, got)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("Dr. Who? Yes! It ends.\nNext line")
	want := []string{"Dr.", "Who?", "Yes!", "It ends.", "Next line"}
	if len(got) != len(want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		text string
		max  int
		want string
	}{
		{"one two three four", 100, "one two three four"},
		{"one two three four", 2, "one two"},
		{"one two three four", 3, "one two three"},
		{"水晶鞋很漂亮", 3, "水晶鞋"},
		{"anything", 0, ""},
	}
	for _, tt := range tests {
		if got := Truncate(tt.text, tt.max, nil); got != tt.want {
			t.Errorf("Truncate(%q, %d): expected %q, got %q", tt.text, tt.max, tt.want, got)
		}
	}
}
