package chunker

import (
	"strings"
	"unicode"
)

// Tokenizer counts budget units in a piece of text. The same tokenizer must
// be used for chunking, cluster budgets and context assembly.
type Tokenizer interface {
	Count(text string) int
}

// WordTokenizer is the default Tokenizer backed by EstimateTokens.
type WordTokenizer struct{}

func (WordTokenizer) Count(text string) int { return EstimateTokens(text) }

// EstimateTokens gives a rough token count: ~1.33 tokens per whitespace
// separated word, plus one token per CJK character.
// Joining two texts with whitespace never lowers the count of either.
func EstimateTokens(text string) int {
	words, cjk := 0, 0
	inWord := false
	for _, r := range text {
		switch {
		case isCJK(r):
			cjk++
			inWord = false
		case unicode.IsSpace(r):
			inWord = false
		default:
			if !inWord {
				words++
				inWord = true
			}
		}
	}
	tokens := int(float64(words)*1.33) + cjk
	if tokens < 1 && strings.TrimSpace(text) != "" {
		tokens = 1
	}
	return tokens
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// Truncate returns the longest word prefix of text that fits maxTokens,
// falling back to a rune prefix when even the first word is too large.
func Truncate(text string, maxTokens int, tok Tokenizer) string {
	if tok == nil {
		tok = WordTokenizer{}
	}
	text = strings.TrimSpace(text)
	if maxTokens <= 0 || text == "" {
		return ""
	}
	if tok.Count(text) <= maxTokens {
		return text
	}
	words := strings.Fields(text)
	out := ""
	for i, w := range words {
		candidate := w
		if i > 0 {
			candidate = out + " " + w
		}
		if tok.Count(candidate) > maxTokens {
			break
		}
		out = candidate
	}
	if out != "" {
		return out
	}
	var sb strings.Builder
	for _, r := range words[0] {
		if tok.Count(sb.String()+string(r)) > maxTokens {
			break
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
