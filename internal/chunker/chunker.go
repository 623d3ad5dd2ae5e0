package chunker

import (
	"strings"
	"unicode"

	"github.com/dgallion1/raptree/internal/apperr"
)

// DefaultMaxTokens is the leaf chunk budget used when none is configured.
const DefaultMaxTokens = 100

// split levels, coarsest first.
const (
	levelParagraph = iota
	levelSentence
	levelWord
	levelRune
)

// Split breaks text into an ordered sequence of leaf chunks. Paragraphs are
// packed greedily; a paragraph that does not fit is split into sentences, a
// sentence into words, and as a last resort a word into runes. Every chunk
// satisfies tok.Count(chunk) <= maxTokens.
func Split(text string, maxTokens int, tok Tokenizer) ([]string, error) {
	if maxTokens <= 0 {
		return nil, apperr.Configf("chunk_max_tokens", "must be > 0, got %d", maxTokens)
	}
	if tok == nil {
		tok = WordTokenizer{}
	}

	p := &packer{tok: tok, max: maxTokens}
	for _, para := range splitByParagraphs(text) {
		p.add(para, levelParagraph)
	}
	p.flush()
	return p.out, nil
}

type packer struct {
	tok Tokenizer
	max int
	out []string
	cur strings.Builder
}

// add appends unit to the current chunk, starting a new chunk or descending
// to a finer split level when it would not fit.
func (p *packer) add(unit string, level int) {
	if p.cur.Len() > 0 {
		candidate := p.cur.String() + separator(level) + unit
		if p.tok.Count(candidate) <= p.max {
			p.cur.Reset()
			p.cur.WriteString(candidate)
			return
		}
		p.flush()
	}

	if p.tok.Count(unit) <= p.max {
		p.cur.WriteString(unit)
		return
	}
	if level == levelRune {
		// A single rune over budget cannot be split further; drop it rather
		// than break the ceiling.
		return
	}
	for _, part := range splitLevel(unit, level+1) {
		p.add(part, level+1)
	}
	p.flush()
}

func (p *packer) flush() {
	if p.cur.Len() == 0 {
		return
	}
	p.out = append(p.out, p.cur.String())
	p.cur.Reset()
}

func separator(level int) string {
	switch level {
	case levelParagraph:
		return "\n\n"
	case levelRune:
		return ""
	default:
		return " "
	}
}

func splitLevel(text string, level int) []string {
	switch level {
	case levelSentence:
		return splitSentences(text)
	case levelWord:
		return strings.Fields(text)
	default:
		var runes []string
		for _, r := range text {
			runes = append(runes, string(r))
		}
		return runes
	}
}

// splitByParagraphs splits on blank lines.
func splitByParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\n\n")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// splitSentences ends a sentence at '.', '!' or '?' followed by whitespace
// or end of text, and at CJK full stops unconditionally.
func splitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0
	for i, r := range runes {
		end := false
		switch r {
		case '。', '！', '？':
			end = true
		case '.', '!', '?':
			end = i+1 == len(runes) || unicode.IsSpace(runes[i+1])
		}
		if !end {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
