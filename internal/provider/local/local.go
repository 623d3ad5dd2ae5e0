// Package local provides deterministic, dependency-free providers: a hashed
// bag-of-words embedder, a frequency-ranked extractive summarizer and an
// extractive question answerer. They need no network and suit tests,
// offline builds and CI.
package local

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/dgallion1/raptree/internal/chunker"
)

// DefaultDim is the vector size of HashEmbedder when none is given.
const DefaultDim = 256

var (
	tokenPattern    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
	sentencePattern = regexp.MustCompile(`[^.!?。！？]+[.!?。！？]*`)
)

// HashEmbedder maps words and word bigrams into a fixed-size vector with
// feature hashing, then L2-normalizes it.
type HashEmbedder struct {
	Dim int
}

func (h HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dim := h.Dim
	if dim <= 0 {
		dim = DefaultDim
	}
	v := make([]float64, dim)
	toks := tokens(text)
	for i, tok := range toks {
		if _, stop := stopwords[tok]; !stop {
			addFeature(v, tok, 1)
		}
		if i > 0 {
			addFeature(v, toks[i-1]+" "+tok, 0.5)
		}
	}
	out := make([]float32, dim)
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		// Blank or stopword-only text still gets a stable unit vector.
		out[0] = 1
		return out, nil
	}
	n := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(x / n)
	}
	return out, nil
}

func addFeature(v []float64, feature string, weight float64) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(len(v)))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

// FrequencySummarizer ranks sentences by normalized word frequency and keeps
// the best ones, in original order, within the token budget.
type FrequencySummarizer struct {
	Tokenizer chunker.Tokenizer
}

func (s FrequencySummarizer) Summarize(ctx context.Context, texts []string, maxTokens int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok := s.Tokenizer
	if tok == nil {
		tok = chunker.WordTokenizer{}
	}
	var sentences []string
	for _, t := range texts {
		sentences = append(sentences, splitSentences(t)...)
	}
	if len(sentences) == 0 {
		return "", nil
	}

	freq := make(map[string]float64)
	for _, sent := range sentences {
		for _, w := range tokens(sent) {
			if _, stop := stopwords[w]; !stop {
				freq[w]++
			}
		}
	}
	maxF := 0.0
	for _, f := range freq {
		maxF = math.Max(maxF, f)
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, sent := range sentences {
		words := tokens(sent)
		score := 0.0
		for _, w := range words {
			score += freq[w] / math.Max(maxF, 1)
		}
		if len(words) > 0 {
			score /= math.Sqrt(float64(len(words)))
		}
		ranked[i] = scored{idx: i, score: score}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var picked []int
	for _, r := range ranked {
		candidate := joinPicked(sentences, append(picked, r.idx))
		if tok.Count(candidate) <= maxTokens {
			picked = append(picked, r.idx)
		}
	}
	if len(picked) == 0 {
		return chunker.Truncate(sentences[ranked[0].idx], maxTokens, tok), nil
	}
	return joinPicked(sentences, picked), nil
}

func joinPicked(sentences []string, idx []int) string {
	ordered := append([]int(nil), idx...)
	sort.Ints(ordered)
	parts := make([]string, len(ordered))
	for i, j := range ordered {
		parts[i] = sentences[j]
	}
	return strings.Join(parts, " ")
}

// ExtractiveQA answers with the context sentences that share the most
// content words with the question.
type ExtractiveQA struct {
	MaxSentences int
}

func (q ExtractiveQA) Answer(ctx context.Context, contextText, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	limit := q.MaxSentences
	if limit <= 0 {
		limit = 2
	}
	want := make(map[string]bool)
	for _, w := range tokens(question) {
		if _, stop := stopwords[w]; !stop {
			want[w] = true
		}
	}
	sentences := splitSentences(contextText)
	if len(sentences) == 0 {
		return "", nil
	}

	type scored struct {
		idx     int
		overlap int
	}
	ranked := make([]scored, 0, len(sentences))
	for i, sent := range sentences {
		seen := make(map[string]bool)
		overlap := 0
		for _, w := range tokens(sent) {
			if want[w] && !seen[w] {
				seen[w] = true
				overlap++
			}
		}
		ranked = append(ranked, scored{idx: i, overlap: overlap})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].overlap > ranked[j].overlap })
	if ranked[0].overlap == 0 {
		return sentences[0], nil
	}

	var picked []int
	for _, r := range ranked {
		if r.overlap == 0 || len(picked) == limit {
			break
		}
		picked = append(picked, r.idx)
	}
	return joinPicked(sentences, picked), nil
}

func tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func splitSentences(text string) []string {
	var out []string
	for _, s := range sentencePattern.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by",
		"with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those",
		"from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about",
		"between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too",
		"very", "can", "will", "just", "should", "now", "what", "who", "whom", "which", "how", "why", "when",
		"where", "did", "do", "does", "has", "have", "had", "her", "his", "its", "their", "she", "he", "they",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
