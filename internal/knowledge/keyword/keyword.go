package keyword

import (
	"regexp"
	"strings"
)

const minTermLength = 3

// Scorer extracts key terms from a query and scores arbitrary text for
// lexical overlap. It is used both for hybrid ranking and for snippet
// extraction.
type Scorer struct {
	tokenPattern    *regexp.Regexp
	sentencePattern *regexp.Regexp
	stopwords       map[string]struct{}
}

// NewScorer creates a Scorer with the default English stopword list.
func NewScorer() *Scorer {
	return &Scorer{
		tokenPattern:    regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)*`),
		sentencePattern: regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
		stopwords:       defaultStopwords(),
	}
}

// ExtractKeyTerms lowercases and tokenizes the query, discarding stopwords
// and terms shorter than the minimum length. Duplicates collapse; order is
// not significant.
func (s *Scorer) ExtractKeyTerms(query string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, tok := range s.tokens(query) {
		if len([]rune(tok)) < minTermLength {
			continue
		}
		if _, ok := s.stopwords[tok]; ok {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		terms = append(terms, tok)
	}
	return terms
}

// densitySaturation is the term-density multiplier in Score: one key term
// occurrence per five content tokens already earns the full frequency share.
const densitySaturation = 5

// Score counts key term occurrences in the content and returns a value in
// [0,1]. The score blends term coverage (how many distinct terms appear) with
// occurrence density normalized by content length, so a short focused chunk
// outranks a long one with the same matches and stuffing cannot exceed 1.
// It returns 0 exactly when no key term appears.
func (s *Scorer) Score(content string, terms []string) float64 {
	if len(terms) == 0 || content == "" {
		return 0
	}

	counts := make(map[string]int)
	total := 0
	for _, tok := range s.tokens(content) {
		counts[tok]++
		total++
	}

	matched := 0
	occurrences := 0
	for _, term := range terms {
		if n := counts[term]; n > 0 {
			matched++
			occurrences += n
		}
	}
	if matched == 0 {
		return 0
	}

	coverage := float64(matched) / float64(len(terms))
	density := float64(occurrences) / float64(total) * densitySaturation
	if density > 1 {
		density = 1
	}

	return 0.7*coverage + 0.3*density
}

// Snippet returns the sentence window with the highest concentration of key
// terms, bounded to windowSentences sentences. When no term matches it falls
// back to the first windowSentences sentences of the content.
func (s *Scorer) Snippet(content string, terms []string, windowSentences int) string {
	if windowSentences <= 0 {
		windowSentences = 3
	}

	sentences := s.sentencePattern.FindAllString(content, -1)
	if len(sentences) == 0 {
		return strings.TrimSpace(content)
	}
	for i := range sentences {
		sentences[i] = strings.TrimSpace(sentences[i])
	}

	best := -1
	bestCount := 0
	for i, sent := range sentences {
		count := 0
		for _, tok := range s.tokens(sent) {
			for _, term := range terms {
				if tok == term {
					count++
				}
			}
		}
		if count > bestCount {
			best = i
			bestCount = count
		}
	}

	var lo, hi int
	if best < 0 {
		// No term matched anywhere; show the opening of the content.
		lo, hi = 0, windowSentences
	} else {
		lo = best - (windowSentences-1)/2
		if lo < 0 {
			lo = 0
		}
		hi = lo + windowSentences
	}
	if hi > len(sentences) {
		hi = len(sentences)
	}

	return strings.Join(sentences[lo:hi], " ")
}

func (s *Scorer) tokens(text string) []string {
	return s.tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to",
		"of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were",
		"be", "been", "being", "it", "this", "that", "these", "those", "from",
		"up", "down", "over", "under", "again", "further", "than", "so", "such",
		"into", "about", "between", "through", "during", "before", "after",
		"above", "below", "out", "off", "own", "same", "too", "very", "can",
		"will", "just", "what", "which", "who", "whom", "how", "when", "where",
		"why", "all", "any", "both", "each", "few", "more", "most", "other",
		"some", "not", "only", "does", "did", "has", "have", "had", "you",
		"your", "they", "their", "there", "here", "its",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
