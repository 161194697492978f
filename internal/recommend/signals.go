package recommend

import (
	"strings"
	"unicode"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/catalog"
)

const (
	minTokenLength   = 2
	maxTokensPerText = 20
	categoryWeight   = 2
	tagWeight        = 4
	maxTagMatches    = 3
	tokenWeight      = 1
	maxTokenMatches  = 4
)

// Tokens splits text into lower-cased runs of letters and digits from the
// Latin, Hiragana, Katakana and Han scripts. Runs shorter than two
// characters are dropped and at most twenty tokens are returned.
func Tokens(text string) []string {
	var (
		tokens  []string
		current []rune
	)
	flush := func() {
		if len(current) >= minTokenLength && len(tokens) < maxTokensPerText {
			tokens = append(tokens, strings.ToLower(string(current)))
		}
		current = current[:0]
	}
	for _, r := range text {
		if isTokenRune(r) {
			current = append(current, r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

func isTokenRune(r rune) bool {
	switch {
	case r < unicode.MaxASCII:
		return ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
	case r == 'ー':
		return true
	default:
		return unicode.In(r, unicode.Hiragana, unicode.Katakana, unicode.Han)
	}
}

// Signals is what a viewer's favorites say about their taste.
type Signals struct {
	Categories map[string]struct{}
	Tags       map[string]struct{}
	Tokens     map[string]struct{}
}

// SignalsFrom collects categories, tags and title, description and tag
// tokens from favorited products.
func SignalsFrom(favorites []catalog.Product) Signals {
	signals := Signals{
		Categories: make(map[string]struct{}),
		Tags:       make(map[string]struct{}),
		Tokens:     make(map[string]struct{}),
	}
	for _, product := range favorites {
		if category := strings.TrimSpace(product.Category); category != "" {
			signals.Categories[category] = struct{}{}
		}
		sources := []string{product.Title, product.Description}
		for _, tag := range product.TagNames() {
			signals.Tags[tag] = struct{}{}
			sources = append(sources, tag)
		}
		for _, source := range sources {
			for _, token := range Tokens(source) {
				signals.Tokens[token] = struct{}{}
			}
		}
	}
	return signals
}

// Empty reports whether there is nothing to score against.
func (s Signals) Empty() bool {
	return len(s.Categories) == 0 && len(s.Tags) == 0 && len(s.Tokens) == 0
}

// Score rates a candidate: two points for a favorite category, four per
// shared tag up to three tags, and one per favorite token found in its
// title, description or category up to four tokens.
func (s Signals) Score(candidate catalog.Product) int {
	score := 0
	if _, ok := s.Categories[strings.TrimSpace(candidate.Category)]; ok && candidate.Category != "" {
		score += categoryWeight
	}

	tagMatches := 0
	for _, tag := range candidate.TagNames() {
		if _, ok := s.Tags[tag]; ok {
			tagMatches++
		}
	}
	score += tagWeight * min(tagMatches, maxTagMatches)

	haystack := strings.ToLower(candidate.Title + " " + candidate.Description + " " + candidate.Category)
	tokenMatches := 0
	for token := range s.Tokens {
		if tokenMatches == maxTokenMatches {
			break
		}
		if strings.Contains(haystack, token) {
			tokenMatches++
		}
	}
	score += tokenWeight * tokenMatches
	return score
}
