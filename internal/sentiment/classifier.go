// Package sentiment classifies short texts as Negative, Neutral or Positive.
package sentiment

import (
	"strings"
	"unicode"
)

// Label is a sentiment class. The string values are part of the HTTP API.
type Label string

const (
	Negative Label = "Negative"
	Neutral  Label = "Neutral"
	Positive Label = "Positive"
)

// Labels lists every label in index order.
func Labels() []Label {
	return []Label{Negative, Neutral, Positive}
}

// Classifier maps text to a label. Implementations must be total and safe
// for concurrent use.
type Classifier interface {
	Classify(text string) Label
}

// negationWindow is how many tokens a negator reaches forward.
const negationWindow = 3

// LexiconClassifier scores texts by counting lexicon words. A negator flips
// the polarity of sentiment words that follow it within a short window.
type LexiconClassifier struct {
	lexicon *Lexicon
}

// NewLexiconClassifier uses DefaultLexicon when lex is nil.
func NewLexiconClassifier(lex *Lexicon) *LexiconClassifier {
	if lex == nil {
		lex = DefaultLexicon()
	}
	return &LexiconClassifier{lexicon: lex}
}

func (c *LexiconClassifier) Classify(text string) Label {
	score := c.Score(text)
	switch {
	case score > 0:
		return Positive
	case score < 0:
		return Negative
	default:
		return Neutral
	}
}

// Score returns the summed polarity of text.
func (c *LexiconClassifier) Score(text string) int {
	score := 0
	negatedUntil := -1
	for i, tok := range tokenize(text) {
		if c.lexicon.isNegator(tok) {
			negatedUntil = i + negationWindow
			continue
		}
		polarity := c.lexicon.polarity(tok)
		if polarity == 0 {
			continue
		}
		if i <= negatedUntil {
			polarity = -polarity
			negatedUntil = -1
		}
		score += polarity
	}
	return score
}

// tokenize splits text into lowercase words, keeping inner apostrophes so
// contractions like "don't" stay whole.
func tokenize(text string) []string {
	text = strings.ReplaceAll(strings.ToLower(text), "’", "'")
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	tokens := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, "'"); f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
