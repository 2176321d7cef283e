package sentiment

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Lexicon holds the word lists used for scoring. Words are stored lowercase.
type Lexicon struct {
	positive map[string]struct{}
	negative map[string]struct{}
	negators map[string]struct{}
}

// lexiconFile is the on-disk YAML shape.
type lexiconFile struct {
	Positive []string `yaml:"positive"`
	Negative []string `yaml:"negative"`
	Negators []string `yaml:"negators"`
}

var (
	defaultPositive = []string{
		"amazing", "awesome", "beautiful", "best", "better", "brilliant", "cool", "easy",
		"enjoy", "enjoyed", "excellent", "excited", "fantastic", "favorite", "fun", "glad",
		"good", "great", "happy", "helpful", "impressive", "like", "liked", "love", "loved",
		"lovely", "nice", "perfect", "recommend", "super", "thank", "thanks", "win",
		"wonderful", "wow",
	}
	defaultNegative = []string{
		"angry", "annoying", "awful", "bad", "boring", "broken", "bug", "buggy", "bugs",
		"crash", "crashes", "difficult", "disappointed", "disappointing", "error", "errors",
		"fail", "failed", "failure", "hate", "hated", "horrible", "poor", "problem",
		"problems", "sad", "slow", "terrible", "ugly", "useless", "worse", "worst", "wrong",
	}
	defaultNegators = []string{
		"not", "no", "never", "nothing", "hardly", "without", "don't", "doesn't", "didn't",
		"isn't", "wasn't", "aren't", "can't", "cannot", "won't", "wouldn't",
	}
)

// DefaultLexicon returns a fresh copy of the built-in word lists.
func DefaultLexicon() *Lexicon {
	lex := &Lexicon{
		positive: map[string]struct{}{},
		negative: map[string]struct{}{},
		negators: map[string]struct{}{},
	}
	lex.merge(lexiconFile{Positive: defaultPositive, Negative: defaultNegative, Negators: defaultNegators})
	return lex
}

// LoadLexicon reads a YAML lexicon and merges it over the defaults. File
// entries move a default word to the other polarity; a word listed under both
// polarities in the file ends up negative.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	var file lexiconFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse lexicon %s: %w", path, err)
	}
	lex := DefaultLexicon()
	lex.merge(file)
	return lex, nil
}

func (l *Lexicon) merge(f lexiconFile) {
	for _, w := range f.Positive {
		w = normalizeWord(w)
		if w == "" {
			continue
		}
		delete(l.negative, w)
		l.positive[w] = struct{}{}
	}
	for _, w := range f.Negative {
		w = normalizeWord(w)
		if w == "" {
			continue
		}
		delete(l.positive, w)
		l.negative[w] = struct{}{}
	}
	for _, w := range f.Negators {
		if w = normalizeWord(w); w != "" {
			l.negators[w] = struct{}{}
		}
	}
}

// Size returns the number of polarity words.
func (l *Lexicon) Size() int {
	return len(l.positive) + len(l.negative)
}

func (l *Lexicon) polarity(word string) int {
	if _, ok := l.positive[word]; ok {
		return 1
	}
	if _, ok := l.negative[word]; ok {
		return -1
	}
	return 0
}

func (l *Lexicon) isNegator(word string) bool {
	_, ok := l.negators[word]
	return ok
}

func normalizeWord(w string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(w)), "’", "'")
}
