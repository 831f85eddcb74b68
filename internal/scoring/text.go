package scoring

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const TextRuleName = "text-rule-v1"

var (
	positiveWords = setOf("love", "loved", "like", "good", "great", "excellent", "amazing", "awesome",
		"happy", "nice", "best", "wonderful", "fantastic", "perfect", "enjoy", "enjoyed", "recommend")
	negativeWords = setOf("hate", "hated", "bad", "terrible", "awful", "worst", "poor", "horrible",
		"sad", "angry", "disappointed", "disappointing", "boring", "broken", "useless", "dislike")
	negations = setOf("not", "no", "never", "dont", "don't", "isn't", "isnt", "wasn't", "wasnt")
)

// TextRuleModel counts lexicon hits. A negation flips the next sentiment word.
type TextRuleModel struct {
	maxLen int
}

func NewTextRuleModel(maxInputLength int) *TextRuleModel {
	return &TextRuleModel{maxLen: maxInputLength}
}

func (m *TextRuleModel) Name() string { return TextRuleName }

func (m *TextRuleModel) Validate(input []byte) []string {
	var errs []string
	if !utf8.Valid(input) {
		errs = append(errs, "input is not valid UTF-8 text")
	}
	if strings.TrimSpace(string(input)) == "" {
		errs = append(errs, "input text is empty")
	}
	if n := utf8.RuneCount(input); m.maxLen > 0 && n > m.maxLen {
		errs = append(errs, fmt.Sprintf("input text is too long: %d characters, limit %d", n, m.maxLen))
	}
	return errs
}

func (m *TextRuleModel) Predict(input []byte) (*Result, error) {
	tokens := tokenize(string(input))
	if len(tokens) == 0 {
		return nil, errors.New("no tokens to score")
	}
	var pos, neg int
	negate := false
	for _, tok := range tokens {
		if negations[tok] {
			negate = true
			continue
		}
		hitPos, hitNeg := positiveWords[tok], negativeWords[tok]
		if negate && (hitPos || hitNeg) {
			hitPos, hitNeg = hitNeg, hitPos
		}
		if hitPos {
			pos++
		}
		if hitNeg {
			neg++
		}
		if hitPos || hitNeg {
			negate = false
		}
	}
	score := float64(pos+1) / float64(pos+neg+2)
	return &Result{Sentiment: labelFor(score), Score: round2(score), Model: TextRuleName}, nil
}

func labelFor(score float64) string {
	switch {
	case score > 0.55:
		return LabelPositive
	case score < 0.45:
		return LabelNegative
	default:
		return LabelNeutral
	}
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

func setOf(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
