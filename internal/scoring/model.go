// Package scoring holds the placeholder classifiers run by the prediction
// worker. Every model shares the validate/predict contract; the worker picks
// one by name.
package scoring

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

const (
	LabelPositive = "positive"
	LabelNegative = "negative"
	LabelNeutral  = "neutral"
)

// ErrUnknownModel is returned by Lookup for names that were never registered.
var ErrUnknownModel = errors.New("unknown model")

// Result is the structured payload stored in history. Score is in [0, 1].
type Result struct {
	Sentiment string  `json:"sentiment"`
	Score     float64 `json:"score"`
	Model     string  `json:"model"`
}

// Model is a classifier. Validate returns human-readable problems with the
// input; Predict is only called when Validate returned none.
type Model interface {
	Name() string
	Validate(input []byte) []string
	Predict(input []byte) (*Result, error)
}

// Factory builds a model honouring the maximum input length.
type Factory func(maxInputLength int) Model

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register makes a model available to Lookup. It panics on duplicate names.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := registry[name]; dup {
		panic("scoring: model registered twice: " + name)
	}
	registry[name] = f
}

func Lookup(name string, maxInputLength int) (Model, error) {
	mu.RLock()
	f, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownModel, name)
	}
	return f(maxInputLength), nil
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register(TextRuleName, func(max int) Model { return NewTextRuleModel(max) })
	Register(ByteHeuristicName, func(max int) Model { return NewByteHeuristicModel(max) })
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
