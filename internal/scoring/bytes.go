package scoring

import (
	"errors"
	"fmt"
)

const ByteHeuristicName = "imgcls-v1"

var byteLabels = []string{LabelPositive, LabelNegative, LabelNeutral}

// ByteHeuristicModel classifies raw payload bytes by their first byte. It
// stands in for an image classifier fed with file contents.
type ByteHeuristicModel struct {
	maxLen int
}

func NewByteHeuristicModel(maxInputLength int) *ByteHeuristicModel {
	return &ByteHeuristicModel{maxLen: maxInputLength}
}

func (m *ByteHeuristicModel) Name() string { return ByteHeuristicName }

func (m *ByteHeuristicModel) Validate(input []byte) []string {
	if len(input) == 0 {
		return []string{"input data is empty"}
	}
	if m.maxLen > 0 && len(input) > m.maxLen {
		return []string{fmt.Sprintf("input data is too large: %d bytes, limit %d", len(input), m.maxLen)}
	}
	return nil
}

func (m *ByteHeuristicModel) Predict(input []byte) (*Result, error) {
	if len(input) == 0 {
		return nil, errors.New("empty input data")
	}
	idx := int(input[0]) % len(byteLabels)
	score := 0.5 + float64(idx)/float64(2*len(byteLabels))
	return &Result{Sentiment: byteLabels[idx], Score: round2(score), Model: ByteHeuristicName}, nil
}
