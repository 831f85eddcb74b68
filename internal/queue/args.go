// Package queue is the durable work queue between the submitter and the
// prediction worker. It is backed by River, so jobs live in Postgres and
// survive restarts of either side.
package queue

import (
	"encoding/json"

	"github.com/google/uuid"
)

const (
	KindPrediction = "prediction"
	DefaultCost    = 1
)

// PredictionArgs is the queue wire message. Cost defaults to 1 and Model to
// the worker's configured model when absent.
type PredictionArgs struct {
	UserID    int64      `json:"user_id"`
	InputData string     `json:"input_data"`
	Cost      int64      `json:"cost"`
	Model     string     `json:"model,omitempty"`
	RequestID *uuid.UUID `json:"request_id,omitempty"`

	decodeErr error
}

func (PredictionArgs) Kind() string { return KindPrediction }

// UnmarshalJSON never fails: River would otherwise retry an undecodable job
// until its attempts run out. The error is kept for the worker to discard
// the job instead.
func (a *PredictionArgs) UnmarshalJSON(data []byte) error {
	type wire PredictionArgs
	w := wire{Cost: DefaultCost}
	if err := json.Unmarshal(data, &w); err != nil {
		*a = PredictionArgs{decodeErr: err}
		return nil
	}
	*a = PredictionArgs(w)
	return nil
}

// DecodeErr reports why the payload could not be decoded, if it could not.
func (a PredictionArgs) DecodeErr() error { return a.decodeErr }
