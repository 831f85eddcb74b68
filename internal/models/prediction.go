package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Prediction is a completed job as recorded in the history store. Result is
// a JSON object, or null when Errors is non-empty.
type Prediction struct {
	ID         int64           `json:"id"`
	JobID      int64           `json:"job_id"`
	RequestID  *uuid.UUID      `json:"request_id,omitempty"`
	UserID     int64           `json:"user_id"`
	ModelName  string          `json:"model_name"`
	InputData  string          `json:"input_data"`
	Result     json.RawMessage `json:"result"`
	Errors     []string        `json:"errors"`
	Cost       int64           `json:"cost"`
	Timestamp  time.Time       `json:"timestamp"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// PendingJob is a queued prediction that has not reached a final state.
type PendingJob struct {
	JobID     int64      `json:"job_id"`
	State     string     `json:"state"`
	Attempt   int        `json:"attempt"`
	RequestID *uuid.UUID `json:"request_id,omitempty"`
	Cost      int64      `json:"cost"`
	CreatedAt time.Time  `json:"created_at"`
}

// PredictionReport is the callback body the worker sends for a finished job.
// Result is a JSON object or null, never a serialized string.
type PredictionReport struct {
	JobID     int64           `json:"job_id"`
	RequestID *uuid.UUID      `json:"request_id"`
	UserID    int64           `json:"user_id"`
	ModelName string          `json:"model_name"`
	InputData string          `json:"input_data"`
	Result    json.RawMessage `json:"result"`
	Cost      int64           `json:"cost"`
	Errors    []string        `json:"errors"`
	Timestamp time.Time       `json:"timestamp"`
}

// Prediction converts the report into the row stored in history.
func (r *PredictionReport) Prediction() *Prediction {
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	var result json.RawMessage
	if len(r.Result) > 0 && string(r.Result) != "null" {
		result = r.Result
	}
	return &Prediction{
		JobID:     r.JobID,
		RequestID: r.RequestID,
		UserID:    r.UserID,
		ModelName: r.ModelName,
		InputData: r.InputData,
		Result:    result,
		Errors:    errs,
		Cost:      r.Cost,
		Timestamp: r.Timestamp,
	}
}
