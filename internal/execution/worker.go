// Package execution runs queued prediction jobs: decode, score, report.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/sentimeter/backend/internal/models"
	"github.com/sentimeter/backend/internal/queue"
	"github.com/sentimeter/backend/internal/reporter"
	"github.com/sentimeter/backend/internal/scoring"
	"github.com/sentimeter/backend/internal/services"
)

var (
	// ErrMalformedJob marks a poison message; it is discarded, never retried.
	ErrMalformedJob = errors.New("malformed job")
	ErrScoring      = errors.New("scoring failed")
)

// Disposition is what happens to a job after one delivery.
type Disposition int

const (
	Acked     Disposition = iota // reported, removed from the queue
	Nacked                       // reporting failed, redelivered later
	Discarded                    // poison message, dropped
)

func (d Disposition) String() string {
	switch d {
	case Acked:
		return "acked"
	case Nacked:
		return "nacked"
	case Discarded:
		return "discarded"
	default:
		return fmt.Sprintf("Disposition(%d)", int(d))
	}
}

type Options struct {
	DefaultModel   string
	MaxInputLength int
	RetryDelay     time.Duration
	ReportTimeout  time.Duration
}

type PredictionWorker struct {
	river.WorkerDefaults[queue.PredictionArgs]
	validator *services.Validator
	reporter  reporter.Reporter
	opts      Options
	log       *slog.Logger

	lookup func(name string, maxInputLength int) (scoring.Model, error)
}

func NewPredictionWorker(v *services.Validator, rep reporter.Reporter, opts Options, log *slog.Logger) *PredictionWorker {
	if log == nil {
		log = slog.Default()
	}
	return &PredictionWorker{
		validator: v,
		reporter:  rep,
		opts:      opts,
		log:       log,
		lookup:    scoring.Lookup,
	}
}

// Work maps the disposition onto River: an ack completes the job, a nack
// snoozes it (snoozing does not use up attempts) and a discard cancels it.
func (w *PredictionWorker) Work(ctx context.Context, job *river.Job[queue.PredictionArgs]) error {
	d, err := w.Process(ctx, job.JobRow, job.Args)
	switch d {
	case Acked:
		return nil
	case Discarded:
		return river.JobCancel(err)
	default:
		return river.JobSnooze(w.opts.RetryDelay)
	}
}

// NextRetry covers errors that escape Work, such as a panic.
func (w *PredictionWorker) NextRetry(*river.Job[queue.PredictionArgs]) time.Time {
	return time.Now().Add(w.opts.RetryDelay)
}

// Process runs one delivery of a job through received, scoring and
// reporting. It keeps no state between deliveries, so a redelivered job is
// scored again and reported under the same job id.
func (w *PredictionWorker) Process(ctx context.Context, row *rivertype.JobRow, args queue.PredictionArgs) (Disposition, error) {
	log := w.log.With("job_id", row.ID, "attempt", row.Attempt)

	if err := w.checkPayload(row, args); err != nil {
		log.Error("discarding malformed job", "error", err)
		return Discarded, err
	}
	log = log.With("user_id", args.UserID)

	report := w.score(args)
	report.JobID = row.ID
	report.Timestamp = row.CreatedAt.UTC()
	if len(report.Errors) > 0 {
		log.Info("prediction rejected by model", "model", report.ModelName, "errors", report.Errors)
	}

	rctx, cancel := context.WithTimeout(ctx, w.opts.ReportTimeout)
	defer cancel()
	if err := w.reporter.Report(rctx, report); err != nil {
		log.Warn("report failed, job will be redelivered", "retry_in", w.opts.RetryDelay, "error", err)
		return Nacked, err
	}
	log.Info("prediction reported", "model", report.ModelName)
	return Acked, nil
}

func (w *PredictionWorker) checkPayload(row *rivertype.JobRow, args queue.PredictionArgs) error {
	if err := args.DecodeErr(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if err := w.validator.ValidateJob(row.EncodedArgs); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	return nil
}

// score never fails the job: validation problems and model errors become
// an error outcome with no result. The charge stands either way.
func (w *PredictionWorker) score(args queue.PredictionArgs) *models.PredictionReport {
	name := args.Model
	if name == "" {
		name = w.opts.DefaultModel
	}
	report := &models.PredictionReport{
		RequestID: args.RequestID,
		UserID:    args.UserID,
		ModelName: name,
		InputData: args.InputData,
		Cost:      args.Cost,
		Errors:    []string{},
	}

	model, err := w.lookup(name, w.opts.MaxInputLength)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report
	}
	input := []byte(args.InputData)
	if errs := model.Validate(input); len(errs) > 0 {
		report.Errors = append(report.Errors, errs...)
		return report
	}
	res, err := model.Predict(input)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("%w: %v", ErrScoring, err).Error())
		return report
	}
	raw, err := json.Marshal(res)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("%w: encode result: %v", ErrScoring, err).Error())
		return report
	}
	report.Result = raw
	return report
}
