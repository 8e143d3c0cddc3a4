package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pingone-bulk-users/internal/apperrors"
	"github.com/pingone-bulk-users/internal/backoff"
	"github.com/pingone-bulk-users/internal/config"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/queue"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// recordResult is the classification of one dispatched record
type recordResult struct {
	outcome models.Outcome
	reason  string
	err     error

	// deferred records are held back for an invalid-population resolution
	deferred bool
	created  bool
	updated  bool
	noChange bool
}

func succeeded() recordResult {
	return recordResult{outcome: models.OutcomeSuccess}
}

func skipped(reason string) recordResult {
	return recordResult{outcome: models.OutcomeSkipped, reason: reason}
}

func failed(err error) recordResult {
	return recordResult{outcome: models.OutcomeFailed, reason: apperrors.Message(err), err: err}
}

type recordFunc func(ctx context.Context, rec *models.UserRecord) recordResult

type batchOptions struct {
	queue *queue.Queue
	// abortOnUniqueness ends the session on the first uniqueness conflict
	abortOnUniqueness bool
	// onBatch runs after each batch has been classified
	onBatch func()
}

// batchPause is returned when records were deferred for an invalid population
type batchPause struct {
	deferred  []*models.UserRecord
	remaining []*models.UserRecord
}

// batchEngine dispatches records in fixed-size batches with a pause between them
type batchEngine struct {
	size                 int
	delay                time.Duration
	maxConsecutiveFailed int
	sleep                backoff.SleepFunc
	log                  zerolog.Logger
}

func newBatchEngine(cfg config.JobsConfig, sleep backoff.SleepFunc, log zerolog.Logger) *batchEngine {
	size := cfg.BatchSize
	if size <= 0 {
		size = 5
	}
	maxFailed := cfg.MaxConsecutiveFailedBatches
	if maxFailed <= 0 {
		maxFailed = 3
	}
	return &batchEngine{
		size:                 size,
		delay:                cfg.BatchDelay,
		maxConsecutiveFailed: maxFailed,
		sleep:                sleep,
		log:                  log.With().Str("component", "batch_engine").Logger(),
	}
}

// run processes records batch by batch. Records inside a batch run concurrently
// and their outcomes are applied in input order once the whole batch is done.
func (e *batchEngine) run(ctx context.Context, r *run, records []*models.UserRecord, fn recordFunc, opts batchOptions) (*batchPause, error) {
	consecutiveFailed := 0

	for start := 0; start < len(records); start += e.size {
		if start > 0 && e.delay > 0 {
			if !e.sleep(ctx, e.delay) {
				return nil, errCancelled
			}
		}
		if r.isCancelled() || ctx.Err() != nil {
			return nil, errCancelled
		}

		end := start + e.size
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]
		results := e.dispatch(ctx, batch, fn, opts.queue)

		var stop error
		var deferred []*models.UserRecord
		var lastErr error
		retryableFailures := 0

		for i, res := range results {
			rec := batch[i]
			if res.deferred {
				deferred = append(deferred, rec)
				continue
			}
			r.record(rec, res)

			if res.err == nil {
				continue
			}
			lastErr = res.err
			switch {
			case apperrors.Fatal(res.err):
				if stop == nil {
					stop = res.err
				}
			case opts.abortOnUniqueness && apperrors.KindOf(res.err) == apperrors.KindUniqueness:
				if stop == nil {
					stop = apperrors.Wrap(apperrors.KindUniqueness,
						fmt.Sprintf("Import stopped: user %s already exists.", rec.Identity()), res.err)
				}
			case apperrors.Retryable(res.err):
				retryableFailures++
			}
		}

		if opts.onBatch != nil {
			opts.onBatch()
		}

		e.log.Debug().
			Str("session_id", r.id()).
			Int("batch_start", start).
			Int("batch_size", len(batch)).
			Int("deferred", len(deferred)).
			Msg("Batch processed")

		if stop != nil {
			return nil, stop
		}
		if len(deferred) > 0 {
			return &batchPause{deferred: deferred, remaining: records[end:]}, nil
		}

		if retryableFailures == len(batch) {
			consecutiveFailed++
			if consecutiveFailed >= e.maxConsecutiveFailed {
				return nil, &apperrors.Error{
					Kind:    apperrors.KindOf(lastErr),
					Message: fmt.Sprintf("Stopped after %d consecutive failed batches.", consecutiveFailed),
					Details: []string{apperrors.Message(lastErr)},
					Err:     lastErr,
				}
			}
		} else {
			consecutiveFailed = 0
		}
	}
	return nil, nil
}

// dispatch runs one batch through the queue, one task per record
func (e *batchEngine) dispatch(ctx context.Context, batch []*models.UserRecord, fn recordFunc, q *queue.Queue) []recordResult {
	results := make([]recordResult, len(batch))

	var g errgroup.Group
	g.SetLimit(len(batch))
	for i, rec := range batch {
		i, rec := i, rec
		g.Go(func() error {
			res, err := queue.Run(ctx, q, queue.PriorityNormal, func(ctx context.Context) (recordResult, error) {
				return fn(ctx, rec), nil
			})
			if err != nil {
				res = failed(err)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
