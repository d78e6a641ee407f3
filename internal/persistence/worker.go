package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"VoltrQuote/internal/observability"
)

// QuoteLogWorker drains the quote channel and batch-writes to Postgres.
// Submission is non-blocking: when the channel is full the quote is dropped
// and counted, never delaying the API response. Accepted rows are not
// dropped after that point; flushes retry with backoff until they succeed
// or shutdown forces a final attempt.
type QuoteLogWorker struct {
	writer       *QuoteLogWriter
	inputChan    chan QuoteRow
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewQuoteLogWorker(
	db *sql.DB,
	channelCapacity int,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *QuoteLogWorker {
	return &QuoteLogWorker{
		writer:       NewQuoteLogWriter(db),
		inputChan:    make(chan QuoteRow, channelCapacity),
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Submit enqueues a quote for logging. Returns false when the channel is
// full and the row was dropped.
func (qw *QuoteLogWorker) Submit(row QuoteRow) bool {
	select {
	case qw.inputChan <- row:
		return true
	default:
		if qw.metrics != nil {
			qw.metrics.QuoteLogDrops.Inc()
		}
		return false
	}
}

// Run starts the worker loop. It batches incoming rows and flushes either
// when the batch is full or the flush timeout expires. Blocks until ctx is
// cancelled.
func (qw *QuoteLogWorker) Run(ctx context.Context) error {
	batch := make([]QuoteRow, 0, qw.batchSize)

	timer := time.NewTimer(qw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := qw.flush(context.Background(), batch); err != nil {
					qw.log.Error().Err(err).Msg("final quote log flush failed")
				}
			}
			return ctx.Err()

		case row, ok := <-qw.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := qw.flush(context.Background(), batch); err != nil {
						qw.log.Error().Err(err).Msg("final quote log flush failed")
					}
				}
				return nil
			}

			batch = append(batch, row)
			if len(batch) >= qw.batchSize {
				if err := qw.flushWithRetry(ctx, batch); err != nil {
					qw.log.Error().Err(err).Msg("quote log batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(qw.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := qw.flushWithRetry(ctx, batch); err != nil {
					qw.log.Error().Err(err).Msg("quote log timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(qw.flushTimeout)
		}
	}
}

// flushWithRetry attempts to flush with exponential backoff. Retries until
// the write succeeds or the context is cancelled; on cancellation one final
// flush runs with a background context so the batch is not lost.
func (qw *QuoteLogWorker) flushWithRetry(ctx context.Context, batch []QuoteRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			qw.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("rows", len(batch)).
				Msg("quote log retry")
			select {
			case <-ctx.Done():
				return qw.flush(context.Background(), batch)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := qw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				qw.log.Info().Int("retries", attempt).Msg("quote log flush succeeded after retries")
			}
			return nil
		}

		if qw.metrics != nil {
			qw.metrics.QuoteLogRetry.Inc()
		}
	}
}

func (qw *QuoteLogWorker) flush(ctx context.Context, batch []QuoteRow) error {
	start := time.Now()

	if err := qw.writer.WriteQuoteBatch(ctx, batch); err != nil {
		if qw.metrics != nil {
			qw.metrics.QuoteLogErrors.WithLabelValues("write").Inc()
		}
		return err
	}

	if qw.metrics != nil {
		qw.metrics.QuoteLogBatchDur.Observe(time.Since(start).Seconds())
		qw.metrics.QuoteLogWritten.Add(float64(len(batch)))
	}
	return nil
}
