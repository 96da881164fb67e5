package writer

import (
	"context"
	"errors"
	"sync"

	"depthwatch/logger"
	"depthwatch/models"
)

var (
	// ErrNotConfigured indicates the store was used without a backing pool.
	ErrNotConfigured = errors.New("writer: store not configured")
)

// DefaultHistoryLimit applies when History is called with limit <= 0.
const DefaultHistoryLimit = 100

const publishQueueSize = 256

// Sink is the durable home of analysis records. Records are append only.
type Sink interface {
	Insert(ctx context.Context, rec models.AnalysisRecord) error
	Latest(ctx context.Context, symbol string) (models.AnalysisRecord, bool, error)
	// History returns up to limit records for symbol, most recent first.
	// A limit <= 0 means DefaultHistoryLimit.
	History(ctx context.Context, symbol string, limit int) ([]models.AnalysisRecord, error)
	Close() error
}

// Publisher receives a copy of every stored record. Delivery is best effort.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, rec models.AnalysisRecord) error
	Close() error
}

type publishQueue struct {
	publisher Publisher
	records   chan models.AnalysisRecord
}

// TeeSink stores records in a primary sink and hands each successful insert
// to one queue per publisher. Publishing happens on a worker goroutine per
// publisher, so Insert never waits on a broker or bucket. A full queue drops
// the record with a warning.
type TeeSink struct {
	primary Sink
	queues  []*publishQueue
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	log     *logger.Log
}

func NewTeeSink(primary Sink, publishers ...Publisher) *TeeSink {
	t := &TeeSink{primary: primary, log: logger.GetLogger()}
	for _, p := range publishers {
		q := &publishQueue{publisher: p, records: make(chan models.AnalysisRecord, publishQueueSize)}
		t.queues = append(t.queues, q)
		t.wg.Add(1)
		go t.forward(q)
	}
	return t
}

func (t *TeeSink) forward(q *publishQueue) {
	defer t.wg.Done()
	for rec := range q.records {
		if err := q.publisher.Publish(context.Background(), rec); err != nil {
			t.log.WithComponent("tee_sink").WithError(err).WithFields(logger.Fields{
				"publisher": q.publisher.Name(),
				"symbol":    rec.Symbol,
			}).Warn("failed to publish analysis record")
		}
	}
}

func (t *TeeSink) Insert(ctx context.Context, rec models.AnalysisRecord) error {
	if err := t.primary.Insert(ctx, rec); err != nil {
		return err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil
	}
	for _, q := range t.queues {
		select {
		case q.records <- rec:
		default:
			t.log.WithComponent("tee_sink").WithFields(logger.Fields{
				"publisher": q.publisher.Name(),
				"symbol":    rec.Symbol,
			}).Warn("publish queue full; dropping analysis record")
		}
	}
	return nil
}

func (t *TeeSink) Latest(ctx context.Context, symbol string) (models.AnalysisRecord, bool, error) {
	return t.primary.Latest(ctx, symbol)
}

func (t *TeeSink) History(ctx context.Context, symbol string, limit int) ([]models.AnalysisRecord, error) {
	return t.primary.History(ctx, symbol, limit)
}

// Close drains the publish queues, closes publishers so buffered archives
// flush, then closes the primary.
func (t *TeeSink) Close() error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		for _, q := range t.queues {
			close(q.records)
		}
	}
	t.mu.Unlock()
	t.wg.Wait()

	var errs []error
	for _, q := range t.queues {
		if err := q.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := t.primary.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
