// Package runlog is the append-only audit trail of executed actions.
//
// Append never loses a record silently: when the store rejects a write the
// record is buffered and retried by Run, and the caller gets a Persistence
// error. Appended records are also published to live subscribers.
package runlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/metrics"
	"github.com/crucial707/chaos-scheduler/internal/models"
)

// Store persists run records. repo.RunRepo and memstore.Runs implement it.
type Store interface {
	Insert(ctx context.Context, rec models.RunRecord) (int64, error)
	Query(ctx context.Context, f models.RunFilter, limit, offset int) ([]models.RunRecord, error)
	Count(ctx context.Context) (int, error)
	Summary(ctx context.Context) ([]models.RunTally, error)
	History(ctx context.Context, since time.Time) ([]models.DailyTally, error)
}

const subscriberBuffer = 64

type Log struct {
	store   Store
	pending chan models.RunRecord
	retry   time.Duration
	now     func() time.Time
	log     *slog.Logger

	mu   sync.RWMutex
	subs map[chan models.RunRecord]struct{}
}

// New returns a Log buffering up to bufferSize failed writes, retried every retry.
func New(store Store, bufferSize int, retry time.Duration, log *slog.Logger) *Log {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if retry <= 0 {
		retry = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Log{
		store:   store,
		pending: make(chan models.RunRecord, bufferSize),
		retry:   retry,
		now:     time.Now,
		log:     log.With("component", "runlog"),
		subs:    make(map[chan models.RunRecord]struct{}),
	}
}

// Append stores rec and sets its id. On failure the record is queued for retry
// and a Persistence error is returned.
func (l *Log) Append(ctx context.Context, rec *models.RunRecord) error {
	id, err := l.store.Insert(ctx, *rec)
	if err == nil {
		rec.ID = id
		l.publish(*rec)
		return nil
	}

	select {
	case l.pending <- *rec:
		metrics.RunLogPending.Set(float64(len(l.pending)))
		l.log.Error("run record write failed, buffered for retry",
			"trigger_id", rec.TriggerID, "target_id", rec.TargetID, "status", rec.Status, "err", err)
	default:
		metrics.RunLogDropped.Inc()
		b, _ := json.Marshal(rec)
		l.log.Error("run record write failed and retry buffer is full", "record", string(b), "err", err)
	}
	return chaoserr.E(chaoserr.KindPersistence, "runlog.Append", "record buffered for retry", err)
}

// Pending is the number of records waiting to be re-written.
func (l *Log) Pending() int { return len(l.pending) }

// Run retries buffered records until ctx is done, then makes one last attempt.
func (l *Log) Run(ctx context.Context) {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			l.Flush(fctx)
			cancel()
			if n := l.Pending(); n > 0 {
				l.log.Error("shutting down with unpersisted run records", "count", n)
			}
			return
		case <-ticker.C:
			l.Flush(ctx)
		}
	}
}

// Flush tries to write every buffered record once. It stops at the first
// failure and returns the number written.
func (l *Log) Flush(ctx context.Context) int {
	written := 0
	for n := len(l.pending); n > 0; n-- {
		var rec models.RunRecord
		select {
		case rec = <-l.pending:
		default:
			return written
		}
		id, err := l.store.Insert(ctx, rec)
		if err != nil {
			select {
			case l.pending <- rec:
			default:
				metrics.RunLogDropped.Inc()
				b, _ := json.Marshal(rec)
				l.log.Error("run record dropped from retry buffer", "record", string(b), "err", err)
			}
			break
		}
		rec.ID = id
		written++
		l.publish(rec)
	}
	metrics.RunLogPending.Set(float64(len(l.pending)))
	if written > 0 {
		l.log.Info("buffered run records persisted", "count", written, "remaining", len(l.pending))
	}
	return written
}

// Subscribe returns a channel receiving every record appended from now on.
// Slow subscribers miss records rather than blocking Append.
func (l *Log) Subscribe() <-chan models.RunRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan models.RunRecord, subscriberBuffer)
	l.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (l *Log) Unsubscribe(ch <-chan models.RunRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for sub := range l.subs {
		if sub == ch {
			delete(l.subs, sub)
			close(sub)
			return
		}
	}
}

func (l *Log) publish(rec models.RunRecord) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for ch := range l.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

// Query returns records matching f, newest first.
func (l *Log) Query(ctx context.Context, f models.RunFilter, limit, offset int) ([]models.RunRecord, error) {
	list, err := l.store.Query(ctx, f, limit, offset)
	if err != nil {
		return nil, chaoserr.E(chaoserr.KindPersistence, "runlog.Query", "", err)
	}
	return list, nil
}

func (l *Log) Count(ctx context.Context) (int, error) {
	n, err := l.store.Count(ctx)
	if err != nil {
		return 0, chaoserr.E(chaoserr.KindPersistence, "runlog.Count", "", err)
	}
	return n, nil
}
