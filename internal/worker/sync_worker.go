package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/events"
	"github.com/stemsi/exstem-engine/internal/metrics"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/session"
)

const syncPushTimeout = 5 * time.Second

// SnapshotStore receives the periodic snapshot of a live session.
type SnapshotStore interface {
	UpdateSessionSnapshot(ctx context.Context, u model.SnapshotUpdate) error
}

// SyncWorker runs one push loop per live session. Each tick pushes the latest
// state if it changed; failures are retried on later ticks with exponential
// backoff, and the newest state always wins.
type SyncWorker struct {
	store      SnapshotStore
	interval   time.Duration
	maxBackoff time.Duration
	events     events.Sink
	log        zerolog.Logger
}

func NewSyncWorker(store SnapshotStore, interval, maxBackoff time.Duration, sink events.Sink, log zerolog.Logger) *SyncWorker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if maxBackoff < interval {
		maxBackoff = interval
	}
	if sink == nil {
		sink = events.Discard{}
	}
	return &SyncWorker{
		store:      store,
		interval:   interval,
		maxBackoff: maxBackoff,
		events:     sink,
		log:        log.With().Str("component", "sync_worker").Logger(),
	}
}

// Start launches the loop for l. The returned stop cancels it and waits for
// the loop to exit, so no push can land after the session left Active.
func (w *SyncWorker) Start(l *session.Live) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		w.run(ctx, l)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (w *SyncWorker) run(ctx context.Context, l *session.Live) {
	var (
		failures int
		pushed   uint64
		wait     = w.interval
	)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		snap, ok := l.SyncSnapshot()
		if !ok {
			return
		}
		if snap.Version == pushed && failures == 0 {
			timer.Reset(w.interval)
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, syncPushTimeout)
		err := w.store.UpdateSessionSnapshot(pctx, snap)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			wait = backoff(w.interval, w.maxBackoff, failures)
			metrics.SyncPushes.WithLabelValues("failed").Inc()
			w.log.Warn().Err(err).
				Str("session_id", snap.SessionID.String()).
				Int("failures", failures).
				Dur("retry_in", wait).
				Msg("Snapshot push failed")

			rec := l.Record()
			w.events.Emit(ctx, model.SessionEvent{
				Type:      model.EventSyncFailed,
				ExamID:    rec.ExamID,
				StudentID: rec.StudentID,
				SessionID: rec.ID,
				At:        time.Now(),
				Data:      map[string]int{"failures": failures},
			})
		} else {
			if failures > 0 {
				w.log.Info().Str("session_id", snap.SessionID.String()).Int("failures", failures).Msg("Snapshot push recovered")
			}
			failures = 0
			pushed = snap.Version
			wait = w.interval
			metrics.SyncPushes.WithLabelValues("ok").Inc()
		}
		timer.Reset(wait)
	}
}

// backoff doubles the interval per consecutive failure, capped at limit.
func backoff(interval, limit time.Duration, failures int) time.Duration {
	d := interval
	for i := 0; i < failures && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		return limit
	}
	return d
}
