package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"roadwatch/internal/config"
	"roadwatch/internal/features/report"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SummarySource provides the raw counts. Implemented by the report repository.
type SummarySource interface {
	CountSummary(ctx context.Context) (*report.Summary, error)
}

// Feed maintains the live aggregate view. Recomputation is triggered by
// Invalidate after every store mutation and by a periodic full-scan
// reconciliation, so subscribers converge even if a push is missed.
// Eventually consistent by design: a snapshot may lag the latest write.
type Feed struct {
	source   SummarySource
	logger   *zap.Logger
	interval time.Duration

	mu     sync.Mutex
	latest AggregateSnapshot
	subs   map[int]chan AggregateSnapshot
	nextID int

	kick      chan struct{}
	done      chan struct{}
	scheduler *cron.Cron
}

func NewFeed(source SummarySource, cfg *config.Config, logger *zap.Logger) *Feed {
	return &Feed{
		source:   source,
		logger:   logger,
		interval: cfg.AggregateInterval,
		latest: AggregateSnapshot{
			ByStatus:   zeroStatusBuckets(),
			BySeverity: zeroSeverityBuckets(),
		},
		subs: make(map[int]chan AggregateSnapshot),
		kick: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Start computes the initial snapshot, launches the recompute worker and
// schedules the periodic reconciliation scan.
func (f *Feed) Start(ctx context.Context) error {
	f.recompute(ctx)

	go f.worker()

	f.scheduler = cron.New()
	if _, err := f.scheduler.AddFunc(fmt.Sprintf("@every %s", f.interval), f.Invalidate); err != nil {
		return err
	}
	f.scheduler.Start()
	return nil
}

func (f *Feed) Stop() error {
	if f.scheduler != nil {
		f.scheduler.Stop()
	}
	close(f.done)
	return nil
}

// Invalidate requests a recompute. Never blocks; bursts of mutations
// coalesce into a single scan.
func (f *Feed) Invalidate() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

// Subscribe registers a dashboard consumer. The returned channel is
// primed with the current snapshot; the func unsubscribes. A slow
// consumer only ever skips intermediate snapshots, each one it does see
// has a Total no smaller than the previous.
func (f *Feed) Subscribe() (<-chan AggregateSnapshot, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++

	ch := make(chan AggregateSnapshot, 1)
	ch <- f.latest
	f.subs[id] = ch

	unsubscribe := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Snapshot returns the most recently computed aggregate.
func (f *Feed) Snapshot() AggregateSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

func (f *Feed) worker() {
	for {
		select {
		case <-f.done:
			return
		case <-f.kick:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			f.recompute(ctx)
			cancel()
		}
	}
}

func (f *Feed) recompute(ctx context.Context) {
	summary, err := f.source.CountSummary(ctx)
	if err != nil {
		f.logger.Warn("aggregate recompute failed", zap.Error(err))
		return
	}

	snap := AggregateSnapshot{
		Total:      summary.Total,
		ByStatus:   summary.ByStatus,
		BySeverity: summary.BySeverity,
		ComputedAt: time.Now().UTC(),
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// A scan that raced an insert can come back smaller than what we
	// already published. Discard it; the next trigger catches up.
	if snap.Total < f.latest.Total {
		return
	}
	f.latest = snap

	for _, ch := range f.subs {
		publish(ch, snap)
	}
}

// publish delivers without ever blocking the feed: if the subscriber has
// not drained the previous snapshot yet, it is replaced by the newer one.
func publish(ch chan AggregateSnapshot, snap AggregateSnapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func zeroStatusBuckets() map[report.Status]int64 {
	buckets := make(map[report.Status]int64, len(report.AllStatuses))
	for _, s := range report.AllStatuses {
		buckets[s] = 0
	}
	return buckets
}

func zeroSeverityBuckets() map[report.Severity]int64 {
	buckets := make(map[report.Severity]int64, len(report.AllSeverities))
	for _, s := range report.AllSeverities {
		buckets[s] = 0
	}
	return buckets
}
