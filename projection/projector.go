package projection

import (
	"context"
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/taskweave/taskweave/backend"
	"github.com/taskweave/taskweave/backend/history"
	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/internal/metrickeys"
	"github.com/taskweave/taskweave/metrics"
)

type options struct {
	cacheSize int
	cacheTTL  time.Duration
}

type Option func(*options)

func WithCacheSize(size int) Option {
	return func(o *options) {
		o.cacheSize = size
	}
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.cacheTTL = ttl
	}
}

// Projector materializes current-state views from the event log. Snapshots
// are cached per task and advanced incrementally as new events are read;
// a cache miss refolds from scratch, which by the fold-equivalence invariant
// yields the identical snapshot.
type Projector struct {
	log backend.EventLog
	mc  metrics.Client

	cache *ttlcache.Cache[string, *Snapshot]
}

func NewProjector(log backend.EventLog, opts ...Option) *Projector {
	o := &options{
		cacheSize: 1024,
		cacheTTL:  5 * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}

	mc := log.Options().Metrics

	c := ttlcache.New(
		ttlcache.WithCapacity[string, *Snapshot](uint64(o.cacheSize)),
		ttlcache.WithTTL[string, *Snapshot](o.cacheTTL),
	)

	c.OnEviction(func(ctx context.Context, er ttlcache.EvictionReason, i *ttlcache.Item[string, *Snapshot]) {
		reason := ""
		switch er {
		case ttlcache.EvictionReasonExpired:
			reason = "expired"
		case ttlcache.EvictionReasonCapacityReached:
			reason = "capacity"
		case ttlcache.EvictionReasonDeleted:
			reason = "deleted"
		}

		mc.Counter(metrickeys.SnapshotCacheEviction, metrics.Tags{metrickeys.EvictionReason: reason}, 1)
	})

	return &Projector{
		log:   log,
		mc:    mc,
		cache: c,
	}
}

// CurrentState returns the task's current snapshot. The returned snapshot is
// the caller's copy; mutating it does not affect the cache.
func (p *Projector) CurrentState(ctx context.Context, task core.TaskID) (*Snapshot, error) {
	key := task.String()

	if item := p.cache.Get(key); item != nil {
		cached := item.Value()

		newEvents, err := p.log.ReadAfter(ctx, task, cached.LastSequenceID)
		if err != nil {
			return nil, err
		}

		if len(newEvents) == 0 {
			return cached.Clone(), nil
		}

		snapshot := cached.Clone()
		for _, e := range newEvents {
			if err := snapshot.Apply(e); err != nil {
				return nil, err
			}
		}

		p.store(key, snapshot)

		return snapshot.Clone(), nil
	}

	events, err := p.log.ReadAll(ctx, task)
	if err != nil {
		return nil, err
	}

	snapshot, err := Fold(task, events)
	if err != nil {
		return nil, err
	}

	p.store(key, snapshot)

	return snapshot.Clone(), nil
}

// StateAsOf folds only the events with timestamps <= asOf, enabling
// temporal queries. Results are never cached: the fold is deterministic and
// never reflects events appended after asOf.
func (p *Projector) StateAsOf(ctx context.Context, task core.TaskID, asOf time.Time) (*Snapshot, error) {
	events, err := p.log.ReadAsOf(ctx, task, asOf)
	if err != nil {
		return nil, err
	}

	if len(events) == 0 {
		// The task did not exist yet at asOf
		return nil, backend.ErrTaskNotFound
	}

	return Fold(task, events)
}

// Advance incrementally updates the cached snapshot with an event that was
// just appended. If the cache is not exactly one event behind, the entry is
// dropped and the next read refolds.
func (p *Projector) Advance(task core.TaskID, event *history.Event) {
	key := task.String()

	item := p.cache.Get(key, ttlcache.WithDisableTouchOnHit[string, *Snapshot]())
	if item == nil {
		return
	}

	cached := item.Value()
	if cached.LastSequenceID != event.SequenceID-1 {
		p.cache.Delete(key)
		return
	}

	snapshot := cached.Clone()
	if err := snapshot.Apply(event); err != nil {
		p.cache.Delete(key)
		return
	}

	p.store(key, snapshot)
}

// Invalidate drops the cached snapshot for the task.
func (p *Projector) Invalidate(task core.TaskID) {
	p.cache.Delete(task.String())
}

func (p *Projector) store(key string, snapshot *Snapshot) {
	p.cache.Set(key, snapshot, ttlcache.DefaultTTL)

	p.mc.Gauge(metrickeys.SnapshotCacheSize, metrics.Tags{}, int64(p.cache.Len()))
}

// StartEviction runs the cache's expiration loop until ctx is canceled.
func (p *Projector) StartEviction(ctx context.Context) {
	go p.cache.Start()

	<-ctx.Done()

	p.cache.Stop()
}

// IsNotFound reports whether err indicates a missing task.
func IsNotFound(err error) bool {
	return errors.Is(err, backend.ErrTaskNotFound)
}
