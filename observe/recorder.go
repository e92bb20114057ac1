package observe

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/jonwraymond/recipebox/cache"
)

// DefaultRecorderBuffer is the event buffer size used when none is given.
const DefaultRecorderBuffer = 1024

// Cache event kinds, as they appear in the "cache.event" log field.
const (
	cacheEventHit    = "hit"
	cacheEventMiss   = "miss"
	cacheEventInsert = "insert"
	cacheEventEvict  = "evict"
)

type cacheEvent struct {
	kind   string
	key    string
	reason string
	size   int
	ttl    time.Duration
}

// CacheRecorder reports cache events as metrics and debug logs.
//
// Counters are updated inline. Log lines are queued on a bounded buffer and
// written by Run; when the buffer is full the event is dropped and counted.
// No method blocks the caller.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Ownership: Run must be called at most once; it owns the log drain.
type CacheRecorder struct {
	hits      metric.Int64Counter
	misses    metric.Int64Counter
	inserts   metric.Int64Counter
	evictions metric.Int64Counter
	sizes     metric.Int64Histogram

	logger  Logger
	events  chan cacheEvent
	dropped atomic.Int64
	running atomic.Bool
}

// NewCacheRecorder creates a recorder. A nil meter disables metrics, a nil
// logger disables logs, and a non-positive buffer uses DefaultRecorderBuffer.
func NewCacheRecorder(meter metric.Meter, logger Logger, buffer int) (*CacheRecorder, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("noop")
	}
	if logger == nil {
		logger = NopLogger()
	}
	if buffer <= 0 {
		buffer = DefaultRecorderBuffer
	}

	r := &CacheRecorder{
		logger: logger,
		events: make(chan cacheEvent, buffer),
	}

	var err error
	if r.hits, err = meter.Int64Counter("cache.hits",
		metric.WithDescription("Reads answered from the response cache"),
		metric.WithUnit("{hit}"),
	); err != nil {
		return nil, err
	}
	if r.misses, err = meter.Int64Counter("cache.misses",
		metric.WithDescription("Reads that fell through to the store"),
		metric.WithUnit("{miss}"),
	); err != nil {
		return nil, err
	}
	if r.inserts, err = meter.Int64Counter("cache.inserts",
		metric.WithDescription("Responses captured into the cache"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}
	if r.evictions, err = meter.Int64Counter("cache.evictions",
		metric.WithDescription("Entries removed from the cache, by reason"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}
	if r.sizes, err = meter.Int64Histogram("cache.payload_bytes",
		metric.WithDescription("Size of captured response payloads"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	return r, nil
}

// Hit records a cache hit.
func (r *CacheRecorder) Hit(key string) {
	r.hits.Add(context.Background(), 1)
	r.enqueue(cacheEvent{kind: cacheEventHit, key: key})
}

// Miss records a cache miss.
func (r *CacheRecorder) Miss(key string) {
	r.misses.Add(context.Background(), 1)
	r.enqueue(cacheEvent{kind: cacheEventMiss, key: key})
}

// Insert records a captured response.
func (r *CacheRecorder) Insert(key string, size int, ttl time.Duration) {
	ctx := context.Background()
	r.inserts.Add(ctx, 1)
	r.sizes.Record(ctx, int64(size))
	r.enqueue(cacheEvent{kind: cacheEventInsert, key: key, size: size, ttl: ttl})
}

// Evict records a removed entry.
func (r *CacheRecorder) Evict(key string, reason string) {
	r.evictions.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("cache.evict_reason", reason)))
	r.enqueue(cacheEvent{kind: cacheEventEvict, key: key, reason: reason})
}

// Dropped returns the number of log events discarded because the buffer
// was full.
func (r *CacheRecorder) Dropped() int64 {
	return r.dropped.Load()
}

// Run writes queued events to the logger until ctx is done, then drains
// whatever is still buffered. It returns nil on cancellation.
func (r *CacheRecorder) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRecorderRunning
	}

	for {
		select {
		case ev := <-r.events:
			r.log(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-r.events:
					r.log(ev)
				default:
					return nil
				}
			}
		}
	}
}

func (r *CacheRecorder) enqueue(ev cacheEvent) {
	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
	}
}

func (r *CacheRecorder) log(ev cacheEvent) {
	fields := []Field{
		{Key: "cache.event", Value: ev.kind},
		{Key: "cache.key", Value: ev.key},
	}
	switch ev.kind {
	case cacheEventInsert:
		fields = append(fields,
			Field{Key: "cache.size", Value: ev.size},
			Field{Key: "cache.ttl_s", Value: ev.ttl.Seconds()},
		)
	case cacheEventEvict:
		fields = append(fields, Field{Key: "cache.evict_reason", Value: ev.reason})
	}
	r.logger.Debug(context.Background(), "cache event", fields...)
}

// Ensure CacheRecorder implements cache.Observer
var _ cache.Observer = (*CacheRecorder)(nil)
