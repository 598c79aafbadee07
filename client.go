package oxcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Kirky-X/oxcache/batch"
	"github.com/Kirky-X/oxcache/health"
	"github.com/Kirky-X/oxcache/invalidation"
	"github.com/Kirky-X/oxcache/l1"
	"github.com/Kirky-X/oxcache/l2"
	"github.com/Kirky-X/oxcache/oxconfig"
	"github.com/Kirky-X/oxcache/oxerrors"
	"github.com/Kirky-X/oxcache/oxlog"
	"github.com/Kirky-X/oxcache/promotion"
	"github.com/Kirky-X/oxcache/serializer"
	"github.com/Kirky-X/oxcache/singleflight"
	"github.com/Kirky-X/oxcache/version"
	"github.com/Kirky-X/oxcache/wal"
)

// Client is the Two-Level Client (§4.11): the public surface that
// orchestrates L1, L2, the WAL, single-flight coalescing, the version
// registry, the invalidation bus, the batch writer, promotion, and
// health for one named service.
type Client struct {
	service   string
	cfg       oxconfig.Service
	keyPrefix string
	codec     serializer.Serializer
	log       oxlog.Logger

	l1        *l1.Store
	l2        l2.Backend
	wal       *wal.WAL
	sf        *singleflight.Registry
	versions  *version.Registry
	bus       *invalidation.Bus
	writer    *batch.Writer
	promoter  *promotion.Manager
	healthCtl *health.Controller

	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group

	stats statCounters
}

var (
	errL2Unavailable = errors.New("l2 unavailable")
	errNoDurability  = errors.New("write could not be persisted: l2 unavailable and no wal_path configured")
)

type statCounters struct {
	l1Hits, l1Misses atomic.Uint64
	l2Hits, l2Misses atomic.Uint64
	promotions       atomic.Uint64
}

// NewClient wires together one service's Two-Level Client. backend is
// shared across every client that points at the same L2 connection,
// per §3's ownership rule.
func NewClient(service string, cfg oxconfig.Service, codecName string, backend l2.Backend, log oxlog.Logger) (*Client, error) {
	if log == nil {
		log = oxlog.NewNop()
	}
	if codecName == "" {
		codecName = "json"
	}
	codec, err := serializer.Get(codecName)
	if err != nil {
		return nil, oxerrors.NewConfigError(service, err.Error())
	}

	store := l1.New(l1.Config{
		MaxCapacity:     cfg.L1.MaxCapacity,
		TTL:             cfg.L1.TTL,
		TTI:             cfg.L1.TTI,
		InitialCapacity: cfg.L1.InitialCapacity,
	})

	var walHandle *wal.WAL
	if cfg.TwoLevel.WalPath != "" {
		walHandle, err = wal.Open(wal.Config{Path: cfg.TwoLevel.WalPath})
		if err != nil {
			return nil, oxerrors.NewConfigError(service, err.Error())
		}
	}

	versions := version.New()
	sf := singleflight.New(service)
	origin := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)

	c := &Client{
		service:   service,
		cfg:       cfg,
		keyPrefix: cfg.L2.KeyPrefix,
		codec:     codec,
		log:       log.With(oxlog.String("service", service)),
		l1:        store,
		l2:        backend,
		wal:       walHandle,
		sf:        sf,
		versions:  versions,
		promoter:  promotion.New(cfg.TwoLevel.PromoteOnHit, cfg.TwoLevel.PromoteMaxBytes, store, sf),
		ctx:       ctx,
		cancel:    cancel,
		eg:        eg,
	}

	c.healthCtl = health.New(health.Config{
		Service:           service,
		FailureThreshold:  uint32(cfg.TwoLevel.FailureThreshold),
		RecoveryThreshold: uint32(cfg.TwoLevel.RecoveryThreshold),
		DisableAutoRecovery: !cfg.TwoLevel.AutoRecoveryEnabled(),
	}, log, c.onHealthTransition)

	c.writer = batch.New(batch.Config{
		QueueSize:   cfg.TwoLevel.BatchSize * 4,
		BatchSize:   cfg.TwoLevel.BatchSize,
		BatchWindow: cfg.TwoLevel.BatchInterval(),
		MaxRetries:  cfg.TwoLevel.MaxRetries,
	}, c.flushBatch, c.onBatchFailure)

	if cfg.TwoLevel.EnableInvalidationSync && backend != nil {
		c.bus = invalidation.New(service, origin, backend, store, versions, log, c.healthCtl.ReportFailure)
		eg.Go(func() error {
			c.bus.Listen(egCtx)
			return nil
		})
	}

	return c, nil
}

func (c *Client) l2Key(qualified string) string {
	return l2Key(c.keyPrefix, qualified)
}

// Get returns the latest value visible to this instance for key,
// checking L1 first and coalescing an L2 read on miss (§4.11).
func (c *Client) Get(ctx context.Context, key string, out interface{}) (Entry, error) {
	qualified := QualifiedKey(c.service, key)

	if e, ok := c.l1.Get(qualified); ok {
		c.stats.l1Hits.Add(1)
		if err := c.codec.Deserialize(e.Value, out); err != nil {
			return Entry{}, oxerrors.NewSerializationError(c.service, c.codec.Name(), err)
		}
		return Entry{Value: e.Value, Version: e.Version}, nil
	}
	c.stats.l1Misses.Add(1)

	result, err := c.sf.Do(ctx, qualified, func() (interface{}, error) {
		return c.loadFromL2(context.WithoutCancel(ctx), qualified)
	})
	if err != nil {
		return Entry{}, err
	}
	e := result.(Entry)
	if err := c.codec.Deserialize(e.Value, out); err != nil {
		return Entry{}, oxerrors.NewSerializationError(c.service, c.codec.Name(), err)
	}
	return e, nil
}

func (c *Client) loadFromL2(ctx context.Context, qualified string) (Entry, error) {
	if c.l2 == nil || c.healthCtl.State() == health.Degraded {
		c.stats.l2Misses.Add(1)
		return Entry{}, oxerrors.NewBackendError(c.service, oxerrors.BackendConnect, errL2Unavailable)
	}

	var value []byte
	var ver uint64
	var found bool
	err := c.healthCtl.Allow(ctx, func(ctx context.Context) error {
		v, ver2, ok, err := c.l2.GetWithVersion(ctx, c.l2Key(qualified))
		value, ver, found = v, ver2, ok
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	if !found {
		c.stats.l2Misses.Add(1)
		return Entry{}, oxerrors.ErrNotFound
	}

	c.stats.l2Hits.Add(1)
	c.versions.Observe(qualified, ver)
	c.promoter.Promote(ctx, qualified, value, ver)
	c.stats.promotions.Add(1)
	return Entry{Value: value, Version: ver}, nil
}

// Set stores value under key (§4.11). L1 is updated synchronously;
// the L2 write is pipelined through the Batch Writer when Healthy or
// Recovering and enable_batch_write is set, written directly when
// enable_batch_write is off, or appended to the WAL when Degraded.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	qualified := QualifiedKey(c.service, key)
	data, err := c.codec.Serialize(value)
	if err != nil {
		return oxerrors.NewSerializationError(c.service, c.codec.Name(), err)
	}
	ver := c.versions.Next(qualified)

	c.l1.Insert(qualified, data, ver, ttl)

	if err := c.persistSet(ctx, qualified, data, ver, ttl); err != nil {
		return err
	}

	if c.bus != nil {
		if err := c.bus.Publish(ctx, qualified, ver); err != nil {
			c.log.Warn("set: invalidation publish failed", oxlog.Err(err))
		}
	}
	return nil
}

func (c *Client) persistSet(ctx context.Context, qualified string, data []byte, ver uint64, ttl time.Duration) error {
	if c.l2 == nil {
		// cache_type=l1: there is no L2 tier to persist to, by design.
		return nil
	}
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}

	if c.healthCtl.State() == health.Degraded {
		return c.appendWal(wal.OpSet, qualified, data, ver, ttl)
	}

	if !c.cfg.TwoLevel.BatchWriteEnabled() {
		return c.directSet(ctx, qualified, data, ver, ttl)
	}

	done := make(chan struct{})
	item := batch.Item{
		Key:     qualified,
		Done:    done,
		Value:   data,
		Version: ver,
		TTL:     ttl,
	}
	if !c.writer.EnqueueWait(ctx, item, c.cfg.TwoLevel.EnqueueTimeout()) {
		return c.appendWal(wal.OpSet, qualified, data, ver, ttl)
	}
	if c.cfg.TwoLevel.WriteThrough {
		<-done
		return item.Err
	}
	return nil
}

// directSet writes straight to L2, bypassing the Batch Writer, for
// services configured with enable_batch_write=false. A failed write is
// appended to the WAL whatever the health state (a permanently-failed
// batched write is spooled only once the controller is Degraded).
func (c *Client) directSet(ctx context.Context, qualified string, data []byte, ver uint64, ttl time.Duration) error {
	err := c.healthCtl.Allow(ctx, func(ctx context.Context) error {
		return c.l2.SetWithVersion(ctx, c.l2Key(qualified), data, ver, ttl)
	})
	if err == nil {
		return nil
	}
	return c.appendWal(wal.OpSet, qualified, data, ver, ttl)
}

// directDelete is directSet's delete counterpart.
func (c *Client) directDelete(ctx context.Context, qualified string, ver uint64) error {
	err := c.healthCtl.Allow(ctx, func(ctx context.Context) error {
		return c.l2.Delete(ctx, c.l2Key(qualified))
	})
	if err == nil {
		return nil
	}
	return c.appendWal(wal.OpDelete, qualified, nil, ver, 0)
}

func (c *Client) appendWal(op wal.Op, qualified string, value []byte, ver uint64, ttl time.Duration) error {
	if c.wal == nil {
		return oxerrors.NewWalError(c.service, "append", errNoDurability)
	}
	ttlSeconds := int64(-1)
	if ttl > 0 {
		ttlSeconds = int64(ttl.Seconds())
	}
	_, err := c.wal.Append(op, qualified, value, ver, ttlSeconds, uint64(time.Now().UnixMilli()))
	if err != nil {
		return oxerrors.NewWalError(c.service, "append", err)
	}
	return nil
}

// Delete removes key (§4.11), following the same Healthy/Degraded
// routing as Set, and publishes an invalidation with a tombstone version.
func (c *Client) Delete(ctx context.Context, key string) error {
	qualified := QualifiedKey(c.service, key)
	ver := c.versions.Next(qualified)
	c.l1.Remove(qualified)

	if c.l2 == nil {
		// cache_type=l1: nothing further to persist.
	} else if c.healthCtl.State() == health.Degraded {
		if err := c.appendWal(wal.OpDelete, qualified, nil, ver, 0); err != nil {
			return err
		}
	} else if !c.cfg.TwoLevel.BatchWriteEnabled() {
		if err := c.directDelete(ctx, qualified, ver); err != nil {
			return err
		}
	} else {
		done := make(chan struct{})
		item := batch.Item{
			Key:      qualified,
			Done:     done,
			Version:  ver,
			IsDelete: true,
		}
		if !c.writer.EnqueueWait(ctx, item, c.cfg.TwoLevel.EnqueueTimeout()) {
			if err := c.appendWal(wal.OpDelete, qualified, nil, ver, 0); err != nil {
				return err
			}
		} else if c.cfg.TwoLevel.WriteThrough {
			<-done
			if item.Err != nil {
				return item.Err
			}
		}
	}

	if c.bus != nil {
		if err := c.bus.Publish(ctx, qualified, ver); err != nil {
			c.log.Warn("delete: invalidation publish failed", oxlog.Err(err))
		}
	}
	return nil
}

// Exists checks L1 then L2 without promoting (§4.11).
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	qualified := QualifiedKey(c.service, key)
	if _, ok := c.l1.Get(qualified); ok {
		return true, nil
	}
	if c.l2 == nil || c.healthCtl.State() == health.Degraded {
		return false, nil
	}
	var found bool
	err := c.healthCtl.Allow(ctx, func(ctx context.Context) error {
		_, _, ok, err := c.l2.GetWithVersion(ctx, c.l2Key(qualified))
		found = ok
		return err
	})
	if err != nil {
		return false, oxerrors.NewBackendError(c.service, oxerrors.BackendConnect, err)
	}
	return found, nil
}

// SetL1Only writes only to L1 and skips the invalidation publish,
// for values that are intentionally instance-local (§4.11).
func (c *Client) SetL1Only(key string, value interface{}, ttl time.Duration) error {
	qualified := QualifiedKey(c.service, key)
	data, err := c.codec.Serialize(value)
	if err != nil {
		return oxerrors.NewSerializationError(c.service, c.codec.Name(), err)
	}
	ver := c.versions.Next(qualified)
	c.l1.Insert(qualified, data, ver, ttl)
	return nil
}

// SetL2Only bypasses L1 and routes straight through the Batch Writer (§4.11).
func (c *Client) SetL2Only(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	qualified := QualifiedKey(c.service, key)
	data, err := c.codec.Serialize(value)
	if err != nil {
		return oxerrors.NewSerializationError(c.service, c.codec.Name(), err)
	}
	ver := c.versions.Next(qualified)
	return c.persistSet(ctx, qualified, data, ver, ttl)
}

// Stats returns a point-in-time snapshot of this client's counters.
func (c *Client) Stats() Stats {
	var walLen uint64
	if c.wal != nil {
		walLen = c.wal.Len()
	}
	return Stats{
		L1Len:        c.l1.Len(),
		L1Hits:       c.stats.l1Hits.Load(),
		L1Misses:     c.stats.l1Misses.Load(),
		L2Hits:       c.stats.l2Hits.Load(),
		L2Misses:     c.stats.l2Misses.Load(),
		Promotions:   c.stats.promotions.Load(),
		BatchQueued:  c.writer.QueueDepth(),
		HealthState:  c.healthCtl.State().String(),
		WalLen:       walLen,
		LastObserved: time.Now(),
	}
}

// onHealthTransition reacts to Health Controller state changes:
// entering Recovering kicks off a throttled WAL replay (§4.10).
func (c *Client) onHealthTransition(from, to health.State) {
	if to == health.Recovering {
		c.eg.Go(func() error {
			c.replayWAL(c.ctx)
			return nil
		})
	}
}

func (c *Client) replayWAL(ctx context.Context) {
	if c.wal == nil || c.l2 == nil {
		return
	}
	failed := false
	err := c.wal.Replay(func(rec wal.Record) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.healthCtl.WaitReplaySlot(ctx); err != nil {
			return err
		}

		// A record superseded by a newer local write is skipped but
		// still consumed, per §4.10.
		if current := c.versions.Current(rec.Key); current > rec.Version {
			return nil
		}

		applyErr := c.healthCtl.Allow(ctx, func(ctx context.Context) error {
			if rec.Op == wal.OpSet {
				ttl := time.Duration(-1)
				if rec.TTLSeconds >= 0 {
					ttl = time.Duration(rec.TTLSeconds) * time.Second
				}
				return c.l2.SetWithVersion(ctx, c.l2Key(rec.Key), rec.Value, rec.Version, ttl)
			}
			return c.l2.Delete(ctx, c.l2Key(rec.Key))
		})
		if applyErr != nil {
			failed = true
			c.healthCtl.ReportFailure()
			return applyErr
		}
		c.healthCtl.ReportSuccess()
		return nil
	})
	if err != nil {
		c.log.Warn("wal replay stopped early", oxlog.Err(err))
		return
	}
	if !failed {
		_ = c.wal.TruncatePrefix()
	}
}

// flushBatch is the batch.FlushFunc the Batch Writer calls once per
// drained batch: every item's write is pipelined to L2 in a single
// round-trip (§4.8) through l2.Backend.WriteBatch, gated by the same
// circuit breaker that guards every other L2 call.
func (c *Client) flushBatch(ctx context.Context, items []batch.Item) []error {
	errs := make([]error, len(items))
	if c.l2 == nil {
		err := oxerrors.NewBackendError(c.service, oxerrors.BackendConnect, errL2Unavailable)
		for i := range errs {
			errs[i] = err
		}
		return errs
	}

	ops := make([]l2.WriteOp, len(items))
	for i, item := range items {
		ops[i] = l2.WriteOp{
			Key:      c.l2Key(item.Key),
			Value:    item.Value,
			Version:  item.Version,
			TTL:      item.TTL,
			IsDelete: item.IsDelete,
		}
	}

	var batchErrs []error
	allowErr := c.healthCtl.Allow(ctx, func(ctx context.Context) error {
		batchErrs = c.l2.WriteBatch(ctx, ops)
		for _, e := range batchErrs {
			if e != nil {
				return e
			}
		}
		return nil
	})
	if batchErrs != nil {
		return batchErrs
	}
	for i := range errs {
		errs[i] = allowErr
	}
	return errs
}

func (c *Client) onBatchFailure(item batch.Item, err error) {
	c.log.Warn("batch write failed permanently", oxlog.String("key", item.Key), oxlog.Err(err))
	c.healthCtl.ReportFailure()

	if c.healthCtl.State() == health.Degraded {
		op := wal.OpSet
		if item.IsDelete {
			op = wal.OpDelete
		}
		if walErr := c.appendWal(op, item.Key, item.Value, item.Version, item.TTL); walErr != nil {
			c.log.Warn("failed to spool permanently-failed write to wal", oxlog.String("key", item.Key), oxlog.Err(walErr))
		}
	}
}

// Shutdown drains the Batch Writer, stops the invalidation listener,
// and closes the WAL, aggregating any per-subsystem failures into a
// single ShutdownError (§4.11).
func (c *Client) Shutdown(ctx context.Context) error {
	c.healthCtl.Shutdown()
	c.writer.Shutdown()
	c.cancel()

	causes := map[string]error{}
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		if err := c.eg.Wait(); err != nil {
			mu.Lock()
			causes["invalidation_listener"] = err
			mu.Unlock()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		mu.Lock()
		causes["shutdown_deadline"] = ctx.Err()
		mu.Unlock()
	}

	if c.wal != nil {
		if err := c.wal.Close(); err != nil {
			causes["wal"] = err
		}
	}

	if len(causes) > 0 {
		return &oxerrors.ShutdownError{Service: c.service, Causes: causes}
	}
	return nil
}
