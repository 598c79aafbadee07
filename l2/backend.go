// Package l2 is the remote cache tier (spec.md §4.3). It wraps
// redis.UniversalClient so the topology is chosen inside this package
// (see RedisBackend) and the rest of Oxcache never branches on
// transport mode.
package l2

import (
	"context"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Kirky-X/oxcache/oxconfig"
	"github.com/Kirky-X/oxcache/oxerrors"
)

// WriteOp is one pending L2 mutation, as queued by the Batch Writer
// (spec.md §4.8). IsDelete selects a key+version-sibling delete;
// otherwise it's a value+version set.
type WriteOp struct {
	Key      string
	Value    []byte
	Version  uint64
	TTL      time.Duration
	IsDelete bool
}

// Backend is the subset of remote-cache behaviour the Two-Level Client
// and Invalidation Bus depend on. A narrow interface keeps Redis an
// implementation detail rather than a dependency the rest of the
// module imports directly.
type Backend interface {
	// GetWithVersion reads value and version together. Per §4.3 the
	// version sibling is read first; if it and the value disagree
	// (value missing, version missing) the read is retried once before
	// being treated as a miss.
	GetWithVersion(ctx context.Context, key string) (value []byte, version uint64, found bool, err error)
	// SetWithVersion writes value then its version sibling, in that
	// order, so a reader never observes a version with no value behind it.
	SetWithVersion(ctx context.Context, key string, value []byte, version uint64, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// WriteBatch pipelines every op in a single round-trip (§4.8's
	// "pipeline them to the L2 Backend in a single round-trip"), used by
	// the Batch Writer to flush a drained batch at once instead of one
	// call per item. Returns one error per op, index-aligned; a
	// round-trip-level failure (the common case — a pipelined write
	// fails or succeeds as a unit) is reported against every op.
	WriteBatch(ctx context.Context, ops []WriteOp) []error
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe pumps decoded message payloads into msgs. Reconnects
	// are handled internally (backoff with jitter), but the caller
	// still needs to know a gap happened: disconnected fires once when
	// the connection first drops, so the Health Controller can be told
	// (§4.3/§4.7), and recovered fires once the next message is
	// successfully received after a drop, so the caller can treat any
	// invalidations missed during the gap as unknown and resync (§4.7).
	Subscribe(ctx context.Context, channel string) (msgs <-chan []byte, disconnected <-chan struct{}, recovered <-chan struct{}, close func() error)
	Ping(ctx context.Context) error
	Close() error
}

// RedisBackend is the Backend implementation backed by go-redis's
// UniversalClient. NewRedisBackend fills in only the address list and
// timeouts, so go-redis picks a cluster client when more than one
// address is given and a single-node client otherwise. No sentinel
// master name is set, so L2ModeSentinel does not select sentinel
// failover.
type RedisBackend struct {
	client         redis.UniversalClient
	keyPrefix      string
	commandTimeout time.Duration
}

// NewRedisBackend builds a RedisBackend from the resolved L2 config.
func NewRedisBackend(cfg oxconfig.L2) *RedisBackend {
	opts := &redis.UniversalOptions{
		Addrs:        addrs(cfg),
		DialTimeout:  cfg.ConnectTimeout(),
		ReadTimeout:  cfg.CommandTimeout(),
		WriteTimeout: cfg.CommandTimeout(),
	}
	if cfg.Mode == oxconfig.L2ModeCluster {
		opts.Addrs = cfg.Nodes
	}

	return &RedisBackend{
		client:         redis.NewUniversalClient(opts),
		keyPrefix:      cfg.KeyPrefix,
		commandTimeout: cfg.CommandTimeout(),
	}
}

func addrs(cfg oxconfig.L2) []string {
	if len(cfg.Nodes) > 0 {
		return cfg.Nodes
	}
	if cfg.ConnectionString != "" {
		return []string{cfg.ConnectionString}
	}
	return []string{"localhost:6379"}
}

func versionKey(key string) string { return key + ".v" }

func (b *RedisBackend) GetWithVersion(ctx context.Context, key string) ([]byte, uint64, bool, error) {
	value, version, found, err := b.getOnce(ctx, key)
	if err != nil {
		return nil, 0, false, classify(err)
	}
	if found {
		return value, version, true, nil
	}
	// Retry once: a racing SetWithVersion may have written the value
	// but not yet its version sibling when the first read landed.
	value, version, found, err = b.getOnce(ctx, key)
	if err != nil {
		return nil, 0, false, classify(err)
	}
	return value, version, found, nil
}

func (b *RedisBackend) getOnce(ctx context.Context, key string) ([]byte, uint64, bool, error) {
	pipe := b.client.Pipeline()
	verCmd := pipe.Get(ctx, versionKey(key))
	valCmd := pipe.Get(ctx, key)
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return nil, 0, false, err
	}

	value, verr := valCmd.Bytes()
	versionStr, vverr := verCmd.Result()
	if verr == redis.Nil || vverr == redis.Nil {
		return nil, 0, false, nil
	}
	if verr != nil {
		return nil, 0, false, verr
	}
	if vverr != nil {
		return nil, 0, false, vverr
	}

	version, perr := parseVersion(versionStr)
	if perr != nil {
		return nil, 0, false, perr
	}
	return value, version, true, nil
}

func (b *RedisBackend) SetWithVersion(ctx context.Context, key string, value []byte, version uint64, ttl time.Duration) error {
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, key, value, ttl)
	pipe.Set(ctx, versionKey(key), formatVersion(version), ttl)
	_, err := pipe.Exec(ctx)
	return classify(err)
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return classify(b.client.Del(ctx, key, versionKey(key)).Err())
}

// WriteBatch pipelines every op's commands into one TxPipeline round
// trip. A pipelined round trip either all lands or all fails together
// on a connection-level error, so one classified error is reported for
// every op rather than inspecting each individual command's result.
func (b *RedisBackend) WriteBatch(ctx context.Context, ops []WriteOp) []error {
	errs := make([]error, len(ops))
	if len(ops) == 0 {
		return errs
	}

	pipe := b.client.TxPipeline()
	for _, op := range ops {
		if op.IsDelete {
			pipe.Del(ctx, op.Key, versionKey(op.Key))
			continue
		}
		pipe.Set(ctx, op.Key, op.Value, op.TTL)
		pipe.Set(ctx, versionKey(op.Key), formatVersion(op.Version), op.TTL)
	}
	_, err := pipe.Exec(ctx)
	classified := classify(err)
	for i := range errs {
		errs[i] = classified
	}
	return errs
}

func (b *RedisBackend) Publish(ctx context.Context, channel string, payload []byte) error {
	return classify(b.client.Publish(ctx, channel, payload).Err())
}

// Subscribe drives its own ReceiveMessage loop instead of sub.Channel(),
// which reconnects silently and gives the caller no way to observe a
// drop. Backoff-with-jitter on receive error mirrors the donor tiered
// cache's pubsub reconnect loop.
func (b *RedisBackend) Subscribe(ctx context.Context, channel string) (<-chan []byte, <-chan struct{}, <-chan struct{}, func() error) {
	sub := b.client.Subscribe(ctx, channel)
	out := make(chan []byte, 64)
	disconnected := make(chan struct{}, 1)
	recovered := make(chan struct{}, 1)

	go func() {
		defer close(out)
		const baseBackoff = time.Second
		const maxBackoff = 30 * time.Second
		backoff := baseBackoff
		down := false

		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !down {
					down = true
					select {
					case disconnected <- struct{}{}:
					default:
					}
				}
				jitter := time.Duration(rand.Int63n(int64(backoff/2) + 1))
				time.Sleep(backoff + jitter)
				if backoff < maxBackoff {
					backoff *= 2
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
				}
				continue
			}

			if down {
				down = false
				backoff = baseBackoff
				select {
				case recovered <- struct{}{}:
				default:
				}
			}
			out <- []byte(msg.Payload)
		}
	}()
	return out, disconnected, recovered, sub.Close
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return classify(b.client.Ping(ctx).Err())
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func classify(err error) error {
	if err == nil || err == redis.Nil {
		return nil
	}
	kind := oxerrors.BackendConnect
	if err == context.DeadlineExceeded {
		kind = oxerrors.BackendTimeout
	}
	return oxerrors.NewBackendError("l2", kind, err)
}
