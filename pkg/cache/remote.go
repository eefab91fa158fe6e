package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/S-Corkum/resultcache/pkg/observability"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"
)

// RemoteCacheClient owns the connection lifecycle to the remote key-value
// store and exposes raw byte-level operations scoped to the configured key
// prefix. Reconnects after a failure are throttled with exponential backoff
// so a flapping store never turns the request path into a reconnect storm,
// and a circuit breaker sheds load while the store is unhealthy. Callers
// above this layer decide what a failure means; this layer only reports it.
type RemoteCacheClient struct {
	cfg     Config
	logger  observability.Logger
	metrics observability.MetricsClient
	breaker *gobreaker.CircuitBreaker

	// connectMu serializes dial attempts so only one reconnect is in
	// flight at a time.
	connectMu sync.Mutex
	reconnect *backoff.ExponentialBackOff

	mu      sync.RWMutex
	client  *redis.Client
	state   ConnectionState
	retryAt time.Time
	closed  bool
}

// NewRemoteCacheClient builds a client for the configured remote store. It
// does not dial; call Connect.
func NewRemoteCacheClient(cfg Config, logger observability.Logger, metrics observability.MetricsClient) *RemoteCacheClient {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}

	r := &RemoteCacheClient{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		reconnect: connectBackoff(),
	}

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-cache",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		IsSuccessful: func(err error) bool {
			// A missing key is a miss, not a store failure
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("remote cache circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	return r
}

func connectBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Connect dials the remote store and verifies it with a ping. On failure it
// records the attempt, schedules the next implicit retry window, and returns
// an InfrastructureError. Calling Connect when already connected is a no-op.
func (r *RemoteCacheClient) Connect(ctx context.Context) error {
	r.connectMu.Lock()
	defer r.connectMu.Unlock()

	if r.Connected() {
		return nil
	}

	if r.cfg.RemoteURL == "" {
		return &InfrastructureError{Op: "connect", Err: errors.New("no remote address configured")}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         r.cfg.RemoteURL,
		Password:     r.cfg.RemotePassword,
		DB:           r.cfg.RemoteDB,
		DialTimeout:  r.cfg.ConnectTimeout,
		ReadTimeout:  r.cfg.OperationTimeout,
		WriteTimeout: r.cfg.OperationTimeout,
	})

	dialCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()

	now := time.Now()
	r.metrics.IncrementCounter("cache_remote_connect_attempts_total", 1)

	if err := client.Ping(dialCtx).Err(); err != nil {
		_ = client.Close()

		wait := r.reconnect.NextBackOff()
		if wait < 0 {
			wait = r.reconnect.MaxInterval
		}

		r.mu.Lock()
		r.state = ConnectionState{Connected: false, LastAttemptAt: now, LastResult: false}
		r.retryAt = now.Add(wait)
		r.mu.Unlock()

		r.metrics.IncrementCounter("cache_remote_connect_failures_total", 1)
		r.logger.Warn("remote cache connection failed", map[string]interface{}{
			"address":  r.cfg.RemoteURL,
			"retry_in": wait.String(),
			"error":    err.Error(),
		})
		return &InfrastructureError{Op: "connect", Err: err}
	}

	r.reconnect.Reset()

	r.mu.Lock()
	r.client = client
	r.state = ConnectionState{Connected: true, LastAttemptAt: now, LastResult: true}
	r.retryAt = time.Time{}
	r.closed = false
	r.mu.Unlock()

	r.logger.Info("remote cache connected", map[string]interface{}{
		"address": r.cfg.RemoteURL,
		"db":      r.cfg.RemoteDB,
	})
	return nil
}

// Disconnect closes the connection and clears the handle. Operations after
// Disconnect fail with ErrNotConnected until an explicit Connect; implicit
// reconnects only run after failure-driven disconnections, never after a
// deliberate one.
func (r *RemoteCacheClient) Disconnect() error {
	r.connectMu.Lock()
	defer r.connectMu.Unlock()

	r.mu.Lock()
	client := r.client
	r.client = nil
	r.state.Connected = false
	r.closed = true
	r.mu.Unlock()

	if client == nil {
		return nil
	}

	if err := client.Close(); err != nil {
		return &InfrastructureError{Op: "disconnect", Err: err}
	}

	r.logger.Info("remote cache disconnected", map[string]interface{}{
		"address": r.cfg.RemoteURL,
	})
	return nil
}

// Connected reports whether a live handle is present.
func (r *RemoteCacheClient) Connected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client != nil && r.state.Connected
}

// State returns a copy of the connection bookkeeping: whether the client is
// connected, when the last attempt ran, and how it went.
func (r *RemoteCacheClient) State() ConnectionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// NextRetryAt returns the earliest time an implicit reconnect will run, or
// the zero time when no throttle window is active.
func (r *RemoteCacheClient) NextRetryAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.retryAt
}

// Get fetches the raw payload for a logical key. A missing key returns
// ErrNotFound; infrastructure failures return an InfrastructureError.
func (r *RemoteCacheClient) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := r.do(ctx, "get", func(ctx context.Context, client *redis.Client) error {
		b, err := client.Get(ctx, r.prefixed(key)).Bytes()
		if err != nil {
			return err
		}
		data = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores the raw payload under a logical key. A ttl of zero or less
// stores it without expiry.
func (r *RemoteCacheClient) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.do(ctx, "set", func(ctx context.Context, client *redis.Client) error {
		return client.Set(ctx, r.prefixed(key), data, ttl).Err()
	})
}

// Delete removes a logical key and reports whether it existed.
func (r *RemoteCacheClient) Delete(ctx context.Context, key string) (bool, error) {
	var deleted bool
	err := r.do(ctx, "delete", func(ctx context.Context, client *redis.Client) error {
		n, err := client.Del(ctx, r.prefixed(key)).Result()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// TTL returns the remaining lifetime of a logical key. Keys without expiry
// return zero; missing keys return ErrNotFound.
func (r *RemoteCacheClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := r.do(ctx, "ttl", func(ctx context.Context, client *redis.Client) error {
		d, err := client.TTL(ctx, r.prefixed(key)).Result()
		if err != nil {
			return err
		}
		ttl = d
		return nil
	})
	if err != nil {
		return 0, err
	}

	// The store reports -2 for a missing key and -1 for no expiry. The
	// client library passes those sentinels through unscaled.
	switch {
	case ttl == -2 || ttl == -2*time.Second:
		return 0, ErrNotFound
	case ttl < 0:
		return 0, nil
	}
	return ttl, nil
}

// Scan returns one chunk of logical keys matching pattern, plus the cursor
// for the next chunk (zero when iteration is complete). The pattern is
// logical too: the key prefix is applied before the scan and stripped from
// the results. An empty pattern matches every key in this cache's namespace.
func (r *RemoteCacheClient) Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	if pattern == "" {
		pattern = "*"
	}
	if count <= 0 {
		count = r.cfg.ScanCount
	}

	var keys []string
	var next uint64
	err := r.do(ctx, "scan", func(ctx context.Context, client *redis.Client) error {
		k, n, err := client.Scan(ctx, cursor, r.prefixed(pattern), count).Result()
		if err != nil {
			return err
		}
		keys, next = k, n
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	logical := make([]string, 0, len(keys))
	for _, k := range keys {
		logical = append(logical, strings.TrimPrefix(k, r.cfg.KeyPrefix))
	}
	return logical, next, nil
}

// Clear deletes every key in this cache's namespace using chunked scans so
// a large keyspace never blocks the store for the whole sweep.
func (r *RemoteCacheClient) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		var next uint64
		err := r.do(ctx, "clear", func(ctx context.Context, client *redis.Client) error {
			keys, n, err := client.Scan(ctx, cursor, r.cfg.KeyPrefix+"*", r.cfg.ScanCount).Result()
			if err != nil {
				return err
			}
			if len(keys) > 0 {
				if err := client.Del(ctx, keys...).Err(); err != nil {
					return err
				}
			}
			next = n
			return nil
		})
		if err != nil {
			return err
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Ping verifies the connection end to end.
func (r *RemoteCacheClient) Ping(ctx context.Context) error {
	return r.do(ctx, "ping", func(ctx context.Context, client *redis.Client) error {
		return client.Ping(ctx).Err()
	})
}

// do runs one store operation through the circuit breaker with the
// per-operation timeout applied.
func (r *RemoteCacheClient) do(ctx context.Context, op string, fn func(ctx context.Context, client *redis.Client) error) error {
	client, err := r.ensureConnected(ctx)
	if err != nil {
		return &InfrastructureError{Op: op, Err: err}
	}

	opCtx, cancel := context.WithTimeout(ctx, r.cfg.OperationTimeout)
	defer cancel()

	_, err = r.breaker.Execute(func() (interface{}, error) {
		return nil, fn(opCtx, client)
	})
	return r.wrapOpError(op, err)
}

// ensureConnected returns a live handle, reconnecting when the throttle
// window allows it. While the window is open, or after an explicit
// Disconnect, it fails fast with ErrNotConnected.
func (r *RemoteCacheClient) ensureConnected(ctx context.Context) (*redis.Client, error) {
	r.mu.RLock()
	client := r.client
	connected := r.state.Connected
	retryAt := r.retryAt
	closed := r.closed
	r.mu.RUnlock()

	if client != nil && connected {
		return client, nil
	}
	if closed {
		return nil, ErrNotConnected
	}
	if !retryAt.IsZero() && time.Now().Before(retryAt) {
		return nil, ErrNotConnected
	}

	if err := r.Connect(ctx); err != nil {
		return nil, ErrNotConnected
	}

	r.mu.RLock()
	client = r.client
	connected = r.state.Connected
	r.mu.RUnlock()

	if client == nil || !connected {
		return nil, ErrNotConnected
	}
	return client, nil
}

func (r *RemoteCacheClient) wrapOpError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return &InfrastructureError{Op: op, Err: ErrStorageTimeout}
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return &InfrastructureError{Op: op, Err: ErrStorageUnavailable}
	default:
		return &InfrastructureError{Op: op, Err: err}
	}
}

func (r *RemoteCacheClient) prefixed(key string) string {
	return r.cfg.KeyPrefix + key
}
