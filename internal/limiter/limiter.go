package limiter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Options tunes the limiter. Zero values fall back to the defaults.
type Options struct {
	// MaxInflight caps concurrent calls per provider:model in this
	// process.
	MaxInflight int
	// BaseBackoff is the first cooldown after a rate-limit; it doubles
	// per consecutive trip up to MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Adaptive throttles vision provider calls: a Redis-backed cooldown
// shared across processes plus a local in-flight semaphore, both keyed
// by provider:model.
type Adaptive struct {
	rdb         *redis.Client
	maxInflight int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu  sync.Mutex
	sem map[string]chan struct{}
}

// New builds the limiter on an existing Redis connection.
func New(rdb *redis.Client, opts Options) *Adaptive {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 4
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 30 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Minute
	}
	return &Adaptive{
		rdb:         rdb,
		maxInflight: opts.MaxInflight,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		sem:         make(map[string]chan struct{}),
	}
}

func key(provider, model string) string {
	return fmt.Sprintf("cooldown:%s:%s", strings.ToLower(provider), strings.ToLower(model))
}

// IsOpen reports whether the provider:model pair is cooling down.
func (a *Adaptive) IsOpen(ctx context.Context, provider, model string) bool {
	until, err := a.rdb.Get(ctx, key(provider, model)).Int64()
	if err != nil {
		return false
	}
	return time.Now().Unix() < until
}

// Open starts or extends the cooldown. Consecutive trips double the
// window up to MaxBackoff.
func (a *Adaptive) Open(ctx context.Context, provider, model string) {
	k := key(provider, model)
	attempts, _ := a.rdb.Incr(ctx, k+":attempts").Result()
	if attempts < 1 {
		attempts = 1
	}
	d := a.baseBackoff * (1 << (attempts - 1))
	if d > a.maxBackoff || d <= 0 {
		d = a.maxBackoff
	}
	until := time.Now().Add(d).Unix()
	if err := a.rdb.Set(ctx, k, until, d).Err(); err != nil {
		log.Warn().Err(err).Str("provider", provider).Str("model", model).Msg("cooldown write failed")
		return
	}
	log.Info().Str("provider", provider).Str("model", model).Dur("cooldown", d).Msg("provider cooling down")
}

// Close resets the cooldown after a successful call.
func (a *Adaptive) Close(ctx context.Context, provider, model string) {
	k := key(provider, model)
	_ = a.rdb.Del(ctx, k, k+":attempts").Err()
}

// Allow reserves a local in-flight slot. The returned release function
// must be called when the request finishes; ok is false when the slot
// pool is exhausted.
func (a *Adaptive) Allow(provider, model string) (func(), bool) {
	k := strings.ToLower(provider) + ":" + strings.ToLower(model)
	a.mu.Lock()
	ch, ok := a.sem[k]
	if !ok {
		ch = make(chan struct{}, a.maxInflight)
		a.sem[k] = ch
	}
	a.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return func() {}, false
	}
}
