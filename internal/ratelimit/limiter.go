// Package ratelimit implements the account-level sliding-window rate
// limiter, backed by Redis sorted sets so the limit is shared across
// gateway replicas. Calls are dispatched onto a bounded worker pool so
// Redis latency never blocks a request goroutine.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eternisai/chatgpt-pool-gateway/internal/logger"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const namespace = "botmgr"

// Rule is one sliding window constraint. Every configured rule must pass
// for a hit to be accepted.
type Rule struct {
	Name   string
	Window time.Duration
	Max    int64
}

// DefaultRules is the 1/minute and 60/hour pair applied per account.
var DefaultRules = []Rule{
	{Name: "minute", Window: time.Minute, Max: 1},
	{Name: "hour", Window: time.Hour, Max: 60},
}

type requestKind int

const (
	kindTest requestKind = iota
	kindHit
)

type limitRequest struct {
	ctx      context.Context
	kind     requestKind
	key      string
	response chan<- limitResponse
}

type limitResponse struct {
	allowed bool
	err     error
}

// Limiter dispatches Test/Hit calls onto a bounded worker pool so Redis
// latency never blocks the caller's request goroutine.
type Limiter struct {
	client  *redis.Client
	rules   []Rule
	reqChan chan limitRequest
	pool    sync.WaitGroup
	shutdown chan struct{}
	closed  atomic.Bool
	log     *logger.Logger
	dropped atomic.Int64
}

// Config configures the worker pool sizing; rules default to DefaultRules
// when nil.
type Config struct {
	WorkerPoolSize int
	BufferSize     int
	Rules          []Rule
}

// New starts the worker pool and returns a ready-to-use Limiter.
func New(client *redis.Client, cfg Config, log *logger.Logger) *Limiter {
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules
	}
	workers := cfg.WorkerPoolSize
	if workers <= 0 {
		workers = 4
	}
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 256
	}

	l := &Limiter{
		client:   client,
		rules:    rules,
		reqChan:  make(chan limitRequest, buffer),
		shutdown: make(chan struct{}),
		log:      log.WithComponent("ratelimit"),
	}

	for i := 0; i < workers; i++ {
		l.pool.Add(1)
		go l.worker()
	}
	return l
}

func (l *Limiter) worker() {
	defer l.pool.Done()
	for {
		select {
		case req := <-l.reqChan:
			l.handle(req)
		case <-l.shutdown:
			for {
				select {
				case req := <-l.reqChan:
					l.handle(req)
				default:
					return
				}
			}
		}
	}
}

func (l *Limiter) handle(req limitRequest) {
	var allowed bool
	var err error
	switch req.kind {
	case kindTest:
		allowed, err = l.testSync(req.ctx, req.key)
	case kindHit:
		allowed, err = l.hitSync(req.ctx, req.key)
	}
	req.response <- limitResponse{allowed: allowed, err: err}
}

// Test reports whether a hit would currently be accepted, without recording
// one. Keyed by account email.
func (l *Limiter) Test(ctx context.Context, email string) (bool, error) {
	return l.dispatch(ctx, kindTest, email)
}

// Hit attempts to record a hit for the account, returning whether it was
// accepted. Both rules must pass for the hit to register.
func (l *Limiter) Hit(ctx context.Context, email string) (bool, error) {
	return l.dispatch(ctx, kindHit, email)
}

func (l *Limiter) dispatch(ctx context.Context, kind requestKind, email string) (bool, error) {
	if l.closed.Load() {
		return false, fmt.Errorf("rate limiter is shutting down")
	}

	respCh := make(chan limitResponse, 1)
	req := limitRequest{ctx: ctx, kind: kind, key: email, response: respCh}

	select {
	case l.reqChan <- req:
	case <-ctx.Done():
		return false, ctx.Err()
	default:
		dropped := l.dropped.Add(1)
		l.log.Error("rate limiter queue full, request dropped",
			slog.String("email", email), slog.Int64("total_dropped", dropped))
		return false, fmt.Errorf("rate limiter queue is full")
	}

	select {
	case resp := <-respCh:
		return resp.allowed, resp.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// testSync checks every rule without mutating state.
func (l *Limiter) testSync(ctx context.Context, email string) (bool, error) {
	now := time.Now()
	for _, rule := range l.rules {
		count, err := l.windowCount(ctx, rule, email, now)
		if err != nil {
			return false, err
		}
		if count >= rule.Max {
			return false, nil
		}
	}
	return true, nil
}

// hitSync re-checks every rule and, only if all pass, records one hit
// against each rule's window.
func (l *Limiter) hitSync(ctx context.Context, email string) (bool, error) {
	now := time.Now()
	for _, rule := range l.rules {
		count, err := l.windowCount(ctx, rule, email, now)
		if err != nil {
			return false, err
		}
		if count >= rule.Max {
			return false, nil
		}
	}

	member := fmt.Sprintf("%d:%s", now.UnixNano(), uuid.NewString())
	pipe := l.client.Pipeline()
	for _, rule := range l.rules {
		pipe.ZAdd(ctx, redisKey(rule, email), &redis.Z{Score: float64(now.UnixNano()), Member: member})
		pipe.Expire(ctx, redisKey(rule, email), rule.Window+time.Minute)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// windowCount evicts expired entries and returns the live count for one rule.
func (l *Limiter) windowCount(ctx context.Context, rule Rule, email string, now time.Time) (int64, error) {
	key := redisKey(rule, email)
	cutoff := now.Add(-rule.Window).UnixNano()

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cutoff))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, err
	}
	return card.Val(), nil
}

func redisKey(rule Rule, email string) string {
	return fmt.Sprintf("%s:%s:%s", namespace, rule.Name, email)
}

// Shutdown drains in-flight requests and stops the worker pool.
func (l *Limiter) Shutdown() {
	l.closed.Store(true)
	close(l.shutdown)
	l.pool.Wait()
}

// Metrics exposes queue depth for the /metrics surface.
func (l *Limiter) Metrics() map[string]int64 {
	return map[string]int64{
		"dropped_total": l.dropped.Load(),
		"queue_depth":   int64(len(l.reqChan)),
	}
}
