// Package scheduler owns the session map, picks a session for each inbound
// request under the rate-limit policy, and retries transient upstream
// failures. Selection is pinned when the caller names an account, otherwise
// approximately round-robin via rotate-to-tail over an insertion-ordered
// map.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	boterrors "github.com/eternisai/chatgpt-pool-gateway/internal/errors"
	"github.com/eternisai/chatgpt-pool-gateway/internal/logger"
	"github.com/eternisai/chatgpt-pool-gateway/internal/upstream"
)

// maxRetries bounds the retry loop on transient (non-OpenAI) failures.
const maxRetries = 3

// pollInterval is how often Work re-polls for an available session while
// waiting out its outer timeout.
const pollInterval = time.Second

// sessionHandle is the narrow slice of *upstream.Session the scheduler
// depends on, kept as an interface so tests can drive the retry kernel
// against a fake session instead of a live upstream client.
type sessionHandle interface {
	Email() string
	Ask(ctx context.Context, op upstream.AskOp) (upstream.Event, error)
	PostMessages(ctx context.Context, op upstream.PostMessagesOp) (upstream.Event, error)
	ContinueWrite(ctx context.Context, op upstream.ContinueWriteOp) (upstream.Event, error)
}

// rateLimiter is the narrow slice of *ratelimit.Limiter the scheduler depends
// on, kept as an interface for the same reason as sessionHandle.
type rateLimiter interface {
	Hit(ctx context.Context, key string) (bool, error)
}

// Scheduler owns the insertion-ordered session map. Entries are kept in a
// slice of emails (the insertion order) plus a map for O(1) lookup;
// rotating a consumed entry to the tail is a slice append-after-remove.
type Scheduler struct {
	mu       sync.Mutex
	order    []string
	sessions map[string]sessionHandle

	limiter rateLimiter
	log     *logger.Logger
}

// New constructs an empty scheduler.
func New(limiter rateLimiter, log *logger.Logger) *Scheduler {
	return &Scheduler{
		sessions: make(map[string]sessionHandle),
		limiter:  limiter,
		log:      log.WithComponent("scheduler"),
	}
}

// Put installs or replaces a session in the pool, appending new entries to
// the tail of the insertion order. Called by the Token Lifecycle Worker.
func (s *Scheduler) Put(session sessionHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := session.Email()
	if _, exists := s.sessions[email]; !exists {
		s.order = append(s.order, email)
	}
	s.sessions[email] = session
}

// Evict removes a session from the pool (e.g. near-expiry, or deactivation).
func (s *Scheduler) Evict(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[email]; !exists {
		return
	}
	delete(s.sessions, email)
	for i, e := range s.order {
		if e == email {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Has reports whether an email currently has a live session.
func (s *Scheduler) Has(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[email]
	return ok
}

// PoolSize reports how many accounts currently have a live session, for the
// /metrics pool-size gauge.
func (s *Scheduler) PoolSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// getAvailable selects a session. A pinned email never falls back to
// another account: no session at all is bot_offline and fails immediately,
// while a rate-limit denial just yields no session, leaving Work to poll.
func (s *Scheduler) getAvailable(ctx context.Context, email string) (sessionHandle, error) {
	if email != "" {
		s.mu.Lock()
		session, ok := s.sessions[email]
		s.mu.Unlock()
		if !ok {
			return nil, boterrors.NewBotError(boterrors.KindBotOffline, email)
		}
		allowed, err := s.limiter.Hit(ctx, email)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, nil
		}
		return session, nil
	}

	s.mu.Lock()
	candidates := make([]string, len(s.order))
	copy(candidates, s.order)
	s.mu.Unlock()

	for _, candidate := range candidates {
		allowed, err := s.limiter.Hit(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if !allowed {
			continue
		}

		s.mu.Lock()
		session, ok := s.sessions[candidate]
		if ok {
			s.rotateToTailLocked(candidate)
		}
		s.mu.Unlock()

		if ok {
			return session, nil
		}
	}
	return nil, nil
}

// rotateToTailLocked moves email to the tail of the insertion order. Caller
// holds s.mu.
func (s *Scheduler) rotateToTailLocked(email string) {
	for i, e := range s.order {
		if e == email {
			s.order = append(s.order[:i], s.order[i+1:]...)
			s.order = append(s.order, email)
			return
		}
	}
}

// Work is the scheduler's retry kernel. email, when non-empty, pins
// selection to that account; an empty email multiplexes across the pool.
// timeout bounds only the wait for an available session — the upstream call
// itself carries its own timeout via op's Timeout field.
func (s *Scheduler) Work(ctx context.Context, op upstream.Operation, email string, timeout time.Duration) (upstream.Event, error) {
	deadline := time.Now().Add(timeout)
	retries := 0

	for {
		session, err := s.getAvailable(ctx, email)
		if err != nil {
			return upstream.Event{}, err
		}

		if session == nil {
			if time.Now().After(deadline) {
				return upstream.Event{}, boterrors.NewBotError(boterrors.KindTimeout, "timeout waiting for an available session")
			}
			select {
			case <-ctx.Done():
				return upstream.Event{}, ctx.Err()
			case <-time.After(pollInterval):
			}
			continue
		}

		event, err := invoke(ctx, session, op)
		if err == nil {
			event.Email = session.Email()
			return event, nil
		}

		if be, ok := boterrors.AsBotError(err); ok && be.Kind == boterrors.KindOpenAIError {
			switch be.Code {
			case 404:
				return upstream.Event{}, boterrors.NewBotError(boterrors.KindConversationNotFound, be.Message)
			case 429:
				return upstream.Event{}, boterrors.NewBotError(boterrors.KindTooManyRequests, be.Message)
			default:
				return upstream.Event{}, boterrors.NewBotError(boterrors.KindServerError, be.Message)
			}
		}

		retries++
		if retries > maxRetries {
			return upstream.Event{}, boterrors.NewBotError(boterrors.KindMaxRetry, err.Error())
		}
		s.log.Warn(fmt.Sprintf("upstream call failed, retrying (%d/%d): %s", retries, maxRetries, err.Error()))
	}
}

// invoke pattern-matches the closed Operation variant onto the matching
// Session method.
func invoke(ctx context.Context, session sessionHandle, op upstream.Operation) (upstream.Event, error) {
	switch o := op.(type) {
	case upstream.AskOp:
		return session.Ask(ctx, o)
	case upstream.PostMessagesOp:
		return session.PostMessages(ctx, o)
	case upstream.ContinueWriteOp:
		return session.ContinueWrite(ctx, o)
	default:
		return upstream.Event{}, fmt.Errorf("unknown operation type %T", op)
	}
}
