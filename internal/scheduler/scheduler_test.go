package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	boterrors "github.com/eternisai/chatgpt-pool-gateway/internal/errors"
	"github.com/eternisai/chatgpt-pool-gateway/internal/logger"
	"github.com/eternisai/chatgpt-pool-gateway/internal/upstream"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError, Format: "text"})
}

// fakeLimiter lets each test dictate, per email, whether a Hit is accepted.
type fakeLimiter struct {
	mu      sync.Mutex
	allowed map[string]bool
	hits    []string
}

func newFakeLimiter(allowed map[string]bool) *fakeLimiter {
	return &fakeLimiter{allowed: allowed}
}

func (f *fakeLimiter) Hit(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits = append(f.hits, key)
	return f.allowed[key], nil
}

// fakeSession is a sessionHandle whose Ask/PostMessages/ContinueWrite
// responses are scripted per test.
type fakeSession struct {
	email string
	event upstream.Event
	err   error
	calls int
}

func (f *fakeSession) Email() string { return f.email }
func (f *fakeSession) Ask(ctx context.Context, op upstream.AskOp) (upstream.Event, error) {
	f.calls++
	return f.event, f.err
}
func (f *fakeSession) PostMessages(ctx context.Context, op upstream.PostMessagesOp) (upstream.Event, error) {
	f.calls++
	return f.event, f.err
}
func (f *fakeSession) ContinueWrite(ctx context.Context, op upstream.ContinueWriteOp) (upstream.Event, error) {
	f.calls++
	return f.event, f.err
}

func TestGetAvailablePinnedMissIsBotOffline(t *testing.T) {
	s := New(newFakeLimiter(map[string]bool{"a@x": true}), testLogger())
	s.Put(&fakeSession{email: "b@x"})

	session, err := s.getAvailable(context.Background(), "a@x")
	be, ok := boterrors.AsBotError(err)
	if !ok || be.Kind != boterrors.KindBotOffline {
		t.Fatalf("pinned email absent from pool must fail bot_offline, got session=%v err=%v", session, err)
	}
}

func TestGetAvailablePinnedRateLimited(t *testing.T) {
	s := New(newFakeLimiter(map[string]bool{"a@x": false}), testLogger())
	s.Put(&fakeSession{email: "a@x"})

	session, err := s.getAvailable(context.Background(), "a@x")
	if err != nil {
		t.Fatalf("getAvailable: %v", err)
	}
	if session != nil {
		t.Error("rate-limited pinned account must return no session, not another one")
	}
}

func TestGetAvailableUnpinnedRotatesToTail(t *testing.T) {
	limiter := newFakeLimiter(map[string]bool{"a@x": true, "b@x": true})
	s := New(limiter, testLogger())
	s.Put(&fakeSession{email: "a@x"})
	s.Put(&fakeSession{email: "b@x"})

	first, err := s.getAvailable(context.Background(), "")
	if err != nil {
		t.Fatalf("getAvailable: %v", err)
	}
	if first == nil || first.Email() != "a@x" {
		t.Fatalf("expected first call to serve insertion-order head a@x, got %+v", first)
	}

	s.mu.Lock()
	order := append([]string(nil), s.order...)
	s.mu.Unlock()
	if len(order) != 2 || order[0] != "b@x" || order[1] != "a@x" {
		t.Fatalf("expected a@x rotated to tail, order = %v", order)
	}

	second, err := s.getAvailable(context.Background(), "")
	if err != nil {
		t.Fatalf("getAvailable: %v", err)
	}
	if second == nil || second.Email() != "b@x" {
		t.Fatalf("expected second call to serve b@x, got %+v", second)
	}
}

func TestGetAvailableUnpinnedSkipsRateLimitedAccounts(t *testing.T) {
	limiter := newFakeLimiter(map[string]bool{"a@x": false, "b@x": true})
	s := New(limiter, testLogger())
	s.Put(&fakeSession{email: "a@x"})
	s.Put(&fakeSession{email: "b@x"})

	session, err := s.getAvailable(context.Background(), "")
	if err != nil {
		t.Fatalf("getAvailable: %v", err)
	}
	if session == nil || session.Email() != "b@x" {
		t.Fatalf("expected rate-limited a@x to be skipped in favor of b@x, got %+v", session)
	}
}

func TestWorkMapsNotFoundAndTooManyRequests(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		wantKind boterrors.Kind
	}{
		{"404 conversation missing", 404, boterrors.KindConversationNotFound},
		{"429 rate limited upstream", 429, boterrors.KindTooManyRequests},
		{"500 generic upstream failure", 500, boterrors.KindServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(newFakeLimiter(map[string]bool{"a@x": true}), testLogger())
			s.Put(&fakeSession{email: "a@x", err: boterrors.NewOpenAIError(tt.code, "boom")})

			_, err := s.Work(context.Background(), upstream.AskOp{Prompt: "hi"}, "a@x", time.Second)
			be, ok := boterrors.AsBotError(err)
			if !ok {
				t.Fatalf("expected a BotError, got %v", err)
			}
			if be.Kind != tt.wantKind {
				t.Errorf("Work kind = %s, want %s", be.Kind, tt.wantKind)
			}
		})
	}
}

func TestWorkRetriesTransientErrorsThenGivesUp(t *testing.T) {
	session := &fakeSession{email: "a@x", err: errors.New("transport reset")}
	s := New(newFakeLimiter(map[string]bool{"a@x": true}), testLogger())
	s.Put(session)

	_, err := s.Work(context.Background(), upstream.AskOp{Prompt: "hi"}, "a@x", 10*time.Second)
	be, ok := boterrors.AsBotError(err)
	if !ok || be.Kind != boterrors.KindMaxRetry {
		t.Fatalf("expected max_retry after exhausting retries, got %v", err)
	}
	if session.calls != maxRetries+1 {
		t.Errorf("expected %d attempts (1 + %d retries), got %d", maxRetries+1, maxRetries, session.calls)
	}
}

func TestWorkSucceedsAndAttachesEmail(t *testing.T) {
	s := New(newFakeLimiter(map[string]bool{"a@x": true}), testLogger())
	s.Put(&fakeSession{email: "a@x", event: upstream.Event{Message: "hello", ConversationID: "c1", ParentID: "p1"}})

	event, err := s.Work(context.Background(), upstream.AskOp{Prompt: "hi"}, "a@x", time.Second)
	if err != nil {
		t.Fatalf("Work: %v", err)
	}
	if event.Email != "a@x" {
		t.Errorf("Work did not attach serving session's email, got %q", event.Email)
	}
	if event.Message != "hello" {
		t.Errorf("Work.Message = %q, want %q", event.Message, "hello")
	}
}

func TestWorkPinnedMissingSessionIsBotOffline(t *testing.T) {
	s := New(newFakeLimiter(nil), testLogger())

	start := time.Now()
	_, err := s.Work(context.Background(), upstream.AskOp{Prompt: "hi"}, "missing@x", 10*time.Second)
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Work took %v to report bot_offline; it must not poll for a session that cannot appear", elapsed)
	}
	be, ok := boterrors.AsBotError(err)
	if !ok || be.Kind != boterrors.KindBotOffline {
		t.Fatalf("expected bot_offline BotError for a pinned email with no session, got %v", err)
	}
}

func TestWorkTimesOutWhenPoolStaysBusy(t *testing.T) {
	// timeout is intentionally smaller than one pollInterval tick: Work must
	// notice the deadline has already passed on its very first poll rather
	// than blocking out a full pollInterval first.
	s := New(newFakeLimiter(map[string]bool{"a@x": false}), testLogger())
	s.Put(&fakeSession{email: "a@x"})

	start := time.Now()
	_, err := s.Work(context.Background(), upstream.AskOp{Prompt: "hi"}, "", -1*time.Millisecond)
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Work took %v to report timeout on an already-elapsed deadline", elapsed)
	}
	be, ok := boterrors.AsBotError(err)
	if !ok || be.Kind != boterrors.KindTimeout {
		t.Fatalf("expected timeout BotError when every account stays rate limited, got %v", err)
	}
}

func TestEvictRemovesFromOrderAndMap(t *testing.T) {
	s := New(newFakeLimiter(map[string]bool{"a@x": true}), testLogger())
	s.Put(&fakeSession{email: "a@x"})
	if !s.Has("a@x") {
		t.Fatal("expected a@x to be present after Put")
	}

	s.Evict("a@x")
	if s.Has("a@x") {
		t.Error("expected a@x to be gone after Evict")
	}

	_, err := s.getAvailable(context.Background(), "a@x")
	be, ok := boterrors.AsBotError(err)
	if !ok || be.Kind != boterrors.KindBotOffline {
		t.Errorf("evicted account must behave as bot_offline, got %v", err)
	}
}
