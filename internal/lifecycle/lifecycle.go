// Package lifecycle runs two cooperating loops that keep the pool
// scheduler's session map stocked with sessions whose tokens won't expire
// mid-flight, without blocking the request path on credential acquisition:
// an hourly health check and a throttled login loop that refreshes at most
// one account per wake.
package lifecycle

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/eternisai/chatgpt-pool-gateway/internal/credential"
	"github.com/eternisai/chatgpt-pool-gateway/internal/logger"
	"github.com/eternisai/chatgpt-pool-gateway/internal/scheduler"
	"github.com/eternisai/chatgpt-pool-gateway/internal/upstream"
)

// defaultLoginWindow is the one-day horizon: only backlog entries within
// this many remaining seconds are eligible for the login loop.
const defaultLoginWindow = 24 * time.Hour

// defaultRefreshThreshold is how close to expiry a token must be before the
// health-check loop evicts its session and queues a login.
const defaultRefreshThreshold = time.Hour

// backlogEntry is one account's outstanding credential need.
type backlogEntry struct {
	email            string
	secondsRemaining int64
}

// Config controls the worker's two loop cadences and expiry windows. Zero
// windows fall back to the defaults (1h refresh threshold, one-day login
// eligibility).
type Config struct {
	HealthCheckInterval  time.Duration
	LoginLoopMinInterval time.Duration
	LoginLoopMaxInterval time.Duration
	RefreshThreshold     time.Duration
	LoginWindow          time.Duration
	BaseURL              string
	CaptchaURL           string
}

// Worker owns the login backlog and drives both loops. Construct with New,
// start with Run, stop with Shutdown.
type Worker struct {
	cfg       Config
	store     *credential.Store
	scheduler *scheduler.Scheduler
	log       *logger.Logger

	backlogMu sync.Mutex
	backlog   []backlogEntry

	healthCheckNow chan struct{}
	shutdown       chan struct{}
	wg             sync.WaitGroup
}

// New constructs a Worker. Call Run to start its two goroutines.
func New(cfg Config, store *credential.Store, sched *scheduler.Scheduler, log *logger.Logger) *Worker {
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = defaultRefreshThreshold
	}
	if cfg.LoginWindow <= 0 {
		cfg.LoginWindow = defaultLoginWindow
	}
	return &Worker{
		cfg:            cfg,
		store:          store,
		scheduler:      sched,
		log:            log.WithComponent("token_lifecycle"),
		healthCheckNow: make(chan struct{}, 1),
		shutdown:       make(chan struct{}),
	}
}

// Run launches the health-check loop and the login loop.
func (w *Worker) Run(ctx context.Context) {
	w.wg.Add(2)
	go w.healthCheckLoop(ctx)
	go w.loginLoop(ctx)
}

// Shutdown stops both loops and waits for them to exit.
func (w *Worker) Shutdown() {
	close(w.shutdown)
	w.wg.Wait()
}

// AddAccount persists the credential and enqueues an immediate health check
// before returning, so a freshly added account does not wait for the next
// hourly tick.
func (w *Worker) AddAccount(ctx context.Context, email, password string) error {
	if _, err := w.store.CreateAccount(ctx, email, password); err != nil {
		return err
	}
	select {
	case w.healthCheckNow <- struct{}{}:
	default:
	}
	return nil
}

func (w *Worker) healthCheckLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.HealthCheckInterval)
	defer ticker.Stop()

	w.runHealthCheck(ctx)

	for {
		select {
		case <-ticker.C:
			w.runHealthCheck(ctx)
		case <-w.healthCheckNow:
			w.runHealthCheck(ctx)
		case <-w.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runHealthCheck decides, for every active account, whether its session
// belongs in the pool or its email in the login backlog.
func (w *Worker) runHealthCheck(ctx context.Context) {
	accounts, err := w.store.ListActiveAccounts(ctx)
	if err != nil {
		w.log.LogError(ctx, err, "failed to list active accounts for health check")
		return
	}

	var fresh []backlogEntry

	for _, account := range accounts {
		if account.AccessToken == "" {
			fresh = append(fresh, backlogEntry{email: account.Email, secondsRemaining: 0})
			w.scheduler.Evict(account.Email)
			continue
		}

		exp, err := upstream.DecodeExpiry(account.AccessToken)
		if err != nil {
			w.log.LogError(ctx, err, "failed to decode access token during health check", slog.String("email", account.Email))
			fresh = append(fresh, backlogEntry{email: account.Email, secondsRemaining: 0})
			w.scheduler.Evict(account.Email)
			continue
		}

		remaining := time.Until(exp)
		if remaining < w.cfg.RefreshThreshold {
			fresh = append(fresh, backlogEntry{email: account.Email, secondsRemaining: int64(remaining.Seconds())})
			w.scheduler.Evict(account.Email)
			continue
		}

		session, err := upstream.NewSession(upstream.Config{
			Email:       account.Email,
			AccessToken: account.AccessToken,
			Puid:        account.Puid,
			BaseURL:     w.cfg.BaseURL,
			CaptchaURL:  w.cfg.CaptchaURL,
		}, w.log)
		if err != nil {
			w.log.LogError(ctx, err, "failed to build session during health check", slog.String("email", account.Email))
			fresh = append(fresh, backlogEntry{email: account.Email, secondsRemaining: 0})
			continue
		}
		w.scheduler.Put(session)
	}

	sort.Slice(fresh, func(i, j int) bool { return fresh[i].secondsRemaining < fresh[j].secondsRemaining })

	w.backlogMu.Lock()
	w.backlog = fresh
	w.backlogMu.Unlock()
}

func (w *Worker) loginLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		wait := jitteredInterval(w.cfg.LoginLoopMinInterval, w.cfg.LoginLoopMaxInterval)
		select {
		case <-time.After(wait):
			w.runLogin(ctx)
		case <-w.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

func jitteredInterval(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// runLogin performs at most one login per iteration, picking the most
// urgent backlog entry within the eligibility window. The one-per-wake
// throttle is the primary defense against upstream anti-abuse.
func (w *Worker) runLogin(ctx context.Context) {
	w.backlogMu.Lock()
	var target string
	for _, entry := range w.backlog {
		if time.Duration(entry.secondsRemaining)*time.Second <= w.cfg.LoginWindow {
			target = entry.email
			break
		}
	}
	w.backlogMu.Unlock()

	if target == "" {
		return
	}

	account, err := w.store.GetAccount(ctx, target)
	if err != nil {
		w.log.LogError(ctx, err, "failed to load account for login", slog.String("email", target))
		return
	}

	result, err := upstream.Login(ctx, w.cfg.BaseURL, w.cfg.CaptchaURL, account.Email, account.Password)
	if err != nil {
		w.log.LogError(ctx, err, "login attempt failed, will retry", slog.String("email", target))
		return
	}

	if err := w.store.UpdateToken(ctx, account.Email, result.AccessToken, result.Puid); err != nil {
		w.log.LogError(ctx, err, "failed to persist refreshed token", slog.String("email", target))
		return
	}

	session, err := upstream.NewSession(upstream.Config{
		Email:       account.Email,
		AccessToken: result.AccessToken,
		Puid:        result.Puid,
		BaseURL:     w.cfg.BaseURL,
		CaptchaURL:  w.cfg.CaptchaURL,
	}, w.log)
	if err != nil {
		w.log.LogError(ctx, err, "failed to build session after login", slog.String("email", target))
		return
	}
	w.scheduler.Put(session)

	// The health-check loop may have rebuilt the backlog during the login
	// round trip, so the entry is removed by email, wherever it now sits.
	w.backlogMu.Lock()
	for i, entry := range w.backlog {
		if entry.email == target {
			w.backlog = append(w.backlog[:i], w.backlog[i+1:]...)
			break
		}
	}
	w.backlogMu.Unlock()

	w.log.Info("refreshed account token", slog.String("email", target))
}
