// Package scheduler drives periodic, bounded-concurrency processing of every
// active Account and periodic retention compaction. It owns no business
// logic of its own beyond eligibility and backoff bookkeeping; the actual
// IMAP work is delegated to a Processor.
package scheduler

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fenilsonani/feedmailer/internal/apperr"
	"github.com/fenilsonani/feedmailer/internal/config"
	"github.com/fenilsonani/feedmailer/internal/logging"
	"github.com/fenilsonani/feedmailer/internal/metrics"
	"github.com/fenilsonani/feedmailer/internal/model"
	"github.com/fenilsonani/feedmailer/internal/processor"
	"github.com/fenilsonani/feedmailer/internal/resilience"
	"github.com/fenilsonani/feedmailer/internal/store"
)

// drainTimeout bounds how long Stop waits for in-flight workers before
// returning anyway; it does not cancel them.
const drainTimeout = 2 * time.Second

// accountProcessor is the subset of *processor.Processor the Scheduler
// depends on, narrowed to an interface so tests can substitute a fake run.
type accountProcessor interface {
	ProcessAccount(ctx context.Context, acct *model.Account, maxEmails int) (*processor.ProcessingResult, error)
}

// RetentionFunc performs one retention compaction pass. It is invoked on the
// retention ticker; a nil RetentionFunc disables retention entirely.
type RetentionFunc func(ctx context.Context) error

// accountState is the per-Account bookkeeping described in the scheduling
// algorithm: whether a run is in flight, when the next one is allowed, and
// the retry count backing the exponential backoff.
type accountState struct {
	lastRun             time.Time
	lastSuccess         time.Time
	lastError           time.Time
	lastErr             error
	consecutiveFailures int
	retryCount          int
	isProcessing        bool
	nextAllowedRun      time.Time
}

// Status is a point-in-time snapshot of the scheduler's run state, intended
// for the control plane's GetStatus reply.
type Status struct {
	IsRunning          bool    `json:"isRunning"`
	IsPaused           bool    `json:"isPaused"`
	AccountsProcessing int     `json:"accountsProcessing"`
	TotalProcessed     int64   `json:"totalProcessed"`
	UptimeSeconds      float64 `json:"uptimeSeconds"`
}

// Scheduler periodically processes every active Account with bounded
// concurrency and per-Account exponential backoff on failure.
type Scheduler struct {
	store     store.Store
	proc      accountProcessor
	retention RetentionFunc
	cfg       *config.Config
	logger    *logging.Logger
	breakers  *resilience.BreakerRegistry

	mu     sync.RWMutex
	states map[string]*accountState

	permits chan struct{}

	paused     int32
	running    int32
	processing int32
	totalRuns  int64
	startedAt  time.Time

	kick   chan struct{}
	stopCh chan struct{}
	done   chan struct{}
}

// New builds a Scheduler. retention may be nil to disable the retention
// tick entirely (e.g. for tests driving the processing tick only).
func New(s store.Store, proc accountProcessor, retention RetentionFunc, cfg *config.Config, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		store:     s,
		proc:      proc,
		retention: retention,
		cfg:       cfg,
		logger:    logger,
		breakers: resilience.NewBreakerRegistry(func(key string) resilience.Config {
			c := resilience.DefaultConfig("imap-connect:" + key)
			c.IsFailure = func(err error) bool { return apperr.KindOf(err) == apperr.KindTransient }
			c.OnStateChange = func(name string, from, to resilience.State) {
				logger.Warn("scheduler: account breaker state change", "breaker", name, "from", from, "to", to)
			}
			return c
		}),
		states:  map[string]*accountState{},
		permits: make(chan struct{}, cfg.Background.MaxConcurrentAccounts),
		kick:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the processing and retention tickers. It returns
// immediately; the tickers run in a background goroutine until Stop is
// called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return
	}
	s.startedAt = time.Now()
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	procTicker := time.NewTicker(s.cfg.GlobalInterval())
	defer procTicker.Stop()
	retTicker := time.NewTicker(s.cfg.RetentionInterval())
	defer retTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-procTicker.C:
			s.processingTick(ctx)
		case <-s.kick:
			s.processingTick(ctx)
		case <-retTicker.C:
			s.retentionTick(ctx)
		}
	}
}

// Stop signals the tick loop to exit and waits up to drainTimeout for it,
// and any already-dispatched worker, to settle. It does not cancel workers
// still inside the Processor's own timeout.
func (s *Scheduler) Stop() {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return
	}
	close(s.stopCh)
	deadline := time.After(drainTimeout)
	select {
	case <-s.done:
	case <-deadline:
		return
	}
	for atomic.LoadInt32(&s.processing) > 0 {
		select {
		case <-deadline:
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (s *Scheduler) processingTick(ctx context.Context) {
	if atomic.LoadInt32(&s.paused) == 1 {
		return
	}

	accounts, err := s.store.ListActiveAccounts(ctx)
	if err != nil {
		s.logger.Warn("scheduler: list active accounts failed", "error", err)
		metrics.RecordError("scheduler", "list_accounts")
		return
	}

	now := time.Now()
	for _, acct := range accounts {
		if !s.eligible(acct.ID, now) {
			continue
		}
		breaker := s.breakers.Get(acct.ID)
		select {
		case s.permits <- struct{}{}:
		default:
			continue
		}
		s.markProcessing(acct.ID, true)
		go s.runWorker(ctx, acct, breaker)
	}
}

func (s *Scheduler) eligible(accountID string, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[accountID]
	if !ok {
		return true
	}
	return !st.isProcessing && !now.Before(st.nextAllowedRun)
}

func (s *Scheduler) markProcessing(accountID string, processing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateFor(accountID)
	st.isProcessing = processing
	if processing {
		atomic.AddInt32(&s.processing, 1)
	} else {
		atomic.AddInt32(&s.processing, -1)
	}
}

// stateFor returns the account's state entry, creating it with the initial
// "eligible immediately" zero value if absent. Callers must hold s.mu.
func (s *Scheduler) stateFor(accountID string) *accountState {
	st, ok := s.states[accountID]
	if !ok {
		st = &accountState{}
		s.states[accountID] = st
	}
	return st
}

func (s *Scheduler) runWorker(ctx context.Context, acct *model.Account, breaker *resilience.CircuitBreaker) {
	defer func() { <-s.permits }()
	defer s.markProcessing(acct.ID, false)

	workCtx, cancel := context.WithTimeout(ctx, s.cfg.MaxProcessingTime())
	defer cancel()

	var result *processor.ProcessingResult
	runErr := breaker.Execute(workCtx, func(c context.Context) error {
		var err error
		result, err = s.proc.ProcessAccount(c, acct, s.cfg.Background.MaxEmailsPerRun)
		return err
	})

	atomic.AddInt64(&s.totalRuns, 1)
	s.recordOutcome(acct.ID, runErr)

	outcome := "success"
	if runErr != nil {
		outcome = "failure"
		s.logger.Warn("scheduler: account processing failed", "account_id", acct.ID, "error", runErr)
	} else if result != nil && len(result.Errors) > 0 {
		s.logger.Warn("scheduler: account processing completed with partial errors",
			"account_id", acct.ID, "error_count", len(result.Errors))
	}
	metrics.SchedulerRuns.WithLabelValues(acct.ID, outcome).Inc()
}

func (s *Scheduler) recordOutcome(accountID string, runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateFor(accountID)
	now := time.Now()
	st.lastRun = now

	if runErr == nil {
		st.lastSuccess = now
		st.consecutiveFailures = 0
		st.retryCount = 0
		st.nextAllowedRun = now.Add(s.cfg.PerAccountInterval())
		metrics.SchedulerBackoffSeconds.WithLabelValues(accountID).Set(0)
		return
	}

	st.lastError = now
	st.lastErr = runErr
	st.consecutiveFailures++
	st.retryCount++

	if st.retryCount <= s.cfg.Background.RetryMaxAttempts {
		delay := backoffDelay(st.retryCount-1, s.cfg.InitialBackoff(), s.cfg.MaxBackoff(), s.cfg.Background.BackoffMultiplier)
		st.nextAllowedRun = now.Add(delay)
		metrics.SchedulerBackoffSeconds.WithLabelValues(accountID).Set(delay.Seconds())
		return
	}

	st.retryCount = 0
	st.nextAllowedRun = now.Add(s.cfg.PerAccountInterval())
	metrics.SchedulerBackoffSeconds.WithLabelValues(accountID).Set(0)
}

// backoffDelay computes min(initial * multiplier^attempt, maxDelay).
func backoffDelay(attempt int, initial, maxDelay time.Duration, multiplier float64) time.Duration {
	delay := float64(initial) * math.Pow(multiplier, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	return time.Duration(delay)
}

func (s *Scheduler) retentionTick(ctx context.Context) {
	if s.retention == nil {
		return
	}
	if err := s.retention(ctx); err != nil {
		s.logger.Warn("scheduler: retention pass failed", "error", err)
		metrics.RecordError("scheduler", "retention")
	}
}

// ProcessAllNow requests an immediate processing tick on the next loop
// iteration, without waiting for the processing ticker. It is a no-op if a
// kick is already pending.
func (s *Scheduler) ProcessAllNow() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// ProcessAccountNow runs acct through the Processor synchronously,
// acquiring a permit and updating the account's scheduling state exactly
// as a normal tick would.
func (s *Scheduler) ProcessAccountNow(ctx context.Context, accountID string) (*processor.ProcessingResult, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	select {
	case s.permits <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.permits }()

	s.markProcessing(acct.ID, true)
	defer s.markProcessing(acct.ID, false)

	breaker := s.breakers.Get(acct.ID)
	workCtx, cancel := context.WithTimeout(ctx, s.cfg.MaxProcessingTime())
	defer cancel()

	var result *processor.ProcessingResult
	runErr := breaker.Execute(workCtx, func(c context.Context) error {
		var err error
		result, err = s.proc.ProcessAccount(c, acct, s.cfg.Background.MaxEmailsPerRun)
		return err
	})

	atomic.AddInt64(&s.totalRuns, 1)
	s.recordOutcome(acct.ID, runErr)

	return result, runErr
}

// Pause stops future processing ticks from dispatching work. Retention
// continues to run. Already-running workers finish normally.
func (s *Scheduler) Pause() {
	atomic.StoreInt32(&s.paused, 1)
}

// Resume re-enables processing ticks.
func (s *Scheduler) Resume() {
	atomic.StoreInt32(&s.paused, 0)
}

// Status returns a snapshot of the scheduler's run state.
func (s *Scheduler) Status() Status {
	uptime := time.Duration(0)
	if !s.startedAt.IsZero() {
		uptime = time.Since(s.startedAt)
	}
	return Status{
		IsRunning:          atomic.LoadInt32(&s.running) == 1,
		IsPaused:           atomic.LoadInt32(&s.paused) == 1,
		AccountsProcessing: int(atomic.LoadInt32(&s.processing)),
		TotalProcessed:     atomic.LoadInt64(&s.totalRuns),
		UptimeSeconds:      uptime.Seconds(),
	}
}
