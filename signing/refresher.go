package signing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultRefreshInterval  = 5 * time.Minute
	defaultFetchTimeout     = 5 * time.Second
	defaultRetryAttempts    = 3
	defaultRetryBase        = 200 * time.Millisecond
	defaultRetryMax         = 2 * time.Second
	defaultAlertAfter       = 3
	defaultMinNudgeInterval = 30 * time.Second
)

// Alerter is told when refreshes keep failing. Request callers never see
// refresh errors; operators do.
type Alerter interface {
	RefreshFailing(ctx context.Context, consecutiveFailures int, err error)
}

// MetricsRecorder observes refresh outcomes.
type MetricsRecorder interface {
	RecordKeyRefresh(success bool, keys int)
}

// RefresherConfig tunes the refresh loop. Zero values take defaults.
type RefresherConfig struct {
	Interval         time.Duration
	FetchTimeout     time.Duration
	RetryAttempts    int
	RetryBase        time.Duration
	RetryMax         time.Duration
	AlertAfter       int
	MinNudgeInterval time.Duration
}

func (c RefresherConfig) withDefaults() RefresherConfig {
	if c.Interval <= 0 {
		c.Interval = defaultRefreshInterval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = defaultRetryAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	if c.RetryMax <= 0 {
		c.RetryMax = defaultRetryMax
	}
	if c.AlertAfter <= 0 {
		c.AlertAfter = defaultAlertAfter
	}
	if c.MinNudgeInterval <= 0 {
		c.MinNudgeInterval = defaultMinNudgeInterval
	}
	return c
}

// Refresher keeps a Store up to date from a Fetcher.
type Refresher struct {
	store   *Store
	fetcher Fetcher
	cfg     RefresherConfig
	alerter Alerter
	metrics MetricsRecorder
	logger  *zap.Logger
	now     func() time.Time

	// serializes Refresh and guards failures
	mu       sync.Mutex
	failures int

	nudgeMu   sync.Mutex
	lastNudge time.Time
	nudgeCh   chan struct{}
}

// NewRefresher creates a refresher. alerter and metrics may be nil.
func NewRefresher(store *Store, fetcher Fetcher, cfg RefresherConfig, alerter Alerter, metrics MetricsRecorder, logger *zap.Logger) *Refresher {
	if alerter == nil {
		alerter = NewLogAlerter(logger)
	}
	return &Refresher{
		store:   store,
		fetcher: fetcher,
		cfg:     cfg.withDefaults(),
		alerter: alerter,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		nudgeCh: make(chan struct{}, 1),
	}
}

// Refresh fetches a new key set, retrying with capped exponential backoff.
// On success the set is swapped in; on failure the previous set stays.
func (r *Refresher) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, err := r.fetchWithRetry(ctx)
	if err != nil && ctx.Err() != nil {
		r.logger.Info("signing key refresh cancelled, keeping previous key set", zap.Error(err))
		return err
	}
	if err != nil {
		r.failures++
		r.recordMetrics(false, r.store.Current().Len())
		r.logger.Warn("signing key refresh failed, keeping previous key set",
			zap.Int("consecutive_failures", r.failures),
			zap.Int("keys", r.store.Current().Len()),
			zap.Error(err))
		if r.failures >= r.cfg.AlertAfter {
			r.alerter.RefreshFailing(ctx, r.failures, err)
		}
		return err
	}

	if shadowed := set.Shadowed(); len(shadowed) > 0 {
		r.logger.Warn("duplicate signing keys skipped",
			zap.Strings("kids", shadowed))
	}

	previous := r.store.Swap(set)
	r.failures = 0
	r.recordMetrics(true, set.Len())
	r.logger.Info("signing keys refreshed",
		zap.Int("keys", set.Len()),
		zap.Int("previous_keys", previous.Len()),
		zap.Strings("kids", set.IDs()))
	return nil
}

// ConsecutiveFailures returns the number of failed refreshes since the last success.
func (r *Refresher) ConsecutiveFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// Run refreshes on every interval tick and on Nudge until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("signing key refresher started", zap.Duration("interval", r.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("signing key refresher stopped")
			return nil
		case <-ticker.C:
		case <-r.nudgeCh:
		}
		_ = r.Refresh(ctx)
	}
}

// Nudge asks Run for an early refresh, e.g. after a token named an unknown
// kid. It never blocks and is rate limited so unknown kids cannot drive the
// refresh rate.
func (r *Refresher) Nudge() bool {
	r.nudgeMu.Lock()
	now := r.now()
	if !r.lastNudge.IsZero() && now.Sub(r.lastNudge) < r.cfg.MinNudgeInterval {
		r.nudgeMu.Unlock()
		return false
	}
	r.lastNudge = now
	r.nudgeMu.Unlock()

	select {
	case r.nudgeCh <- struct{}{}:
		return true
	default:
		return false
	}
}

func (r *Refresher) fetchWithRetry(ctx context.Context) (*KeySet, error) {
	delay := r.cfg.RetryBase
	var lastErr error
	for attempt := 0; attempt < r.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepWithContext(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
			if delay > r.cfg.RetryMax {
				delay = r.cfg.RetryMax
			}
		}

		set, err := r.fetchOnce(ctx)
		if err == nil {
			return set, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (r *Refresher) fetchOnce(ctx context.Context) (*KeySet, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	set, err := r.fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if set.Len() == 0 {
		return nil, ErrNoUsableKeys
	}
	return set, nil
}

func (r *Refresher) recordMetrics(success bool, keys int) {
	if r.metrics != nil {
		r.metrics.RecordKeyRefresh(success, keys)
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// LogAlerter reports failing refreshes as error logs.
type LogAlerter struct {
	logger *zap.Logger
}

// NewLogAlerter creates an alerter that logs at error level.
func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

// RefreshFailing logs the alert.
func (a *LogAlerter) RefreshFailing(_ context.Context, consecutiveFailures int, err error) {
	a.logger.Error("signing key refresh is failing repeatedly",
		zap.Int("consecutive_failures", consecutiveFailures),
		zap.Error(err))
}
