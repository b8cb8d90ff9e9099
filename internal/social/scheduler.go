package social

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"schooldesk/internal/notifications"
	"schooldesk/internal/observability"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRefreshInProgress is returned when a refresh run is already active.
var ErrRefreshInProgress = errors.New("token refresh already in progress")

const refreshLockKey = "social:refresh:lock"

// releaseLock deletes the lock only while it still holds our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Refresher is the credential maintenance the scheduler drives.
type Refresher interface {
	RefreshLinkedIn(ctx context.Context) (RefreshOutcome, error)
	ValidateFacebook(ctx context.Context) (RefreshOutcome, error)
}

// PlatformResult is one platform's line in a RefreshReport.
type PlatformResult struct {
	Platform string         `json:"platform"`
	Outcome  RefreshOutcome `json:"outcome"`
	Error    string         `json:"error,omitempty"`
}

// RefreshReport summarises one RunAll.
type RefreshReport struct {
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Results    []PlatformResult `json:"results"`
}

// SchedulerConfig configures the daily run.
type SchedulerConfig struct {
	Hour    int
	Minute  int
	LockTTL time.Duration
}

// RefreshScheduler runs credential maintenance once a day and on demand.
type RefreshScheduler struct {
	refresher Refresher
	rdb       *redis.Client
	notifier  *notifications.Notifier
	cfg       SchedulerConfig
	running   atomic.Bool
	now       func() time.Time
}

// NewRefreshScheduler creates a scheduler. rdb and notifier may be nil.
func NewRefreshScheduler(refresher Refresher, rdb *redis.Client, notifier *notifications.Notifier, cfg SchedulerConfig) *RefreshScheduler {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &RefreshScheduler{
		refresher: refresher,
		rdb:       rdb,
		notifier:  notifier,
		cfg:       cfg,
		now:       time.Now,
	}
}

// RunAll refreshes LinkedIn and validates Facebook. A failure on one platform
// is recorded in the report and does not stop the other.
func (s *RefreshScheduler) RunAll(ctx context.Context) (*RefreshReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRefreshInProgress
	}
	defer s.running.Store(false)

	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	report := &RefreshReport{StartedAt: s.now()}
	steps := []struct {
		platform string
		run      func(context.Context) (RefreshOutcome, error)
	}{
		{"linkedin", s.refresher.RefreshLinkedIn},
		{"facebook", s.refresher.ValidateFacebook},
	}
	for _, step := range steps {
		outcome, err := s.runStep(ctx, step.platform, step.run)
		res := PlatformResult{Platform: step.platform, Outcome: outcome}
		if err != nil {
			res.Outcome = OutcomeFailed
			res.Error = err.Error()
			observability.GlobalLogger.ErrorContext(ctx, "token refresh failed",
				slog.String("platform", step.platform),
				slog.String("error", err.Error()),
			)
		}
		observability.TokenRefreshes.WithLabelValues(step.platform, string(res.Outcome)).Inc()
		report.Results = append(report.Results, res)
	}
	report.FinishedAt = s.now()

	_ = s.notifier.PublishStaff(ctx, notifications.Event{
		Type:    notifications.EventTokenRefreshed,
		Message: summarize(report),
	})
	return report, nil
}

func (s *RefreshScheduler) runStep(ctx context.Context, platform string, run func(context.Context) (RefreshOutcome, error)) (outcome RefreshOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s refresh panicked: %v", platform, r)
		}
	}()
	return run(ctx)
}

// lock takes the cross-process lock when Redis is available. An unreachable
// Redis falls back to the in-process guard only.
func (s *RefreshScheduler) lock(ctx context.Context) (func(), error) {
	if s.rdb == nil {
		return func() {}, nil
	}
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, refreshLockKey, token, s.cfg.LockTTL).Result()
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "token refresh lock unavailable, continuing without it",
			slog.String("error", err.Error()),
		)
		return func() {}, nil
	}
	if !ok {
		return nil, ErrRefreshInProgress
	}
	return func() {
		if err := releaseLock.Run(context.WithoutCancel(ctx), s.rdb, []string{refreshLockKey}, token).Err(); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to release token refresh lock",
				slog.String("error", err.Error()),
			)
		}
	}, nil
}

// Start runs RunAll every day at the configured local time until ctx is done.
func (s *RefreshScheduler) Start(ctx context.Context) {
	for {
		now := s.now()
		next := NextRun(now, s.cfg.Hour, s.cfg.Minute)
		observability.GlobalLogger.InfoContext(ctx, "token refresh scheduled", slog.Time("next_run", next))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		report, err := s.RunAll(ctx)
		if err != nil {
			observability.GlobalLogger.WarnContext(ctx, "scheduled token refresh skipped", slog.String("error", err.Error()))
			continue
		}
		observability.GlobalLogger.InfoContext(ctx, "scheduled token refresh finished", slog.String("summary", summarize(report)))
	}
}

// NextRun returns the first hour:minute strictly after now in now's location.
func NextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func summarize(report *RefreshReport) string {
	out := ""
	for i, r := range report.Results {
		if i > 0 {
			out += ", "
		}
		out += r.Platform + "=" + string(r.Outcome)
	}
	return out
}
