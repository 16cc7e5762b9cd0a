// Package ratelimit 实现按用户的固定窗口限流。
//
// 窗口为 60 秒固定窗口，起点锚定在用户的首个请求：窗口内的请求
// 计数单调递增，窗口结束后（now >= windowEnd）下一个请求开启新
// 窗口。计数存储通过 Store 接口抽象，内存实现适合单实例部署，
// Redis 实现适合多副本。
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Window is the fixed window size. A user's window opens at their
// first request and rolls over once it has fully elapsed.
const Window = 60 * time.Second

// Config controls the limits applied to a single check. Limits are
// per-project settings, so the caller passes them on every call instead
// of binding them to the Limiter.
type Config struct {
	Enabled      bool `json:"enabled" yaml:"enabled"`
	MaxPerMinute int  `json:"max_per_minute" yaml:"max_per_minute"`
	Burst        int  `json:"burst" yaml:"burst"`
}

// DefaultConfig returns the limits used when a project has no settings.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxPerMinute: 10,
		Burst:        2,
	}
}

// State describes a user's counter for their current window.
type State struct {
	UserID       string    `json:"user_id"`
	RequestCount int64     `json:"request_count"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	State      State         `json:"state"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Limiter enforces the per-user fixed window limit on top of a Store.
type Limiter struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewLimiter creates a limiter backed by the given store.
func NewLimiter(store Store, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		store:  store,
		logger: logger.With(zap.String("component", "rate_limiter")),
		now:    time.Now,
	}
}

// WithClock overrides the limiter's clock. Test use only.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Check records one request for the user and decides whether it is
// allowed. The request is counted even when it ends up rejected, so a
// client hammering the endpoint keeps its counter growing until the
// window rolls over.
//
// Disabled config short-circuits: the request is allowed, nothing is
// counted and the returned state is zero.
func (l *Limiter) Check(ctx context.Context, userID string, cfg Config) (Decision, error) {
	if !cfg.Enabled {
		return Decision{Allowed: true}, nil
	}

	now := l.now()
	count, windowStart, err := l.store.Incr(ctx, userID, now)
	if err != nil {
		return Decision{}, err
	}
	windowEnd := windowStart.Add(Window)

	state := State{
		UserID:       userID,
		RequestCount: count,
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
	}

	// 突发额度叠加在每分钟上限之上
	limit := int64(cfg.MaxPerMinute + cfg.Burst)
	if count > limit {
		l.logger.Warn("rate limit exceeded",
			zap.String("user_id", userID),
			zap.Int64("count", count),
			zap.Int64("limit", limit),
		)
		return Decision{
			Allowed:    false,
			State:      state,
			RetryAfter: windowEnd.Sub(now),
		}, nil
	}

	return Decision{Allowed: true, State: state}, nil
}

// Peek returns the user's state for their current window without
// counting a request. A user with no live window reads as zero.
func (l *Limiter) Peek(ctx context.Context, userID string) (State, error) {
	count, windowStart, err := l.store.Peek(ctx, userID, l.now())
	if err != nil {
		return State{}, err
	}
	st := State{UserID: userID, RequestCount: count}
	if !windowStart.IsZero() {
		st.WindowStart = windowStart
		st.WindowEnd = windowStart.Add(Window)
	}
	return st, nil
}

// Sweep drops buckets whose window has ended. Redis-backed stores
// expire keys on their own and report zero here.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	removed, err := l.store.Sweep(ctx, l.now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		l.logger.Debug("swept expired rate limit buckets", zap.Int("removed", removed))
	}
	return removed, nil
}

// Entries reports how many counter buckets the store currently holds.
func (l *Limiter) Entries(ctx context.Context) (int, error) {
	return l.store.Entries(ctx)
}

// ActiveUsers reports how many distinct users have a live window.
func (l *Limiter) ActiveUsers(ctx context.Context) (int, error) {
	return l.store.ActiveUsers(ctx, l.now())
}
