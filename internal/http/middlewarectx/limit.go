package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/render"
	"github.com/magabrotheeeer/session-gate/internal/http/response"
	"github.com/magabrotheeeer/session-gate/internal/lib/metrics"
	"github.com/magabrotheeeer/session-gate/internal/lib/sl"
	"golang.org/x/time/rate"
)

const (
	// LimiterIdleTTL время простоя, после которого bucket пользователя удаляется.
	LimiterIdleTTL = 30 * time.Minute
	// LimiterCleanupEvery период фоновой очистки.
	LimiterCleanupEvery = 5 * time.Minute
)

type limiterEntry struct {
	limiter *rate.Limiter
	lastUse time.Time
}

// UserLimiter хранит отдельный token bucket на каждого пользователя.
// Записи, не использовавшиеся дольше idleTTL, удаляются Evict.
type UserLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

// LimiterOption настраивает UserLimiter.
type LimiterOption func(*UserLimiter)

// WithIdleTTL задаёт время простоя до удаления записи.
func WithIdleTTL(ttl time.Duration) LimiterOption {
	return func(l *UserLimiter) { l.idleTTL = ttl }
}

// WithLimiterClock подменяет источник времени.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *UserLimiter) { l.now = now }
}

// NewUserLimiter создаёт ограничитель на perMinute запросов в минуту.
// perMinute <= 0 отключает ограничение.
func NewUserLimiter(perMinute int, opts ...LimiterOption) *UserLimiter {
	l := &UserLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Inf,
		idleTTL:  LimiterIdleTTL,
		now:      time.Now,
	}
	if perMinute > 0 {
		l.limit = rate.Every(time.Minute / time.Duration(perMinute))
		l.burst = perMinute
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow сообщает, можно ли пропустить запрос пользователя.
func (l *UserLimiter) Allow(userUID string) bool {
	l.mu.Lock()
	e, ok := l.limiters[userUID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userUID] = e
	}
	e.lastUse = l.now()
	l.mu.Unlock()
	return e.limiter.Allow()
}

// Evict удаляет записи, простаивающие дольше idleTTL, и возвращает их число.
func (l *UserLimiter) Evict() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	evicted := 0
	for uid, e := range l.limiters {
		if now.Sub(e.lastUse) > l.idleTTL {
			delete(l.limiters, uid)
			evicted++
		}
	}
	return evicted
}

// Len возвращает число отслеживаемых пользователей.
func (l *UserLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// StartCleanup периодически вызывает Evict до отмены ctx.
func (l *UserLimiter) StartCleanup(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Evict()
		}
	}
}

// RateLimitMiddleware ограничивает частоту запросов пользователя.
// Должен стоять после JWTMiddleware.
func RateLimitMiddleware(limiter *UserLimiter, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userUID, _ := UserUIDFromContext(r.Context())
			if !limiter.Allow(userUID) {
				metrics.RateLimitExceededTotal.Inc()
				log.Warn("too many requests", sl.UserID(userUID))
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, response.ErrorWithCode("rate_limited", "too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
