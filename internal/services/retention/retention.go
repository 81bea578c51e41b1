// Package services реализует чистку истории пользователей, отказавшихся от
// её хранения. Повторный запуск и параллельные реплики безопасны: каждое
// удаление заново проверяет условие под блокировкой строки пользователя.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/session-gate/internal/lib/metrics"
	"github.com/magabrotheeeer/session-gate/internal/lib/sl"
	"github.com/magabrotheeeer/session-gate/internal/models"
)

// SweepLockKey ключ распределённой блокировки периодической чистки.
const SweepLockKey = "retention:sweep"

// ErrSweepInProgress возвращается, если блокировку чистки держит другой процесс.
var ErrSweepInProgress = errors.New("retention sweep is already running")

// RetentionRepository описывает контракт хранилища для чистки истории.
type RetentionRepository interface {
	FindUsersPendingDeletion(ctx context.Context, now time.Time, limit int) ([]string, error)
	PurgeUserHistory(ctx context.Context, userUID string, now time.Time) (*models.PurgeResult, error)
}

// EventPublisher публикует события об удалённой истории.
type EventPublisher interface {
	PublishPurged(ctx context.Context, res models.PurgeResult) error
}

// Locker распределённая блокировка между репликами планировщика.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// RetentionService удаляет историю пользователей по наступлении срока.
type RetentionService struct {
	repo      RetentionRepository
	publisher EventPublisher
	locker    Locker
	lockTTL   time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// Option настраивает RetentionService.
type Option func(*RetentionService)

// WithPublisher включает публикацию событий об удалении.
func WithPublisher(p EventPublisher) Option {
	return func(s *RetentionService) { s.publisher = p }
}

// WithLocker включает распределённую блокировку для Start и RunExclusiveSweep.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *RetentionService) {
		s.locker = l
		s.lockTTL = ttl
	}
}

// NewRetentionService создает новый экземпляр RetentionService.
func NewRetentionService(repo RetentionRepository, log *slog.Logger, opts ...Option) *RetentionService {
	s := &RetentionService{
		repo: repo,
		log:  log,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunSweep удаляет историю не более batchSize пользователей и возвращает
// число фактически очищенных. Ошибка по одному пользователю не прерывает партию.
func (s *RetentionService) RunSweep(ctx context.Context, batchSize int) (int, error) {
	const op = "services.retention.RunSweep"
	now := s.now()

	users, err := s.repo.FindUsersPendingDeletion(ctx, now, batchSize)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if len(users) == 0 {
		s.log.Debug("no users pending history deletion")
		return 0, nil
	}

	purged := 0
	for _, uid := range users {
		if ctx.Err() != nil {
			return purged, fmt.Errorf("%s: %w", op, ctx.Err())
		}

		res, err := s.repo.PurgeUserHistory(ctx, uid, now)
		if err != nil {
			metrics.RetentionFailuresTotal.Inc()
			s.log.Error("failed to purge history", sl.UserID(uid), sl.Err(err))
			continue
		}
		if res == nil {
			s.log.Info("history purge skipped, user no longer due", sl.UserID(uid))
			continue
		}

		purged++
		metrics.RetentionPurgedTotal.Inc()
		s.log.Info("history purged",
			sl.UserID(uid),
			slog.Int("sessions", res.SessionsDeleted),
			slog.Int("messages", res.MessagesDeleted),
		)
		if s.publisher != nil {
			if err := s.publisher.PublishPurged(ctx, *res); err != nil {
				s.log.Error("failed to publish purge event", sl.UserID(uid), sl.Err(err))
			}
		}
	}

	s.log.Info("retention sweep finished", slog.Int("candidates", len(users)), slog.Int("purged", purged))
	return purged, nil
}

// Start запускает чистку сразу и затем каждые interval до отмены ctx.
func (s *RetentionService) Start(ctx context.Context, interval time.Duration, batchSize int) {
	s.tick(ctx, batchSize)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("retention scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx, batchSize)
		}
	}
}

func (s *RetentionService) tick(ctx context.Context, batchSize int) {
	_, err := s.RunExclusiveSweep(ctx, batchSize)
	switch {
	case errors.Is(err, ErrSweepInProgress):
		s.log.Info("sweep is running on another replica")
	case err != nil:
		s.log.Error("retention sweep failed", sl.Err(err))
	}
}

// RunExclusiveSweep выполняет RunSweep под распределённой блокировкой.
// Если блокировку держит другой процесс, возвращает ErrSweepInProgress.
// Без настроенного Locker равносилен RunSweep.
func (s *RetentionService) RunExclusiveSweep(ctx context.Context, batchSize int) (int, error) {
	const op = "services.retention.RunExclusiveSweep"

	if s.locker != nil {
		token, ok, err := s.locker.AcquireLock(ctx, SweepLockKey, s.lockTTL)
		if err != nil {
			return 0, fmt.Errorf("%s: acquire lock: %w", op, err)
		}
		if !ok {
			return 0, ErrSweepInProgress
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), SweepLockKey, token); err != nil {
				s.log.Warn("failed to release sweep lock", sl.Err(err))
			}
		}()
	}

	return s.RunSweep(ctx, batchSize)
}
