// Package services реализует реестр кредитов: атомарное списание одного
// кредита с открытием сессии, справочный баланс и выдачу пакетов сессий.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/magabrotheeeer/session-gate/internal/lib/metrics"
	"github.com/magabrotheeeer/session-gate/internal/lib/sl"
	"github.com/magabrotheeeer/session-gate/internal/models"
	"github.com/magabrotheeeer/session-gate/internal/storage"
)

// ErrInvalidGrant возвращается при некорректных параметрах выдачи пакета.
var ErrInvalidGrant = errors.New("invalid entitlement grant")

// NoCreditsError возвращается, если у пользователя не осталось кредитов.
// Содержит текущий баланс, чтобы клиент мог предложить покупку.
type NoCreditsError struct {
	Balance models.Balance
}

func (e *NoCreditsError) Error() string {
	return fmt.Sprintf("no credits available (free %d, paid %d)", e.Balance.FreeRemaining, e.Balance.PaidRemaining)
}

func (e *NoCreditsError) Unwrap() error {
	return storage.ErrNoCredits
}

// CreditRepository описывает контракт хранилища реестра кредитов.
type CreditRepository interface {
	ConsumeCredit(ctx context.Context, req models.ConsumeRequest) (*models.Session, error)
	GetBalance(ctx context.Context, userUID string, now time.Time) (models.Balance, error)
	GrantEntitlement(ctx context.Context, g models.Grant, now time.Time) (*models.GrantResult, error)
	ListEntitlements(ctx context.Context, userUID string) ([]models.Entitlement, error)
}

// Config параметры списания.
type Config struct {
	FreeDuration time.Duration
	PaidDuration time.Duration
	Retries      int
	RetryDelay   time.Duration
}

// CreditService отвечает за списание кредитов и баланс.
type CreditService struct {
	repo CreditRepository
	cfg  Config
	log  *slog.Logger
	now  func() time.Time
}

// NewCreditService создает новый экземпляр CreditService.
func NewCreditService(repo CreditRepository, cfg Config, log *slog.Logger) *CreditService {
	return &CreditService{
		repo: repo,
		cfg:  cfg,
		log:  log,
		now:  time.Now,
	}
}

// Consume списывает один кредит и открывает сессию.
//
// Повторяется только при временных ошибках БД, не более cfg.Retries раз.
// Некорректный expertID не отклоняет запрос: он отбрасывается с предупреждением.
func (s *CreditService) Consume(ctx context.Context, userUID, expertID string) (*models.Session, error) {
	const op = "services.credits.Consume"

	req := models.ConsumeRequest{
		UserUID:      userUID,
		FreeDuration: s.cfg.FreeDuration,
		PaidDuration: s.cfg.PaidDuration,
	}
	if expertID != "" {
		if _, err := uuid.Parse(expertID); err != nil {
			s.log.Warn("ignoring malformed expert id", sl.UserID(userUID), slog.String("expert_id", expertID))
		} else {
			req.ExpertID = &expertID
		}
	}

	for attempt := 0; ; attempt++ {
		req.Now = s.now()
		session, err := s.repo.ConsumeCredit(ctx, req)
		if err == nil {
			metrics.CreditsConsumedTotal.WithLabelValues(string(session.Source)).Inc()
			return session, nil
		}

		if errors.Is(err, storage.ErrNoCredits) {
			metrics.CreditsExhaustedTotal.Inc()
			balance, balErr := s.repo.GetBalance(ctx, userUID, s.now())
			if balErr != nil {
				s.log.Error("failed to read balance after exhaustion", sl.UserID(userUID), sl.Err(balErr))
			}
			return nil, &NoCreditsError{Balance: balance}
		}
		if !errors.Is(err, storage.ErrTransient) || attempt >= s.cfg.Retries {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		metrics.ConsumeRetriesTotal.Inc()
		s.log.Warn("retrying credit consumption", sl.UserID(userUID), slog.Int("attempt", attempt+1), sl.Err(err))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(s.cfg.RetryDelay):
		}
	}
}

// Balance возвращает справочный баланс пользователя.
func (s *CreditService) Balance(ctx context.Context, userUID string) (models.Balance, error) {
	const op = "services.credits.Balance"
	balance, err := s.repo.GetBalance(ctx, userUID, s.now())
	if err != nil {
		return models.Balance{}, fmt.Errorf("%s: %w", op, err)
	}
	return balance, nil
}

// Entitlements возвращает пакеты пользователя в порядке списания.
func (s *CreditService) Entitlements(ctx context.Context, userUID string) ([]models.Entitlement, error) {
	const op = "services.credits.Entitlements"
	list, err := s.repo.ListEntitlements(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}

// Grant выдаёт пакет сессий. Повтор с тем же OrderReference не создаёт второй пакет.
func (s *CreditService) Grant(ctx context.Context, g models.Grant) (*models.GrantResult, error) {
	const op = "services.credits.Grant"
	if g.Sessions <= 0 || g.ValidDays < 0 || !g.Source.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidGrant)
	}

	res, err := s.repo.GrantEntitlement(ctx, g, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if res.AlreadyProcessed {
		s.log.Info("entitlement already granted", sl.UserID(g.UserUID), slog.String("order_reference", g.OrderReference))
	} else {
		metrics.EntitlementsGrantedTotal.WithLabelValues(string(g.Source)).Inc()
		s.log.Info("entitlement granted", sl.UserID(g.UserUID), slog.Int("sessions", g.Sessions))
	}
	return res, nil
}
