// Package services реализует таймер сессий: вычисление состояния и оставшегося
// времени, досрочное завершение владельцем и историю сессий с сообщениями.
//
// Истечение сессии не запускается таймером: состояние всегда выводится из
// сохранённых отметок времени и текущего момента.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/session-gate/internal/lib/metrics"
	"github.com/magabrotheeeer/session-gate/internal/lib/sl"
	"github.com/magabrotheeeer/session-gate/internal/models"
	"github.com/magabrotheeeer/session-gate/internal/storage"
)

var (
	// ErrNotFound сессия не существует или принадлежит другому пользователю.
	ErrNotFound = storage.ErrSessionNotFound
	// ErrAlreadyTerminal сессия уже завершена или истекла.
	ErrAlreadyTerminal = storage.ErrSessionTerminal
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// SessionRepository описывает контракт хранилища сессий.
type SessionRepository interface {
	GetSession(ctx context.Context, sessionID, userUID string) (*models.Session, error)
	EndSession(ctx context.Context, sessionID, userUID string, now time.Time) (*models.Session, error)
	MarkSessionExpired(ctx context.Context, sessionID string, now time.Time) error
	ListSessions(ctx context.Context, userUID string, limit, offset int) (*models.SessionPage, error)
	ListMessages(ctx context.Context, sessionID, userUID string) ([]models.Message, error)
	AppendMessage(ctx context.Context, msg models.Message, now time.Time) (*models.Message, error)
}

// SessionService управляет жизненным циклом сессий.
type SessionService struct {
	repo           SessionRepository
	log            *slog.Logger
	persistExpired bool
	now            func() time.Time
}

// NewSessionService создает новый экземпляр SessionService. При persistExpired
// вычисленный статус expired записывается в БД при чтении.
func NewSessionService(repo SessionRepository, persistExpired bool, log *slog.Logger) *SessionService {
	return &SessionService{
		repo:           repo,
		log:            log,
		persistExpired: persistExpired,
		now:            time.Now,
	}
}

// Status возвращает состояние сессии и оставшееся время.
func (s *SessionService) Status(ctx context.Context, sessionID, userUID string) (*models.SessionState, error) {
	const op = "services.session.Status"
	sess, err := s.repo.GetSession(ctx, sessionID, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	status, remaining := sess.StatusAt(now)
	if s.persistExpired && status == models.StatusExpired && sess.Status == models.StatusActive {
		if err := s.repo.MarkSessionExpired(ctx, sess.UUID, now); err != nil {
			s.log.Error("failed to persist expired status", slog.String("session_id", sess.UUID), sl.Err(err))
		}
	}

	return &models.SessionState{
		SessionID:        sess.UUID,
		Status:           status,
		RemainingSeconds: remaining,
		ExpiresAt:        sess.ExpiresAt,
	}, nil
}

// End завершает активную сессию владельца и возвращает использованное время в секундах.
func (s *SessionService) End(ctx context.Context, sessionID, userUID string) (int, error) {
	const op = "services.session.End"
	sess, err := s.repo.EndSession(ctx, sessionID, userUID, s.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	metrics.SessionsEndedTotal.Inc()
	used := int(sess.EndedAt.Sub(sess.StartedAt) / time.Second)
	s.log.Info("session ended", sl.UserID(userUID), slog.String("session_id", sessionID), slog.Int("used_seconds", used))
	return used, nil
}

// List возвращает страницу истории сессий с вычисленными статусами.
func (s *SessionService) List(ctx context.Context, userUID string, limit, offset int) (*models.SessionPage, error) {
	const op = "services.session.List"
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	offset = max(offset, 0)

	page, err := s.repo.ListSessions(ctx, userUID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	for i := range page.Sessions {
		page.Sessions[i].Status, _ = page.Sessions[i].StatusAt(now)
	}
	return page, nil
}

// Messages возвращает сообщения сессии владельца.
func (s *SessionService) Messages(ctx context.Context, sessionID, userUID string) ([]models.Message, error) {
	const op = "services.session.Messages"
	msgs, err := s.repo.ListMessages(ctx, sessionID, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return msgs, nil
}

// AppendMessage сохраняет сообщение в активной сессии.
func (s *SessionService) AppendMessage(ctx context.Context, sessionID, userUID string,
	role models.MessageRole, content string) (*models.Message, error) {
	const op = "services.session.AppendMessage"
	msg, err := s.repo.AppendMessage(ctx, models.Message{
		SessionID: sessionID,
		UserUID:   userUID,
		Role:      role,
		Content:   content,
	}, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return msg, nil
}
