// Package services реализует регистрацию и вход пользователей, профиль и
// настройку хранения истории с отложенным удалением.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/session-gate/internal/lib/password"
	"github.com/magabrotheeeer/session-gate/internal/lib/sl"
	"github.com/magabrotheeeer/session-gate/internal/models"
	"github.com/magabrotheeeer/session-gate/internal/storage"
)

// ErrInvalidCredentials неверный email или пароль. Причины не различаются.
var ErrInvalidCredentials = errors.New("invalid credentials")

// UserRepository описывает контракт для работы с пользователями в базе данных.
type UserRepository interface {
	CreateUser(ctx context.Context, user models.User) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUser(ctx context.Context, userUID string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, userUID string, now time.Time) error
	UpdateHistoryPreference(ctx context.Context, userUID string, store bool, now, deletionAt time.Time) (*models.HistoryPreference, error)
	UpdateDisplayName(ctx context.Context, userUID, displayName string) (*models.User, error)
	UpdatePasswordHash(ctx context.Context, userUID, expectedHash, newHash string) error
}

// TokenIssuer выпускает токены доступа.
type TokenIssuer interface {
	Issue(subject string) (*models.IssuedToken, error)
}

// UserService отвечает за учётные записи и настройку хранения истории.
type UserService struct {
	users       UserRepository
	tokens      TokenIssuer
	log         *slog.Logger
	freeLimit   int
	gracePeriod time.Duration
	now         func() time.Time
}

// NewUserService создает новый экземпляр UserService.
func NewUserService(users UserRepository, tokens TokenIssuer, freeLimit int, gracePeriod time.Duration,
	log *slog.Logger) *UserService {
	return &UserService{
		users:       users,
		tokens:      tokens,
		log:         log,
		freeLimit:   freeLimit,
		gracePeriod: gracePeriod,
		now:         time.Now,
	}
}

// Register создаёт пользователя с бесплатным лимитом и сразу выпускает токен.
func (s *UserService) Register(ctx context.Context, email, rawPassword, displayName string) (*models.User, *models.IssuedToken, error) {
	const op = "services.user.Register"
	hashed, err := password.GetHash(rawPassword)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.users.CreateUser(ctx, models.User{
		Email:        email,
		PasswordHash: hashed,
		DisplayName:  displayName,
		FreeLimit:    s.freeLimit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	token, err := s.tokens.Issue(user.UUID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("user registered", sl.UserID(user.UUID))
	return user, token, nil
}

// Login проверяет пароль и выпускает токен.
func (s *UserService) Login(ctx context.Context, email, rawPassword string) (*models.IssuedToken, error) {
	const op = "services.user.Login"
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := password.CompareHash(user.PasswordHash, rawPassword); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if err := s.users.UpdateLastLogin(ctx, user.UUID, s.now()); err != nil {
		s.log.Warn("failed to update last login", sl.UserID(user.UUID), sl.Err(err))
	}

	token, err := s.tokens.Issue(user.UUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

// Profile возвращает пользователя по UID.
func (s *UserService) Profile(ctx context.Context, userUID string) (*models.User, error) {
	const op = "services.user.Profile"
	user, err := s.users.GetUser(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// UpdateProfile меняет отображаемое имя пользователя.
func (s *UserService) UpdateProfile(ctx context.Context, userUID, displayName string) (*models.User, error) {
	const op = "services.user.UpdateProfile"
	user, err := s.users.UpdateDisplayName(ctx, userUID, displayName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("profile updated", sl.UserID(userUID))
	return user, nil
}

// ChangePassword меняет пароль после проверки текущего. Неверный текущий
// пароль даёт ErrInvalidCredentials.
func (s *UserService) ChangePassword(ctx context.Context, userUID, currentPassword, newPassword string) error {
	const op = "services.user.ChangePassword"
	user, err := s.users.GetUser(ctx, userUID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := password.CompareHash(user.PasswordHash, currentPassword); err != nil {
		return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	hashed, err := password.GetHash(newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.users.UpdatePasswordHash(ctx, userUID, user.PasswordHash, hashed); err != nil {
		if errors.Is(err, storage.ErrPasswordChanged) {
			return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("password changed", sl.UserID(userUID))
	return nil
}

// UpdateHistoryPreference включает или выключает хранение истории. Выключение
// планирует удаление через grace period, включение снимает план.
func (s *UserService) UpdateHistoryPreference(ctx context.Context, userUID string, store bool) (*models.HistoryPreference, error) {
	const op = "services.user.UpdateHistoryPreference"
	now := s.now()
	pref, err := s.users.UpdateHistoryPreference(ctx, userUID, store, now, now.Add(s.gracePeriod))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	attrs := []any{sl.UserID(userUID), slog.Bool("store_history", pref.StoreHistory)}
	if pref.HistoryDeletionAt != nil {
		attrs = append(attrs, slog.Time("deletion_at", *pref.HistoryDeletionAt))
	}
	s.log.Info("history preference updated", attrs...)
	return pref, nil
}
