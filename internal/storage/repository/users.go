package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/magabrotheeeer/session-gate/internal/models"
	"github.com/magabrotheeeer/session-gate/internal/storage"
)

const userColumns = `uid, email, password_hash, display_name, free_limit, free_used,
	store_history, history_changed_at, history_deletion_at, created_at, last_login`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	var changedAt, deletionAt, lastLogin sql.NullTime
	if err := row.Scan(&u.UUID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.FreeLimit, &u.FreeUsed,
		&u.StoreHistory, &changedAt, &deletionAt, &u.CreatedAt, &lastLogin); err != nil {
		return nil, err
	}
	u.HistoryChangedAt = nullTime(changedAt)
	u.HistoryDeletionAt = nullTime(deletionAt)
	u.LastLogin = nullTime(lastLogin)
	return u, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// CreateUser сохраняет нового пользователя и возвращает его с заполненными значениями по умолчанию.
func (s *Storage) CreateUser(ctx context.Context, user models.User) (*models.User, error) {
	const op = "storage.CreateUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO users (email, password_hash, display_name, free_limit)
			  VALUES ($1, $2, $3, $4)
			  RETURNING ` + userColumns
	u, err := scanUser(s.DB.QueryRowContext(ctx, query,
		user.Email, user.PasswordHash, user.DisplayName, user.FreeLimit))
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserByEmail возвращает пользователя по email.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.GetUserByEmail"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUser возвращает пользователя по его UID.
func (s *Storage) GetUser(ctx context.Context, userUID string) (*models.User, error) {
	const op = "storage.GetUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if _, err := uuid.Parse(userUID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE uid = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, userUID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// UpdateLastLogin фиксирует время последнего входа пользователя.
func (s *Storage) UpdateLastLogin(ctx context.Context, userUID string, now time.Time) error {
	const op = "storage.UpdateLastLogin"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := s.DB.ExecContext(ctx, `UPDATE users SET last_login = $2 WHERE uid = $1`, userUID, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return nil
}

// UpdateHistoryPreference меняет настройку хранения истории одним UPDATE.
//
// true -> false планирует удаление на deletionAt, false -> true снимает план,
// повторное false сохраняет уже назначенное время. Правые части SET читают
// значения строки до изменения.
func (s *Storage) UpdateHistoryPreference(ctx context.Context, userUID string, store bool,
	now, deletionAt time.Time) (*models.HistoryPreference, error) {
	const op = "storage.UpdateHistoryPreference"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET
			      history_deletion_at = CASE
			          WHEN $2 THEN NULL
			          WHEN store_history THEN $4
			          ELSE history_deletion_at
			      END,
			      history_changed_at = CASE
			          WHEN store_history <> $2 THEN $3
			          ELSE history_changed_at
			      END,
			      store_history = $2
			  WHERE uid = $1
			  RETURNING store_history, history_changed_at, history_deletion_at`

	var (
		pref                  models.HistoryPreference
		changedAt, deletionTs sql.NullTime
	)
	err := s.DB.QueryRowContext(ctx, query, userUID, store, now, deletionAt).
		Scan(&pref.StoreHistory, &changedAt, &deletionTs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	pref.HistoryChangedAt = nullTime(changedAt)
	pref.HistoryDeletionAt = nullTime(deletionTs)
	return &pref, nil
}

// UpdateDisplayName меняет отображаемое имя и возвращает обновлённого пользователя.
func (s *Storage) UpdateDisplayName(ctx context.Context, userUID, displayName string) (*models.User, error) {
	const op = "storage.UpdateDisplayName"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if _, err := uuid.Parse(userUID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	query := `UPDATE users SET display_name = $2
			  WHERE uid = $1
			  RETURNING ` + userColumns
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, userUID, displayName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// UpdatePasswordHash заменяет хэш пароля, только если текущий хэш равен
// expectedHash. Если пароль успели сменить параллельно, возвращает
// storage.ErrPasswordChanged.
func (s *Storage) UpdatePasswordHash(ctx context.Context, userUID, expectedHash, newHash string) error {
	const op = "storage.UpdatePasswordHash"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET password_hash = $3
			  WHERE uid = $1 AND password_hash = $2
			  RETURNING uid`
	var uid string
	err := s.DB.QueryRowContext(ctx, query, userUID, expectedHash, newHash).Scan(&uid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", op, storage.ErrPasswordChanged)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
