package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/session-gate/internal/models"
	"github.com/magabrotheeeer/session-gate/internal/storage"
)

// FindUsersPendingDeletion возвращает не более limit пользователей, у которых
// хранение истории выключено и время удаления наступило.
func (s *Storage) FindUsersPendingDeletion(ctx context.Context, now time.Time, limit int) ([]string, error) {
	const op = "storage.FindUsersPendingDeletion"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT uid FROM users
		WHERE store_history = false
		  AND history_deletion_at IS NOT NULL
		  AND history_deletion_at <= $1
		ORDER BY history_deletion_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		res = append(res, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// PurgeUserHistory удаляет сессии и сообщения пользователя и снимает план удаления.
//
// Условие выборки перепроверяется под блокировкой строки пользователя в той же
// транзакции: если пользователь успел снова включить хранение истории, ничего
// не удаляется и возвращается (nil, nil). Журнал списаний не затрагивается.
func (s *Storage) PurgeUserHistory(ctx context.Context, userUID string, now time.Time) (*models.PurgeResult, error) {
	const op = "storage.PurgeUserHistory"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var res *models.PurgeResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var due bool
		err := tx.QueryRowContext(ctx, `
			SELECT store_history = false
			   AND history_deletion_at IS NOT NULL
			   AND history_deletion_at <= $2
			FROM users WHERE uid = $1
			FOR UPDATE`, userUID, now).Scan(&due)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrUserNotFound
			}
			return err
		}
		if !due {
			return nil
		}

		r := &models.PurgeResult{UserUID: userUID, PurgedAt: now}
		msgs, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE user_uid = $1`, userUID)
		if err != nil {
			return err
		}
		n, _ := msgs.RowsAffected()
		r.MessagesDeleted = int(n)

		sessions, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_uid = $1`, userUID)
		if err != nil {
			return err
		}
		n, _ = sessions.RowsAffected()
		r.SessionsDeleted = int(n)

		if _, err = tx.ExecContext(ctx,
			`UPDATE users SET history_deletion_at = NULL WHERE uid = $1`, userUID); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, storage.Wrap(op, err)
	}
	return res, nil
}
