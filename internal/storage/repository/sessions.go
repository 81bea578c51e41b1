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

const sessionColumns = `id, user_uid, expert_id, credit_source, duration_minutes,
	started_at, expires_at, status, ended_at`

func scanSession(row rowScanner, extra ...any) (*models.Session, error) {
	sess := &models.Session{}
	var expertID sql.NullString
	var endedAt sql.NullTime
	dest := []any{&sess.UUID, &sess.UserUID, &expertID, &sess.Source, &sess.DurationMinutes,
		&sess.StartedAt, &sess.ExpiresAt, &sess.Status, &endedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if expertID.Valid {
		id := expertID.String
		sess.ExpertID = &id
	}
	sess.EndedAt = nullTime(endedAt)
	return sess, nil
}

func validIDs(ids ...string) bool {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return false
		}
	}
	return true
}

// GetSession возвращает сессию владельца. Чужая и несуществующая сессии
// неразличимы: в обоих случаях storage.ErrSessionNotFound.
func (s *Storage) GetSession(ctx context.Context, sessionID, userUID string) (*models.Session, error) {
	const op = "storage.GetSession"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if !validIDs(sessionID, userUID) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 AND user_uid = $2`
	sess, err := scanSession(s.DB.QueryRowContext(ctx, query, sessionID, userUID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sess, nil
}

// EndSession завершает активную сессию владельца.
//
// Строка сессии блокируется, поэтому из двух параллельных вызовов успешен
// только первый; второй получит storage.ErrSessionTerminal. Истекшая по
// времени сессия тоже считается конечной.
func (s *Storage) EndSession(ctx context.Context, sessionID, userUID string, now time.Time) (*models.Session, error) {
	const op = "storage.EndSession"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if !validIDs(sessionID, userUID) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
	}

	now = now.Truncate(time.Microsecond)
	var sess *models.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 AND user_uid = $2 FOR UPDATE`
		sess, err = scanSession(tx.QueryRowContext(ctx, query, sessionID, userUID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrSessionNotFound
			}
			return err
		}
		if status, _ := sess.StatusAt(now); status.Terminal() {
			return storage.ErrSessionTerminal
		}

		if _, err = tx.ExecContext(ctx,
			`UPDATE sessions SET status = $2, ended_at = $3 WHERE id = $1`,
			sessionID, models.StatusEnded, now); err != nil {
			return err
		}
		sess.Status = models.StatusEnded
		sess.EndedAt = &now
		return nil
	})
	if err != nil {
		return nil, storage.Wrap(op, err)
	}
	return sess, nil
}

// MarkSessionExpired записывает вычисленный статус expired. Меняет только
// активную сессию, срок которой уже прошёл.
func (s *Storage) MarkSessionExpired(ctx context.Context, sessionID string, now time.Time) error {
	const op = "storage.MarkSessionExpired"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	_, err := s.DB.ExecContext(ctx, `
		UPDATE sessions SET status = $2
		WHERE id = $1 AND status = $3 AND expires_at <= $4`,
		sessionID, models.StatusExpired, models.StatusActive, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListSessions возвращает страницу истории сессий пользователя, новые первыми,
// с количеством сообщений и текстом последнего сообщения.
func (s *Storage) ListSessions(ctx context.Context, userUID string, limit, offset int) (*models.SessionPage, error) {
	const op = "storage.ListSessions"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	page := &models.SessionPage{Sessions: []models.SessionSummary{}}
	if !validIDs(userUID) {
		return page, nil
	}

	if err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE user_uid = $1`, userUID).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	query := `SELECT ` + sessionColumns + `,
			      (SELECT COUNT(*) FROM messages m WHERE m.session_id = sessions.id),
			      COALESCE((
			          SELECT m.content FROM messages m
			          WHERE m.session_id = sessions.id
			          ORDER BY m.created_at DESC
			          LIMIT 1
			      ), '')
			  FROM sessions
			  WHERE user_uid = $1
			  ORDER BY started_at DESC
			  LIMIT $2 OFFSET $3`
	rows, err := s.DB.QueryContext(ctx, query, userUID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			count   int
			content string
		)
		sess, err := scanSession(rows, &count, &content)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		page.Sessions = append(page.Sessions, models.SessionSummary{
			Session:      *sess,
			MessageCount: count,
			Preview:      models.Preview(content),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	page.HasMore = offset+limit < page.Total
	return page, nil
}

// ListMessages возвращает сообщения сессии владельца в хронологическом порядке.
func (s *Storage) ListMessages(ctx context.Context, sessionID, userUID string) ([]models.Message, error) {
	const op = "storage.ListMessages"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if _, err := s.GetSession(ctx, sessionID, userUID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, session_id, user_uid, role, content, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	res := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.UUID, &m.SessionID, &m.UserUID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// AppendMessage добавляет сообщение в сессию, если на момент now она активна.
// Строка сессии удерживается FOR SHARE, чтобы сообщение не попало в уже
// завершённую сессию.
func (s *Storage) AppendMessage(ctx context.Context, msg models.Message, now time.Time) (*models.Message, error) {
	const op = "storage.AppendMessage"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if !validIDs(msg.SessionID, msg.UserUID) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
	}

	msg.UUID = uuid.NewString()
	msg.CreatedAt = now.Truncate(time.Microsecond)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 AND user_uid = $2 FOR SHARE`
		sess, err := scanSession(tx.QueryRowContext(ctx, query, msg.SessionID, msg.UserUID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrSessionNotFound
			}
			return err
		}
		if status, _ := sess.StatusAt(now); status != models.StatusActive {
			return storage.ErrSessionTerminal
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, user_uid, role, content, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			msg.UUID, msg.SessionID, msg.UserUID, msg.Role, msg.Content, msg.CreatedAt)
		return err
	})
	if err != nil {
		return nil, storage.Wrap(op, err)
	}
	return &msg, nil
}
