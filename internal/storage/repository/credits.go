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

// ConsumeCredit списывает один кредит и создаёт сессию в одной транзакции.
//
// Строка пользователя блокируется FOR UPDATE, поэтому параллельные списания
// одного пользователя выполняются строго по очереди. Сначала тратится
// бесплатный лимит, затем пакет с ближайшим сроком действия. Если кредитов нет,
// возвращается storage.ErrNoCredits и ничего не меняется.
func (s *Storage) ConsumeCredit(ctx context.Context, req models.ConsumeRequest) (*models.Session, error) {
	const op = "storage.ConsumeCredit"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if _, err := uuid.Parse(req.UserUID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	now := req.Now.Truncate(time.Microsecond)
	var session *models.Session

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var freeLimit, freeUsed int
		err := tx.QueryRowContext(ctx,
			`SELECT free_limit, free_used FROM users WHERE uid = $1 FOR UPDATE`,
			req.UserUID).Scan(&freeLimit, &freeUsed)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrUserNotFound
			}
			return err
		}

		var (
			source   models.CreditSource
			duration time.Duration
		)
		if freeLimit-freeUsed > 0 {
			if _, err = tx.ExecContext(ctx,
				`UPDATE users SET free_used = free_used + 1 WHERE uid = $1`, req.UserUID); err != nil {
				return err
			}
			source, duration = models.SourceFree, req.FreeDuration
		} else {
			var (
				entitlementID string
				entSource     models.EntitlementSource
			)
			err = tx.QueryRowContext(ctx, `
				SELECT id, source FROM entitlements
				WHERE user_uid = $1
				  AND sessions_used < sessions_total
				  AND (valid_until IS NULL OR valid_until > $2)
				ORDER BY valid_until ASC NULLS LAST, created_at ASC
				LIMIT 1
				FOR UPDATE`,
				req.UserUID, now).Scan(&entitlementID, &entSource)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return storage.ErrNoCredits
				}
				return err
			}
			if _, err = tx.ExecContext(ctx,
				`UPDATE entitlements SET sessions_used = sessions_used + 1 WHERE id = $1`, entitlementID); err != nil {
				return err
			}
			source, duration = entSource.CreditSource(), req.PaidDuration
		}

		session = &models.Session{
			UUID:            uuid.NewString(),
			UserUID:         req.UserUID,
			ExpertID:        req.ExpertID,
			Source:          source,
			DurationMinutes: int(duration / time.Minute),
			StartedAt:       now,
			ExpiresAt:       now.Add(duration),
			Status:          models.StatusActive,
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (id, user_uid, expert_id, credit_source, duration_minutes,
			                      started_at, expires_at, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			session.UUID, session.UserUID, session.ExpertID, session.Source, session.DurationMinutes,
			session.StartedAt, session.ExpiresAt, session.Status); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO credit_audit (user_uid, session_id, expert_id, credit_source, action, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			req.UserUID, session.UUID, session.ExpertID, session.Source, models.AuditConsumed, now)
		return err
	})
	if err != nil {
		return nil, storage.Wrap(op, err)
	}
	return session, nil
}

// GetBalance возвращает справочный баланс пользователя без блокировок.
func (s *Storage) GetBalance(ctx context.Context, userUID string, now time.Time) (models.Balance, error) {
	const op = "storage.GetBalance"
	select {
	case <-ctx.Done():
		return models.Balance{}, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if _, err := uuid.Parse(userUID); err != nil {
		return models.Balance{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	query := `SELECT GREATEST(u.free_limit - u.free_used, 0),
			      COALESCE((
			          SELECT SUM(e.sessions_total - e.sessions_used)
			          FROM entitlements e
			          WHERE e.user_uid = u.uid
			            AND e.sessions_used < e.sessions_total
			            AND (e.valid_until IS NULL OR e.valid_until > $2)
			      ), 0)
			  FROM users u
			  WHERE u.uid = $1`
	var free, paid int
	if err := s.DB.QueryRowContext(ctx, query, userUID, now).Scan(&free, &paid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Balance{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return models.Balance{}, fmt.Errorf("%s: %w", op, err)
	}
	return models.NewBalance(free, paid), nil
}

const entitlementColumns = `id, user_uid, sessions_total, sessions_used, valid_until, source, order_reference, created_at`

func scanEntitlement(row rowScanner) (*models.Entitlement, error) {
	e := &models.Entitlement{}
	var validUntil sql.NullTime
	var orderRef sql.NullString
	if err := row.Scan(&e.UUID, &e.UserUID, &e.SessionsTotal, &e.SessionsUsed,
		&validUntil, &e.Source, &orderRef, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.ValidUntil = nullTime(validUntil)
	if orderRef.Valid {
		ref := orderRef.String
		e.OrderReference = &ref
	}
	return e, nil
}

// GrantEntitlement создаёт пакет сессий. Повторная выдача с тем же
// order_reference ничего не создаёт и возвращает существующий пакет.
func (s *Storage) GrantEntitlement(ctx context.Context, g models.Grant, now time.Time) (*models.GrantResult, error) {
	const op = "storage.GrantEntitlement"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if _, err := uuid.Parse(g.UserUID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	var orderRef *string
	if g.OrderReference != "" {
		orderRef = &g.OrderReference
		existing, err := s.getEntitlementByOrder(ctx, g.OrderReference)
		if err == nil {
			return &models.GrantResult{Entitlement: existing, AlreadyProcessed: true}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	var validUntil *time.Time
	if g.ValidDays > 0 {
		v := now.AddDate(0, 0, g.ValidDays)
		validUntil = &v
	}

	query := `INSERT INTO entitlements (user_uid, sessions_total, valid_until, source, order_reference, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  ON CONFLICT (order_reference) DO NOTHING
			  RETURNING ` + entitlementColumns
	e, err := scanEntitlement(s.DB.QueryRowContext(ctx, query,
		g.UserUID, g.Sessions, validUntil, g.Source, orderRef, now))
	switch {
	case err == nil:
		return &models.GrantResult{Entitlement: e}, nil
	case errors.Is(err, sql.ErrNoRows) && orderRef != nil:
		// Параллельная выдача с тем же order_reference успела первой.
		existing, getErr := s.getEntitlementByOrder(ctx, g.OrderReference)
		if getErr != nil {
			return nil, fmt.Errorf("%s: %w", op, getErr)
		}
		return &models.GrantResult{Entitlement: existing, AlreadyProcessed: true}, nil
	case storage.IsForeignKeyViolation(err):
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	default:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
}

func (s *Storage) getEntitlementByOrder(ctx context.Context, orderRef string) (*models.Entitlement, error) {
	query := `SELECT ` + entitlementColumns + ` FROM entitlements WHERE order_reference = $1`
	return scanEntitlement(s.DB.QueryRowContext(ctx, query, orderRef))
}

// ListEntitlements возвращает все пакеты пользователя в порядке списания.
func (s *Storage) ListEntitlements(ctx context.Context, userUID string) ([]models.Entitlement, error) {
	const op = "storage.ListEntitlements"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + entitlementColumns + ` FROM entitlements
			  WHERE user_uid = $1
			  ORDER BY valid_until ASC NULLS LAST, created_at ASC`
	rows, err := s.DB.QueryContext(ctx, query, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var res []models.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		res = append(res, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}
