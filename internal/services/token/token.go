// Package services реализует жизненный цикл токенов доступа со скользящим
// сроком действия: выпуск и проверку с продлением без отдельного refresh-токена.
package services

import (
	"fmt"
	"time"

	"github.com/magabrotheeeer/session-gate/internal/lib/jwt"
	"github.com/magabrotheeeer/session-gate/internal/lib/metrics"
	"github.com/magabrotheeeer/session-gate/internal/models"
)

// TokenService выпускает токены и продлевает их при проверке.
//
// Сервер не хранит выданные токены, поэтому после продления старый и новый
// токены действуют одновременно до истечения старого.
type TokenService struct {
	maker     jwt.Maker
	threshold time.Duration
	now       func() time.Time
}

// Option настраивает TokenService.
type Option func(*TokenService)

// WithClock подменяет источник текущего времени. Часы должны совпадать с часами jwt.Maker.
func WithClock(now func() time.Time) Option {
	return func(s *TokenService) {
		s.now = now
	}
}

// NewTokenService создаёт сервис. threshold — порог оставшегося времени,
// ниже которого токен продлевается.
func NewTokenService(maker jwt.Maker, threshold time.Duration, opts ...Option) *TokenService {
	s := &TokenService{
		maker:     maker,
		threshold: threshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue выпускает токен для subject на полное время жизни.
func (s *TokenService) Issue(subject string) (*models.IssuedToken, error) {
	const op = "services.token.Issue"
	token, expiresAt, err := s.maker.GenerateToken(subject)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &models.IssuedToken{
		Token:     token,
		ExpiresAt: expiresAt,
		ExpiresIn: int(s.maker.TTL() / time.Second),
	}, nil
}

// VerifyAndMaybeRefresh проверяет токен и, если до истечения осталось меньше
// порога, выпускает новый для того же subject. Ошибки проверки не повторяются.
func (s *TokenService) VerifyAndMaybeRefresh(token string) (*models.Verification, error) {
	const op = "services.token.VerifyAndMaybeRefresh"
	claims, err := s.maker.ParseToken(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	v := &models.Verification{
		Subject:   claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.ExpiresAt.Sub(s.now()) >= s.threshold {
		return v, nil
	}

	renewed, err := s.Issue(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	metrics.TokenRenewalsTotal.Inc()
	v.Renewed = renewed
	return v, nil
}
