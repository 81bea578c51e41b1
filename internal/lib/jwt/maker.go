// Package jwt реализует кодек токенов доступа: выпуск и проверку подписанных
// HS256 утверждений {sub, iat, exp} с фиксированным временем жизни.
//
// Кодек не хранит состояния: результат зависит только от секретного ключа и часов.
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenExpired — текущее время позже exp.
	ErrTokenExpired = errors.New("token has expired")
	// ErrTokenSignature — подпись не совпадает или алгоритм не HS256.
	ErrTokenSignature = errors.New("invalid token signature")
	// ErrTokenMalformed — токен не разбирается или в нём нет обязательных claims.
	ErrTokenMalformed = errors.New("malformed token")
)

// Maker описывает интерфейс для выпуска и разбора токенов доступа.
type Maker interface {
	// GenerateToken выпускает токен для subject и возвращает момент его истечения.
	GenerateToken(subject string) (string, time.Time, error)
	// ParseToken проверяет подпись и срок действия и возвращает claims.
	ParseToken(tokenStr string) (*Claims, error)
	// TTL возвращает полное время жизни выпускаемых токенов.
	TTL() time.Duration
}

// Claims описывает данные, хранящиеся в токене доступа.
type Claims struct {
	jwt.RegisteredClaims
}

// Option настраивает MakerImpl.
type Option func(*MakerImpl)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(m *MakerImpl) {
		m.now = now
	}
}

// MakerImpl реализует интерфейс Maker с использованием секретного ключа
// и времени жизни токена (TTL).
type MakerImpl struct {
	secretKey []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewJWTMaker создаёт новый экземпляр MakerImpl на основе секретного ключа и TTL.
func NewJWTMaker(secretKey string, ttl time.Duration, opts ...Option) *MakerImpl {
	m := &MakerImpl{
		secretKey: []byte(secretKey),
		tokenTTL:  ttl,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL возвращает время жизни токена.
func (j *MakerImpl) TTL() time.Duration {
	return j.tokenTTL
}

// GenerateToken создает токен для subject, подписывая его секретным ключом.
func (j *MakerImpl) GenerateToken(subject string) (string, time.Time, error) {
	const op = "jwt.GenerateToken"
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("%s: empty subject", op)
	}

	now := j.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}
	return token, claims.ExpiresAt.Time, nil
}

// ParseToken разбирает токен, проверяет подпись и срок действия.
// Ошибка всегда оборачивает одну из ErrTokenExpired, ErrTokenSignature, ErrTokenMalformed.
func (j *MakerImpl) ParseToken(tokenStr string) (*Claims, error) {
	const op = "jwt.ParseToken"

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(_ *jwt.Token) (any, error) {
		return j.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenMalformed)
	}
	if claims.Subject == "" || claims.IssuedAt == nil {
		return nil, fmt.Errorf("%s: %w: missing sub or iat", op, ErrTokenMalformed)
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
		return ErrTokenSignature
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}
