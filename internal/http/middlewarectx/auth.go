// Package middlewarectx содержит HTTP middleware движка доступа.
//
// JWTMiddleware проверяет токен из заголовка Authorization, кладёт UID
// пользователя в контекст и при необходимости продлевает токен: новый токен
// возвращается в заголовках X-New-Token и X-Token-Expires-In только для
// успешных ответов.
package middlewarectx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/magabrotheeeer/session-gate/internal/http/response"
	"github.com/magabrotheeeer/session-gate/internal/lib/jwt"
	"github.com/magabrotheeeer/session-gate/internal/lib/metrics"
	"github.com/magabrotheeeer/session-gate/internal/lib/sl"
	"github.com/magabrotheeeer/session-gate/internal/models"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

// UserUID — ключ для UID пользователя в контексте.
const UserUID Key = "user_uid"

const (
	// HeaderNewToken заголовок с продлённым токеном.
	HeaderNewToken = "X-New-Token"
	// HeaderTokenExpiresIn заголовок со временем жизни продлённого токена в секундах.
	HeaderTokenExpiresIn = "X-Token-Expires-In"
)

// Коды ошибок аутентификации.
const (
	CodeMissingToken     = "missing_token"
	CodeMalformedHeader  = "malformed_header"
	CodeTokenExpired     = "token_expired"
	CodeInvalidSignature = "invalid_signature"
	CodeMalformedToken   = "malformed_token"
)

// TokenVerifier описывает интерфейс проверки и продления токена.
type TokenVerifier interface {
	VerifyAndMaybeRefresh(token string) (*models.Verification, error)
}

// UserUIDFromContext возвращает UID пользователя, положенный JWTMiddleware.
func UserUIDFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(UserUID).(string)
	return uid, ok && uid != ""
}

// WithUserUID кладёт UID пользователя в контекст.
func WithUserUID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, UserUID, uid)
}

// JWTMiddleware возвращает HTTP middleware, который проверяет JWT в заголовке Authorization.
func JWTMiddleware(verifier TokenVerifier, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.JWTMiddleware"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, r, log, CodeMissingToken, "authorization header is missing")
				return
			}
			tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || strings.TrimSpace(tokenStr) == "" {
				unauthorized(w, r, log, CodeMalformedHeader, "authorization header must be Bearer <token>")
				return
			}

			v, err := verifier.VerifyAndMaybeRefresh(strings.TrimSpace(tokenStr))
			if err != nil {
				code, msg := classify(err)
				log.Info("token rejected", slog.String("code", code), sl.Err(err))
				unauthorized(w, r, log, code, msg)
				return
			}

			ctx := WithUserUID(r.Context(), v.Subject)
			if v.Renewed != nil {
				w = &renewingWriter{ResponseWriter: w, token: v.Renewed}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func classify(err error) (string, string) {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return CodeTokenExpired, "token has expired"
	case errors.Is(err, jwt.ErrTokenSignature):
		return CodeInvalidSignature, "token signature is invalid"
	default:
		return CodeMalformedToken, "token is malformed"
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, log *slog.Logger, code, msg string) {
	metrics.AuthFailuresTotal.WithLabelValues(code).Inc()
	log.Debug("unauthorized request", slog.String("code", code))
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, response.ErrorWithCode(code, msg))
}

// renewingWriter добавляет заголовки продлённого токена перед первой записью
// статуса, если ответ успешный.
type renewingWriter struct {
	http.ResponseWriter
	token       *models.IssuedToken
	wroteHeader bool
}

func (w *renewingWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		if code < http.StatusBadRequest {
			w.Header().Set(HeaderNewToken, w.token.Token)
			w.Header().Set(HeaderTokenExpiresIn, strconv.Itoa(w.token.ExpiresIn))
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *renewingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *renewingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
