// Package gateway собирает HTTP и gRPC серверы движка доступа.
package gateway

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	// Регистрация описания API для swagger UI.
	_ "github.com/magabrotheeeer/session-gate/docs"
	"github.com/magabrotheeeer/session-gate/internal/http/handlers/account/history"
	accountpassword "github.com/magabrotheeeer/session-gate/internal/http/handlers/account/password"
	"github.com/magabrotheeeer/session-gate/internal/http/handlers/account/profile"
	accountupdate "github.com/magabrotheeeer/session-gate/internal/http/handlers/account/update"
	"github.com/magabrotheeeer/session-gate/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/session-gate/internal/http/handlers/auth/register"
	"github.com/magabrotheeeer/session-gate/internal/http/handlers/credits/balance"
	"github.com/magabrotheeeer/session-gate/internal/http/handlers/health"
	messagecreate "github.com/magabrotheeeer/session-gate/internal/http/handlers/message/create"
	messagelist "github.com/magabrotheeeer/session-gate/internal/http/handlers/message/list"
	sessioncreate "github.com/magabrotheeeer/session-gate/internal/http/handlers/session/create"
	"github.com/magabrotheeeer/session-gate/internal/http/handlers/session/end"
	sessionlist "github.com/magabrotheeeer/session-gate/internal/http/handlers/session/list"
	"github.com/magabrotheeeer/session-gate/internal/http/handlers/session/status"
	"github.com/magabrotheeeer/session-gate/internal/http/middlewarectx"
	creditsvc "github.com/magabrotheeeer/session-gate/internal/services/credits"
	sessionsvc "github.com/magabrotheeeer/session-gate/internal/services/session"
	tokensvc "github.com/magabrotheeeer/session-gate/internal/services/token"
	usersvc "github.com/magabrotheeeer/session-gate/internal/services/user"
)

// Services зависимости HTTP-маршрутов.
type Services struct {
	Tokens   *tokensvc.TokenService
	Users    *usersvc.UserService
	Credits  *creditsvc.CreditService
	Sessions *sessionsvc.SessionService
	DB       health.Pinger
	// CreateLimiter ограничивает открытие сессий на пользователя.
	CreateLimiter *middlewarectx.UserLimiter
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, svc Services) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки
		r.Post("/register", register.New(logger, svc.Users).ServeHTTP)
		r.Post("/login", login.New(logger, svc.Users).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(svc.Tokens, logger))

			r.Get("/credits", balance.New(logger, svc.Credits).ServeHTTP)

			r.With(middlewarectx.RateLimitMiddleware(svc.CreateLimiter, logger)).
				Post("/sessions", sessioncreate.New(logger, svc.Credits).ServeHTTP)
			r.Get("/sessions", sessionlist.New(logger, svc.Sessions).ServeHTTP)
			r.Get("/sessions/{id}", status.New(logger, svc.Sessions).ServeHTTP)
			r.Post("/sessions/{id}/end", end.New(logger, svc.Sessions).ServeHTTP)
			r.Get("/sessions/{id}/messages", messagelist.New(logger, svc.Sessions).ServeHTTP)
			r.Post("/sessions/{id}/messages", messagecreate.New(logger, svc.Sessions).ServeHTTP)

			r.Get("/me", profile.New(logger, svc.Users).ServeHTTP)
			r.Patch("/me", accountupdate.New(logger, svc.Users).ServeHTTP)
			r.Put("/me/password", accountpassword.New(logger, svc.Users).ServeHTTP)
			r.Put("/me/history", history.New(logger, svc.Users).ServeHTTP)
		})
	})

	r.Get("/health", health.New(logger, svc.DB).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
