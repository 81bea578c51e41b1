// Package balance реализует HTTP-обработчик получения баланса кредитов.
package balance

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/session-gate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/session-gate/internal/http/response"
	"github.com/magabrotheeeer/session-gate/internal/lib/sl"
	"github.com/magabrotheeeer/session-gate/internal/models"
)

// Service описывает интерфейс бизнес-логики баланса.
type Service interface {
	Balance(ctx context.Context, userUID string) (models.Balance, error)
	Entitlements(ctx context.Context, userUID string) ([]models.Entitlement, error)
}

// Handler возвращает баланс пользователя и список его пакетов.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Баланс кредитов
// @Description Возвращает остаток бесплатных и оплаченных сессий. Значение справочное.
// @Tags Credits
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.Response "Баланс"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /credits [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.credits.balance"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userUID, ok := middlewarectx.UserUIDFromContext(r.Context())
	if !ok {
		log.Error("user identification missing")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("user identification missing"))
		return
	}

	balance, err := h.service.Balance(r.Context(), userUID)
	if err != nil {
		log.Error("failed to get balance", sl.UserID(userUID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get balance"))
		return
	}

	entitlements, err := h.service.Entitlements(r.Context(), userUID)
	if err != nil {
		log.Error("failed to list entitlements", sl.UserID(userUID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get balance"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"balance":      balance,
		"entitlements": entitlements,
	}))
}
