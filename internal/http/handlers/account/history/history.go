// Package history реализует HTTP-обработчик настройки хранения истории.
//
// Отказ от хранения планирует удаление истории через grace period,
// повторное включение отменяет план.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/session-gate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/session-gate/internal/http/response"
	"github.com/magabrotheeeer/session-gate/internal/lib/sl"
	"github.com/magabrotheeeer/session-gate/internal/models"
	"github.com/magabrotheeeer/session-gate/internal/storage"
)

// Service описывает интерфейс изменения настройки хранения истории.
type Service interface {
	UpdateHistoryPreference(ctx context.Context, userUID string, store bool) (*models.HistoryPreference, error)
}

// Handler обновляет настройку хранения истории.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Хранение истории
// @Description false планирует удаление истории через 30 дней, true отменяет план.
// @Tags Account
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body models.DummyHistoryPreference true "Настройка"
// @Success 200 {object} response.Response "Настройка обновлена"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /me/history [put]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.account.history"

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

	var req models.DummyHistoryPreference
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	pref, err := h.service.UpdateHistoryPreference(r.Context(), userUID, *req.StoreHistory)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.ErrorWithCode("user_not_found", "user not found"))
			return
		}
		log.Error("failed to update history preference", sl.UserID(userUID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not update history preference"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(pref))
}
