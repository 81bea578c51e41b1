// Package password реализует HTTP-обработчик смены пароля.
//
// Новый пароль принимается только вместе с верным текущим. Выданные ранее
// токены остаются действительными до истечения срока.
package password

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
	usersvc "github.com/magabrotheeeer/session-gate/internal/services/user"
	"github.com/magabrotheeeer/session-gate/internal/storage"
)

// Service описывает интерфейс смены пароля.
type Service interface {
	ChangePassword(ctx context.Context, userUID, currentPassword, newPassword string) error
}

// Handler меняет пароль пользователя.
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
// @Summary Смена пароля
// @Tags Account
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body models.DummyPasswordChange true "Текущий и новый пароль"
// @Success 200 {object} response.Response "Пароль изменён"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 403 {object} response.ErrorResponse "Неверный текущий пароль"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /me/password [put]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.account.password"

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

	var req models.DummyPasswordChange
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

	err := h.service.ChangePassword(r.Context(), userUID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, usersvc.ErrInvalidCredentials):
			log.Info("password change rejected", sl.UserID(userUID))
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, response.ErrorWithCode("invalid_credentials", "current password is incorrect"))
		case errors.Is(err, storage.ErrUserNotFound):
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.ErrorWithCode("user_not_found", "user not found"))
		default:
			log.Error("failed to change password", sl.UserID(userUID), sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not change password"))
		}
		return
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"password_changed": true,
	}))
}
