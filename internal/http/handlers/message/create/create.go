// Package create реализует HTTP-обработчик добавления сообщения в сессию.
//
// Сообщение принимается только пока сессия активна.
package create

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/session-gate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/session-gate/internal/http/response"
	"github.com/magabrotheeeer/session-gate/internal/lib/sl"
	"github.com/magabrotheeeer/session-gate/internal/models"
	sessionsvc "github.com/magabrotheeeer/session-gate/internal/services/session"
)

// Service описывает интерфейс добавления сообщения.
type Service interface {
	AppendMessage(ctx context.Context, sessionID, userUID string, role models.MessageRole, content string) (*models.Message, error)
}

// Handler сохраняет сообщение активной сессии.
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
// @Summary Добавить сообщение
// @Tags Messages
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param id path string true "ID сессии"
// @Param request body models.DummyMessage true "Сообщение"
// @Success 201 {object} response.Response "Сообщение сохранено"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 404 {object} response.ErrorResponse "Сессия не найдена"
// @Failure 409 {object} response.ErrorResponse "Сессия не активна"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /sessions/{id}/messages [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.message.create"

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

	var req models.DummyMessage
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

	msg, err := h.service.AppendMessage(r.Context(), chi.URLParam(r, "id"), userUID, models.MessageRole(req.Role), req.Content)
	if err != nil {
		switch {
		case errors.Is(err, sessionsvc.ErrNotFound):
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.ErrorWithCode("session_not_found", "session not found"))
		case errors.Is(err, sessionsvc.ErrAlreadyTerminal):
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, response.ErrorWithCode("session_not_active", "session is not active"))
		default:
			log.Error("failed to append message", sl.UserID(userUID), sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not save message"))
		}
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"message": msg,
	}))
}
