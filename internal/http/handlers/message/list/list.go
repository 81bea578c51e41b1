// Package list реализует HTTP-обработчик чтения сообщений сессии.
package list

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/session-gate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/session-gate/internal/http/response"
	"github.com/magabrotheeeer/session-gate/internal/lib/sl"
	"github.com/magabrotheeeer/session-gate/internal/models"
	sessionsvc "github.com/magabrotheeeer/session-gate/internal/services/session"
)

// Service описывает интерфейс чтения сообщений.
type Service interface {
	Messages(ctx context.Context, sessionID, userUID string) ([]models.Message, error)
}

// Handler возвращает сообщения сессии в хронологическом порядке.
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
// @Summary Сообщения сессии
// @Tags Messages
// @Produce  json
// @Security BearerAuth
// @Param id path string true "ID сессии"
// @Success 200 {object} response.Response "Сообщения"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 404 {object} response.ErrorResponse "Сессия не найдена"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /sessions/{id}/messages [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.message.list"

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

	msgs, err := h.service.Messages(r.Context(), chi.URLParam(r, "id"), userUID)
	if err != nil {
		if errors.Is(err, sessionsvc.ErrNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.ErrorWithCode("session_not_found", "session not found"))
			return
		}
		log.Error("failed to list messages", sl.UserID(userUID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list messages"))
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"messages": msgs,
	}))
}
