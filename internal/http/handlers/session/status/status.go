// Package status реализует HTTP-обработчик получения состояния сессии.
package status

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

// Service описывает интерфейс чтения состояния сессии.
type Service interface {
	Status(ctx context.Context, sessionID, userUID string) (*models.SessionState, error)
}

// Handler возвращает статус и остаток времени сессии.
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
// @Summary Состояние сессии
// @Description Статус вычисляется по текущему времени: истекшая сессия видна как expired без фоновой задачи.
// @Tags Sessions
// @Produce  json
// @Security BearerAuth
// @Param id path string true "ID сессии"
// @Success 200 {object} response.Response "Состояние сессии"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 404 {object} response.ErrorResponse "Сессия не найдена"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /sessions/{id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.session.status"

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
	sessionID := chi.URLParam(r, "id")

	state, err := h.service.Status(r.Context(), sessionID, userUID)
	if err != nil {
		if errors.Is(err, sessionsvc.ErrNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.ErrorWithCode("session_not_found", "session not found"))
			return
		}
		log.Error("failed to get session status", sl.UserID(userUID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get session status"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(state))
}
