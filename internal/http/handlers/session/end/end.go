// Package end реализует HTTP-обработчик досрочного завершения сессии.
package end

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
	sessionsvc "github.com/magabrotheeeer/session-gate/internal/services/session"
)

// Service описывает интерфейс завершения сессии.
type Service interface {
	End(ctx context.Context, sessionID, userUID string) (int, error)
}

// Handler завершает активную сессию.
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
// @Summary Завершить сессию
// @Description Завершает активную сессию. Кредит не возвращается.
// @Tags Sessions
// @Produce  json
// @Security BearerAuth
// @Param id path string true "ID сессии"
// @Success 200 {object} response.Response "Сессия завершена"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 404 {object} response.ErrorResponse "Сессия не найдена"
// @Failure 409 {object} response.ErrorResponse "Сессия уже завершена или истекла"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /sessions/{id}/end [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.session.end"

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

	used, err := h.service.End(r.Context(), sessionID, userUID)
	if err != nil {
		switch {
		case errors.Is(err, sessionsvc.ErrNotFound):
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.ErrorWithCode("session_not_found", "session not found"))
		case errors.Is(err, sessionsvc.ErrAlreadyTerminal):
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, response.ErrorWithCode("session_not_active", "session is already ended or expired"))
		default:
			log.Error("failed to end session", sl.UserID(userUID), sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not end session"))
		}
		return
	}

	log.Info("session ended", sl.UserID(userUID), slog.String("session_id", sessionID), slog.Int("used_seconds", used))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"session_id":   sessionID,
		"status":       "ended",
		"used_seconds": used,
	}))
}
