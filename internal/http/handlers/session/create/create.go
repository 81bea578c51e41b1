// Package create реализует HTTP-обработчик открытия сессии.
//
// Открытие списывает один кредит: сначала бесплатный, затем из пакета с
// ближайшим сроком действия. При нулевом балансе возвращается 402 с балансом.
package create

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/session-gate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/session-gate/internal/http/response"
	"github.com/magabrotheeeer/session-gate/internal/lib/sl"
	"github.com/magabrotheeeer/session-gate/internal/models"
	creditsvc "github.com/magabrotheeeer/session-gate/internal/services/credits"
)

// Service описывает интерфейс списания кредита.
type Service interface {
	Consume(ctx context.Context, userUID, expertID string) (*models.Session, error)
}

// Handler обрабатывает запросы на открытие сессии.
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
// @Summary Открыть сессию
// @Description Списывает один кредит и открывает сессию с фиксированной длительностью.
// @Tags Sessions
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body models.DummySession false "Необязательный эксперт"
// @Success 201 {object} response.Response "Сессия открыта"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 402 {object} response.ErrorResponse "Кредиты закончились"
// @Failure 429 {object} response.ErrorResponse "Слишком много запросов"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /sessions [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.session.create"

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

	// тело необязательно
	var req models.DummySession
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	session, err := h.service.Consume(r.Context(), userUID, req.ExpertID)
	if err != nil {
		var noCredits *creditsvc.NoCreditsError
		if errors.As(err, &noCredits) {
			log.Info("no credits left", sl.UserID(userUID))
			render.Status(r, http.StatusPaymentRequired)
			render.JSON(w, r, response.ErrorWithData("no_credits", "no session credits left", map[string]any{
				"balance": noCredits.Balance,
			}))
			return
		}
		log.Error("failed to open session", sl.UserID(userUID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not open session"))
		return
	}

	log.Info("session opened", sl.UserID(userUID), slog.String("session_id", session.UUID),
		slog.String("source", string(session.Source)))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"session": session,
	}))
}
