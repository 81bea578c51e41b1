// Package list реализует HTTP-обработчик истории сессий пользователя.
package list

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/session-gate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/session-gate/internal/http/response"
	"github.com/magabrotheeeer/session-gate/internal/lib/sl"
	"github.com/magabrotheeeer/session-gate/internal/models"
)

// Service описывает интерфейс получения страницы истории.
type Service interface {
	List(ctx context.Context, userUID string, limit, offset int) (*models.SessionPage, error)
}

// Handler возвращает страницу истории сессий.
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
// @Summary История сессий
// @Description Возвращает сессии пользователя от новых к старым с числом сообщений и превью.
// @Tags Sessions
// @Produce  json
// @Security BearerAuth
// @Param limit query int false "Размер страницы (по умолчанию 50, максимум 100)"
// @Param offset query int false "Смещение"
// @Success 200 {object} response.Response "Страница истории"
// @Failure 400 {object} response.ErrorResponse "Некорректные параметры"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /sessions [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.session.list"

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

	limit, err := queryInt(r, "limit")
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("limit must be an integer"))
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("offset must be an integer"))
		return
	}

	page, err := h.service.List(r.Context(), userUID, limit, offset)
	if err != nil {
		log.Error("failed to list sessions", sl.UserID(userUID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list sessions"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(page))
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
