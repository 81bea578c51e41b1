package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/session-gate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/session-gate/internal/models"
	"github.com/magabrotheeeer/session-gate/internal/storage"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Profile(ctx context.Context, userUID string) (*models.User, error) {
	args := m.Called(ctx, userUID)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func serve(svc Service, withUser bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if withUser {
		req = req.WithContext(middlewarectx.WithUserUID(req.Context(), "u1"))
	}
	rec := httptest.NewRecorder()
	New(newNoopLogger(), svc).ServeHTTP(rec, req)
	return rec
}

func TestProfileHandler_ServeHTTP(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		svc := new(ServiceMock)
		svc.On("Profile", mock.Anything, "u1").Return(&models.User{
			UUID:         "u1",
			Email:        "a@example.com",
			PasswordHash: "hash",
			FreeLimit:    3,
			FreeUsed:     1,
			StoreHistory: true,
		}, nil).Once()

		rec := serve(svc, true)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "hash")

		var got struct {
			Data struct {
				User          models.User `json:"user"`
				FreeRemaining int         `json:"free_remaining"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, "a@example.com", got.Data.User.Email)
		assert.Equal(t, 2, got.Data.FreeRemaining)
	})

	t.Run("unknown user", func(t *testing.T) {
		svc := new(ServiceMock)
		svc.On("Profile", mock.Anything, "u1").
			Return(nil, fmt.Errorf("storage.GetUser: %w", storage.ErrUserNotFound)).Once()

		rec := serve(svc, true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "user_not_found")
	})

	t.Run("storage failure", func(t *testing.T) {
		svc := new(ServiceMock)
		svc.On("Profile", mock.Anything, "u1").Return(nil, errors.New("db down")).Once()

		rec := serve(svc, true)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("missing user in context", func(t *testing.T) {
		svc := new(ServiceMock)
		rec := serve(svc, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		svc.AssertNotCalled(t, "Profile", mock.Anything, mock.Anything)
	})
}
