package create

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/session-gate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/session-gate/internal/models"
	creditsvc "github.com/magabrotheeeer/session-gate/internal/services/credits"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Consume(ctx context.Context, userUID, expertID string) (*models.Session, error) {
	args := m.Called(ctx, userUID, expertID)
	s, _ := args.Get(0).(*models.Session)
	return s, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

const uid = "u1"

func TestCreateHandler_ServeHTTP(t *testing.T) {
	started := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	opened := &models.Session{
		UUID:            "s1",
		UserUID:         uid,
		Source:          models.SourceFree,
		DurationMinutes: 5,
		StartedAt:       started,
		ExpiresAt:       started.Add(5 * time.Minute),
		Status:          models.StatusActive,
	}

	tests := []struct {
		name           string
		body           string
		setupMock      func(m *ServiceMock)
		wantStatusCode int
		wantCode       string
	}{
		{
			name: "opens session without body",
			body: "",
			setupMock: func(m *ServiceMock) {
				m.On("Consume", mock.Anything, uid, "").Return(opened, nil).Once()
			},
			wantStatusCode: http.StatusCreated,
		},
		{
			name: "passes expert id",
			body: `{"expert_id":"e1"}`,
			setupMock: func(m *ServiceMock) {
				m.On("Consume", mock.Anything, uid, "e1").Return(opened, nil).Once()
			},
			wantStatusCode: http.StatusCreated,
		},
		{
			name:           "invalid json",
			body:           `{`,
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name: "credits exhausted",
			body: "",
			setupMock: func(m *ServiceMock) {
				m.On("Consume", mock.Anything, uid, "").
					Return(nil, &creditsvc.NoCreditsError{Balance: models.NewBalance(0, 0)}).Once()
			},
			wantStatusCode: http.StatusPaymentRequired,
			wantCode:       "no_credits",
		},
		{
			name: "store failure",
			body: "",
			setupMock: func(m *ServiceMock) {
				m.On("Consume", mock.Anything, uid, "").Return(nil, errors.New("db down")).Once()
			},
			wantStatusCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			if tt.setupMock != nil {
				tt.setupMock(svc)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewBufferString(tt.body))
			req = req.WithContext(middlewarectx.WithUserUID(req.Context(), uid))
			rec := httptest.NewRecorder()
			New(newNoopLogger(), svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatusCode, rec.Code)
			var got map[string]any
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, got["code"])
			}
			if tt.wantStatusCode == http.StatusPaymentRequired {
				data := got["data"].(map[string]any)
				balance := data["balance"].(map[string]any)
				assert.EqualValues(t, 0, balance["total"])
			}
			if tt.wantStatusCode == http.StatusCreated {
				data := got["data"].(map[string]any)
				session := data["session"].(map[string]any)
				assert.Equal(t, "s1", session["uuid"])
				assert.Equal(t, "free", session["credit_source"])
			}
			svc.AssertExpectations(t)
		})
	}
}
