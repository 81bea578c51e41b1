package history

import (
	"bytes"
	"context"
	"encoding/json"
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
	"github.com/magabrotheeeer/session-gate/internal/storage"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) UpdateHistoryPreference(ctx context.Context, userUID string, store bool) (*models.HistoryPreference, error) {
	args := m.Called(ctx, userUID, store)
	p, _ := args.Get(0).(*models.HistoryPreference)
	return p, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestHistoryHandler_ServeHTTP(t *testing.T) {
	deletionAt := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		body           string
		setupMock      func(m *ServiceMock)
		wantStatusCode int
		wantDeletion   bool
	}{
		{
			name: "opt out",
			body: `{"store_history":false}`,
			setupMock: func(m *ServiceMock) {
				m.On("UpdateHistoryPreference", mock.Anything, "u1", false).
					Return(&models.HistoryPreference{StoreHistory: false, HistoryDeletionAt: &deletionAt}, nil).Once()
			},
			wantStatusCode: http.StatusOK,
			wantDeletion:   true,
		},
		{
			name: "opt in",
			body: `{"store_history":true}`,
			setupMock: func(m *ServiceMock) {
				m.On("UpdateHistoryPreference", mock.Anything, "u1", true).
					Return(&models.HistoryPreference{StoreHistory: true}, nil).Once()
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "missing field",
			body:           `{}`,
			wantStatusCode: http.StatusUnprocessableEntity,
		},
		{
			name:           "invalid json",
			body:           `{"store_history":`,
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name: "unknown user",
			body: `{"store_history":true}`,
			setupMock: func(m *ServiceMock) {
				m.On("UpdateHistoryPreference", mock.Anything, "u1", true).Return(nil, storage.ErrUserNotFound).Once()
			},
			wantStatusCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			if tt.setupMock != nil {
				tt.setupMock(svc)
			}

			req := httptest.NewRequest(http.MethodPut, "/api/v1/me/history", bytes.NewBufferString(tt.body))
			req = req.WithContext(middlewarectx.WithUserUID(req.Context(), "u1"))
			rec := httptest.NewRecorder()
			New(newNoopLogger(), svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatusCode, rec.Code)
			if tt.wantStatusCode == http.StatusOK {
				var got struct {
					Data models.HistoryPreference `json:"data"`
				}
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
				if tt.wantDeletion {
					require.NotNil(t, got.Data.HistoryDeletionAt)
					assert.True(t, deletionAt.Equal(*got.Data.HistoryDeletionAt))
				} else {
					assert.Nil(t, got.Data.HistoryDeletionAt)
				}
			}
			svc.AssertExpectations(t)
		})
	}
}
