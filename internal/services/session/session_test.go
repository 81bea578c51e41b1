package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/magabrotheeeer/session-gate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type SessionRepoMock struct {
	mock.Mock
}

func (m *SessionRepoMock) GetSession(ctx context.Context, sessionID, userUID string) (*models.Session, error) {
	args := m.Called(ctx, sessionID, userUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *SessionRepoMock) EndSession(ctx context.Context, sessionID, userUID string, now time.Time) (*models.Session, error) {
	args := m.Called(ctx, sessionID, userUID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *SessionRepoMock) MarkSessionExpired(ctx context.Context, sessionID string, now time.Time) error {
	args := m.Called(ctx, sessionID, now)
	return args.Error(0)
}

func (m *SessionRepoMock) ListSessions(ctx context.Context, userUID string, limit, offset int) (*models.SessionPage, error) {
	args := m.Called(ctx, userUID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SessionPage), args.Error(1)
}

func (m *SessionRepoMock) ListMessages(ctx context.Context, sessionID, userUID string) ([]models.Message, error) {
	args := m.Called(ctx, sessionID, userUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *SessionRepoMock) AppendMessage(ctx context.Context, msg models.Message, now time.Time) (*models.Message, error) {
	args := m.Called(ctx, msg, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

const (
	sessionID = "5f0c1a7e-2d3b-4c9a-8e71-3b2a1c0d9e88"
	userUID   = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
)

var started = time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo SessionRepository, persistExpired bool, now time.Time) *SessionService {
	svc := NewSessionService(repo, persistExpired, newNoopLogger())
	svc.now = func() time.Time { return now }
	return svc
}

func activeSession() *models.Session {
	return &models.Session{
		UUID:            sessionID,
		UserUID:         userUID,
		Source:          models.SourceFree,
		DurationMinutes: 5,
		StartedAt:       started,
		ExpiresAt:       started.Add(5 * time.Minute),
		Status:          models.StatusActive,
	}
}

func TestSessionService_Status(t *testing.T) {
	expires := started.Add(5 * time.Minute)

	tests := []struct {
		name           string
		now            time.Time
		persistExpired bool
		setupMocks     func(r *SessionRepoMock)
		wantStatus     models.SessionStatus
		wantRemaining  int
		wantErr        error
	}{
		{
			name: "one second before expiry",
			now:  expires.Add(-time.Second),
			setupMocks: func(r *SessionRepoMock) {
				r.On("GetSession", mock.Anything, sessionID, userUID).Return(activeSession(), nil).Once()
			},
			wantStatus:    models.StatusActive,
			wantRemaining: 1,
		},
		{
			name: "one second after expiry is derived",
			now:  expires.Add(time.Second),
			setupMocks: func(r *SessionRepoMock) {
				r.On("GetSession", mock.Anything, sessionID, userUID).Return(activeSession(), nil).Once()
			},
			wantStatus:    models.StatusExpired,
			wantRemaining: 0,
		},
		{
			name:           "expired status persisted when enabled",
			now:            expires.Add(time.Second),
			persistExpired: true,
			setupMocks: func(r *SessionRepoMock) {
				r.On("GetSession", mock.Anything, sessionID, userUID).Return(activeSession(), nil).Once()
				r.On("MarkSessionExpired", mock.Anything, sessionID, expires.Add(time.Second)).Return(nil).Once()
			},
			wantStatus: models.StatusExpired,
		},
		{
			name:           "persist failure does not fail the read",
			now:            expires.Add(time.Second),
			persistExpired: true,
			setupMocks: func(r *SessionRepoMock) {
				r.On("GetSession", mock.Anything, sessionID, userUID).Return(activeSession(), nil).Once()
				r.On("MarkSessionExpired", mock.Anything, sessionID, mock.Anything).Return(errors.New("db down")).Once()
			},
			wantStatus: models.StatusExpired,
		},
		{
			name: "ended session",
			now:  started.Add(time.Minute),
			setupMocks: func(r *SessionRepoMock) {
				sess := activeSession()
				sess.Status = models.StatusEnded
				r.On("GetSession", mock.Anything, sessionID, userUID).Return(sess, nil).Once()
			},
			wantStatus: models.StatusEnded,
		},
		{
			name: "not found",
			now:  started,
			setupMocks: func(r *SessionRepoMock) {
				r.On("GetSession", mock.Anything, sessionID, userUID).Return(nil, ErrNotFound).Once()
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(SessionRepoMock)
			tt.setupMocks(repo)
			svc := newTestService(repo, tt.persistExpired, tt.now)

			state, err := svc.Status(context.Background(), sessionID, userUID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, state.Status)
			assert.Equal(t, tt.wantRemaining, state.RemainingSeconds)
			repo.AssertExpectations(t)
		})
	}
}

func TestSessionService_End(t *testing.T) {
	now := started.Add(150 * time.Second)

	t.Run("returns used seconds", func(t *testing.T) {
		repo := new(SessionRepoMock)
		ended := activeSession()
		ended.Status = models.StatusEnded
		ended.EndedAt = &now
		repo.On("EndSession", mock.Anything, sessionID, userUID, now).Return(ended, nil).Once()

		used, err := newTestService(repo, false, now).End(context.Background(), sessionID, userUID)
		require.NoError(t, err)
		assert.Equal(t, 150, used)
	})

	for _, wantErr := range []error{ErrNotFound, ErrAlreadyTerminal} {
		t.Run(wantErr.Error(), func(t *testing.T) {
			repo := new(SessionRepoMock)
			repo.On("EndSession", mock.Anything, sessionID, userUID, now).Return(nil, wantErr).Once()

			_, err := newTestService(repo, false, now).End(context.Background(), sessionID, userUID)
			assert.ErrorIs(t, err, wantErr)
		})
	}
}

func TestSessionService_List(t *testing.T) {
	now := started.Add(time.Hour)
	page := &models.SessionPage{
		Sessions: []models.SessionSummary{{Session: *activeSession(), MessageCount: 3}},
		Total:    1,
	}

	tests := []struct {
		name      string
		limit     int
		offset    int
		wantLimit int
		wantOff   int
	}{
		{name: "default page size", limit: 0, offset: 0, wantLimit: 50, wantOff: 0},
		{name: "capped page size", limit: 1000, offset: 10, wantLimit: 100, wantOff: 10},
		{name: "negative offset", limit: 5, offset: -3, wantLimit: 5, wantOff: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(SessionRepoMock)
			p := *page
			p.Sessions = append([]models.SessionSummary(nil), page.Sessions...)
			repo.On("ListSessions", mock.Anything, userUID, tt.wantLimit, tt.wantOff).Return(&p, nil).Once()

			got, err := newTestService(repo, false, now).List(context.Background(), userUID, tt.limit, tt.offset)
			require.NoError(t, err)
			require.Len(t, got.Sessions, 1)
			assert.Equal(t, models.StatusExpired, got.Sessions[0].Status)
			repo.AssertExpectations(t)
		})
	}
}

func TestSessionService_AppendMessage(t *testing.T) {
	now := started.Add(time.Minute)
	repo := new(SessionRepoMock)
	repo.On("AppendMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.SessionID == sessionID && m.UserUID == userUID && m.Role == models.RoleUser && m.Content == "hi"
	}), now).Return(&models.Message{UUID: "m-1"}, nil).Once()
	repo.On("AppendMessage", mock.Anything, mock.Anything, now).Return(nil, ErrAlreadyTerminal).Once()

	svc := newTestService(repo, false, now)

	msg, err := svc.AppendMessage(context.Background(), sessionID, userUID, models.RoleUser, "hi")
	require.NoError(t, err)
	assert.Equal(t, "m-1", msg.UUID)

	_, err = svc.AppendMessage(context.Background(), sessionID, userUID, models.RoleUser, "late")
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestSessionService_Messages(t *testing.T) {
	repo := new(SessionRepoMock)
	repo.On("ListMessages", mock.Anything, sessionID, userUID).
		Return([]models.Message{{UUID: "m-1", Content: "hello"}}, nil).Once()
	repo.On("ListMessages", mock.Anything, sessionID, "someone-else").Return(nil, ErrNotFound).Once()

	svc := newTestService(repo, false, started)

	msgs, err := svc.Messages(context.Background(), sessionID, userUID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = svc.Messages(context.Background(), sessionID, "someone-else")
	assert.ErrorIs(t, err, ErrNotFound)
}
