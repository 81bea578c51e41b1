package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/magabrotheeeer/session-gate/internal/models"
	"github.com/magabrotheeeer/session-gate/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type CreditRepoMock struct {
	mock.Mock
}

func (m *CreditRepoMock) ConsumeCredit(ctx context.Context, req models.ConsumeRequest) (*models.Session, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *CreditRepoMock) GetBalance(ctx context.Context, userUID string, now time.Time) (models.Balance, error) {
	args := m.Called(ctx, userUID, now)
	return args.Get(0).(models.Balance), args.Error(1)
}

func (m *CreditRepoMock) GrantEntitlement(ctx context.Context, g models.Grant, now time.Time) (*models.GrantResult, error) {
	args := m.Called(ctx, g, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GrantResult), args.Error(1)
}

func (m *CreditRepoMock) ListEntitlements(ctx context.Context, userUID string) ([]models.Entitlement, error) {
	args := m.Called(ctx, userUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Entitlement), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

const userUID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"

var fixedNow = time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo CreditRepository) *CreditService {
	svc := NewCreditService(repo, Config{
		FreeDuration: 5 * time.Minute,
		PaidDuration: 45 * time.Minute,
		Retries:      2,
		RetryDelay:   time.Millisecond,
	}, newNoopLogger())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func transientErr() error {
	return storage.Wrap("storage.ConsumeCredit", &pgconn.PgError{Code: "40P01"})
}

func TestCreditService_Consume(t *testing.T) {
	freeSession := &models.Session{UUID: "s-1", UserUID: userUID, Source: models.SourceFree, DurationMinutes: 5}

	tests := []struct {
		name       string
		expertID   string
		setupMocks func(r *CreditRepoMock)
		wantSource models.CreditSource
		wantNoCred *models.Balance
		wantErr    bool
	}{
		{
			name: "successful consumption",
			setupMocks: func(r *CreditRepoMock) {
				r.On("ConsumeCredit", mock.Anything, mock.MatchedBy(func(req models.ConsumeRequest) bool {
					return req.UserUID == userUID && req.ExpertID == nil &&
						req.FreeDuration == 5*time.Minute && req.PaidDuration == 45*time.Minute &&
						req.Now.Equal(fixedNow)
				})).Return(freeSession, nil).Once()
			},
			wantSource: models.SourceFree,
		},
		{
			name:     "valid expert id is passed through",
			expertID: "2b7e151c-6d0e-4ac1-9f0f-4a1e7c3b9d55",
			setupMocks: func(r *CreditRepoMock) {
				r.On("ConsumeCredit", mock.Anything, mock.MatchedBy(func(req models.ConsumeRequest) bool {
					return req.ExpertID != nil && *req.ExpertID == "2b7e151c-6d0e-4ac1-9f0f-4a1e7c3b9d55"
				})).Return(freeSession, nil).Once()
			},
			wantSource: models.SourceFree,
		},
		{
			name:     "malformed expert id is dropped",
			expertID: "not-a-uuid",
			setupMocks: func(r *CreditRepoMock) {
				r.On("ConsumeCredit", mock.Anything, mock.MatchedBy(func(req models.ConsumeRequest) bool {
					return req.ExpertID == nil
				})).Return(freeSession, nil).Once()
			},
			wantSource: models.SourceFree,
		},
		{
			name: "exhausted returns balance",
			setupMocks: func(r *CreditRepoMock) {
				r.On("ConsumeCredit", mock.Anything, mock.Anything).
					Return(nil, storage.Wrap("storage.ConsumeCredit", storage.ErrNoCredits)).Once()
				r.On("GetBalance", mock.Anything, userUID, fixedNow).
					Return(models.Balance{}, nil).Once()
			},
			wantNoCred: &models.Balance{},
		},
		{
			name: "transient error retried then succeeds",
			setupMocks: func(r *CreditRepoMock) {
				r.On("ConsumeCredit", mock.Anything, mock.Anything).Return(nil, transientErr()).Twice()
				r.On("ConsumeCredit", mock.Anything, mock.Anything).
					Return(&models.Session{UUID: "s-2", Source: models.SourcePaid, DurationMinutes: 45}, nil).Once()
			},
			wantSource: models.SourcePaid,
		},
		{
			name: "transient error gives up after retries",
			setupMocks: func(r *CreditRepoMock) {
				r.On("ConsumeCredit", mock.Anything, mock.Anything).Return(nil, transientErr()).Times(3)
			},
			wantErr: true,
		},
		{
			name: "non transient error is not retried",
			setupMocks: func(r *CreditRepoMock) {
				r.On("ConsumeCredit", mock.Anything, mock.Anything).Return(nil, errors.New("db down")).Once()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(CreditRepoMock)
			tt.setupMocks(repo)
			svc := newTestService(repo)

			sess, err := svc.Consume(context.Background(), userUID, tt.expertID)

			switch {
			case tt.wantNoCred != nil:
				var noCredits *NoCreditsError
				require.ErrorAs(t, err, &noCredits)
				assert.Equal(t, *tt.wantNoCred, noCredits.Balance)
				assert.ErrorIs(t, err, storage.ErrNoCredits)
				assert.Nil(t, sess)
			case tt.wantErr:
				assert.Error(t, err)
				assert.Nil(t, sess)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantSource, sess.Source)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestCreditService_Consume_ContextCanceledDuringBackoff(t *testing.T) {
	repo := new(CreditRepoMock)
	repo.On("ConsumeCredit", mock.Anything, mock.Anything).Return(nil, transientErr()).Once()

	svc := newTestService(repo)
	svc.cfg.RetryDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Consume(ctx, userUID, "")
	assert.ErrorIs(t, err, context.Canceled)
	repo.AssertExpectations(t)
}

func TestCreditService_Balance(t *testing.T) {
	repo := new(CreditRepoMock)
	repo.On("GetBalance", mock.Anything, userUID, fixedNow).Return(models.NewBalance(2, 5), nil).Once()

	balance, err := newTestService(repo).Balance(context.Background(), userUID)
	require.NoError(t, err)
	assert.Equal(t, models.Balance{FreeRemaining: 2, PaidRemaining: 5, Total: 7}, balance)
}

func TestCreditService_Grant(t *testing.T) {
	valid := models.Grant{UserUID: userUID, Sessions: 5, Source: models.EntitlementPurchase, OrderReference: "o-1"}

	tests := []struct {
		name       string
		grant      models.Grant
		setupMocks func(r *CreditRepoMock)
		wantErr    error
		wantRepeat bool
	}{
		{
			name:  "new grant",
			grant: valid,
			setupMocks: func(r *CreditRepoMock) {
				r.On("GrantEntitlement", mock.Anything, valid, fixedNow).
					Return(&models.GrantResult{Entitlement: &models.Entitlement{UUID: "e-1"}}, nil).Once()
			},
		},
		{
			name:  "repeated order reference",
			grant: valid,
			setupMocks: func(r *CreditRepoMock) {
				r.On("GrantEntitlement", mock.Anything, valid, fixedNow).
					Return(&models.GrantResult{Entitlement: &models.Entitlement{UUID: "e-1"}, AlreadyProcessed: true}, nil).Once()
			},
			wantRepeat: true,
		},
		{
			name:       "zero sessions",
			grant:      models.Grant{UserUID: userUID, Sessions: 0, Source: models.EntitlementAdmin},
			setupMocks: func(_ *CreditRepoMock) {},
			wantErr:    ErrInvalidGrant,
		},
		{
			name:       "unknown source",
			grant:      models.Grant{UserUID: userUID, Sessions: 1, Source: "gift"},
			setupMocks: func(_ *CreditRepoMock) {},
			wantErr:    ErrInvalidGrant,
		},
		{
			name:  "unknown user",
			grant: models.Grant{UserUID: userUID, Sessions: 1, Source: models.EntitlementAdmin},
			setupMocks: func(r *CreditRepoMock) {
				r.On("GrantEntitlement", mock.Anything, mock.Anything, fixedNow).
					Return(nil, storage.ErrUserNotFound).Once()
			},
			wantErr: storage.ErrUserNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(CreditRepoMock)
			tt.setupMocks(repo)

			res, err := newTestService(repo).Grant(context.Background(), tt.grant)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				repo.AssertExpectations(t)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRepeat, res.AlreadyProcessed)
			repo.AssertExpectations(t)
		})
	}
}
