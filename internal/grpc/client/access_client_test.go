package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	accesspb "github.com/magabrotheeeer/session-gate/internal/grpc/gen"
	"github.com/magabrotheeeer/session-gate/internal/grpc/server"
	"github.com/magabrotheeeer/session-gate/internal/lib/jwt"
	"github.com/magabrotheeeer/session-gate/internal/models"
	creditsvc "github.com/magabrotheeeer/session-gate/internal/services/credits"
	retentionsvc "github.com/magabrotheeeer/session-gate/internal/services/retention"
	tokensvc "github.com/magabrotheeeer/session-gate/internal/services/token"
)

type stubGranter struct {
	seen map[string]*models.GrantResult
}

func (g *stubGranter) Grant(_ context.Context, req models.Grant) (*models.GrantResult, error) {
	if req.Sessions <= 0 {
		return nil, creditsvc.ErrInvalidGrant
	}
	if res, ok := g.seen[req.OrderReference]; ok {
		return &models.GrantResult{Entitlement: res.Entitlement, AlreadyProcessed: true}, nil
	}
	res := &models.GrantResult{Entitlement: &models.Entitlement{
		UUID:          "ent-1",
		UserUID:       req.UserUID,
		SessionsTotal: req.Sessions,
		Source:        req.Source,
	}}
	g.seen[req.OrderReference] = res
	return res, nil
}

type stubSweeper struct {
	lastBatch int
	err       error
}

func (s *stubSweeper) RunExclusiveSweep(_ context.Context, batch int) (int, error) {
	s.lastBatch = batch
	return 2, s.err
}

type stubRetentionRepo struct {
	due []string
}

func (r *stubRetentionRepo) FindUsersPendingDeletion(context.Context, time.Time, int) ([]string, error) {
	return r.due, nil
}

func (r *stubRetentionRepo) PurgeUserHistory(_ context.Context, uid string, now time.Time) (*models.PurgeResult, error) {
	return &models.PurgeResult{UserUID: uid, PurgedAt: now}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	purged []string
}

func (p *recordingPublisher) PublishPurged(_ context.Context, res models.PurgeResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purged = append(p.purged, res.UserUID)
	return nil
}

type busyLocker struct{}

func (busyLocker) AcquireLock(context.Context, string, time.Duration) (string, bool, error) {
	return "", false, nil
}

func (busyLocker) ReleaseLock(context.Context, string, string) error { return nil }

const testAPIKey = "internal-key"

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startListener(t *testing.T, tokens server.TokenService, sweeper server.Sweeper) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(server.APIKeyInterceptor(testAPIKey, newNoopLogger())))
	accesspb.RegisterAccessServiceServer(srv, server.NewAccessServer(tokens,
		&stubGranter{seen: map[string]*models.GrantResult{}}, sweeper, 100, newNoopLogger()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis
}

func dial(t *testing.T, lis *bufconn.Listener, apiKey string) *AccessClient {
	t.Helper()
	c, err := NewAccessClient("passthrough:///bufnet", apiKey,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func startServer(t *testing.T, tokens server.TokenService, sweeper server.Sweeper) *AccessClient {
	t.Helper()
	return dial(t, startListener(t, tokens, sweeper), testAPIKey)
}

func TestAccessClient_TokenRoundTrip(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	maker := jwt.NewJWTMaker("secret", time.Hour, jwt.WithClock(clock))
	tokens := tokensvc.NewTokenService(maker, 30*time.Minute, tokensvc.WithClock(clock))

	c := startServer(t, tokens, &stubSweeper{})
	ctx := context.Background()

	issued, err := c.IssueToken(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
	assert.Equal(t, 3600, issued.ExpiresIn)

	v, err := c.VerifyToken(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", v.Subject)
	assert.Nil(t, v.Renewed)

	now = now.Add(45 * time.Minute)
	v, err = c.VerifyToken(ctx, issued.Token)
	require.NoError(t, err)
	require.NotNil(t, v.Renewed)
	assert.Equal(t, 3600, v.Renewed.ExpiresIn)

	now = now.Add(time.Hour)
	_, err = c.VerifyToken(ctx, issued.Token)
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Equal(t, "token_expired", status.Convert(err).Message())

	_, err = c.IssueToken(ctx, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAccessClient_GrantEntitlement(t *testing.T) {
	c := startServer(t, nil, &stubSweeper{})
	ctx := context.Background()
	g := models.Grant{UserUID: "user-1", Sessions: 5, Source: models.EntitlementPurchase, OrderReference: "order-1", ValidDays: 30}

	first, err := c.GrantEntitlement(ctx, g)
	require.NoError(t, err)
	assert.False(t, first.AlreadyProcessed)
	assert.Equal(t, 5, first.Entitlement.SessionsTotal)

	second, err := c.GrantEntitlement(ctx, g)
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, first.Entitlement.UUID, second.Entitlement.UUID)

	g.Sessions = 0
	g.OrderReference = "order-2"
	_, err = c.GrantEntitlement(ctx, g)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAccessClient_RunRetentionSweep(t *testing.T) {
	sweeper := &stubSweeper{}
	c := startServer(t, nil, sweeper)

	purged, err := c.RunRetentionSweep(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, purged)
	assert.Equal(t, 100, sweeper.lastBatch)

	_, err = c.RunRetentionSweep(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 10, sweeper.lastBatch)

	sweeper.err = errors.New("db down")
	_, err = c.RunRetentionSweep(context.Background(), 10)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestAccessClient_RejectsCallsWithoutAPIKey(t *testing.T) {
	maker := jwt.NewJWTMaker("secret", time.Hour)
	lis := startListener(t, tokensvc.NewTokenService(maker, 30*time.Minute), &stubSweeper{})

	t.Run("no metadata", func(t *testing.T) {
		conn, err := grpc.NewClient("passthrough:///bufnet",
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}))
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })

		resp, err := accesspb.NewAccessServiceClient(conn).IssueToken(context.Background(), wrapperspb.String("victim"))
		assert.Nil(t, resp)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("wrong key", func(t *testing.T) {
		c := dial(t, lis, "guess")
		_, err := c.IssueToken(context.Background(), "victim")
		assert.Equal(t, codes.Unauthenticated, status.Code(err))

		_, err = c.GrantEntitlement(context.Background(), models.Grant{UserUID: "victim", Sessions: 100})
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("empty key", func(t *testing.T) {
		c := dial(t, lis, "")
		_, err := c.RunRetentionSweep(context.Background(), 0)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})
}

func TestAccessClient_RunRetentionSweep_PublishesPurgeEvents(t *testing.T) {
	pub := &recordingPublisher{}
	retention := retentionsvc.NewRetentionService(&stubRetentionRepo{due: []string{"u1", "u2"}}, newNoopLogger(),
		retentionsvc.WithPublisher(pub))
	c := startServer(t, nil, retention)

	purged, err := c.RunRetentionSweep(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, []string{"u1", "u2"}, pub.purged)
}

func TestAccessClient_RunRetentionSweep_LockHeld(t *testing.T) {
	retention := retentionsvc.NewRetentionService(&stubRetentionRepo{due: []string{"u1"}}, newNoopLogger(),
		retentionsvc.WithLocker(busyLocker{}, time.Minute))
	c := startServer(t, nil, retention)

	_, err := c.RunRetentionSweep(context.Background(), 0)
	assert.Equal(t, codes.Aborted, status.Code(err))
}
