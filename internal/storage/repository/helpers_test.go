package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/magabrotheeeer/session-gate/internal/migrations"
	"github.com/magabrotheeeer/session-gate/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestDataFactory создаёт тестовые данные напрямую через SQL.
type TestDataFactory struct {
	storage *Storage
}

// NewTestDataFactory создает новую фабрику тестовых данных
func NewTestDataFactory(storage *Storage) *TestDataFactory {
	return &TestDataFactory{storage: storage}
}

// CreateUser создает тестового пользователя с заданным бесплатным лимитом.
func (f *TestDataFactory) CreateUser(t *testing.T, freeLimit, freeUsed int) string {
	t.Helper()
	var uid string
	err := f.storage.DB.QueryRow(`INSERT INTO users (email, password_hash, free_limit, free_used)
		VALUES ($1, 'hashedpassword', $2, $3) RETURNING uid`,
		uuid.NewString()+"@example.com", freeLimit, freeUsed).Scan(&uid)
	require.NoError(t, err)
	return uid
}

// CreateEntitlement создает тестовый пакет сессий.
func (f *TestDataFactory) CreateEntitlement(t *testing.T, userUID string, total, used int,
	validUntil *time.Time, source models.EntitlementSource, createdAt time.Time) string {
	t.Helper()
	var id string
	err := f.storage.DB.QueryRow(`INSERT INTO entitlements
		(user_uid, sessions_total, sessions_used, valid_until, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		userUID, total, used, validUntil, source, createdAt).Scan(&id)
	require.NoError(t, err)
	return id
}

// CreateSession создает тестовую сессию.
func (f *TestDataFactory) CreateSession(t *testing.T, userUID string, startedAt time.Time,
	duration time.Duration, status models.SessionStatus) string {
	t.Helper()
	var id string
	err := f.storage.DB.QueryRow(`INSERT INTO sessions
		(user_uid, credit_source, duration_minutes, started_at, expires_at, status)
		VALUES ($1, 'free', $2, $3, $4, $5) RETURNING id`,
		userUID, int(duration/time.Minute), startedAt, startedAt.Add(duration), status).Scan(&id)
	require.NoError(t, err)
	return id
}

// CreateMessage создает тестовое сообщение.
func (f *TestDataFactory) CreateMessage(t *testing.T, sessionID, userUID, content string, createdAt time.Time) {
	t.Helper()
	_, err := f.storage.DB.Exec(`INSERT INTO messages (session_id, user_uid, role, content, created_at)
		VALUES ($1, $2, 'user', $3, $4)`, sessionID, userUID, content, createdAt)
	require.NoError(t, err)
}

// TestVerification содержит проверки состояния БД.
type TestVerification struct {
	storage *Storage
}

// NewTestVerification создает новый объект для проверки результатов
func NewTestVerification(storage *Storage) *TestVerification {
	return &TestVerification{storage: storage}
}

// Count возвращает результат произвольного COUNT-запроса.
func (v *TestVerification) Count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, v.storage.DB.QueryRow(query, args...).Scan(&n))
	return n
}

// FreeUsed возвращает free_used пользователя.
func (v *TestVerification) FreeUsed(t *testing.T, userUID string) int {
	return v.Count(t, `SELECT free_used FROM users WHERE uid = $1`, userUID)
}

// PaidUsed возвращает сумму sessions_used по пакетам пользователя.
func (v *TestVerification) PaidUsed(t *testing.T, userUID string) int {
	return v.Count(t, `SELECT COALESCE(SUM(sessions_used), 0) FROM entitlements WHERE user_uid = $1`, userUID)
}

func testNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// setupTestDatabase поднимает PostgreSQL в контейнере и применяет миграции.
func setupTestDatabase(t *testing.T) (*Storage, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start container")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	var storage *Storage
	for range 10 {
		storage, err = New(connStr)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err, "failed to create storage after retries")

	migrationsPath, err := filepath.Abs("../../../migrations")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(storage.DB, migrationsPath), "failed to apply migrations")
	require.NoError(t, CheckDatabaseReady(storage))

	cleanup := func() {
		_ = storage.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return storage, cleanup
}
