// Package server реализует внутренний gRPC-сервер движка доступа.
//
// AccessServer выпускает и проверяет токены для соседних сервисов, выдаёт
// пакеты сессий после оплаты и позволяет запустить чистку истории вручную.
// Ошибки домена переводятся в коды gRPC.
package server

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	accesspb "github.com/magabrotheeeer/session-gate/internal/grpc/gen"
	"github.com/magabrotheeeer/session-gate/internal/lib/jwt"
	"github.com/magabrotheeeer/session-gate/internal/lib/sl"
	"github.com/magabrotheeeer/session-gate/internal/models"
	creditsvc "github.com/magabrotheeeer/session-gate/internal/services/credits"
	retentionsvc "github.com/magabrotheeeer/session-gate/internal/services/retention"
	"github.com/magabrotheeeer/session-gate/internal/storage"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// TokenService описывает выпуск и проверку токенов.
type TokenService interface {
	Issue(subject string) (*models.IssuedToken, error)
	VerifyAndMaybeRefresh(token string) (*models.Verification, error)
}

// EntitlementGranter описывает выдачу пакетов сессий.
type EntitlementGranter interface {
	Grant(ctx context.Context, g models.Grant) (*models.GrantResult, error)
}

// Sweeper описывает запуск чистки истории под распределённой блокировкой.
type Sweeper interface {
	RunExclusiveSweep(ctx context.Context, batchSize int) (int, error)
}

// AccessServer реализует accesspb.AccessServiceServer.
type AccessServer struct {
	accesspb.UnimplementedAccessServiceServer
	tokens       TokenService
	credits      EntitlementGranter
	sweeper      Sweeper
	defaultBatch int
	log          *slog.Logger
}

// NewAccessServer создает новый экземпляр AccessServer. defaultBatch
// используется, если размер партии в запросе не задан.
func NewAccessServer(tokens TokenService, credits EntitlementGranter, sweeper Sweeper, defaultBatch int,
	logger *slog.Logger) *AccessServer {
	return &AccessServer{
		tokens:       tokens,
		credits:      credits,
		sweeper:      sweeper,
		defaultBatch: defaultBatch,
		log:          logger,
	}
}

// IssueToken выпускает токен для subject.
func (s *AccessServer) IssueToken(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	subject := req.GetValue()
	if subject == "" {
		return nil, status.Error(codes.InvalidArgument, "subject is required")
	}

	token, err := s.tokens.Issue(subject)
	if err != nil {
		s.log.Error("IssueToken failed", sl.UserID(subject), sl.Err(err))
		return nil, status.Error(codes.Internal, "could not issue token")
	}

	return structpb.NewStruct(map[string]any{
		"token":      token.Token,
		"expires_in": token.ExpiresIn,
		"expires_at": token.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// VerifyToken проверяет токен. Ошибка проверки возвращается как Unauthenticated
// с машинно-читаемой причиной в тексте.
func (s *AccessServer) VerifyToken(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.Unauthenticated, "missing_token")
	}

	v, err := s.tokens.VerifyAndMaybeRefresh(req.GetValue())
	if err != nil {
		reason := "malformed_token"
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			reason = "token_expired"
		case errors.Is(err, jwt.ErrTokenSignature):
			reason = "invalid_signature"
		}
		s.log.Info("VerifyToken rejected", slog.String("reason", reason))
		return nil, status.Error(codes.Unauthenticated, reason)
	}

	fields := map[string]any{
		"subject":    v.Subject,
		"expires_at": v.ExpiresAt.UTC().Format(time.RFC3339),
		"renewed":    v.Renewed != nil,
	}
	if v.Renewed != nil {
		fields["new_token"] = v.Renewed.Token
		fields["new_expires_in"] = v.Renewed.ExpiresIn
	}
	return structpb.NewStruct(fields)
}

// GrantEntitlement выдаёт пакет сессий. Поля запроса: user_uid, sessions,
// source, order_reference, valid_days.
func (s *AccessServer) GrantEntitlement(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	sessions, ok := wholeNumber(fields["sessions"])
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "sessions must be a whole number")
	}
	validDays, ok := wholeNumber(fields["valid_days"])
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "valid_days must be a whole number")
	}
	g := models.Grant{
		UserUID:        fields["user_uid"].GetStringValue(),
		Sessions:       sessions,
		Source:         models.EntitlementSource(fields["source"].GetStringValue()),
		OrderReference: fields["order_reference"].GetStringValue(),
		ValidDays:      validDays,
	}
	if g.UserUID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_uid is required")
	}
	if g.Source == "" {
		g.Source = models.EntitlementPurchase
	}

	res, err := s.credits.Grant(ctx, g)
	if err != nil {
		switch {
		case errors.Is(err, creditsvc.ErrInvalidGrant):
			return nil, status.Error(codes.InvalidArgument, "invalid grant")
		case errors.Is(err, storage.ErrUserNotFound):
			return nil, status.Error(codes.NotFound, "user not found")
		}
		s.log.Error("GrantEntitlement failed", sl.UserID(g.UserUID), sl.Err(err))
		return nil, status.Error(codes.Internal, "could not grant entitlement")
	}

	out := map[string]any{
		"entitlement_id":    res.Entitlement.UUID,
		"sessions_total":    res.Entitlement.SessionsTotal,
		"sessions_used":     res.Entitlement.SessionsUsed,
		"source":            string(res.Entitlement.Source),
		"already_processed": res.AlreadyProcessed,
	}
	if res.Entitlement.ValidUntil != nil {
		out["valid_until"] = res.Entitlement.ValidUntil.UTC().Format(time.RFC3339)
	}
	return structpb.NewStruct(out)
}

// RunRetentionSweep запускает одну партию чистки истории.
func (s *AccessServer) RunRetentionSweep(ctx context.Context, req *wrapperspb.Int32Value) (*wrapperspb.Int32Value, error) {
	batch := int(req.GetValue())
	if batch <= 0 {
		batch = s.defaultBatch
	}

	purged, err := s.sweeper.RunExclusiveSweep(ctx, batch)
	if err != nil {
		if errors.Is(err, retentionsvc.ErrSweepInProgress) {
			return nil, status.Error(codes.Aborted, "retention sweep is already running")
		}
		s.log.Error("RunRetentionSweep failed", sl.Err(err))
		return nil, status.Error(codes.Internal, "retention sweep failed")
	}
	return wrapperspb.Int32(int32(purged)), nil
}

// wholeNumber читает целое число из поля Struct. Отсутствующее поле даёт 0,
// дробное или нечисловое значение отклоняется.
func wholeNumber(v *structpb.Value) (int, bool) {
	if v == nil {
		return 0, true
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	f := n.NumberValue
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
