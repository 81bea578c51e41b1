// Package client содержит клиент внутреннего gRPC API движка доступа.
package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	accesspb "github.com/magabrotheeeer/session-gate/internal/grpc/gen"
	"github.com/magabrotheeeer/session-gate/internal/models"
)

// AccessClient обёртка над accesspb.AccessServiceClient с доменными типами.
type AccessClient struct {
	conn   *grpc.ClientConn
	client accesspb.AccessServiceClient
}

// NewAccessClient создаёт клиента, который передаёт apiKey в метаданных каждого
// вызова. Соединение устанавливается лениво при первом вызове.
func NewAccessClient(addr, apiKey string, opts ...grpc.DialOption) (*AccessClient, error) {
	const op = "client.NewAccessClient"
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(apiKeyInterceptor(apiKey)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &AccessClient{conn: conn, client: accesspb.NewAccessServiceClient(conn)}, nil
}

func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, accesspb.APIKeyMetadata, apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Close закрывает соединение.
func (a *AccessClient) Close() error {
	return a.conn.Close()
}

// IssueToken выпускает токен для subject.
func (a *AccessClient) IssueToken(ctx context.Context, subject string) (*models.IssuedToken, error) {
	resp, err := a.client.IssueToken(ctx, wrapperspb.String(subject))
	if err != nil {
		return nil, err
	}
	fields := resp.GetFields()
	expiresAt, _ := time.Parse(time.RFC3339, fields["expires_at"].GetStringValue())
	return &models.IssuedToken{
		Token:     fields["token"].GetStringValue(),
		ExpiresAt: expiresAt,
		ExpiresIn: int(fields["expires_in"].GetNumberValue()),
	}, nil
}

// VerifyToken проверяет токен.
func (a *AccessClient) VerifyToken(ctx context.Context, token string) (*models.Verification, error) {
	resp, err := a.client.VerifyToken(ctx, wrapperspb.String(token))
	if err != nil {
		return nil, err
	}
	fields := resp.GetFields()
	expiresAt, _ := time.Parse(time.RFC3339, fields["expires_at"].GetStringValue())
	v := &models.Verification{
		Subject:   fields["subject"].GetStringValue(),
		ExpiresAt: expiresAt,
	}
	if fields["renewed"].GetBoolValue() {
		v.Renewed = &models.IssuedToken{
			Token:     fields["new_token"].GetStringValue(),
			ExpiresIn: int(fields["new_expires_in"].GetNumberValue()),
		}
	}
	return v, nil
}

// GrantEntitlement выдаёт пакет сессий.
func (a *AccessClient) GrantEntitlement(ctx context.Context, g models.Grant) (*models.GrantResult, error) {
	req, err := structpb.NewStruct(map[string]any{
		"user_uid":        g.UserUID,
		"sessions":        g.Sessions,
		"source":          string(g.Source),
		"order_reference": g.OrderReference,
		"valid_days":      g.ValidDays,
	})
	if err != nil {
		return nil, fmt.Errorf("client.GrantEntitlement: %w", err)
	}

	resp, err := a.client.GrantEntitlement(ctx, req)
	if err != nil {
		return nil, err
	}
	fields := resp.GetFields()
	ent := &models.Entitlement{
		UUID:          fields["entitlement_id"].GetStringValue(),
		UserUID:       g.UserUID,
		SessionsTotal: int(fields["sessions_total"].GetNumberValue()),
		SessionsUsed:  int(fields["sessions_used"].GetNumberValue()),
		Source:        models.EntitlementSource(fields["source"].GetStringValue()),
	}
	if raw := fields["valid_until"].GetStringValue(); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			ent.ValidUntil = &t
		}
	}
	return &models.GrantResult{
		Entitlement:      ent,
		AlreadyProcessed: fields["already_processed"].GetBoolValue(),
	}, nil
}

// RunRetentionSweep запускает чистку. batch <= 0 означает размер по умолчанию сервера.
func (a *AccessClient) RunRetentionSweep(ctx context.Context, batch int) (int, error) {
	resp, err := a.client.RunRetentionSweep(ctx, wrapperspb.Int32(int32(batch)))
	if err != nil {
		return 0, err
	}
	return int(resp.GetValue()), nil
}
