package server

import (
	"context"
	"crypto/subtle"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	accesspb "github.com/magabrotheeeer/session-gate/internal/grpc/gen"
)

// APIKeyInterceptor пропускает только вызовы с сервисным ключом apiKey в
// метаданных accesspb.APIKeyMetadata. Пустой apiKey отклоняет все вызовы.
func APIKeyInterceptor(apiKey string, log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !validAPIKey(ctx, apiKey) {
			log.Warn("grpc call rejected: invalid api key", slog.String("method", info.FullMethod))
			return nil, status.Error(codes.Unauthenticated, "invalid api key")
		}
		return handler(ctx, req)
	}
}

func validAPIKey(ctx context.Context, apiKey string) bool {
	if apiKey == "" {
		return false
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return false
	}
	for _, got := range md.Get(accesspb.APIKeyMetadata) {
		if subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) == 1 {
			return true
		}
	}
	return false
}
