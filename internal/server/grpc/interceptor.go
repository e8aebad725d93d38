package grpc

import (
	"context"
	"errors"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const actorKey ctxKey = "actor"

// publicMethods need no actor.
var publicMethods = map[string]struct{}{
	FullMethod("SignIn"):     {},
	FullMethod("VerifyTotp"): {},
}

// actorInterceptor resolves the caller from an API key or a session token
// and stores it in the context.
func (s *GRPCServer) actorInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if _, ok := publicMethods[info.FullMethod]; ok {
		return handler(ctx, req)
	}

	md, _ := metadata.FromIncomingContext(ctx)

	var (
		actor *models.User
		err   error
	)
	switch {
	case firstValue(md, common.ApiKeyHeaderName) != "":
		actor, err = s.apiKeys.Authenticate(ctx, firstValue(md, common.ApiKeyHeaderName))
	case firstValue(md, common.AccessTokenHeaderName) != "":
		actor, err = s.auth.Authenticate(ctx, firstValue(md, common.AccessTokenHeaderName))
	default:
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}
	if err != nil {
		if errors.Is(err, common.ErrorInternal) {
			return nil, status.Error(codes.Internal, "internal error")
		}
		s.logger.Info(ctx, "rejected credentials", "method", info.FullMethod, "error", err)
		return nil, status.Error(codes.Unauthenticated, "invalid credentials")
	}

	return handler(context.WithValue(ctx, actorKey, actor), req)
}

func actorFromContext(ctx context.Context) (*models.User, error) {
	actor, ok := ctx.Value(actorKey).(*models.User)
	if !ok || actor == nil {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	return actor, nil
}

func firstValue(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

// toStatus maps service errors onto gRPC status codes. Anything unexpected
// becomes an opaque Internal.
func toStatus(err error) error {
	switch {
	case errors.Is(err, common.ErrorValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, common.ErrorConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, common.ErrorForbidden):
		return status.Error(codes.PermissionDenied, "forbidden")
	case errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, common.ErrorLockedOut):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, common.ErrorDisabled):
		return status.Error(codes.PermissionDenied, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
