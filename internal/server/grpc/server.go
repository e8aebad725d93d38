package grpc

import (
	"context"
	"net"

	"github.com/BlakeRain/parcel-sub000/internal/logging"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
	"github.com/BlakeRain/parcel-sub000/internal/server/services"
	"google.golang.org/grpc"
)

// Authenticator verifies sign-in credentials and session tokens.
type Authenticator interface {
	SignIn(ctx context.Context, creds services.Credentials) (*services.SignInResult, error)
	VerifyTotp(ctx context.Context, req services.TotpRequest) (*services.SignInResult, error)
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// ApiKeys resolves an API key to its owner.
type ApiKeys interface {
	Authenticate(ctx context.Context, code string) (*models.User, error)
}

type Uploads interface {
	ListUploads(ctx context.Context, actor *models.User, owner *models.Owner, q services.ListQuery) (*services.UploadPage, error)
	Get(ctx context.Context, actor *models.User, id models.UploadID) (*models.Upload, error)
	BulkDelete(ctx context.Context, actor *models.User, ids []models.UploadID) (int, error)
	Stats(ctx context.Context, actor *models.User, owner *models.Owner) (models.UploadStats, error)
}

type Teams interface {
	TeamsForUser(ctx context.Context, actor *models.User) ([]models.TeamMembership, error)
}

type GRPCServer struct {
	address string
	auth    Authenticator
	apiKeys ApiKeys
	uploads Uploads
	teams   Teams
	logger  logging.Logger
}

func NewGRPCServer(address string, l logging.Logger, auth Authenticator, apiKeys ApiKeys, uploads Uploads, teams Teams) *GRPCServer {
	return &GRPCServer{
		address: address,
		logger:  l.With("module", "grpc_server"),
		auth:    auth,
		apiKeys: apiKeys,
		uploads: uploads,
		teams:   teams,
	}
}

// NewServer returns a grpc.Server with the Parcel service and its
// authentication interceptor registered.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.actorInterceptor))
	srv := grpc.NewServer(opts...)
	RegisterParcelServer(srv, s)
	return srv
}

// Run serves until ctx is cancelled, then stops gracefully.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

func (s *GRPCServer) Serve(ctx context.Context, listen net.Listener) error {
	srv := s.NewServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
