package grpc

import (
	"context"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
	"github.com/BlakeRain/parcel-sub000/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// clientAddr collects the peer address and any forwarding headers.
func clientAddr(ctx context.Context) services.ClientAddr {
	var addr services.ClientAddr
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		addr.Peer = p.Addr.String()
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		addr.ForwardedFor = firstValue(md, common.ForwardedForHeaderName)
		addr.RealIP = firstValue(md, common.RealIPHeaderName)
	}
	return addr
}

func signInReply(res *services.SignInResult) (*structpb.Struct, error) {
	if res.State == services.SignInAwaitingTotp {
		return toStruct(map[string]any{
			"state":           "totp_required",
			"challenge_token": res.ChallengeToken,
		})
	}
	return toStruct(map[string]any{
		"state":        "authenticated",
		"access_token": res.SessionToken,
		"user":         userMap(res.User),
	})
}

func (s *GRPCServer) SignIn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	username := stringField(req, "username")
	if username == "" {
		return nil, status.Error(codes.InvalidArgument, "username is required")
	}

	res, err := s.auth.SignIn(ctx, services.Credentials{
		Username: username,
		Password: stringField(req, "password"),
		Addr:     clientAddr(ctx),
	})
	if err != nil {
		return nil, toStatus(err)
	}

	s.logger.Info(ctx, "Signed in", "username", username, "totp", res.State == services.SignInAwaitingTotp)
	return signInReply(res)
}

func (s *GRPCServer) VerifyTotp(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.auth.VerifyTotp(ctx, services.TotpRequest{
		ChallengeToken: stringField(req, "challenge_token"),
		Code:           stringField(req, "code"),
		Addr:           clientAddr(ctx),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return signInReply(res)
}

func (s *GRPCServer) Me(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return toStruct(userMap(actor))
}

// requestOwner reads the optional "team" and "all" fields. Without either,
// the actor's own uploads are meant.
func requestOwner(req *structpb.Struct, actor *models.User) (*models.Owner, error) {
	if all := boolField(req, "all"); all != nil && *all {
		return nil, nil
	}
	if team := stringField(req, "team"); team != "" {
		id, err := parseID[models.TeamKind]("team", team)
		if err != nil {
			return nil, err
		}
		owner := models.TeamOwner(id)
		return &owner, nil
	}
	owner := models.UserOwner(actor.ID)
	return &owner, nil
}

func (s *GRPCServer) ListUploads(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	owner, err := requestOwner(req, actor)
	if err != nil {
		return nil, err
	}
	offset, err := uintField(req, "offset")
	if err != nil {
		return nil, err
	}
	limit, err := uintField(req, "limit")
	if err != nil {
		return nil, err
	}

	page, err := s.uploads.ListUploads(ctx, actor, owner, services.ListQuery{
		Search: stringField(req, "search"),
		Order:  models.UploadOrder(stringField(req, "order")),
		Asc:    boolField(req, "asc"),
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	items := make([]any, 0, len(page.Uploads))
	for i := range page.Uploads {
		items = append(items, uploadItemMap(&page.Uploads[i]))
	}
	return toStruct(map[string]any{
		"uploads": items,
		"total":   page.Total,
		"offset":  page.Offset,
		"limit":   page.Limit,
	})
}

func (s *GRPCServer) GetUpload(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID[models.UploadKind]("id", stringField(req, "id"))
	if err != nil {
		return nil, err
	}

	upload, err := s.uploads.Get(ctx, actor, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(uploadMap(upload))
}

func (s *GRPCServer) DeleteUploads(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	uploadIDs, err := uploadIDsField(req, "ids")
	if err != nil {
		return nil, err
	}
	if len(uploadIDs) == 0 {
		return nil, status.Error(codes.InvalidArgument, "ids is required")
	}

	n, err := s.uploads.BulkDelete(ctx, actor, uploadIDs)
	if err != nil {
		return nil, toStatus(err)
	}

	s.logger.Info(ctx, "Deleted uploads", "user_id", actor.ID.String(), "count", n)
	return toStruct(map[string]any{"deleted": n})
}

func (s *GRPCServer) UploadStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	owner, err := requestOwner(req, actor)
	if err != nil {
		return nil, err
	}

	stats, err := s.uploads.Stats(ctx, actor, owner)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(statsMap(stats))
}

func (s *GRPCServer) ListTeams(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	memberships, err := s.teams.TeamsForUser(ctx, actor)
	if err != nil {
		return nil, toStatus(err)
	}

	teams := make([]any, 0, len(memberships))
	for i := range memberships {
		teams = append(teams, membershipMap(&memberships[i]))
	}
	return toStruct(map[string]any{"teams": teams})
}
