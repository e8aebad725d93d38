package grpc

import (
	"fmt"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/ids"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func stringField(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func boolField(req *structpb.Struct, key string) *bool {
	v, ok := req.GetFields()[key]
	if !ok {
		return nil
	}
	if _, isBool := v.GetKind().(*structpb.Value_BoolValue); !isBool {
		return nil
	}
	b := v.GetBoolValue()
	return &b
}

func uintField(req *structpb.Struct, key string) (uint64, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return 0, nil
	}
	n := v.GetNumberValue()
	if n < 0 || n != float64(uint64(n)) {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a non-negative integer", key)
	}
	return uint64(n), nil
}

func parseID[T any](key, s string) (ids.ID[T], error) {
	id, err := ids.Parse[T](s)
	if err != nil {
		return id, status.Errorf(codes.InvalidArgument, "invalid %s", key)
	}
	return id, nil
}

func uploadIDsField(req *structpb.Struct, key string) ([]models.UploadID, error) {
	values := req.GetFields()[key].GetListValue().GetValues()
	out := make([]models.UploadID, 0, len(values))
	for _, v := range values {
		id, err := parseID[models.UploadKind](key, v.GetStringValue())
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func optInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func optString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func optTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC().Format(time.RFC3339)
}

func optDate(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC().Format(time.DateOnly)
}

func ownerMap(o models.Owner) map[string]any {
	m := map[string]any{"kind": o.Kind().String()}
	if id, ok := o.User(); ok {
		m["id"] = id.String()
	}
	if id, ok := o.Team(); ok {
		m["id"] = id.String()
	}
	return m
}

func userMap(u *models.User) map[string]any {
	return map[string]any{
		"id":            u.ID.String(),
		"username":      u.Username,
		"name":          u.Name,
		"admin":         u.Admin,
		"enabled":       u.Enabled,
		"has_totp":      u.HasTotp(),
		"limit":         optInt(u.Limit),
		"created_at":    u.CreatedAt.UTC().Format(time.RFC3339),
		"last_access":   optTime(u.LastAccess),
		"default_order": string(u.DefaultOrder),
		"default_asc":   u.DefaultAsc,
	}
}

func uploadMap(u *models.Upload) map[string]any {
	return map[string]any{
		"id":            u.ID.String(),
		"slug":          u.Slug,
		"filename":      u.Filename,
		"size":          u.Size,
		"public":        u.Public,
		"downloads":     u.Downloads,
		"limit":         optInt(u.Limit),
		"remaining":     optInt(u.Remaining),
		"expiry_date":   optDate(u.ExpiryDate),
		"has_password":  u.HasPassword(),
		"custom_slug":   optString(u.CustomSlug),
		"owner":         ownerMap(u.Owner),
		"uploaded_at":   u.UploadedAt.UTC().Format(time.RFC3339),
		"mime_type":     optString(u.MimeType),
		"has_preview":   u.HasPreview,
		"preview_error": optString(u.PreviewError),
	}
}

func uploadItemMap(item *models.UploadListItem) map[string]any {
	m := uploadMap(&item.Upload)
	m["owner_slug"] = item.OwnerSlug
	m["uploaded_by"] = optString(item.UploaderName)
	tags := make([]any, 0, len(item.Tags))
	for _, t := range item.Tags {
		tags = append(tags, t)
	}
	m["tags"] = tags
	return m
}

func membershipMap(m *models.TeamMembership) map[string]any {
	return map[string]any{
		"id":         m.Team.String(),
		"name":       m.TeamName,
		"slug":       m.TeamSlug,
		"enabled":    m.TeamEnabled,
		"can_edit":   m.CanEdit,
		"can_delete": m.CanDelete,
		"can_config": m.CanConfig,
	}
}

func statsMap(s models.UploadStats) map[string]any {
	return map[string]any{
		"total":     s.Total,
		"public":    s.Public,
		"downloads": s.Downloads,
		"size":      s.Size,
	}
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode reply: %v", err))
	}
	return out, nil
}
