// Package services holds the Parcel business logic: sign-in with lockout and
// TOTP, the upload lifecycle, and user, team and API key administration.
// Services sit between the API surface and the repositories; storage errors
// are logged here and leave as common.ErrorInternal.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/BlakeRain/parcel-sub000/internal/logging"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
)

// PreviewQueue accepts upload ids for preview generation. Send must not
// block; it reports false when the request was dropped.
type PreviewQueue interface {
	Send(ids []models.UploadID) bool
}

// passthrough are the error kinds a caller is expected to act on.
var passthrough = []error{
	common.ErrorNotFound,
	common.ErrorConflict,
	common.ErrorValidation,
	common.ErrorForbidden,
	common.ErrorUnauthorized,
	common.ErrorLockedOut,
	common.ErrorDisabled,
}

// internalError returns err unchanged when it is one of the passthrough kinds,
// otherwise logs it and hides it behind common.ErrorInternal.
func internalError(ctx context.Context, log logging.Logger, err error, msg string, args ...any) error {
	for _, kind := range passthrough {
		if errors.Is(err, kind) {
			return err
		}
	}
	log.Error(ctx, msg, append(args, "error", err)...)
	return common.ErrorInternal
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrorValidation, fmt.Sprintf(format, args...))
}

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// validateIdentity checks a username or team slug.
func validateIdentity(what, name string) error {
	if n := len(name); n < 3 || n > 100 {
		return validationError("%s must be between 3 and 100 characters", what)
	}
	if !slugPattern.MatchString(name) {
		return validationError("%s may only contain letters, digits, '-' and '_'", what)
	}
	return nil
}

// normalizeCustomSlug trims s and returns nil for an empty value.
func normalizeCustomSlug(s *string) (*string, error) {
	if s == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil, nil
	}
	if len(v) > 100 {
		return nil, validationError("custom slug must be at most 100 characters")
	}
	if !slugPattern.MatchString(v) {
		return nil, validationError("custom slug may only contain letters, digits, '-' and '_'")
	}
	return &v, nil
}

func validateFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", validationError("filename must not be empty")
	}
	if utf8.RuneCountInString(name) > 255 {
		return "", validationError("filename must be at most 255 characters")
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return "", validationError("filename must not contain path separators")
	}
	return name, nil
}

// normalizeTags trims, dedupes and validates tag names, keeping their order.
// Commas are reserved as the list separator in upload listings.
func normalizeTags(tags []string) ([]string, error) {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if strings.Contains(t, ",") {
			return nil, validationError("tag %q must not contain a comma", t)
		}
		if utf8.RuneCountInString(t) > 50 {
			return nil, validationError("tag %q must be at most 50 characters", t)
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

func validateLimit(what string, limit *int64) error {
	if limit != nil && *limit < 1 {
		return validationError("%s must be at least 1", what)
	}
	return nil
}

func requireActor(actor *models.User) error {
	if actor == nil {
		return common.ErrorUnauthorized
	}
	return nil
}

func requireAdmin(actor *models.User) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !actor.Admin {
		return common.ErrorForbidden
	}
	return nil
}

func equalInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
