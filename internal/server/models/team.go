package models

import (
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/ids"
)

type TeamID = ids.ID[TeamKind]

// Team owns uploads on behalf of its members. Slug shares the identity
// namespace with User.Username.
type Team struct {
	ID        TeamID
	Name      string
	Slug      string
	Limit     *int64 // bytes
	Enabled   bool
	CreatedAt time.Time
	CreatedBy *UserID
}

// Capabilities are the per-member team permissions.
type Capabilities struct {
	CanEdit   bool
	CanDelete bool
	CanConfig bool
}

// TeamMember is the (team, user) membership row.
type TeamMember struct {
	Team TeamID
	User UserID
	Capabilities
}

// TeamMemberInfo is a membership joined with the member's identity.
type TeamMemberInfo struct {
	TeamMember
	Username string
	Name     string
}

// TeamMembership is a membership joined with the team, as listed for a user.
type TeamMembership struct {
	TeamMember
	TeamName    string
	TeamSlug    string
	TeamEnabled bool
}

// MemberPermissions is one row of a batched permission update or join.
type MemberPermissions struct {
	Team TeamID
	User UserID
	Capabilities
}
