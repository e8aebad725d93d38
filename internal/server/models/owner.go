package models

import (
	"fmt"

	"github.com/BlakeRain/parcel-sub000/internal/ids"
)

// OwnerKind tags which principal owns an upload or tag.
type OwnerKind int

const (
	OwnerUser OwnerKind = iota + 1
	OwnerTeam
)

func (k OwnerKind) String() string {
	switch k {
	case OwnerUser:
		return "user"
	case OwnerTeam:
		return "team"
	default:
		return "none"
	}
}

// Owner is exactly one of a user or a team. The zero value is invalid.
type Owner struct {
	kind OwnerKind
	user UserID
	team TeamID
}

func UserOwner(id UserID) Owner { return Owner{kind: OwnerUser, user: id} }
func TeamOwner(id TeamID) Owner { return Owner{kind: OwnerTeam, team: id} }

func (o Owner) Kind() OwnerKind { return o.kind }
func (o Owner) IsValid() bool   { return o.kind == OwnerUser || o.kind == OwnerTeam }

// User returns the owning user, if the owner is a user.
func (o Owner) User() (UserID, bool) { return o.user, o.kind == OwnerUser }

// Team returns the owning team, if the owner is a team.
func (o Owner) Team() (TeamID, bool) { return o.team, o.kind == OwnerTeam }

// Columns splits the owner into the two nullable storage columns.
func (o Owner) Columns() (ids.Null[UserKind], ids.Null[TeamKind]) {
	switch o.kind {
	case OwnerUser:
		return ids.Some(o.user), ids.Null[TeamKind]{}
	case OwnerTeam:
		return ids.Null[UserKind]{}, ids.Some(o.team)
	default:
		return ids.Null[UserKind]{}, ids.Null[TeamKind]{}
	}
}

// OwnerFromColumns rebuilds an owner from the nullable storage columns,
// rejecting rows where both or neither are set.
func OwnerFromColumns(user ids.Null[UserKind], team ids.Null[TeamKind]) (Owner, error) {
	switch {
	case user.Valid && !team.Valid:
		return UserOwner(user.ID), nil
	case team.Valid && !user.Valid:
		return TeamOwner(team.ID), nil
	default:
		return Owner{}, fmt.Errorf("owner must be exactly one of user or team (user=%v, team=%v)", user.Valid, team.Valid)
	}
}

func (o Owner) String() string {
	switch o.kind {
	case OwnerUser:
		return "user:" + o.user.String()
	case OwnerTeam:
		return "team:" + o.team.String()
	default:
		return "none"
	}
}
