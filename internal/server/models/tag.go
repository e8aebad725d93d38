package models

import "github.com/BlakeRain/parcel-sub000/internal/ids"

type TagID = ids.ID[TagKind]

// Tag is a label in its owner's tag namespace.
type Tag struct {
	ID    TagID
	Name  string
	Owner Owner
}
