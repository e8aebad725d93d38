package models

// Identifier kinds. IDs are parameterised over these markers, not over the
// entity structs that hold them.
type (
	UserKind         struct{}
	TeamKind         struct{}
	UploadKind       struct{}
	ApiKeyKind       struct{}
	TagKind          struct{}
	LoginAttemptKind struct{}
)
