// Package access decides whether an actor may perform an action on an upload.
package access

import "fmt"

type Kind int

const (
	View Kind = iota + 1
	Download
	Share
	ResetDownloads
	Edit
	Transfer
	Delete
)

func (k Kind) String() string {
	switch k {
	case View:
		return "view"
	case Download:
		return "download"
	case Share:
		return "share"
	case ResetDownloads:
		return "reset_downloads"
	case Edit:
		return "edit"
	case Transfer:
		return "transfer"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Action is what the actor wants to do. WithPassword only matters for
// Download: it says whether the request carries a password.
type Action struct {
	Kind         Kind
	WithPassword bool
}

var (
	ActionView           = Action{Kind: View}
	ActionShare          = Action{Kind: Share}
	ActionResetDownloads = Action{Kind: ResetDownloads}
	ActionEdit           = Action{Kind: Edit}
	ActionTransfer       = Action{Kind: Transfer}
	ActionDelete         = Action{Kind: Delete}
)

func ActionDownload(withPassword bool) Action {
	return Action{Kind: Download, WithPassword: withPassword}
}

func (a Action) String() string {
	if a.Kind == Download {
		return fmt.Sprintf("download(with_password=%t)", a.WithPassword)
	}
	return a.Kind.String()
}
