package model

type ChannelKind string

const (
	ChannelKindChannel ChannelKind = "channel"
	ChannelKindChat    ChannelKind = "chat"
	ChannelKindUser    ChannelKind = "user"
)

type PostPermission string

const (
	PostPermissionUnknown PostPermission = "unknown"
	PostPermissionAllowed PostPermission = "allowed"
	PostPermissionDenied  PostPermission = "denied"
)

// Channel is a resolved source or destination. Handle is owned by the
// transport that produced it and must not be inspected by other packages.
type Channel struct {
	Ref            string
	ID             int64
	Kind           ChannelKind
	Title          string
	PostPermission PostPermission
	Handle         any
}

func (c Channel) String() string {
	if c.Title != "" {
		return c.Title
	}
	return c.Ref
}
