package model

import "time"

type MediaKind string

const (
	MediaKindNone     MediaKind = "none"
	MediaKindVideo    MediaKind = "video"
	MediaKindDocument MediaKind = "document"
	MediaKindOther    MediaKind = "other"
)

// Media describes what a message carries. It is built once by the transport
// adapter; MIME is only meaningful for MediaKindDocument and may be empty.
type Media struct {
	Kind MediaKind
	MIME string
}

// ForwardableItem references a message observed in the source channel.
type ForwardableItem struct {
	SourceID   int64
	MessageID  int
	Media      Media
	ReceivedAt time.Time
}
