// Package classifier decides which source messages the relay forwards.
package classifier

import (
	"strings"

	"vidrelay.app/relay/internal/model"
)

const (
	LabelVideo         = "video"
	LabelVideoDocument = "video (document)"

	videoMIMEPrefix = "video/"
)

// Classify reports whether media qualifies for forwarding and a label for logs.
// A native video wins over the document MIME check; an empty MIME never qualifies.
func Classify(media model.Media) (bool, string) {
	switch media.Kind {
	case model.MediaKindVideo:
		return true, LabelVideo
	case model.MediaKindDocument:
		if media.MIME != "" && strings.HasPrefix(media.MIME, videoMIMEPrefix) {
			return true, LabelVideoDocument
		}
		return false, ""
	case model.MediaKindNone, model.MediaKindOther:
		return false, ""
	default:
		return false, ""
	}
}
