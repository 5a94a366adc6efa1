package telegram

import (
	"context"
	"log/slog"

	"github.com/gotd/td/tg"

	"vidrelay.app/relay/internal/model"
	"vidrelay.app/relay/internal/transport"
)

type subscription struct {
	source  model.Channel
	handler transport.Handler
}

func (c *Client) Subscribe(source model.Channel, h transport.Handler) error {
	if _, err := inputPeer(source); err != nil {
		return err
	}
	c.mu.Lock()
	c.subs = append(c.subs, subscription{source: source, handler: h})
	c.mu.Unlock()
	return nil
}

func (c *Client) dispatch(ctx context.Context, raw tg.MessageClass) {
	msg, ok := raw.(*tg.Message)
	if !ok {
		return
	}

	kind, id, ok := peerOf(msg.PeerID)
	if !ok {
		return
	}

	c.mu.RLock()
	subs := c.subs
	c.mu.RUnlock()

	for _, sub := range subs {
		if sub.source.Kind != kind || sub.source.ID != id {
			continue
		}
		item := model.ForwardableItem{
			SourceID:   id,
			MessageID:  msg.ID,
			Media:      mediaOf(msg.Media),
			ReceivedAt: c.now(),
		}
		slog.DebugContext(ctx, "new message in source",
			"message_id", msg.ID,
			"media_kind", string(item.Media.Kind))
		sub.handler(ctx, item)
	}
}

func peerOf(p tg.PeerClass) (model.ChannelKind, int64, bool) {
	switch v := p.(type) {
	case *tg.PeerChannel:
		return model.ChannelKindChannel, v.ChannelID, true
	case *tg.PeerChat:
		return model.ChannelKindChat, v.ChatID, true
	case *tg.PeerUser:
		return model.ChannelKindUser, v.UserID, true
	default:
		return "", 0, false
	}
}

// mediaOf reduces Telegram's media union to the kinds the classifier needs.
// A document counts as a video when it carries a non-round video attribute.
func mediaOf(m tg.MessageMediaClass) model.Media {
	switch v := m.(type) {
	case nil, *tg.MessageMediaEmpty:
		return model.Media{Kind: model.MediaKindNone}
	case *tg.MessageMediaDocument:
		doc, ok := v.Document.(*tg.Document)
		if !ok {
			return model.Media{Kind: model.MediaKindOther}
		}
		for _, attr := range doc.Attributes {
			if video, ok := attr.(*tg.DocumentAttributeVideo); ok && !video.RoundMessage {
				return model.Media{Kind: model.MediaKindVideo, MIME: doc.MimeType}
			}
		}
		return model.Media{Kind: model.MediaKindDocument, MIME: doc.MimeType}
	default:
		return model.Media{Kind: model.MediaKindOther}
	}
}
