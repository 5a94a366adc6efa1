package telegram

import (
	"context"
	"log/slog"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"vidrelay.app/relay/internal/model"
)

// gapObserver logs update gaps before handing the batch to the updates
// manager, which recovers them with getDifference or getChannelDifference.
type gapObserver struct {
	client *Client
	next   telegram.UpdateHandler
}

func (g gapObserver) Handle(ctx context.Context, u tg.UpdatesClass) error {
	switch v := u.(type) {
	case *tg.UpdatesTooLong:
		slog.WarnContext(ctx, "telegram reported an update gap, fetching missed updates")
	case *tg.Updates:
		g.observe(ctx, v.Updates)
	case *tg.UpdatesCombined:
		g.observe(ctx, v.Updates)
	}
	return g.next.Handle(ctx, u)
}

func (g gapObserver) observe(ctx context.Context, updates []tg.UpdateClass) {
	for _, upd := range updates {
		if tooLong, ok := upd.(*tg.UpdateChannelTooLong); ok {
			slog.WarnContext(ctx, "channel update gap, fetching missed messages",
				"channel_id", tooLong.ChannelID,
				"source", g.client.subscribed(model.ChannelKindChannel, tooLong.ChannelID))
		}
	}
}

// channelTooLong runs when a channel gap is too large to recover. Messages
// posted during the gap are not delivered.
func (c *Client) channelTooLong(channelID int64) {
	slog.Error("channel gap too large to recover, some messages were not relayed",
		"channel_id", channelID,
		"source", c.subscribed(model.ChannelKindChannel, channelID))
}

func (c *Client) subscribed(kind model.ChannelKind, id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, sub := range c.subs {
		if sub.source.Kind == kind && sub.source.ID == id {
			return true
		}
	}
	return false
}
