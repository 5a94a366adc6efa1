package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/gotd/td/tgerr"

	"vidrelay.app/relay/internal/model"
	"vidrelay.app/relay/internal/transport"
)

func (c *Client) Forward(ctx context.Context, item model.ForwardableItem, source, destination model.Channel) error {
	_, _, sender, err := c.client()
	if err != nil {
		return &transport.ForwardError{Kind: transport.FailureProtocol, Detail: "not connected", Err: err}
	}

	from, err := inputPeer(source)
	if err != nil {
		return &transport.ForwardError{Kind: transport.FailureUnknown, Err: err}
	}
	to, err := inputPeer(destination)
	if err != nil {
		return &transport.ForwardError{Kind: transport.FailureUnknown, Err: err}
	}

	_, err = sender.To(to).ForwardIDs(from, item.MessageID).Send(ctx)
	if err != nil {
		return forwardError(err)
	}
	return nil
}

// forwardError maps RPC errors onto the transport failure taxonomy.
func forwardError(err error) error {
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &transport.ForwardError{Kind: transport.FailureRateLimit, Wait: wait, Detail: "FLOOD_WAIT", Err: err}
	}

	rpcErr, ok := tgerr.As(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) {
			return &transport.ForwardError{Kind: transport.FailureProtocol, Detail: "request timed out", Err: err}
		}
		return &transport.ForwardError{Kind: transport.FailureUnknown, Err: err}
	}

	switch {
	case rpcErr.IsType("SLOWMODE_WAIT"):
		return &transport.ForwardError{
			Kind:   transport.FailureSlowMode,
			Wait:   time.Duration(rpcErr.Argument) * time.Second,
			Detail: rpcErr.Type,
			Err:    err,
		}
	case rpcErr.IsOneOf("CHAT_WRITE_FORBIDDEN", "CHAT_ADMIN_REQUIRED", "CHAT_SEND_MEDIA_FORBIDDEN", "CHAT_SEND_VIDEOS_FORBIDDEN"):
		return &transport.ForwardError{Kind: transport.FailureWriteForbidden, Detail: rpcErr.Type, Err: err}
	case rpcErr.IsType("USER_BANNED_IN_CHANNEL"):
		return &transport.ForwardError{Kind: transport.FailureUserBanned, Detail: rpcErr.Type, Err: err}
	case rpcErr.IsOneOf("MEDIA_EMPTY", "MESSAGE_ID_INVALID"):
		return &transport.ForwardError{Kind: transport.FailureMediaEmpty, Detail: rpcErr.Type, Err: err}
	default:
		return &transport.ForwardError{Kind: transport.FailureProtocol, Detail: rpcErr.Type, Err: err}
	}
}
