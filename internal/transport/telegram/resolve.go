package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/telegram/query"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"

	"vidrelay.app/relay/internal/model"
	"vidrelay.app/relay/internal/transport"
)

// channelIDPrefix marks a supergroup or broadcast channel in bot-API style IDs.
const channelIDPrefix = -1000000000000

var errUnsupportedRef = errors.New("private invite links are not supported, use the numeric ID")

// handle is stored in model.Channel.Handle.
type handle struct {
	input tg.InputPeerClass
}

type refKind int

const (
	refUsername refKind = iota
	refNumeric
)

type parsedRef struct {
	kind     refKind
	username string
	id       int64
	// idKind is empty when a bare positive ID could be any peer type.
	idKind model.ChannelKind
}

// parseRef accepts @name, name, t.me/name, https://t.me/name, -100<id>, -<id>
// and bare numeric IDs.
func parseRef(ref string) (parsedRef, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return parsedRef{}, errors.New("empty reference")
	}

	if n, err := strconv.ParseInt(ref, 10, 64); err == nil {
		switch {
		case n < channelIDPrefix:
			return parsedRef{kind: refNumeric, id: channelIDPrefix - n, idKind: model.ChannelKindChannel}, nil
		case n < 0:
			return parsedRef{kind: refNumeric, id: -n, idKind: model.ChannelKindChat}, nil
		case n > 0:
			return parsedRef{kind: refNumeric, id: n}, nil
		default:
			return parsedRef{}, errors.New("zero is not a valid ID")
		}
	}

	name := ref
	for _, prefix := range []string{"https://", "http://"} {
		name = strings.TrimPrefix(name, prefix)
	}
	for _, host := range []string{"t.me/", "telegram.me/"} {
		if rest, ok := strings.CutPrefix(name, host); ok {
			if strings.HasPrefix(rest, "+") || strings.HasPrefix(rest, "joinchat/") {
				return parsedRef{}, errUnsupportedRef
			}
			name, _, _ = strings.Cut(rest, "/")
			break
		}
	}
	name = strings.TrimPrefix(name, "@")
	if name == "" || strings.ContainsAny(name, " /?") {
		return parsedRef{}, fmt.Errorf("malformed reference %q", ref)
	}
	return parsedRef{kind: refUsername, username: name}, nil
}

func (c *Client) Resolve(ctx context.Context, ref string) (model.Channel, error) {
	api, mgr, _, err := c.client()
	if err != nil {
		return model.Channel{}, &transport.ResolveError{Ref: ref, Err: err}
	}

	parsed, err := parseRef(ref)
	if err != nil {
		return model.Channel{}, &transport.ResolveError{Ref: ref, Err: err}
	}

	var ch model.Channel
	switch parsed.kind {
	case refNumeric:
		ch, err = findInDialogs(ctx, api, parsed)
	default:
		ch, err = resolveUsername(ctx, mgr, parsed.username)
	}
	if err != nil {
		return model.Channel{}, &transport.ResolveError{Ref: ref, Err: err}
	}
	ch.Ref = ref
	return ch, nil
}

func resolveUsername(ctx context.Context, mgr *peers.Manager, username string) (model.Channel, error) {
	p, err := mgr.Resolve(ctx, "@"+username)
	if err != nil {
		return model.Channel{}, err
	}

	ch := model.Channel{
		ID:    p.ID(),
		Title: p.VisibleName(),
	}
	switch v := p.(type) {
	case peers.Channel:
		ch.Kind = model.ChannelKindChannel
		ch.PostPermission = channelPermission(v.Raw())
		ch.Handle = handle{input: v.InputPeer()}
	case peers.Chat:
		ch.Kind = model.ChannelKindChat
		ch.PostPermission = chatPermission(v.Raw())
		ch.Handle = handle{input: v.InputPeer()}
	default:
		ch.Kind = model.ChannelKindUser
		ch.PostPermission = model.PostPermissionAllowed
		ch.Handle = handle{input: p.InputPeer()}
	}
	return ch, nil
}

var errFound = errors.New("found")

// findInDialogs looks a numeric ID up among the account's dialogs. Access
// hashes for private channels are only obtainable this way.
func findInDialogs(ctx context.Context, api *tg.Client, ref parsedRef) (model.Channel, error) {
	var found model.Channel

	err := query.GetDialogs(api).BatchSize(100).ForEach(ctx, func(_ context.Context, elem dialogs.Elem) error {
		ch, ok := matchDialog(elem, ref)
		if !ok {
			return nil
		}
		found = ch
		return errFound
	})
	switch {
	case errors.Is(err, errFound):
		return found, nil
	case err != nil:
		return model.Channel{}, fmt.Errorf("listing dialogs: %w", err)
	default:
		return model.Channel{}, errors.New("not found among this account's dialogs")
	}
}

func matchDialog(elem dialogs.Elem, ref parsedRef) (model.Channel, bool) {
	switch p := elem.Peer.(type) {
	case *tg.InputPeerChannel:
		if p.ChannelID != ref.id || (ref.idKind != "" && ref.idKind != model.ChannelKindChannel) {
			return model.Channel{}, false
		}
		ch := model.Channel{ID: p.ChannelID, Kind: model.ChannelKindChannel, Handle: handle{input: p}}
		if raw, ok := elem.Entities.Channel(p.ChannelID); ok {
			ch.Title = raw.Title
			ch.PostPermission = channelPermission(raw)
		}
		return ch, true

	case *tg.InputPeerChat:
		if p.ChatID != ref.id || (ref.idKind != "" && ref.idKind != model.ChannelKindChat) {
			return model.Channel{}, false
		}
		ch := model.Channel{ID: p.ChatID, Kind: model.ChannelKindChat, Handle: handle{input: p}}
		if raw, ok := elem.Entities.Chat(p.ChatID); ok {
			ch.Title = raw.Title
			ch.PostPermission = chatPermission(raw)
		}
		return ch, true

	case *tg.InputPeerUser:
		if p.UserID != ref.id || ref.idKind != "" {
			return model.Channel{}, false
		}
		ch := model.Channel{
			ID:             p.UserID,
			Kind:           model.ChannelKindUser,
			PostPermission: model.PostPermissionAllowed,
			Handle:         handle{input: p},
		}
		if raw, ok := elem.Entities.User(p.UserID); ok {
			ch.Title = strings.TrimSpace(raw.FirstName + " " + raw.LastName)
		}
		return ch, true
	}
	return model.Channel{}, false
}

// channelPermission inspects the rights Telegram reports for the current
// account. Broadcast channels need an admin with post rights; supergroups
// only need the default send right.
func channelPermission(raw *tg.Channel) model.PostPermission {
	if raw == nil {
		return model.PostPermissionUnknown
	}
	if raw.Creator {
		return model.PostPermissionAllowed
	}
	if raw.Left {
		return model.PostPermissionDenied
	}

	if raw.Broadcast {
		if rights, ok := raw.GetAdminRights(); ok && rights.PostMessages {
			return model.PostPermissionAllowed
		}
		return model.PostPermissionDenied
	}

	if _, ok := raw.GetAdminRights(); ok {
		return model.PostPermissionAllowed
	}
	if banned, ok := raw.GetBannedRights(); ok && (banned.SendMessages || banned.SendMedia) {
		return model.PostPermissionDenied
	}
	if banned, ok := raw.GetDefaultBannedRights(); ok && (banned.SendMessages || banned.SendMedia) {
		return model.PostPermissionDenied
	}
	if raw.Megagroup {
		return model.PostPermissionAllowed
	}
	return model.PostPermissionUnknown
}

func chatPermission(raw *tg.Chat) model.PostPermission {
	if raw == nil {
		return model.PostPermissionUnknown
	}
	if raw.Left || raw.Deactivated {
		return model.PostPermissionDenied
	}
	if raw.Creator {
		return model.PostPermissionAllowed
	}
	if banned, ok := raw.GetDefaultBannedRights(); ok && (banned.SendMessages || banned.SendMedia) {
		if _, admin := raw.GetAdminRights(); !admin {
			return model.PostPermissionDenied
		}
	}
	return model.PostPermissionAllowed
}

func inputPeer(ch model.Channel) (tg.InputPeerClass, error) {
	h, ok := ch.Handle.(handle)
	if !ok || h.input == nil {
		return nil, fmt.Errorf("channel %s was not resolved by this transport", ch)
	}
	return h.input, nil
}
