package relay_test

import (
	"context"
	"errors"
	"sync"

	"vidrelay.app/relay/internal/delivery"
	"vidrelay.app/relay/internal/model"
	"vidrelay.app/relay/internal/transport"
)

type fakeTransport struct {
	mu         sync.Mutex
	connectErr error
	channels   map[string]model.Channel
	handler    transport.Handler
	subscribed bool
	forwarded  []int
	calls      int
	forwardErr error
	closed     bool
	err        error
	done       chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		channels: map[string]model.Channel{
			"@source": {Ref: "@source", ID: 100, Kind: model.ChannelKindChannel, Title: "Source", PostPermission: model.PostPermissionAllowed},
			"@dest":   {Ref: "@dest", ID: 200, Kind: model.ChannelKindChannel, Title: "Dest", PostPermission: model.PostPermissionAllowed},
		},
		done: make(chan struct{}),
	}
}

func (f *fakeTransport) Connect(context.Context) error {
	if f.connectErr != nil {
		return &transport.AuthError{Err: f.connectErr}
	}
	return nil
}

func (f *fakeTransport) Resolve(_ context.Context, ref string) (model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[ref]
	if !ok {
		return model.Channel{}, &transport.ResolveError{Ref: ref, Err: errors.New("not found")}
	}
	return ch, nil
}

func (f *fakeTransport) Subscribe(_ model.Channel, h transport.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	f.subscribed = true
	return nil
}

func (f *fakeTransport) Forward(_ context.Context, item model.ForwardableItem, _, _ model.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.forwardErr != nil {
		return f.forwardErr
	}
	f.forwarded = append(f.forwarded, item.MessageID)
	return nil
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) disconnect(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	close(f.done)
}

func (f *fakeTransport) emit(item model.ForwardableItem) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(context.Background(), item)
}

func (f *fakeTransport) Forwarded() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.forwarded...)
}

// Calls counts forward attempts, failed ones included.
func (f *fakeTransport) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTransport) Subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed
}

func (f *fakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// countingDeliverer records calls and delegates to next, or to DeliverFn when set.
type countingDeliverer struct {
	mu        sync.Mutex
	calls     int
	next      *delivery.Engine
	DeliverFn func(ctx context.Context, item model.ForwardableItem) delivery.Result
}

func (d *countingDeliverer) Deliver(ctx context.Context, item model.ForwardableItem, source, destination model.Channel) delivery.Result {
	d.mu.Lock()
	d.calls++
	fn := d.DeliverFn
	d.mu.Unlock()
	if fn != nil {
		return fn(ctx, item)
	}
	return d.next.Deliver(ctx, item, source, destination)
}

func (d *countingDeliverer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeClaimer struct {
	owned bool
	err   error
}

func (c fakeClaimer) Claim(context.Context, model.ForwardableItem) (bool, error) {
	return c.owned, c.err
}

func video(id int) model.ForwardableItem {
	return model.ForwardableItem{SourceID: 100, MessageID: id, Media: model.Media{Kind: model.MediaKindVideo, MIME: "video/mp4"}}
}

func pdf(id int) model.ForwardableItem {
	return model.ForwardableItem{SourceID: 100, MessageID: id, Media: model.Media{Kind: model.MediaKindDocument, MIME: "application/pdf"}}
}
