package relay_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"vidrelay.app/relay/internal/delivery"
	"vidrelay.app/relay/internal/model"
	"vidrelay.app/relay/internal/relay"
	"vidrelay.app/relay/internal/transport"
)

var _ = Describe("Controller", func() {
	var (
		ft        *fakeTransport
		deliverer *countingDeliverer
		cfg       relay.Config
		opts      []relay.Option
	)

	BeforeEach(func() {
		ft = newFakeTransport()
		engine := delivery.New(ft, delivery.Config{MaxAttempts: 3, BaseDelay: time.Second},
			delivery.WithSleep(func(context.Context, time.Duration) error { return nil }))
		deliverer = &countingDeliverer{next: engine}
		cfg = relay.Config{
			Source:               "@source",
			Destination:          "@dest",
			Concurrency:          1,
			QueueSize:            8,
			VerifyPostPermission: true,
		}
		opts = nil
	})

	start := func(ctx context.Context) (*relay.Controller, chan error) {
		ctrl := relay.New(ft, deliverer, cfg, opts...)
		errCh := make(chan error, 1)
		go func() {
			errCh <- ctrl.Run(ctx)
		}()
		return ctrl, errCh
	}

	Describe("Run", func() {
		It("forwards a video and counts it", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			ctrl, errCh := start(ctx)
			Eventually(ctrl.State).Should(Equal(relay.StateRunning))

			ft.emit(video(7))

			Eventually(func() uint64 { return ctrl.Stats().Forwarded }).Should(Equal(uint64(1)))
			Expect(ctrl.Stats().Errors).To(BeZero())
			Expect(ft.Forwarded()).To(Equal([]int{7}))

			cancel()
			Eventually(errCh).Should(Receive(BeNil()))
			Expect(ctrl.State()).To(Equal(relay.StateStopped))
			Expect(ft.Closed()).To(BeTrue())
		})

		It("never invokes the engine for a document that is not a video", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			ctrl, errCh := start(ctx)
			Eventually(ctrl.State).Should(Equal(relay.StateRunning))

			ft.emit(pdf(8))
			ft.emit(video(9))

			Eventually(func() uint64 { return ctrl.Stats().Forwarded }).Should(Equal(uint64(1)))
			Expect(deliverer.Calls()).To(Equal(1))
			Expect(ft.Forwarded()).To(Equal([]int{9}))

			cancel()
			Eventually(errCh).Should(Receive(BeNil()))
			Expect(ctrl.Stats().Errors).To(BeZero())
		})

		It("forwards videos in arrival order", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			ctrl, errCh := start(ctx)
			Eventually(ctrl.State).Should(Equal(relay.StateRunning))

			for i := 1; i <= 5; i++ {
				ft.emit(video(i))
			}

			Eventually(func() uint64 { return ctrl.Stats().Forwarded }).Should(Equal(uint64(5)))
			Expect(ft.Forwarded()).To(Equal([]int{1, 2, 3, 4, 5}))

			cancel()
			Eventually(errCh).Should(Receive(BeNil()))
		})

		It("counts a permission failure as an error and keeps running", func() {
			ft.forwardErr = &transport.ForwardError{Kind: transport.FailureWriteForbidden}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			ctrl, errCh := start(ctx)
			Eventually(ctrl.State).Should(Equal(relay.StateRunning))

			ft.emit(video(1))

			Eventually(func() uint64 { return ctrl.Stats().Errors }).Should(Equal(uint64(1)))
			Expect(ctrl.Stats().Forwarded).To(BeZero())
			Expect(ctrl.State()).To(Equal(relay.StateRunning))

			cancel()
			Eventually(errCh).Should(Receive(BeNil()))
		})

		It("counts a video that fails on every attempt as one error", func() {
			ft.forwardErr = &transport.ForwardError{Kind: transport.FailureProtocol, Detail: "RPC_CALL_FAIL"}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			ctrl, errCh := start(ctx)
			Eventually(ctrl.State).Should(Equal(relay.StateRunning))

			ft.emit(video(1))

			Eventually(ft.Calls).Should(Equal(3))
			Eventually(func() uint64 { return ctrl.Stats().Errors }).Should(Equal(uint64(1)))
			Consistently(func() uint64 { return ctrl.Stats().Errors }).Should(Equal(uint64(1)))
			Expect(ctrl.Stats().Forwarded).To(BeZero())
			Expect(ft.Calls()).To(Equal(3))
			Expect(ctrl.State()).To(Equal(relay.StateRunning))

			cancel()
			Eventually(errCh).Should(Receive(BeNil()))
		})

		It("gives up on a deleted video after one attempt", func() {
			ft.forwardErr = &transport.ForwardError{Kind: transport.FailureMediaEmpty, Detail: "MEDIA_EMPTY"}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			ctrl, errCh := start(ctx)
			Eventually(ctrl.State).Should(Equal(relay.StateRunning))

			ft.emit(video(1))

			Eventually(func() uint64 { return ctrl.Stats().Errors }).Should(Equal(uint64(1)))
			Expect(ctrl.Stats().Forwarded).To(BeZero())
			Expect(ft.Calls()).To(Equal(1))

			cancel()
			Eventually(errCh).Should(Receive(BeNil()))
		})

		It("recovers from a panic while handling one item", func() {
			deliverer.DeliverFn = func(_ context.Context, item model.ForwardableItem) delivery.Result {
				if item.MessageID == 1 {
					panic("boom")
				}
				return delivery.Result{Outcome: delivery.Delivered, Attempts: 1}
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			ctrl, errCh := start(ctx)
			Eventually(ctrl.State).Should(Equal(relay.StateRunning))

			ft.emit(video(1))
			ft.emit(video(2))

			Eventually(func() uint64 { return ctrl.Stats().Forwarded }).Should(Equal(uint64(1)))
			Expect(ctrl.Stats().Errors).To(Equal(uint64(1)))

			cancel()
			Eventually(errCh).Should(Receive(BeNil()))
		})
	})

	Describe("startup failures", func() {
		It("fails channel resolution before subscribing when the destination is unknown", func() {
			cfg.Destination = "@missing"

			ctrl, errCh := start(context.Background())

			var err error
			Eventually(errCh).Should(Receive(&err))
			Expect(errors.Is(err, relay.ErrChannelResolution)).To(BeTrue())
			var resolveErr *transport.ResolveError
			Expect(errors.As(err, &resolveErr)).To(BeTrue())
			Expect(resolveErr.Ref).To(Equal("@missing"))

			Expect(ft.Subscribed()).To(BeFalse())
			Expect(ft.Closed()).To(BeTrue())
			Expect(ctrl.State()).To(Equal(relay.StateStopped))
		})

		It("fails authentication when the transport cannot connect", func() {
			ft.connectErr = transport.ErrSecondFactorRequired

			ctrl, errCh := start(context.Background())

			var err error
			Eventually(errCh).Should(Receive(&err))
			Expect(errors.Is(err, relay.ErrAuthentication)).To(BeTrue())
			Expect(errors.Is(err, transport.ErrSecondFactorRequired)).To(BeTrue())
			Expect(ft.Subscribed()).To(BeFalse())
			Expect(ctrl.State()).To(Equal(relay.StateStopped))
		})

		It("starts when posting permission cannot be determined", func() {
			dest := ft.channels["@dest"]
			dest.PostPermission = model.PostPermissionUnknown
			ft.channels["@dest"] = dest

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			ctrl, errCh := start(ctx)
			Eventually(ctrl.State).Should(Equal(relay.StateRunning))

			cancel()
			Eventually(errCh).Should(Receive(BeNil()))
		})
	})

	Describe("shutdown", func() {
		It("returns ErrDisconnected when the transport drops", func() {
			ctrl, errCh := start(context.Background())
			Eventually(ctrl.State).Should(Equal(relay.StateRunning))

			ft.disconnect(errors.New("connection reset"))

			var err error
			Eventually(errCh).Should(Receive(&err))
			Expect(errors.Is(err, relay.ErrDisconnected)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("connection reset"))
			Expect(ctrl.State()).To(Equal(relay.StateStopped))
		})

		It("finishes the in-flight delivery and abandons queued videos", func() {
			started := make(chan struct{})
			release := make(chan struct{})
			deliverer.DeliverFn = func(_ context.Context, item model.ForwardableItem) delivery.Result {
				if item.MessageID == 1 {
					close(started)
					<-release
				}
				return delivery.Result{Outcome: delivery.Delivered, Attempts: 1}
			}

			ctx, cancel := context.WithCancel(context.Background())
			ctrl, errCh := start(ctx)
			Eventually(ctrl.State).Should(Equal(relay.StateRunning))

			ft.emit(video(1))
			Eventually(started).Should(BeClosed())
			ft.emit(video(2))
			ft.emit(pdf(3))

			cancel()
			Eventually(ctrl.State).Should(Equal(relay.StateStopping))
			close(release)

			Eventually(errCh).Should(Receive(BeNil()))
			Expect(deliverer.Calls()).To(Equal(1))
			Expect(ctrl.Stats().Forwarded).To(Equal(uint64(1)))
			Expect(ctrl.Stats().Errors).To(Equal(uint64(1)))

			// Late notifications are ignored, not delivered.
			ft.emit(video(4))
			Expect(deliverer.Calls()).To(Equal(1))
		})
	})

	Describe("claims", func() {
		It("skips videos claimed by another instance", func() {
			opts = append(opts, relay.WithClaimer(fakeClaimer{owned: false}))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			ctrl, errCh := start(ctx)
			Eventually(ctrl.State).Should(Equal(relay.StateRunning))

			ft.emit(video(1))
			Consistently(deliverer.Calls).Should(BeZero())

			cancel()
			Eventually(errCh).Should(Receive(BeNil()))
			Expect(ctrl.Stats().Errors).To(BeZero())
		})

		It("forwards anyway when the claim store is unavailable", func() {
			opts = append(opts, relay.WithClaimer(fakeClaimer{err: errors.New("redis down")}))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			ctrl, errCh := start(ctx)
			Eventually(ctrl.State).Should(Equal(relay.StateRunning))

			ft.emit(video(1))
			Eventually(func() uint64 { return ctrl.Stats().Forwarded }).Should(Equal(uint64(1)))

			cancel()
			Eventually(errCh).Should(Receive(BeNil()))
		})
	})

	Describe("Status", func() {
		It("reports state and resolved channel titles", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			ctrl, errCh := start(ctx)
			Eventually(ctrl.State).Should(Equal(relay.StateRunning))

			status := ctrl.Status()
			Expect(status.State).To(Equal("running"))
			Expect(status.Source).To(Equal("Source"))
			Expect(status.Destination).To(Equal("Dest"))

			cancel()
			Eventually(errCh).Should(Receive(BeNil()))
		})
	})
})
