package claim_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"vidrelay.app/relay/internal/claim"
	"vidrelay.app/relay/internal/model"
)

var _ = Describe("RedisClaimer", func() {
	var (
		ctx    context.Context
		server *miniredis.Miniredis
		client *redis.Client
		item   model.ForwardableItem
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = miniredis.RunT(GinkgoT())
		client = redis.NewClient(&redis.Options{Addr: server.Addr()})
		DeferCleanup(client.Close)
		item = model.ForwardableItem{SourceID: 1001, MessageID: 42}
	})

	It("grants the first claim and stores the owner with a TTL", func() {
		c := claim.NewRedisClaimer(client, "relay-a", time.Hour)

		ok, err := c.Claim(ctx, item)

		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(server.Get(claim.Key(item))).To(Equal("relay-a"))
		Expect(server.TTL(claim.Key(item))).To(Equal(time.Hour))
	})

	It("is idempotent for the owning instance", func() {
		c := claim.NewRedisClaimer(client, "relay-a", time.Hour)

		first, err := c.Claim(ctx, item)
		Expect(err).NotTo(HaveOccurred())
		second, err := c.Claim(ctx, item)
		Expect(err).NotTo(HaveOccurred())

		Expect(first).To(BeTrue())
		Expect(second).To(BeTrue())
	})

	It("refuses an item claimed by another instance", func() {
		a := claim.NewRedisClaimer(client, "relay-a", time.Hour)
		b := claim.NewRedisClaimer(client, "relay-b", time.Hour)

		_, err := a.Claim(ctx, item)
		Expect(err).NotTo(HaveOccurred())
		ok, err := b.Claim(ctx, item)

		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("frees the item once the claim expires", func() {
		a := claim.NewRedisClaimer(client, "relay-a", time.Minute)
		b := claim.NewRedisClaimer(client, "relay-b", time.Minute)

		_, err := a.Claim(ctx, item)
		Expect(err).NotTo(HaveOccurred())
		server.FastForward(2 * time.Minute)

		ok, err := b.Claim(ctx, item)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("reports redis failures", func() {
		unreachable := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
		DeferCleanup(unreachable.Close)
		c := claim.NewRedisClaimer(unreachable, "relay-a", time.Hour)

		_, err := c.Claim(ctx, item)

		Expect(err).To(HaveOccurred())
	})
})
