package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"vidrelay.app/relay/internal/http/handler"
	"vidrelay.app/relay/internal/relay"
)

type mockStatusProvider struct {
	statusFn func() relay.Status
}

func (m *mockStatusProvider) Status() relay.Status {
	return m.statusFn()
}

var _ = Describe("StatusHandler", func() {
	var (
		router   *gin.Engine
		provider *mockStatusProvider
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		provider = &mockStatusProvider{statusFn: func() relay.Status {
			return relay.Status{
				State:       "running",
				Source:      "Source",
				Destination: "Dest",
				Stats: relay.Snapshot{
					Forwarded: 3,
					Errors:    1,
					StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
					Uptime:    90 * time.Second,
				},
			}
		}}
		h := handler.NewStatusHandler(provider)
		router = gin.New()
		router.GET("/", h.Root)
		router.GET("/health", h.Health)
		router.GET("/ready", h.Ready)
		router.GET("/stats", h.Stats)
	})

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	It("answers the keep-alive probe with plain text", func() {
		w := get("/")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(Equal("Bot is running!"))
	})

	It("returns ok on /health regardless of relay state", func() {
		provider.statusFn = func() relay.Status { return relay.Status{State: "stopping"} }
		w := get("/health")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(MatchJSON(`{"status":"ok"}`))
	})

	It("reports counters and state on /stats", func() {
		w := get("/stats")
		Expect(w.Code).To(Equal(http.StatusOK))

		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["state"]).To(Equal("running"))
		Expect(resp["videos_forwarded"]).To(BeNumerically("==", 3))
		Expect(resp["errors"]).To(BeNumerically("==", 1))
		Expect(resp["uptime_seconds"]).To(BeNumerically("==", 90))
		Expect(resp["destination"]).To(Equal("Dest"))
	})

	DescribeTable("readiness follows the relay state",
		func(state string, code int) {
			provider.statusFn = func() relay.Status { return relay.Status{State: state} }
			Expect(get("/ready").Code).To(Equal(code))
		},
		Entry("running", "running", http.StatusOK),
		Entry("verifying", "verifying", http.StatusServiceUnavailable),
		Entry("stopping", "stopping", http.StatusServiceUnavailable),
	)
})
