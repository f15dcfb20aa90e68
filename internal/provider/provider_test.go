package provider_test

import (
	"net/url"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/data-aggregator/internal/provider"
)

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	Expect(err).NotTo(HaveOccurred())
	return u
}

func newProvider(id string, category provider.Category, priority int) *provider.Provider {
	return provider.New(id, id, category, priority, mustParseURL("http://localhost:9090"), provider.Options{
		Endpoints: map[provider.Operation]string{
			provider.OperationPrice:     "/price",
			provider.OperationMarket:    "/market",
			provider.OperationOnChain:   "/stats",
			provider.OperationSentiment: "/sentiment",
		},
	})
}

var _ = Describe("Provider", func() {
	var p *provider.Provider

	BeforeEach(func() {
		p = newProvider("coingecko", provider.CategoryAggregator, 10)
	})

	Describe("New", func() {
		It("should start with unknown health", func() {
			Expect(p.Status()).To(Equal(provider.StatusUnknown))
		})

		It("should default the price field", func() {
			Expect(p.PriceField()).To(Equal("price"))
		})
	})

	Describe("SetStatus", func() {
		It("should report a change", func() {
			Expect(p.SetStatus(provider.StatusHealthy)).To(BeTrue())
			Expect(p.Status()).To(Equal(provider.StatusHealthy))
		})

		It("should report no change when the status is unchanged", func() {
			p.SetStatus(provider.StatusHealthy)
			Expect(p.SetStatus(provider.StatusHealthy)).To(BeFalse())
		})
	})

	Describe("RecordResponse", func() {
		It("should seed the EWMA with the first observation", func() {
			p.RecordResponse(100 * time.Millisecond)
			Expect(p.EWMATime()).To(Equal(100 * time.Millisecond))
		})

		It("should weight new observations into the average", func() {
			p.RecordResponse(100 * time.Millisecond)
			p.RecordResponse(200 * time.Millisecond)

			ewma := p.EWMATime()
			Expect(ewma).To(BeNumerically(">", 100*time.Millisecond))
			Expect(ewma).To(BeNumerically("<", 200*time.Millisecond))
		})

		It("should return zero before any observation", func() {
			Expect(p.EWMATime()).To(BeZero())
		})
	})

	Describe("Snapshot", func() {
		It("should carry identity and health fields", func() {
			p.SetStatus(provider.StatusDegraded)
			p.RecordResponse(50 * time.Millisecond)

			snap := p.Snapshot()
			Expect(snap.ID).To(Equal("coingecko"))
			Expect(snap.Category).To(Equal(provider.CategoryAggregator))
			Expect(snap.Priority).To(Equal(10))
			Expect(snap.HealthStatus).To(Equal("degraded"))
			Expect(snap.LastResponseTime).To(Equal(50 * time.Millisecond))
		})
	})

	Describe("ParseOperation", func() {
		It("should accept the known operations", func() {
			for _, name := range []string{"price", "market", "onchain", "sentiment"} {
				_, ok := provider.ParseOperation(name)
				Expect(ok).To(BeTrue(), name)
			}
		})

		It("should reject unknown operations", func() {
			_, ok := provider.ParseOperation("orderbook")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("Operation.Sources", func() {
		It("should serve price from exchanges and aggregators", func() {
			Expect(provider.OperationPrice.Sources()).To(ConsistOf(
				provider.CategoryExchange, provider.CategoryAggregator))
		})

		It("should serve sentiment from sentiment feeds only", func() {
			Expect(provider.OperationSentiment.Sources()).To(ConsistOf(provider.CategorySentiment))
		})
	})
})
