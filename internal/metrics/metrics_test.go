package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/data-aggregator/internal/metrics"
)

var _ = Describe("Metrics", func() {
	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.NewMetrics()
	})

	Describe("Snapshot", func() {
		It("should total resolves across operations", func() {
			m.IncrementResolves("price")
			m.IncrementResolves("price")
			m.IncrementResolves("market")

			snap := m.Snapshot()
			Expect(snap.TotalResolves).To(Equal(int64(3)))
			Expect(snap.Operations).To(HaveKeyWithValue("price", int64(2)))
			Expect(snap.Operations).To(HaveKeyWithValue("market", int64(1)))
		})

		It("should count cache hits and misses separately", func() {
			m.RecordCacheLookup(true)
			m.RecordCacheLookup(true)
			m.RecordCacheLookup(false)

			snap := m.Snapshot()
			Expect(snap.CacheHits).To(Equal(int64(2)))
			Expect(snap.CacheMisses).To(Equal(int64(1)))
		})

		It("should track per-provider attempts, failures and failure kinds", func() {
			m.RecordAttempt("binance", 20*time.Millisecond, true, "")
			m.RecordAttempt("binance", 0, false, "timeout")
			m.RecordAttempt("binance", 0, false, "timeout")
			m.RecordAttempt("binance", 0, false, "server_error")

			snap := m.Snapshot()
			pm := snap.Providers["binance"]
			Expect(pm.Attempts).To(Equal(int64(4)))
			Expect(pm.Failures).To(Equal(int64(3)))
			Expect(pm.FailureKinds).To(HaveKeyWithValue("timeout", int64(2)))
			Expect(pm.FailureKinds).To(HaveKeyWithValue("server_error", int64(1)))
		})

		It("should compute latency percentiles from successful attempts only", func() {
			for i := 1; i <= 100; i++ {
				m.RecordAttempt("binance", time.Duration(i)*time.Millisecond, true, "")
			}
			m.RecordAttempt("binance", time.Hour, false, "timeout")

			snap := m.Snapshot()
			pm := snap.Providers["binance"]
			Expect(pm.AvgLatency).To(Equal(50500 * time.Microsecond))
			Expect(pm.P50Latency).To(Equal(51 * time.Millisecond))
			Expect(pm.P95Latency).To(Equal(96 * time.Millisecond))
			Expect(pm.P99Latency).To(Equal(100 * time.Millisecond))
		})

		It("should return failure kinds decoupled from later recording", func() {
			m.RecordAttempt("binance", 0, false, "timeout")

			snap := m.Snapshot()
			m.RecordAttempt("binance", 0, false, "timeout")
			m.RecordAttempt("binance", 0, false, "server_error")

			Expect(snap.Providers["binance"].FailureKinds).To(Equal(map[string]int64{"timeout": 1}))
		})

		It("should include providers known only through health updates", func() {
			m.UpdateHealthStatus("kraken", "degraded")

			snap := m.Snapshot()
			Expect(snap.Providers).To(HaveKey("kraken"))
			Expect(snap.Providers["kraken"].Health).To(Equal("degraded"))
			Expect(snap.Providers["kraken"].Attempts).To(Equal(int64(0)))
		})
	})
})
