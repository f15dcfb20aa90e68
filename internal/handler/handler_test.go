package handler_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/data-aggregator/internal/cache"
	"github.com/angeloszaimis/data-aggregator/internal/circuitbreaker"
	"github.com/angeloszaimis/data-aggregator/internal/fetch"
	"github.com/angeloszaimis/data-aggregator/internal/handler"
	"github.com/angeloszaimis/data-aggregator/internal/orchestrator"
	"github.com/angeloszaimis/data-aggregator/internal/provider"
	"github.com/angeloszaimis/data-aggregator/internal/ratelimit"
)

func queryRequest(operation, rawQuery string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/"+operation+"?"+rawQuery, nil)
	req.SetPathValue("operation", operation)
	return req
}

var _ = Describe("QueryHandler", func() {
	var (
		logger   *slog.Logger
		breakers *circuitbreaker.Registry
		upstream *httptest.Server
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		breakers = circuitbreaker.NewRegistry(5, 30*time.Second)
	})

	AfterEach(func() {
		if upstream != nil {
			upstream.Close()
			upstream = nil
		}
	})

	newHandler := func(upstreamHandler http.HandlerFunc) *handler.QueryHandler {
		upstream = httptest.NewServer(upstreamHandler)

		base, err := url.Parse(upstream.URL)
		Expect(err).NotTo(HaveOccurred())

		p := provider.New("exchange-a", "Exchange A", provider.CategoryExchange, 10, base, provider.Options{
			Endpoints: map[provider.Operation]string{
				provider.OperationPrice: "/price",
			},
		})

		registry := provider.NewRegistry(p)
		client := fetch.NewClient(registry, breakers, ratelimit.NewLimiter(nil), nil, fetch.Config{
			Timeout:    500 * time.Millisecond,
			MaxRetries: 0,
			BaseDelay:  5 * time.Millisecond,
			MaxDelay:   10 * time.Millisecond,
		}, logger)

		resolver := orchestrator.NewResolver(registry, cache.New(cache.NewMemoryStore()), client, nil, nil, orchestrator.ConsensusConfig{}, logger)
		return handler.NewQueryHandler(logger, resolver)
	}

	It("should serve a resolved value as JSON", func() {
		h := newHandler(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Query().Get("symbol")).To(Equal("BTC"))
			w.Write([]byte(`{"price": "42000.5"}`))
		})

		recorder := httptest.NewRecorder()
		h.ServeHTTP(recorder, queryRequest("price", "symbol=BTC"))

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(recorder.Header().Get("Content-Type")).To(Equal("application/json"))

		var result orchestrator.Result
		Expect(json.Unmarshal(recorder.Body.Bytes(), &result)).To(Succeed())
		Expect(result.Value).To(MatchJSON(`{"price": "42000.5"}`))
		Expect(result.SourceProvider).To(Equal("exchange-a"))
		Expect(result.RequestID).NotTo(BeEmpty())
	})

	It("should reject an unknown operation with 404", func() {
		h := newHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		})

		recorder := httptest.NewRecorder()
		h.ServeHTTP(recorder, queryRequest("weather", "city=Zurich"))

		Expect(recorder.Code).To(Equal(http.StatusNotFound))
		Expect(recorder.Body.String()).To(ContainSubstring("unknown operation"))
	})

	It("should answer 502 with the attempt list when all providers fail", func() {
		h := newHandler(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		recorder := httptest.NewRecorder()
		h.ServeHTTP(recorder, queryRequest("price", "symbol=BTC"))

		Expect(recorder.Code).To(Equal(http.StatusBadGateway))

		var body struct {
			Error    string                 `json:"error"`
			Attempts []orchestrator.Attempt `json:"attempts"`
		}
		Expect(json.Unmarshal(recorder.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Error).To(Equal("all providers exhausted"))
		Expect(body.Attempts).To(Equal([]orchestrator.Attempt{
			{Provider: "exchange-a", Reason: "server_error"},
		}))
	})

	It("should answer 502 for an operation no provider serves", func() {
		h := newHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		})

		recorder := httptest.NewRecorder()
		h.ServeHTTP(recorder, queryRequest("sentiment", "symbol=BTC"))

		Expect(recorder.Code).To(Equal(http.StatusBadGateway))
	})
})

var _ = Describe("HealthHandler", func() {
	It("should report every provider with its circuit state", func() {
		baseA, err := url.Parse("http://localhost:9101")
		Expect(err).NotTo(HaveOccurred())
		baseB, err := url.Parse("http://localhost:9102")
		Expect(err).NotTo(HaveOccurred())

		a := provider.New("exchange-a", "Exchange A", provider.CategoryExchange, 10, baseA, provider.Options{})
		b := provider.New("exchange-b", "Exchange B", provider.CategoryExchange, 5, baseB, provider.Options{})
		a.SetStatus(provider.StatusHealthy)
		b.SetStatus(provider.StatusDown)

		breakers := circuitbreaker.NewRegistry(2, 30*time.Second)
		cb := breakers.GetBreaker("exchange-b")
		cb.RecordOutcome(false)
		cb.RecordOutcome(false)

		h := handler.NewHealthHandler(provider.NewRegistry(a, b), breakers)

		recorder := httptest.NewRecorder()
		h.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health/providers", nil))

		Expect(recorder.Code).To(Equal(http.StatusOK))

		var report struct {
			Providers []struct {
				ID           string `json:"id"`
				HealthStatus string `json:"health_status"`
				CircuitState string `json:"circuit_state"`
			} `json:"providers"`
			HealthyCount int `json:"healthy_count"`
			TotalCount   int `json:"total_count"`
		}
		Expect(json.Unmarshal(recorder.Body.Bytes(), &report)).To(Succeed())

		Expect(report.TotalCount).To(Equal(2))
		Expect(report.HealthyCount).To(Equal(1))
		Expect(report.Providers).To(HaveLen(2))

		states := make(map[string]string, 2)
		healths := make(map[string]string, 2)
		for _, p := range report.Providers {
			states[p.ID] = p.CircuitState
			healths[p.ID] = p.HealthStatus
		}
		Expect(states["exchange-a"]).To(Equal("CLOSED"))
		Expect(states["exchange-b"]).To(Equal("OPEN"))
		Expect(healths["exchange-a"]).To(Equal("healthy"))
		Expect(healths["exchange-b"]).To(Equal("down"))
	})
})
