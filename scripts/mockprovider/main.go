// Mockprovider is a fake upstream data provider used for engine
// testing. It serves /price, /market and /health endpoints with
// configurable latency, failure rate and price drift.
//
// Usage:
//
//	go run ./scripts/mockprovider -port 9081 -price 42000 -latency 50ms
//	go run ./scripts/mockprovider -port 9082 -price 42010 -fail-rate 0.3
//
// Run several instances on different ports with slightly different
// prices to exercise failover and consensus validation.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"
)

func main() {
	port := flag.Int("port", 9081, "port to listen on")
	price := flag.Float64("price", 42000, "base price to report")
	drift := flag.Float64("drift", 0.001, "random price drift per request (fraction of base)")
	latency := flag.Duration("latency", 0, "artificial delay before every response")
	failRate := flag.Float64("fail-rate", 0, "fraction of requests answered with HTTP 500")
	rateLimitAfter := flag.Int("rate-limit-after", 0, "answer 429 after this many requests (0 disables)")
	flag.Parse()

	var served int

	respond := func(w http.ResponseWriter, r *http.Request, body any) {
		served++
		log.Printf("request: method=%s path=%s from=%s", r.Method, r.URL.Path, r.RemoteAddr)

		if *latency > 0 {
			time.Sleep(*latency)
		}

		if *rateLimitAfter > 0 && served > *rateLimitAfter {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		if *failRate > 0 && rand.Float64() < *failRate {
			http.Error(w, "simulated upstream failure", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}

	currentPrice := func() string {
		jitter := (rand.Float64()*2 - 1) * *drift * *price
		return fmt.Sprintf("%.2f", *price+jitter)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/price", func(w http.ResponseWriter, r *http.Request) {
		respond(w, r, map[string]any{
			"symbol": r.URL.Query().Get("symbol"),
			"price":  currentPrice(),
		})
	})
	mux.HandleFunc("/market", func(w http.ResponseWriter, r *http.Request) {
		respond(w, r, map[string]any{
			"total_market_cap": "1690000000000",
			"btc_dominance":    "52.3",
		})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respond(w, r, map[string]string{"status": "ok"})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("mock provider listening on %s (price=%.2f fail-rate=%.2f latency=%s)", addr, *price, *failRate, *latency)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
