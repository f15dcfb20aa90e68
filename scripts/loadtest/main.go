// Loadtest is a concurrent HTTP load testing tool for the aggregation
// engine. It measures throughput, latency percentiles, cache hit rate
// and the distribution of responses across source providers.
//
// Usage:
//
//	go run ./scripts/loadtest -url http://localhost:8080/api/v1/price?symbol=BTC -concurrency 10 -requests 1000
//	go run ./scripts/loadtest -url http://localhost:8080/api/v1/price?symbol=BTC -out summary.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

func main() {
	var (
		url         = flag.String("url", "http://localhost:8080/api/v1/price?symbol=BTC", "Target URL")
		concurrency = flag.Int("concurrency", 10, "Number of concurrent workers")
		requests    = flag.Int("requests", 100, "Total number of requests to send")
		timeoutSec  = flag.Int("timeout", 10, "Per-request timeout in seconds")
	)

	outJSON := flag.String("out", "", "Write JSON summary to this file (optional)")
	verbose := flag.Bool("v", false, "Verbose per-request logging to stdout")
	flag.Parse()

	client := &http.Client{Timeout: time.Duration(*timeoutSec) * time.Second}

	jobs := make(chan int)
	var wg sync.WaitGroup

	var total int32
	var success int32
	var failure int32
	var cacheHits int32

	sourceCounts := make(map[string]int32)
	var sourceMu sync.Mutex

	var allLatencies []time.Duration
	var latMu sync.Mutex

	statusCodes := make(map[int]int32)
	var statusMu sync.Mutex

	testStart := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				atomic.AddInt32(&total, 1)
				start := time.Now()

				resp, err := client.Get(*url)
				dur := time.Since(start)

				latMu.Lock()
				allLatencies = append(allLatencies, dur)
				latMu.Unlock()

				if err != nil {
					atomic.AddInt32(&failure, 1)
					if *verbose {
						fmt.Printf("req %d: error %v\n", idx, err)
					}
					continue
				}

				statusMu.Lock()
				statusCodes[resp.StatusCode]++
				statusMu.Unlock()

				body, _ := io.ReadAll(resp.Body)
				resp.Body.Close()

				if resp.StatusCode != http.StatusOK {
					atomic.AddInt32(&failure, 1)
					continue
				}
				atomic.AddInt32(&success, 1)

				var result struct {
					SourceProvider string `json:"source_provider"`
					Cached         bool   `json:"cached"`
					Consistent     bool   `json:"consistent"`
				}
				if err := json.Unmarshal(body, &result); err == nil {
					if result.Cached {
						atomic.AddInt32(&cacheHits, 1)
					}
					sourceMu.Lock()
					sourceCounts[result.SourceProvider]++
					sourceMu.Unlock()

					if *verbose {
						fmt.Printf("req %d: source=%s cached=%v consistent=%v %.1fms\n",
							idx, result.SourceProvider, result.Cached, result.Consistent,
							float64(dur.Microseconds())/1000)
					}
				}
			}
		}()
	}

	for i := 0; i < *requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	elapsed := time.Since(testStart)

	sort.Slice(allLatencies, func(i, j int) bool { return allLatencies[i] < allLatencies[j] })
	pct := func(p float64) time.Duration {
		if len(allLatencies) == 0 {
			return 0
		}
		idx := int(float64(len(allLatencies)) * p)
		if idx >= len(allLatencies) {
			idx = len(allLatencies) - 1
		}
		return allLatencies[idx]
	}

	summary := map[string]any{
		"total":          total,
		"success":        success,
		"failure":        failure,
		"cache_hits":     cacheHits,
		"elapsed":        elapsed.String(),
		"requests_per_s": float64(total) / elapsed.Seconds(),
		"p50_ms":         float64(pct(0.50).Microseconds()) / 1000,
		"p90_ms":         float64(pct(0.90).Microseconds()) / 1000,
		"p95_ms":         float64(pct(0.95).Microseconds()) / 1000,
		"p99_ms":         float64(pct(0.99).Microseconds()) / 1000,
		"status_codes":   statusCodes,
		"sources":        sourceCounts,
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))

	if *outJSON != "" {
		if err := os.WriteFile(*outJSON, out, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write summary: %v\n", err)
			os.Exit(1)
		}
	}
}
