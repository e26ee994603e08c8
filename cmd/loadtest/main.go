// Command loadtest drives a running audit API with a mix of lookups and
// reports latency per endpoint.
//
// Usage:
//
//	go run ./cmd/loadtest -uuids id1,id2 -titles "Quarterly report" -duration 30s
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type target struct {
	endpoint string
	path     string
}

type endpointStats struct {
	requests  int
	failures  int
	latencies []time.Duration
	codes     map[int]int
}

type recorder struct {
	mu        sync.Mutex
	endpoints map[string]*endpointStats
}

func newRecorder() *recorder {
	return &recorder{endpoints: make(map[string]*endpointStats)}
}

func (r *recorder) record(endpoint string, latency time.Duration, status int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.endpoints[endpoint]
	if !ok {
		s = &endpointStats{codes: make(map[int]int)}
		r.endpoints[endpoint] = s
	}
	s.requests++
	if err != nil || status >= 500 {
		s.failures++
	}
	if err == nil {
		s.latencies = append(s.latencies, latency)
		s.codes[status]++
	}
}

func buildTargets(uuids, titles []string) []target {
	var targets []target
	for _, id := range uuids {
		esc := url.PathEscape(id)
		targets = append(targets,
			target{"by-uuid", "/api/audit/by-uuid/" + esc + "?size=50"},
			target{"summary", "/api/audit/summary/" + esc},
			target{"timeline", "/api/audit/timeline/" + esc},
		)
	}
	for _, title := range titles {
		targets = append(targets, target{"by-title", "/api/audit/by-title/" + url.PathEscape(title)})
	}
	return append(targets, target{"event-types", "/api/audit/event-types"})
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "base URL of the audit API")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	uuids := flag.String("uuids", "", "comma-separated document UUIDs to look up")
	titles := flag.String("titles", "", "comma-separated titles to search for")
	flag.Parse()

	targets := buildTargets(splitList(*uuids), splitList(*titles))
	base := strings.TrimRight(*baseURL, "/")

	fmt.Println("=== Audit API Load Test ===")
	fmt.Printf("Target:      %s\n", base)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Duration:    %s\n", *duration)
	fmt.Printf("Requests:    %d distinct\n\n", len(targets))

	rec := run(base, targets, *concurrency, *duration)
	if !report(rec, *duration) {
		fmt.Println("\nWARNING: no requests completed. Is the service running?")
		os.Exit(1)
	}
}

func run(base string, targets []target, concurrency int, duration time.Duration) *recorder {
	rec := newRecorder()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < concurrency; w++ {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				t := targets[i%len(targets)]
				start := time.Now()
				status, err := get(ctx, client, base+t.path)
				if ctx.Err() != nil {
					return nil
				}
				rec.record(t.endpoint, time.Since(start), status, err)
			}
			return nil
		})
	}
	g.Wait()
	return rec
}

func get(ctx context.Context, client *http.Client, rawURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("X-Request-ID", "loadtest-"+uuid.NewString())
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func report(rec *recorder, duration time.Duration) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	names := make([]string, 0, len(rec.endpoints))
	var total int
	for name, s := range rec.endpoints {
		names = append(names, name)
		total += s.requests
	}
	sort.Strings(names)

	fmt.Printf("Total requests: %d (%.1f req/s)\n\n", total, float64(total)/duration.Seconds())
	fmt.Printf("%-12s %8s %8s %10s %10s %10s  %s\n", "endpoint", "requests", "failed", "p50", "p95", "p99", "codes")
	for _, name := range names {
		s := rec.endpoints[name]
		sort.Slice(s.latencies, func(i, j int) bool { return s.latencies[i] < s.latencies[j] })
		fmt.Printf("%-12s %8d %8d %10s %10s %10s  %s\n",
			name, s.requests, s.failures,
			percentile(s.latencies, 50), percentile(s.latencies, 95), percentile(s.latencies, 99),
			formatCodes(s.codes),
		)
	}
	return total > 0
}

func formatCodes(codes map[int]int) string {
	keys := make([]int, 0, len(codes))
	for code := range codes {
		keys = append(keys, code)
	}
	sort.Ints(keys)
	parts := make([]string, 0, len(keys))
	for _, code := range keys {
		parts = append(parts, fmt.Sprintf("%d=%d", code, codes[code]))
	}
	return strings.Join(parts, " ")
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx].Round(time.Microsecond)
}
