package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

type BenchmarkResult struct {
	TotalOps      int
	SuccessfulOps int
	FailedOps     int
	Duration      time.Duration
	OpsPerSec     float64
	AvgLatency    time.Duration
	MinLatency    time.Duration
	MaxLatency    time.Duration
}

// op performs the i-th operation of worker w.
type op func(w, i int) error

type client struct {
	baseURL string
	family  string
	http    *http.Client
}

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:8080", "cfkv base URL")
		family      = flag.String("family", "cf", "column family to write into")
		total       = flag.Int("ops", 1000, "operations per scenario")
		concurrency = flag.Int("c", 10, "number of concurrent workers")
	)
	flag.Parse()

	c := &client{
		baseURL: strings.TrimRight(*baseURL, "/"),
		family:  *family,
		http:    &http.Client{Timeout: 5 * time.Second},
	}

	fmt.Println("=== cfkv benchmark ===")
	fmt.Printf("Target: %s, family %q\n\n", c.baseURL, c.family)

	if !c.checkHealth() {
		fmt.Printf("ERROR: %s is not available\n", c.baseURL)
		os.Exit(1)
	}

	scenarios := []struct {
		name string
		op   op
	}{
		{"Puts, one row per worker", func(w, i int) error {
			return c.put(fmt.Sprintf("bench-%d", w), fmt.Sprintf("q%d", i), fmt.Sprintf("value-%d-%d", w, i))
		}},
		{"Adds, one hot counter", func(w, i int) error {
			return c.add("bench-hot", "hits", 1)
		}},
		{"Gets of written cells", func(w, i int) error {
			_, found, err := c.get(fmt.Sprintf("bench-%d", w), fmt.Sprintf("q%d", i))
			if err == nil && !found {
				err = fmt.Errorf("cell %d/%d not found", w, i)
			}
			return err
		}},
		{"Row scans", func(w, i int) error {
			return c.scan(fmt.Sprintf("bench-%d", w))
		}},
	}

	for n, sc := range scenarios {
		fmt.Printf("Test %d: %s (%d operations, %d workers)\n", n+1, sc.name, *total, *concurrency)
		printResult(run(*total, *concurrency, sc.op))
		fmt.Println()
	}

	if hits, found, err := c.get("bench-hot", "hits"); err == nil && found {
		fmt.Printf("hot counter: %s\n", hits)
	}
	fmt.Println("=== Benchmark Complete ===")
}

// run spreads totalOps over concurrency workers and collects latencies.
func run(totalOps, concurrency int, fn op) BenchmarkResult {
	if concurrency < 1 {
		concurrency = 1
	}

	start := time.Now()
	var wg sync.WaitGroup
	var mu sync.Mutex

	successful := 0
	failed := 0
	latencies := make([]time.Duration, 0, totalOps)

	opsPerWorker := totalOps / concurrency
	remainder := totalOps % concurrency

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			ops := opsPerWorker
			if worker < remainder {
				ops++
			}

			for i := 0; i < ops; i++ {
				opStart := time.Now()
				err := fn(worker, i)
				latency := time.Since(opStart)

				mu.Lock()
				if err == nil {
					successful++
				} else {
					failed++
				}
				latencies = append(latencies, latency)
				mu.Unlock()
			}
		}(w)
	}

	wg.Wait()
	duration := time.Since(start)

	res := BenchmarkResult{
		TotalOps:      totalOps,
		SuccessfulOps: successful,
		FailedOps:     failed,
		Duration:      duration,
		OpsPerSec:     float64(successful) / duration.Seconds(),
	}
	if len(latencies) == 0 {
		return res
	}

	var sum time.Duration
	res.MinLatency, res.MaxLatency = latencies[0], latencies[0]
	for _, lat := range latencies {
		res.MinLatency = min(res.MinLatency, lat)
		res.MaxLatency = max(res.MaxLatency, lat)
		sum += lat
	}
	res.AvgLatency = sum / time.Duration(len(latencies))
	return res
}

func (c *client) checkHealth() bool {
	resp, err := c.http.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *client) cellForm(row, qualifier string) url.Values {
	return url.Values{"row": {row}, "family": {c.family}, "qualifier": {qualifier}}
}

func (c *client) send(method, path string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.http.Do(req)
}

func (c *client) expectOK(resp *http.Response, err error) error {
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

func (c *client) put(row, qualifier, value string) error {
	form := c.cellForm(row, qualifier)
	form.Set("value", value)
	return c.expectOK(c.send(http.MethodPut, "/api/cell", form))
}

func (c *client) add(row, qualifier string, delta int64) error {
	form := c.cellForm(row, qualifier)
	form.Set("delta", strconv.FormatInt(delta, 10))
	return c.expectOK(c.send(http.MethodPost, "/api/cell/add", form))
}

func (c *client) scan(row string) error {
	return c.expectOK(c.http.Get(c.baseURL + "/api/row?" + url.Values{"row": {row}}.Encode()))
}

// get reads a cell; counters written by add are decoded as such.
func (c *client) get(row, qualifier string) (string, bool, error) {
	form := c.cellForm(row, qualifier)
	if qualifier == "hits" {
		form.Set("as", "counter")
	}
	resp, err := c.http.Get(c.baseURL + "/api/cell?" + form.Encode())
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		Status string `json:"status"`
		Value  string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", false, err
	}
	return result.Value, true, nil
}

func printResult(result BenchmarkResult) {
	fmt.Printf("  Total Operations: %d\n", result.TotalOps)
	fmt.Printf("  Successful: %d\n", result.SuccessfulOps)
	fmt.Printf("  Failed: %d\n", result.FailedOps)
	fmt.Printf("  Duration: %v\n", result.Duration)
	fmt.Printf("  Operations/sec: %.2f\n", result.OpsPerSec)
	fmt.Printf("  Avg Latency: %v\n", result.AvgLatency)
	fmt.Printf("  Min Latency: %v\n", result.MinLatency)
	fmt.Printf("  Max Latency: %v\n", result.MaxLatency)
}
