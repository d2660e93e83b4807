package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Traffic classes replayed in http mode.
const (
	ClassBenign   = "benign"
	ClassStuffing = "stuffing"
	ClassBrute    = "brute-force"
)

// Attempt is one scripted /evaluate call.
type Attempt struct {
	Class  string
	Action string
	UserID string
	IP     string
}

type evaluateRequest struct {
	Action string `json:"action"`
	UserID string `json:"userId"`
	IP     string `json:"ip"`
}

type evaluateResponse struct {
	Decision string   `json:"decision"`
	Score    int      `json:"score"`
	Reasons  []string `json:"reasons"`
}

// ClassStats counts decisions for one traffic class.
type ClassStats struct {
	Total     int64
	Allow     int64
	Challenge int64
	Block     int64
	Errors    int64
}

// Script builds n attempts: a third benign, a third credential stuffing from
// a single IP, a third brute force against a single user.
func Script(n int) []Attempt {
	attempts := make([]Attempt, 0, n)
	for i := 0; i < n; i++ {
		switch i % 3 {
		case 0:
			attempts = append(attempts, Attempt{
				Class:  ClassBenign,
				Action: "login",
				UserID: fmt.Sprintf("user-%d", i),
				IP:     fmt.Sprintf("10.1.%d.%d", (i/250)%250, i%250),
			})
		case 1:
			attempts = append(attempts, Attempt{
				Class:  ClassStuffing,
				Action: "login",
				UserID: fmt.Sprintf("victim-%d", i),
				IP:     "203.0.113.7",
			})
		default:
			attempts = append(attempts, Attempt{
				Class:  ClassBrute,
				Action: "login",
				UserID: "admin",
				IP:     fmt.Sprintf("198.51.100.%d", i%250),
			})
		}
	}
	return attempts
}

func runHTTPMode(baseURL string, requests, workers int, verbose bool) {
	fmt.Printf("URL:         %s\n", baseURL)
	fmt.Printf("Requests:    %d\n", requests)
	fmt.Println()

	if err := checkHealth(baseURL); err != nil {
		fmt.Printf("ERROR: riskguard not reachable at %s: %v\n", baseURL, err)
		fmt.Println("\nMake sure riskguard is running:")
		fmt.Println("  go run ./cmd/riskguard")
		os.Exit(1)
	}
	fmt.Println("✓ riskguard is healthy")

	start := time.Now()
	stats, latency := replay(Script(requests), baseURL, workers, verbose)
	printHTTPResults(stats, latency, time.Since(start))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func replay(attempts []Attempt, baseURL string, numWorkers int, verbose bool) (map[string]*ClassStats, time.Duration) {
	stats := map[string]*ClassStats{
		ClassBenign:   {},
		ClassStuffing: {},
		ClassBrute:    {},
	}
	var totalLatency atomic.Int64

	work := make(chan Attempt, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for a := range work {
				s := stats[a.Class]
				start := time.Now()
				result, err := evaluate(client, baseURL, a)
				totalLatency.Add(int64(time.Since(start)))
				atomic.AddInt64(&s.Total, 1)

				if err != nil {
					atomic.AddInt64(&s.Errors, 1)
					if verbose {
						fmt.Printf("ERROR: %s/%s -> %v\n", a.UserID, a.IP, err)
					}
					continue
				}

				switch result.Decision {
				case "BLOCK":
					atomic.AddInt64(&s.Block, 1)
				case "CHALLENGE":
					atomic.AddInt64(&s.Challenge, 1)
				default:
					atomic.AddInt64(&s.Allow, 1)
				}

				if verbose {
					fmt.Printf("%-12s | %-12s | %-15s | %-9s (%d) %v\n",
						a.Class, a.UserID, a.IP, result.Decision, result.Score, result.Reasons)
				}
			}
		}()
	}

	for _, a := range attempts {
		work <- a
	}
	close(work)
	wg.Wait()

	return stats, time.Duration(totalLatency.Load())
}

func evaluate(client *http.Client, baseURL string, a Attempt) (*evaluateResponse, error) {
	body, err := json.Marshal(evaluateRequest{Action: a.Action, UserID: a.UserID, IP: a.IP})
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/evaluate", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result evaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

func printHTTPResults(stats map[string]*ClassStats, latency, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      HTTP RESULTS                             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	classes := make([]string, 0, len(stats))
	for c := range stats {
		classes = append(classes, c)
	}
	sort.Strings(classes)

	var total int64
	fmt.Printf("\n📈 DECISIONS\n")
	fmt.Printf("   %-12s %8s %8s %10s %8s %8s\n", "class", "total", "allow", "challenge", "block", "errors")
	for _, c := range classes {
		s := stats[c]
		total += s.Total
		fmt.Printf("   %-12s %8d %8d %10d %8d %8d\n", c, s.Total, s.Allow, s.Challenge, s.Block, s.Errors)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if total > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(latency.Milliseconds())/float64(total))
		fmt.Printf("   Throughput:       %.2f req/sec\n", float64(total)/duration.Seconds())
	}
	fmt.Println()
}
