package main

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// IncrementReport summarises a concurrent increment run.
type IncrementReport struct {
	Issued     int64
	Errors     int64
	Duplicates int
	Gaps       int
	Latency    time.Duration
	Violations []string
}

// Linearizable reports whether every key handed out 1..n exactly once.
func (r *IncrementReport) Linearizable() bool {
	return r.Errors == 0 && r.Duplicates == 0 && r.Gaps == 0
}

// RunIncrementCheck spreads ops increments over keys shared by all workers
// and verifies the values each key returned.
func RunIncrementCheck(s domain.CounterStore, keys, ops, workers int) *IncrementReport {
	if keys <= 0 {
		keys = 1
	}
	if workers <= 0 {
		workers = 1
	}

	report := &IncrementReport{}
	var latency atomic.Int64

	var mu sync.Mutex
	seen := make(map[string][]int64, keys)

	work := make(chan int, 100)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make(map[string][]int64)

			for n := range work {
				key := fmt.Sprintf("bench:key:%d", n%keys)
				start := time.Now()
				v, err := s.Increment(context.Background(), key)
				latency.Add(int64(time.Since(start)))
				atomic.AddInt64(&report.Issued, 1)

				if err != nil {
					atomic.AddInt64(&report.Errors, 1)
					continue
				}
				local[key] = append(local[key], v)
			}

			mu.Lock()
			for k, vs := range local {
				seen[k] = append(seen[k], vs...)
			}
			mu.Unlock()
		}()
	}

	for n := 0; n < ops; n++ {
		work <- n
	}
	close(work)
	wg.Wait()

	report.Latency = time.Duration(latency.Load())

	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, key := range names {
		values := seen[key]
		sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

		expect := int64(1)
		for i, v := range values {
			if i > 0 && v == values[i-1] {
				report.Duplicates++
				report.Violations = append(report.Violations, fmt.Sprintf("%s: value %d returned twice", key, v))
				continue
			}
			if v != expect {
				report.Gaps += int(v - expect)
				report.Violations = append(report.Violations, fmt.Sprintf("%s: values %d..%d never returned", key, expect, v-1))
			}
			expect = v + 1
		}
	}
	return report
}
