package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"journal-gateway/internal/registry"
)

// Pinger reports the status code of whatever answers at url.
type Pinger interface {
	Ping(ctx context.Context, url string) (int, error)
}

// ProbeResult is the outcome of probing one backend. Exactly one of
// StatusCode or Err is meaningful.
type ProbeResult struct {
	BaseURL    string
	Services   []string
	Reachable  bool
	StatusCode int
	Err        error
}

// Prober checks every distinct backend concurrently.
type Prober struct {
	pinger   Pinger
	backends map[string][]string
	logger   *slog.Logger
}

// NewProber creates a Prober over the registry's distinct base URLs.
func NewProber(p Pinger, reg *registry.Registry, logger *slog.Logger) *Prober {
	return &Prober{
		pinger:   p,
		backends: reg.BaseURLs(),
		logger:   logger.With("component", "prober"),
	}
}

// Probe returns one result per backend ordered by base URL. Any HTTP response
// counts as reachable. Unreachable backends are logged here and nowhere else.
func (p *Prober) Probe(ctx context.Context) []ProbeResult {
	results := make([]ProbeResult, 0, len(p.backends))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for baseURL, services := range p.backends {
		wg.Go(func() {
			res := ProbeResult{BaseURL: baseURL, Services: services}
			res.StatusCode, res.Err = p.pinger.Ping(ctx, baseURL+"/")
			res.Reachable = res.Err == nil
			if res.Err != nil {
				p.logger.Warn("backend unreachable, proceeding degraded",
					"base_url", baseURL,
					"services", services,
					"err", res.Err,
				)
			}

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		})
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].BaseURL < results[j].BaseURL })
	return results
}

// AllReachable reports whether every result is reachable.
func AllReachable(results []ProbeResult) bool {
	for _, r := range results {
		if !r.Reachable {
			return false
		}
	}
	return true
}
