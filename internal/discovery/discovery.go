// Package discovery fetches capability manifests from known URLs, registers
// them in the mesh Registry, and continuously verifies liveness. Grounded
// on the teacher's internal/catalog/catalog.go Start/Stop/Refresh ticker
// lifecycle, and internal/notify/service.go sendWithRetries, generalized
// from linear to exponential backoff via cenkalti/backoff/v4 for
// RetryFailedConnections.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyvve/agentmesh/internal/contracts"
	"github.com/hyvve/agentmesh/internal/mesh"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// manifest is the wire shape fetched from a remote agent's discovery URL.
type manifest struct {
	Name               string        `json:"name"`
	Description        string        `json:"description"`
	URL                string        `json:"url"`
	Version            string        `json:"version"`
	Module             string        `json:"module"`
	Skills             []mesh.Skill  `json:"skills"`
	Capabilities       mesh.Capabilities `json:"capabilities"`
	DefaultInputModes  []string      `json:"default_input_modes"`
	DefaultOutputModes []string      `json:"default_output_modes"`
}

// HealthResult is one agent's outcome from a health sweep.
type HealthResult struct {
	Healthy        bool
	ResponseTimeMs int64
	Error          string
}

// ConnectResult is one agent's outcome from a bulk connect attempt.
type ConnectResult struct {
	Success        bool
	ToolsCount     int
	Error          string
	RetryScheduled bool
	ConnectTimeMs  int64
}

// Discovery periodically scans configured URLs and keeps the Registry's
// health flags current.
type Discovery struct {
	registry *mesh.Registry
	http     *http.Client

	scanInterval time.Duration
	autoRegister bool

	mu   sync.RWMutex
	urls []string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Discovery bound to registry, scanning urls.
func New(registry *mesh.Registry, urls []string, scanInterval time.Duration, autoRegister bool) *Discovery {
	return &Discovery{
		registry:     registry,
		http:         &http.Client{},
		scanInterval: scanInterval,
		autoRegister: autoRegister,
		urls:         append([]string(nil), urls...),
	}
}

// DiscoverAgent performs an HTTP GET against url, parses the manifest, and
// (if auto-register is enabled) registers the resulting card as external.
func (d *Discovery) DiscoverAgent(ctx context.Context, url string) (mesh.AgentCard, *contracts.Failure) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return mesh.AgentCard{}, contracts.NewFailure(contracts.ErrValidation, err.Error())
	}

	resp, err := d.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return mesh.AgentCard{}, contracts.NewFailure(contracts.ErrTimeout, "discovery request timed out")
		}
		return mesh.AgentCard{}, contracts.NewFailure(contracts.ErrConnection, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return mesh.AgentCard{}, contracts.NewFailure(contracts.ErrNotFound, "agent card not found")
	}
	if resp.StatusCode >= 400 {
		return mesh.AgentCard{}, contracts.NewFailure(contracts.ErrConnection, fmt.Sprintf("http status %d", resp.StatusCode))
	}

	var m manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil || m.Name == "" {
		return mesh.AgentCard{}, contracts.NewFailure(contracts.ErrValidation, "invalid capability manifest")
	}
	if m.URL == "" {
		m.URL = baseURL(url)
	}

	card := mesh.AgentCard{
		Name:               m.Name,
		Description:        m.Description,
		URL:                m.URL,
		Version:            m.Version,
		Module:             m.Module,
		IsExternal:         true,
		Skills:             m.Skills,
		Capabilities:       m.Capabilities,
		DefaultInputModes:  m.DefaultInputModes,
		DefaultOutputModes: m.DefaultOutputModes,
	}

	if d.autoRegister {
		d.registry.Register(card)
	}
	return card, nil
}

func baseURL(url string) string {
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[:i]
	}
	return url
}

// Scan discovers every configured URL in parallel; independent failures
// are isolated and do not prevent the others from succeeding.
func (d *Discovery) Scan(ctx context.Context) []mesh.AgentCard {
	d.mu.RLock()
	urls := append([]string(nil), d.urls...)
	d.mu.RUnlock()

	var mu sync.Mutex
	var cards []mesh.AgentCard

	g, gctx := errgroup.WithContext(ctx)
	for _, url := range urls {
		url := url
		g.Go(func() error {
			card, fail := d.DiscoverAgent(gctx, url)
			if fail != nil {
				log.Warn().Str("url", url).Str("kind", string(fail.Kind)).Msg("discovery: scan failed for agent")
				return nil
			}
			mu.Lock()
			cards = append(cards, card)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return cards
}

// Start performs an initial scan, then spawns a periodic scanner at the
// configured scan interval.
func (d *Discovery) Start(ctx context.Context) {
	d.stopCh = make(chan struct{})
	d.Scan(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.scanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-d.stopCh:
				return
			case <-ticker.C:
				d.Scan(ctx)
			}
		}
	}()
}

// Stop cancels the periodic scanner and closes the HTTP client's idle
// connections.
func (d *Discovery) Stop() {
	if d.stopCh != nil {
		close(d.stopCh)
	}
	d.wg.Wait()
	d.http.CloseIdleConnections()
}

// CheckAgentHealth issues a lightweight request against name's URL and
// updates the registry's health flag accordingly.
func (d *Discovery) CheckAgentHealth(ctx context.Context, name string, timeout time.Duration) HealthResult {
	card, ok := d.registry.Get(name)
	if !ok {
		return HealthResult{Healthy: false, Error: "unknown agent"}
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, card.URL, nil)
	if err != nil {
		d.registry.UpdateHealth(name, false)
		return HealthResult{Healthy: false, Error: err.Error()}
	}

	resp, err := d.http.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		d.registry.UpdateHealth(name, false)
		return HealthResult{Healthy: false, ResponseTimeMs: elapsed, Error: err.Error()}
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode < 400
	d.registry.UpdateHealth(name, healthy)
	return HealthResult{Healthy: healthy, ResponseTimeMs: elapsed}
}

// HealthCheckAll runs a parallel sweep over every external agent with a
// per-agent timeout. Total wall time tracks the slowest agent, not the
// sum, since every check runs concurrently.
func (d *Discovery) HealthCheckAll(ctx context.Context, timeout time.Duration) map[string]HealthResult {
	agents := d.registry.ListExternal()

	results := make(map[string]HealthResult, len(agents))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range agents {
		a := a
		g.Go(func() error {
			r := d.CheckAgentHealth(gctx, a.Name, timeout)
			mu.Lock()
			results[a.Name] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ConnectAll performs a parallel bulk connect over subset (or every
// registered agent if subset is nil). A single agent's timeout degrades
// only that agent's result.
func (d *Discovery) ConnectAll(ctx context.Context, subset []string, timeout time.Duration) map[string]ConnectResult {
	names := subset
	if names == nil {
		for _, a := range d.registry.ListAll() {
			names = append(names, a.Name)
		}
	}

	results := make(map[string]ConnectResult, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			start := time.Now()
			h := d.CheckAgentHealth(gctx, name, timeout)
			mu.Lock()
			results[name] = ConnectResult{
				Success:        h.Healthy,
				Error:          h.Error,
				RetryScheduled: !h.Healthy,
				ConnectTimeMs:  time.Since(start).Milliseconds(),
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// RetryFailedConnections retries each name in names with exponential
// backoff up to maxRetries attempts, stopping early once an attempt
// succeeds.
func (d *Discovery) RetryFailedConnections(ctx context.Context, names []string, maxRetries int, backoffBase time.Duration, timeout time.Duration) map[string]ConnectResult {
	results := make(map[string]ConnectResult, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = backoffBase
			// WithMaxRetries counts retries after the first attempt, so
			// maxRetries-1 caps the total at maxRetries attempts.
			retries := maxRetries - 1
			if retries < 0 {
				retries = 0
			}
			b := backoff.WithMaxRetries(bo, uint64(retries))

			var last ConnectResult
			attempts := 0
			_ = backoff.Retry(func() error {
				attempts++
				start := time.Now()
				h := d.CheckAgentHealth(gctx, name, timeout)
				last = ConnectResult{
					Success:       h.Healthy,
					Error:         h.Error,
					ConnectTimeMs: time.Since(start).Milliseconds(),
				}
				if !h.Healthy {
					return fmt.Errorf("agent %s still unhealthy", name)
				}
				return nil
			}, b)

			last.RetryScheduled = !last.Success && attempts < maxRetries
			mu.Lock()
			results[name] = last
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
