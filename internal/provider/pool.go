package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentscan/registry-indexer/internal/logger"
	"github.com/agentscan/registry-indexer/internal/metrics"
	"github.com/agentscan/registry-indexer/internal/rpc"
	"github.com/agentscan/registry-indexer/pkg/config"
)

// failureThreshold is the number of consecutive failures after which an
// endpoint is marked unhealthy and benched for its cooldown period.
const failureThreshold = 3

// State is the lifecycle state of a single endpoint:
// Healthy -> (N consecutive failures) -> Unhealthy -> (cooldown elapsed) ->
// Probing -> Healthy|Unhealthy.
type State int

const (
	StateHealthy State = iota
	StateUnhealthy
	StateProbing
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateUnhealthy:
		return "unhealthy"
	default:
		return "probing"
	}
}

// DialFunc creates a client for an endpoint URL. Swappable in tests.
type DialFunc func(ctx context.Context, url string) (rpc.EthClient, error)

// endpoint is the runtime state of one configured RPC endpoint.
type endpoint struct {
	cfg    config.RPCProviderConfig
	client rpc.EthClient // dialed lazily

	state               State
	weightRemaining     int
	cooldownUntil       time.Time
	consecutiveFailures uint32
	lastLatency         time.Duration

	requestsThisMinute int
	minuteWindowStart  time.Time
}

// cooldown returns the endpoint's configured bench duration.
func (e *endpoint) cooldown() time.Duration {
	return time.Duration(e.cfg.CooldownSeconds) * time.Second
}

// available reports whether the endpoint may serve a request at now.
// Must be called after refreshing cooldown and rate-limit windows.
func (e *endpoint) available(now time.Time) bool {
	if e.state == StateUnhealthy {
		return false
	}

	if e.cfg.MaxRequestsPerMinute > 0 && now.Sub(e.minuteWindowStart) < time.Minute {
		return e.requestsThisMinute < e.cfg.MaxRequestsPerMinute
	}

	return true
}

// Pool manages the ordered RPC endpoints of one chain with health tracking,
// weighted rotation, and per-endpoint cooldowns. Endpoints are kept in
// priority order and rotation walks that order, wrapping around; it is not
// confined to one priority tier, so lower-priority endpoints take their
// turns as well. The
// pool is owned by the chain's indexer loop; its internal lock only guards
// against status readers.
type Pool struct {
	mu        sync.Mutex
	chainName string
	endpoints []*endpoint
	current   int
	timeout   time.Duration
	dial      DialFunc
	now       func() time.Time
	log       *logger.Logger
}

// New creates a provider pool for one chain. Providers are sorted by
// priority; the per-call timeout bounds every request issued through the pool.
func New(
	chainName string,
	providers []config.RPCProviderConfig,
	timeout time.Duration,
	log *logger.Logger,
) (*Pool, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("no RPC providers configured for chain %s", chainName)
	}

	sorted := make([]config.RPCProviderConfig, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	endpoints := make([]*endpoint, 0, len(sorted))
	for _, p := range sorted {
		endpoints = append(endpoints, &endpoint{
			cfg:             p,
			state:           StateHealthy,
			weightRemaining: p.Weight,
		})
	}

	pool := &Pool{
		chainName: chainName,
		endpoints: endpoints,
		timeout:   timeout,
		dial: func(ctx context.Context, url string) (rpc.EthClient, error) {
			return rpc.Dial(ctx, url)
		},
		now: time.Now,
		log: log.WithComponent("provider-pool").WithChain(chainName),
	}

	pool.log.Infow("provider pool initialized", "providers", len(endpoints))
	for i, e := range endpoints {
		pool.log.Debugw("provider registered",
			"index", i,
			"url", e.cfg.URL,
			"priority", e.cfg.Priority,
			"weight", e.cfg.Weight,
			"cooldown_seconds", e.cfg.CooldownSeconds,
		)
	}

	return pool, nil
}

// SetDialFunc replaces the endpoint dialer. Intended for tests.
func (p *Pool) SetDialFunc(dial DialFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dial = dial
}

// SetNowFunc replaces the pool's clock. Intended for tests.
func (p *Pool) SetNowFunc(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Current returns the URL of the endpoint the pool would use next.
func (p *Pool) Current() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, err := p.selectLocked()
	if err != nil {
		return "", err
	}

	return p.endpoints[idx].cfg.URL, nil
}

// Request executes fn against the current endpoint, rotating through the
// remaining healthy endpoints on failure. On success the endpoint's weight
// is consumed and its latency recorded; after the configured weight is spent
// the pool rotates to the next healthy endpoint. When every endpoint is
// unhealthy or rate limited, ErrAllProvidersUnavailable is returned.
func (p *Pool) Request(ctx context.Context, fn func(ctx context.Context, client rpc.EthClient) error) error {
	var lastErr error

	for attempt := 0; attempt < len(p.endpoints); attempt++ {
		e, err := p.acquire(ctx)
		if err != nil {
			if errors.Is(err, rpc.ErrAllProvidersUnavailable) {
				if lastErr != nil {
					return fmt.Errorf("%w (last endpoint error: %v)", err, lastErr)
				}
				return err
			}
			// Dial failure: the endpoint was penalized, try the next one.
			lastErr = err
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		start := p.clock()
		err = fn(callCtx, e.client)
		elapsed := p.clock().Sub(start)
		cancel()

		metrics.RPCRequestInc(p.chainName, err == nil)

		if err == nil {
			metrics.RPCRequestDuration(p.chainName, elapsed)
			p.markSuccess(e, elapsed)
			return nil
		}

		// The caller going away is not the endpoint's fault.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		p.markFailure(e, err)
		lastErr = err
	}

	return fmt.Errorf("%w for chain %s: %v", rpc.ErrAllProvidersUnavailable, p.chainName, lastErr)
}

// Call executes a request through the pool and returns a typed result.
func Call[T any](ctx context.Context, p *Pool, fn func(ctx context.Context, client rpc.EthClient) (T, error)) (T, error) {
	var result T
	err := p.Request(ctx, func(ctx context.Context, client rpc.EthClient) error {
		var innerErr error
		result, innerErr = fn(ctx, client)
		return innerErr
	})
	return result, err
}

// acquire picks the current endpoint and ensures its client is dialed.
func (p *Pool) acquire(ctx context.Context) (*endpoint, error) {
	p.mu.Lock()
	idx, err := p.selectLocked()
	if err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w for chain %s", rpc.ErrAllProvidersUnavailable, p.chainName)
	}
	e := p.endpoints[idx]
	p.mu.Unlock()

	if e.client == nil {
		client, err := p.dial(ctx, e.cfg.URL)
		if err != nil {
			p.markFailure(e, err)
			return nil, fmt.Errorf("failed to dial %s: %w", e.cfg.URL, err)
		}
		e.client = client
	}

	return e, nil
}

// selectLocked refreshes endpoint windows and returns the index of the next
// usable endpoint, honoring weighted rotation. Caller holds p.mu.
func (p *Pool) selectLocked() (int, error) {
	now := p.now()

	for _, e := range p.endpoints {
		// Expire cooldowns: an unhealthy endpoint becomes a probe candidate.
		if e.state == StateUnhealthy && now.After(e.cooldownUntil) {
			e.state = StateProbing
			e.consecutiveFailures = 0
			p.log.Infow("provider cooldown elapsed, probing", "url", e.cfg.URL)
		}

		// Reset per-minute rate windows.
		if now.Sub(e.minuteWindowStart) >= time.Minute {
			e.minuteWindowStart = now
			e.requestsThisMinute = 0
		}
	}

	total := len(p.endpoints)
	for attempts := 0; attempts < total; attempts++ {
		e := p.endpoints[p.current]

		// Rotate away from an endpoint whose weight is spent, then consider
		// the endpoint the rotation landed on within the same attempt.
		if e.weightRemaining <= 0 && total > 1 {
			e.weightRemaining = e.cfg.Weight
			p.current = (p.current + 1) % total
			metrics.ProviderRotationInc(p.chainName, "weight")
			p.log.Debugw("rotating provider", "from", e.cfg.URL, "reason", "weight spent")
			e = p.endpoints[p.current]
		}

		if e.available(now) {
			return p.current, nil
		}

		p.current = (p.current + 1) % total
	}

	return 0, rpc.ErrAllProvidersUnavailable
}

// markSuccess records a successful request against an endpoint.
func (p *Pool) markSuccess(e *endpoint, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e.weightRemaining--
	e.requestsThisMinute++
	e.consecutiveFailures = 0
	e.lastLatency = latency

	if e.state == StateProbing {
		e.state = StateHealthy
		p.log.Infow("provider recovered", "url", e.cfg.URL)
	}

	metrics.ProviderHealthySet(p.chainName, e.cfg.URL, true)
}

// markFailure records a failed request, benching the endpoint once it reaches
// the failure threshold (immediately when a probe fails).
func (p *Pool) markFailure(e *endpoint, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e.consecutiveFailures++

	bench := e.consecutiveFailures >= failureThreshold ||
		e.state == StateProbing

	if bench {
		e.state = StateUnhealthy
		e.cooldownUntil = p.now().Add(e.cooldown())
		metrics.ProviderHealthySet(p.chainName, e.cfg.URL, false)
		metrics.ProviderRotationInc(p.chainName, "failure")
		p.log.Warnw("provider benched",
			"url", e.cfg.URL,
			"consecutive_failures", e.consecutiveFailures,
			"cooldown", e.cooldown(),
			"error", err,
		)
	} else {
		p.log.Debugw("provider request failed",
			"url", e.cfg.URL,
			"consecutive_failures", e.consecutiveFailures,
			"error", err,
		)
	}

	// Move on regardless; the next attempt should not hammer the same endpoint.
	if len(p.endpoints) > 1 {
		p.current = (p.current + 1) % len(p.endpoints)
	}
}

// clock returns the pool's current time without holding the lock.
func (p *Pool) clock() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now()
}

// Stats is a snapshot of pool state for health reporting.
type Stats struct {
	TotalProviders     int    `json:"total_providers"`
	AvailableProviders int    `json:"available_providers"`
	CooldownProviders  int    `json:"cooldown_providers"`
	CurrentProviderURL string `json:"current_provider_url"`
}

// Stats returns a snapshot of the pool's endpoint states.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	stats := Stats{
		TotalProviders:     len(p.endpoints),
		CurrentProviderURL: p.endpoints[p.current].cfg.URL,
	}

	for _, e := range p.endpoints {
		if e.state == StateUnhealthy {
			if now.Before(e.cooldownUntil) {
				stats.CooldownProviders++
			} else {
				// Cooldown elapsed; the endpoint will probe on next use.
				stats.AvailableProviders++
			}
			continue
		}
		if e.available(now) {
			stats.AvailableProviders++
		}
	}

	return stats
}

// Close releases every dialed endpoint client.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.endpoints {
		if e.client != nil {
			e.client.Close()
			e.client = nil
		}
	}
}
