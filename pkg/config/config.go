package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentscan/registry-indexer/internal/common"
	"github.com/agentscan/registry-indexer/internal/logger"
)

// Config represents the complete configuration for the registry indexer.
type Config struct {
	// Chains contains the configuration for all indexed chains
	Chains []ChainConfig `yaml:"chains" json:"chains" toml:"chains"`

	// Global contains indexer-wide settings shared by all chains
	Global GlobalConfig `yaml:"global" json:"global" toml:"global"`

	// Database contains the SQLite database configuration
	Database DatabaseConfig `yaml:"database" json:"database" toml:"database"`

	// API contains the HTTP API server configuration
	API *APIConfig `yaml:"api,omitempty" json:"api,omitempty" toml:"api,omitempty"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// ChainConfig represents the configuration for a single chain.
type ChainConfig struct {
	// ChainID is the EVM chain identifier (e.g. 11155111 for Sepolia)
	ChainID uint64 `yaml:"chain_id" json:"chain_id" toml:"chain_id"`

	// Name is a human-readable chain name used in logs
	Name string `yaml:"name" json:"name" toml:"name"`

	// Enabled controls whether this chain is indexed
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// RPCProviders is the ordered list of RPC endpoints for this chain
	RPCProviders []RPCProviderConfig `yaml:"rpc_providers" json:"rpc_providers" toml:"rpc_providers"`

	// RPCURL is a single RPC endpoint, kept for configs written before
	// rpc_providers existed. Converted to a one-element provider list.
	RPCURL string `yaml:"rpc_url,omitempty" json:"rpc_url,omitempty" toml:"rpc_url,omitempty"`

	// Contracts holds the three registry contract addresses
	Contracts ContractAddresses `yaml:"contracts" json:"contracts" toml:"contracts"`

	// StartingBlock is "latest" or a block number. Only consulted on the
	// first ever run for the chain; a durable cursor always wins.
	StartingBlock string `yaml:"starting_block" json:"starting_block" toml:"starting_block"`

	// PollIntervalMS is the base polling interval in milliseconds
	PollIntervalMS uint64 `yaml:"poll_interval_ms" json:"poll_interval_ms" toml:"poll_interval_ms"`

	// BatchSize scales the log-fetch window during catch-up
	BatchSize uint64 `yaml:"batch_size" json:"batch_size" toml:"batch_size"`

	// AdaptivePolling couples the polling pace to chain lag
	AdaptivePolling bool `yaml:"adaptive_polling" json:"adaptive_polling" toml:"adaptive_polling"`
}

// ApplyDefaults sets default values for optional chain configuration fields.
func (c *ChainConfig) ApplyDefaults() {
	if c.StartingBlock == "" {
		c.StartingBlock = "latest"
	}
	if c.PollIntervalMS == 0 {
		c.PollIntervalMS = 5000
	}
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}

	for i := range c.RPCProviders {
		c.RPCProviders[i].ApplyDefaults()
	}
}

// Providers returns the configured RPC providers, converting a lone rpc_url
// into a single-provider list when no providers are configured.
func (c *ChainConfig) Providers() []RPCProviderConfig {
	if len(c.RPCProviders) > 0 {
		return c.RPCProviders
	}

	if c.RPCURL != "" {
		p := RPCProviderConfig{URL: c.RPCURL}
		p.ApplyDefaults()
		return []RPCProviderConfig{p}
	}

	return nil
}

// StartingBlockNumber resolves the starting_block setting. latest reports
// true when the chain should start from the current head.
func (c *ChainConfig) StartingBlockNumber() (block uint64, latest bool, err error) {
	if common.ToLowerWithTrim(c.StartingBlock) == "latest" {
		return 0, true, nil
	}

	block, err = common.ParseUint64orHex(&c.StartingBlock)
	if err != nil {
		return 0, false, fmt.Errorf("invalid starting_block %q: %w", c.StartingBlock, err)
	}

	return block, false, nil
}

// RPCProviderConfig represents a single RPC endpoint with rotation settings.
type RPCProviderConfig struct {
	// URL is the HTTP(S) JSON-RPC endpoint
	URL string `yaml:"url" json:"url" toml:"url"`

	// Priority orders endpoints; lower values come first in the rotation
	Priority int `yaml:"priority" json:"priority" toml:"priority"`

	// Weight is the number of requests served before rotating to the next
	// endpoint in priority order (rotation is not limited to one tier)
	Weight int `yaml:"weight" json:"weight" toml:"weight"`

	// CooldownSeconds is how long a failed endpoint is benched
	CooldownSeconds int `yaml:"cooldown_seconds" json:"cooldown_seconds" toml:"cooldown_seconds"`

	// MaxRequestsPerMinute caps request throughput per endpoint (unset or 0 defaults to 100)
	MaxRequestsPerMinute int `yaml:"max_requests_per_minute,omitempty" json:"max_requests_per_minute,omitempty" toml:"max_requests_per_minute,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional provider fields.
func (p *RPCProviderConfig) ApplyDefaults() {
	if p.Priority == 0 {
		p.Priority = 1
	}
	if p.Weight == 0 {
		p.Weight = 30
	}
	if p.CooldownSeconds == 0 {
		p.CooldownSeconds = 60
	}
	if p.MaxRequestsPerMinute == 0 {
		p.MaxRequestsPerMinute = 100
	}
}

// ContractAddresses holds the registry contract addresses for one chain.
type ContractAddresses struct {
	IdentityRegistry   string `yaml:"identity_registry" json:"identity_registry" toml:"identity_registry"`
	ReputationRegistry string `yaml:"reputation_registry" json:"reputation_registry" toml:"reputation_registry"`
	ValidationRegistry string `yaml:"validation_registry" json:"validation_registry" toml:"validation_registry"`
}

// GlobalConfig represents indexer-wide settings.
type GlobalConfig struct {
	// MaxIndexerRetries bounds supervisor restarts before a chain is
	// marked terminally failed
	MaxIndexerRetries int `yaml:"max_indexer_retries" json:"max_indexer_retries" toml:"max_indexer_retries"`

	// RetryBaseDelayMS is the base delay of the supervisor's exponential backoff
	RetryBaseDelayMS uint64 `yaml:"retry_base_delay_ms" json:"retry_base_delay_ms" toml:"retry_base_delay_ms"`

	// RetryMaxDelayMS caps the supervisor's backoff delay
	RetryMaxDelayMS uint64 `yaml:"retry_max_delay_ms" json:"retry_max_delay_ms" toml:"retry_max_delay_ms"`

	// AdaptivePollingEnabled is the global switch for adaptive polling
	AdaptivePollingEnabled *bool `yaml:"adaptive_polling_enabled,omitempty" json:"adaptive_polling_enabled,omitempty" toml:"adaptive_polling_enabled,omitempty"` //nolint:lll

	// MaxParallelBlocks caps the log-fetch window size
	MaxParallelBlocks uint64 `yaml:"max_parallel_blocks" json:"max_parallel_blocks" toml:"max_parallel_blocks"`

	// RPCTimeout bounds every upstream RPC call
	RPCTimeout common.Duration `yaml:"rpc_timeout" json:"rpc_timeout" toml:"rpc_timeout"`

	// StallThreshold is how long a lagging chain may go without a sync
	// before the health monitor marks it stalled
	StallThreshold common.Duration `yaml:"stall_threshold" json:"stall_threshold" toml:"stall_threshold"`

	// MaxEventsInMemory bounds the per-subscriber broadcast buffers
	MaxEventsInMemory int `yaml:"max_events_in_memory" json:"max_events_in_memory" toml:"max_events_in_memory"`
}

// ApplyDefaults sets default values for optional global configuration fields.
func (g *GlobalConfig) ApplyDefaults() {
	if g.MaxIndexerRetries == 0 {
		g.MaxIndexerRetries = 5
	}
	if g.RetryBaseDelayMS == 0 {
		g.RetryBaseDelayMS = 1000
	}
	if g.RetryMaxDelayMS == 0 {
		g.RetryMaxDelayMS = 60000
	}
	if g.AdaptivePollingEnabled == nil {
		enabled := true
		g.AdaptivePollingEnabled = &enabled
	}
	if g.MaxParallelBlocks == 0 {
		g.MaxParallelBlocks = 100
	}
	if g.RPCTimeout.Duration == 0 {
		g.RPCTimeout = common.NewDuration(10 * time.Second)
	}
	if g.StallThreshold.Duration == 0 {
		g.StallThreshold = common.NewDuration(5 * time.Minute)
	}
	if g.MaxEventsInMemory == 0 {
		g.MaxEventsInMemory = 256
	}
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 10
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 2
	}
	// EnableForeignKeys defaults to false (zero value)
}

// APIConfig configures the HTTP API server.
type APIConfig struct {
	// Enabled controls whether the API server runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the API server to
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// ReadTimeout bounds request reads
	ReadTimeout common.Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout"`

	// WriteTimeout bounds response writes
	WriteTimeout common.Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout"`

	// IdleTimeout bounds keep-alive connections
	IdleTimeout common.Duration `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`

	// CORS configures cross-origin access
	CORS CORSConfig `yaml:"cors" json:"cors" toml:"cors"`

	// RateLimit configures per-client request throttling
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit" toml:"rate_limit"`
}

// ApplyDefaults sets default values for optional API configuration fields.
func (a *APIConfig) ApplyDefaults() {
	if a.ListenAddress == "" {
		a.ListenAddress = ":8080"
	}
	if a.ReadTimeout.Duration == 0 {
		a.ReadTimeout = common.NewDuration(15 * time.Second)
	}
	if a.WriteTimeout.Duration == 0 {
		a.WriteTimeout = common.NewDuration(30 * time.Second)
	}
	if a.IdleTimeout.Duration == 0 {
		a.IdleTimeout = common.NewDuration(60 * time.Second)
	}
	a.RateLimit.ApplyDefaults()
}

// CORSConfig configures cross-origin resource sharing for the API.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled" toml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" toml:"allowed_origins"`
}

// RateLimitConfig configures API request throttling.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is applied
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// RequestsPerSecond is the sustained request rate per client
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" toml:"requests_per_second"`

	// Burst is the short-term burst allowance per client
	Burst int `yaml:"burst" json:"burst" toml:"burst"`
}

// ApplyDefaults sets default values for optional rate limit fields.
func (r *RateLimitConfig) ApplyDefaults() {
	if r.RequestsPerSecond == 0 {
		r.RequestsPerSecond = 10
	}
	if r.Burst == 0 {
		r.Burst = 20
	}
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return common.ToLowerWithTrim(level)
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Global.ApplyDefaults()
	c.Database.ApplyDefaults()

	for i := range c.Chains {
		c.Chains[i].ApplyDefaults()
	}

	if c.API != nil {
		c.API.ApplyDefaults()
	}

	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Database.JournalMode != "" && c.Database.JournalMode != "WAL" &&
		c.Database.JournalMode != "DELETE" && c.Database.JournalMode != "TRUNCATE" &&
		c.Database.JournalMode != "PERSIST" && c.Database.JournalMode != "MEMORY" {
		return fmt.Errorf("database.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	if c.Database.Synchronous != "" && c.Database.Synchronous != "FULL" &&
		c.Database.Synchronous != "NORMAL" && c.Database.Synchronous != "OFF" {
		return fmt.Errorf("database.synchronous must be one of: FULL, NORMAL, OFF")
	}

	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	chainIDs := make(map[uint64]bool)
	enabledCount := 0

	for i, chain := range c.Chains {
		if chain.ChainID == 0 {
			return fmt.Errorf("chain[%d]: chain_id is required", i)
		}

		if chainIDs[chain.ChainID] {
			return fmt.Errorf("chain[%d]: duplicate chain_id %d", i, chain.ChainID)
		}
		chainIDs[chain.ChainID] = true

		if chain.Name == "" {
			return fmt.Errorf("chain[%d]: name is required", i)
		}

		if !chain.Enabled {
			continue
		}
		enabledCount++

		if len(chain.Providers()) == 0 {
			return fmt.Errorf("chain[%d] (%s): at least one RPC provider is required", i, chain.Name)
		}

		for j, provider := range chain.Providers() {
			if provider.URL == "" {
				return fmt.Errorf("chain[%d] (%s), rpc_providers[%d]: url is required", i, chain.Name, j)
			}
			if !strings.HasPrefix(provider.URL, "http://") && !strings.HasPrefix(provider.URL, "https://") {
				return fmt.Errorf("chain[%d] (%s), rpc_providers[%d]: url must be http(s)", i, chain.Name, j)
			}
		}

		if chain.Contracts.IdentityRegistry == "" ||
			chain.Contracts.ReputationRegistry == "" ||
			chain.Contracts.ValidationRegistry == "" {
			return fmt.Errorf("chain[%d] (%s): all three registry contract addresses are required", i, chain.Name)
		}

		if _, _, err := chain.StartingBlockNumber(); err != nil {
			return fmt.Errorf("chain[%d] (%s): %w", i, chain.Name, err)
		}
	}

	if enabledCount == 0 {
		return fmt.Errorf("no enabled chains configured")
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}

// EnabledChains returns only the chains with enabled set.
func (c *Config) EnabledChains() []ChainConfig {
	enabled := make([]ChainConfig, 0, len(c.Chains))
	for _, chain := range c.Chains {
		if chain.Enabled {
			enabled = append(enabled, chain)
		}
	}
	return enabled
}
