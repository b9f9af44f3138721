package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Chains: []ChainConfig{
			{
				ChainID: 11155111,
				Name:    "sepolia",
				Enabled: true,
				RPCProviders: []RPCProviderConfig{
					{URL: "https://rpc.example.com"},
				},
				Contracts: ContractAddresses{
					IdentityRegistry:   "0x1111111111111111111111111111111111111111",
					ReputationRegistry: "0x2222222222222222222222222222222222222222",
					ValidationRegistry: "0x3333333333333333333333333333333333333333",
				},
			},
		},
		Database: DatabaseConfig{Path: "test.db"},
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.ApplyDefaults()

	chain := cfg.Chains[0]
	assert.Equal(t, "latest", chain.StartingBlock)
	assert.Equal(t, uint64(5000), chain.PollIntervalMS)
	assert.Equal(t, uint64(10), chain.BatchSize)

	p := chain.RPCProviders[0]
	assert.Equal(t, 1, p.Priority)
	assert.Equal(t, 30, p.Weight)
	assert.Equal(t, 60, p.CooldownSeconds)

	assert.Equal(t, 5, cfg.Global.MaxIndexerRetries)
	assert.Equal(t, uint64(1000), cfg.Global.RetryBaseDelayMS)
	assert.Equal(t, uint64(60000), cfg.Global.RetryMaxDelayMS)
	assert.Equal(t, uint64(100), cfg.Global.MaxParallelBlocks)
	assert.Equal(t, 10*time.Second, cfg.Global.RPCTimeout.Duration)
	assert.Equal(t, 256, cfg.Global.MaxEventsInMemory)
	require.NotNil(t, cfg.Global.AdaptivePollingEnabled)
	assert.True(t, *cfg.Global.AdaptivePollingEnabled)

	assert.Equal(t, "WAL", cfg.Database.JournalMode)
	assert.Equal(t, 10, cfg.Database.MaxOpenConnections)
	assert.Equal(t, 2, cfg.Database.MaxIdleConnections)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "no chains",
			mutate:  func(c *Config) { c.Chains = nil },
			wantErr: "at least one chain",
		},
		{
			name: "duplicate chain ids",
			mutate: func(c *Config) {
				c.Chains = append(c.Chains, c.Chains[0])
			},
			wantErr: "duplicate chain_id",
		},
		{
			name:    "missing chain id",
			mutate:  func(c *Config) { c.Chains[0].ChainID = 0 },
			wantErr: "chain_id is required",
		},
		{
			name:    "missing name",
			mutate:  func(c *Config) { c.Chains[0].Name = "" },
			wantErr: "name is required",
		},
		{
			name: "no providers on enabled chain",
			mutate: func(c *Config) {
				c.Chains[0].RPCProviders = nil
				c.Chains[0].RPCURL = ""
			},
			wantErr: "at least one RPC provider",
		},
		{
			name: "non-http provider",
			mutate: func(c *Config) {
				c.Chains[0].RPCProviders[0].URL = "ws://rpc.example.com"
			},
			wantErr: "must be http",
		},
		{
			name: "missing contract",
			mutate: func(c *Config) {
				c.Chains[0].Contracts.ValidationRegistry = ""
			},
			wantErr: "registry contract addresses",
		},
		{
			name: "bad starting block",
			mutate: func(c *Config) {
				c.Chains[0].StartingBlock = "sometime"
			},
			wantErr: "invalid starting_block",
		},
		{
			name: "all chains disabled",
			mutate: func(c *Config) {
				c.Chains[0].Enabled = false
			},
			wantErr: "no enabled chains",
		},
		{
			name: "disabled chain skips provider validation",
			mutate: func(c *Config) {
				c.Chains = append(c.Chains, ChainConfig{
					ChainID: 84532,
					Name:    "base-sepolia",
					Enabled: false,
				})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			cfg.ApplyDefaults()

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestChainConfig_StartingBlockNumber(t *testing.T) {
	chain := ChainConfig{StartingBlock: "latest"}
	_, latest, err := chain.StartingBlockNumber()
	require.NoError(t, err)
	assert.True(t, latest)

	chain.StartingBlock = "12345"
	block, latest, err := chain.StartingBlockNumber()
	require.NoError(t, err)
	assert.False(t, latest)
	assert.Equal(t, uint64(12345), block)

	chain.StartingBlock = "0x10"
	block, _, err = chain.StartingBlockNumber()
	require.NoError(t, err)
	assert.Equal(t, uint64(16), block)
}

func TestChainConfig_Providers_BackwardCompat(t *testing.T) {
	chain := ChainConfig{RPCURL: "https://rpc.example.com"}

	providers := chain.Providers()
	require.Len(t, providers, 1)
	assert.Equal(t, "https://rpc.example.com", providers[0].URL)
	assert.Equal(t, 30, providers[0].Weight)

	// Explicit providers win over the legacy field.
	chain.RPCProviders = []RPCProviderConfig{{URL: "https://other.example.com"}}
	providers = chain.Providers()
	require.Len(t, providers, 1)
	assert.Equal(t, "https://other.example.com", providers[0].URL)
}

func TestLoggingConfig_ComponentLevels(t *testing.T) {
	cfg := &LoggingConfig{
		DefaultLevel:    "info",
		ComponentLevels: map[string]string{"store": "debug"},
	}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.GetComponentLevel("store"))
	assert.Equal(t, "info", cfg.GetComponentLevel("indexer"))

	cfg.ComponentLevels["nope"] = "debug"
	require.Error(t, cfg.Validate())

	delete(cfg.ComponentLevels, "nope")
	cfg.ComponentLevels["bus"] = "loud"
	require.Error(t, cfg.Validate())
}
