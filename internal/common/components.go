package common

const (
	ComponentSupervisor   = "supervisor"
	ComponentIndexer      = "indexer"
	ComponentProviderPool = "provider-pool"
	ComponentStore        = "store"
	ComponentDecoder      = "decoder"
	ComponentBus          = "bus"
	ComponentStats        = "stats"
	ComponentHealth       = "health"
	ComponentAPI          = "api"
	ComponentMetrics      = "metrics"
)

var AllComponents = map[string]struct{}{
	ComponentSupervisor:   {},
	ComponentIndexer:      {},
	ComponentProviderPool: {},
	ComponentStore:        {},
	ComponentDecoder:      {},
	ComponentBus:          {},
	ComponentStats:        {},
	ComponentHealth:       {},
	ComponentAPI:          {},
	ComponentMetrics:      {},
}
