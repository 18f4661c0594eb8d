package syncer

import (
	"time"

	"github.com/pinmesh/pinmesh/fetch"
)

// Config configures the sync orchestrator.
type Config struct {
	// SyncTimeout force-cancels a sync after this long without any inbound
	// activity from the peer.
	SyncTimeout time.Duration `mapstructure:"sync-timeout"`
	// CompletionCheckDelay is how long after ingestion the orchestrator
	// verifies that a sync has no outstanding work.
	CompletionCheckDelay time.Duration `mapstructure:"completion-check-delay"`
	// MinMerkleDelay and MaxMerkleDelay clamp the adaptive debounce of the
	// root recomputation.
	MinMerkleDelay time.Duration `mapstructure:"min-merkle-delay"`
	MaxMerkleDelay time.Duration `mapstructure:"max-merkle-delay"`
	// BatchTimingHistory is how many batch arrival times feed the adaptive
	// debounce delay.
	BatchTimingHistory int `mapstructure:"batch-timing-history"`
	// MerkleCacheTTL bounds reuse of a built merkle tree.
	MerkleCacheTTL time.Duration `mapstructure:"merkle-cache-ttl"`
	// MaxRecordAge prunes older records when positive.
	MaxRecordAge time.Duration `mapstructure:"max-record-age"`
	// PruneInterval is how often the prune sweep runs.
	PruneInterval time.Duration `mapstructure:"prune-interval"`

	Fetch fetch.Config `mapstructure:"fetch"`
}

// DefaultConfig returns the default orchestration parameters.
func DefaultConfig() Config {
	return Config{
		SyncTimeout:          120 * time.Second,
		CompletionCheckDelay: 2 * time.Second,
		MinMerkleDelay:       500 * time.Millisecond,
		MaxMerkleDelay:       5 * time.Second,
		BatchTimingHistory:   5,
		MerkleCacheTTL:       time.Second,
		PruneInterval:        time.Hour,
		Fetch:                fetch.DefaultConfig(),
	}
}
