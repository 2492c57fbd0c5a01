package consensus

import (
	"github.com/silofs/silofs/internal/metrics"
	"github.com/silofs/silofs/internal/overlay"
)

// StackConfig configures the full consensus decorator chain built by
// NewStack: journal wraps cache wraps replication wraps overlay.
type StackConfig struct {
	Replication ReplicationConfig
	Cache       CacheConfig
	// JournalDir is where the async journal spills pending writes.
	// Empty disables disk persistence (in-memory queue only — fine for
	// tests, risky for a real deployment since a crash loses anything
	// still queued).
	JournalDir string
}

// NewStack wires the three consensus decorators around ov using cfg,
// returning the outermost layer the filesystem package should call
// through.
func NewStack(ov overlay.Overlay, cfg StackConfig, collector *metrics.Collector) (Consensus, error) {
	replication := NewReplicationLayer(ov, cfg.Replication, collector)
	cached := NewCacheLayer(replication, cfg.Cache)
	journal, err := NewAsyncJournal(cached, cfg.JournalDir)
	if err != nil {
		return nil, err
	}
	return journal, nil
}
