package lsmkv

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// configValidator is a singleton validator instance, grounded on
// pkg/validation/validator.go's package-level singleton.
var configValidator = validator.New()

// Config carries the embedder-supplied configuration for Open, per
// spec.md §6. No config-file parsing is performed (spec.md non-goal);
// the caller constructs this struct programmatically, but its fields are
// still validated via struct tags before Open proceeds.
type Config struct {
	// DataDir is the directory holding run_<gen>.data files. Created if
	// absent.
	DataDir string `validate:"required"`

	// FlushThresholdBytes is the accounted-size threshold past which a
	// memtable's oversized latch trips and a background flush is
	// scheduled.
	FlushThresholdBytes int64 `validate:"required,gt=0"`

	// BackgroundQueueDepth bounds how many overflow-triggered flushes
	// (an Upsert tripping the memtable's size threshold) may be pending
	// or running at once before Upsert starts returning
	// ErrTooManyFlushes. Defaults to 1 if zero, matching spec.md §9's
	// "bounded task queue with one consumer thread". Explicit Flush()
	// and Compact() calls are unaffected: they always join (rather than
	// queue behind) any in-flight call of the same kind.
	BackgroundQueueDepth int `validate:"gte=0"`

	// IndexFanout controls how densely WriteSortedRun samples its binary
	// search index. spec.md §4.3 describes one index offset per record;
	// a fanout of 1 reproduces that literally. Values >1 thin the index
	// (one entry per N records) to shrink index size at the cost of a
	// bounded linear scan after the binary search lands on the nearest
	// indexed offset. Defaults to 1 if zero.
	IndexFanout int `validate:"gte=0"`

	// DisableBloomSidecar skips writing/reading the optional
	// run_<gen>.bloom sidecar described in SPEC_FULL.md §3.
	DisableBloomSidecar bool

	// Logger receives engine lifecycle events (open, flush and compaction
	// completion, flush/compaction write failures, background flush
	// failures, close). Defaults to NewDefaultLogger() if nil.
	Logger Logger `validate:"-"`

	// Metrics receives engine counters/histograms. Defaults to a private
	// registry if nil.
	Metrics *Registry `validate:"-"`
}

// withDefaults returns a copy of cfg with zero-value optional fields
// filled in.
func (cfg Config) withDefaults() Config {
	if cfg.BackgroundQueueDepth == 0 {
		cfg.BackgroundQueueDepth = 1
	}
	if cfg.IndexFanout == 0 {
		cfg.IndexFanout = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = NewDefaultLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewRegistry()
	}
	return cfg
}

func (cfg Config) validateConfig() error {
	if err := configValidator.Struct(cfg); err != nil {
		return fmt.Errorf("lsmkv: invalid config: %w", err)
	}
	return nil
}
