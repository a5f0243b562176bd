// Package config holds the tunables of a redistribution pass and loads
// them from TOML files.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Partition strategies.
const (
	StrategyGraph      = "graph"
	StrategyBlock      = "block"
	StrategyRoundRobin = "roundrobin"
)

// HierarchyLevel assigns a process subset to a grid level. Grid levels from
// GridLevel up to the next entry's GridLevel inherit this level's decomposition.
type HierarchyLevel struct {
	GridLevel  int   `toml:"grid_level"`
	NumProcs   int   `toml:"num_procs"`
	ProcessMap []int `toml:"process_map"` // logical part -> rank, optional
}

// Config describes one redistribution pass.
type Config struct {
	// Partitioning
	Strategy         string  `toml:"strategy"`          // graph, block or roundrobin
	Kind             string  `toml:"kind"`              // partitioned element kind, empty for the grid's top kind
	MaxImbalance     float64 `toml:"max_imbalance"`     // max/avg load above this raises a balance warning
	Ufactor          float64 `toml:"ufactor"`           // per-bisection load tolerance
	ElementThreshold int     `toml:"element_threshold"` // minimum elements per used part, 0 disables
	SerialThreshold  int     `toml:"serial_threshold"`  // levels above this size are partitioned collectively, 0 means always serial
	RefinePasses     int     `toml:"refine_passes"`
	Trials           int     `toml:"trials"`

	// Transport
	Compression      bool `toml:"compression"`
	CompressionLevel int  `toml:"compression_level"`
	SourceRank       int  `toml:"source_rank"`

	Hierarchy []HierarchyLevel `toml:"hierarchy"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Strategy:         StrategyGraph,
		MaxImbalance:     1.1,
		Ufactor:          1.03,
		RefinePasses:     8,
		Trials:           4,
		CompressionLevel: 3,
	}
}

// Load reads a TOML file over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}
	if und := md.Undecoded(); len(und) > 0 {
		keys := make([]string, len(und))
		for i, k := range und {
			keys[i] = k.String()
		}
		return cfg, errors.Wrapf(ErrInvalidConfig, "config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return cfg, cfg.Validate()
}

// Parse decodes TOML text over the defaults.
func Parse(text string) (Config, error) {
	cfg := Default()
	md, err := toml.Decode(text, &cfg)
	if err != nil {
		return cfg, errors.Wrap(err, "config")
	}
	if und := md.Undecoded(); len(und) > 0 {
		return cfg, errors.Wrapf(ErrInvalidConfig, "unknown key %s", und[0].String())
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch c.Strategy {
	case StrategyGraph, StrategyBlock, StrategyRoundRobin:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown strategy %q", c.Strategy)
	}
	if c.MaxImbalance < 1 {
		return errors.Wrapf(ErrInvalidConfig, "max_imbalance %g < 1", c.MaxImbalance)
	}
	if c.Ufactor < 1 {
		return errors.Wrapf(ErrInvalidConfig, "ufactor %g < 1", c.Ufactor)
	}
	if c.ElementThreshold < 0 || c.SerialThreshold < 0 {
		return errors.Wrap(ErrInvalidConfig, "thresholds must be non-negative")
	}
	if c.RefinePasses < 0 || c.Trials < 1 {
		return errors.Wrapf(ErrInvalidConfig, "refine_passes=%d trials=%d", c.RefinePasses, c.Trials)
	}
	if c.SourceRank < 0 {
		return errors.Wrapf(ErrInvalidConfig, "source_rank %d", c.SourceRank)
	}
	for i, h := range c.Hierarchy {
		if h.NumProcs < 1 {
			return errors.Wrapf(ErrInvalidConfig, "hierarchy[%d]: num_procs %d", i, h.NumProcs)
		}
		if h.ProcessMap != nil && len(h.ProcessMap) != h.NumProcs {
			return errors.Wrapf(ErrInvalidConfig, "hierarchy[%d]: process_map has %d entries for %d procs",
				i, len(h.ProcessMap), h.NumProcs)
		}
		if i > 0 && h.GridLevel <= c.Hierarchy[i-1].GridLevel {
			return errors.Wrapf(ErrInvalidConfig, "hierarchy[%d]: grid levels must increase", i)
		}
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("strategy=%s max_imbalance=%.3f ufactor=%.3f threshold=%d serial_threshold=%d levels=%d",
		c.Strategy, c.MaxImbalance, c.Ufactor, c.ElementThreshold, c.SerialThreshold, len(c.Hierarchy))
}
