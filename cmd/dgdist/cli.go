package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/notargets/DGDist/comm"
	"github.com/notargets/DGDist/config"
	"github.com/notargets/DGDist/mesh"
	"github.com/notargets/DGDist/partitions"
	"github.com/notargets/DGDist/redistribute"
	"github.com/notargets/DGDist/serialize"
)

const (
	logDebug = log.DebugLevel
	logInfo  = log.InfoLevel
)

// cli holds the state shared by all commands.
type cli struct {
	logger *log.Logger
	out    io.Writer
}

func newCLI(logw, out io.Writer) *cli {
	return &cli{
		logger: log.NewWithOptions(logw, log.Options{
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.00",
			Level:           logInfo,
		}),
		out: out,
	}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "dgdist",
		Short:        "Partition and distribute hierarchical meshes",
		SilenceUsage: true,
	}
	root.AddCommand(c.partitionCommand())
	root.AddCommand(c.distributeCommand())
	return root
}

// gridFlags describe the generated test grid and the pass configuration.
type gridFlags struct {
	shape      string
	nx, ny, nz int
	levels     int

	configPath string
	nparts     int
	imbalance  float64
	strategy   string
}

func (g *gridFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&g.shape, "grid", "hex", "generated grid: tri or hex")
	cmd.Flags().IntVar(&g.nx, "nx", 8, "cells in x")
	cmd.Flags().IntVar(&g.ny, "ny", 8, "cells in y")
	cmd.Flags().IntVar(&g.nz, "nz", 4, "cells in z (hex only)")
	cmd.Flags().IntVar(&g.levels, "levels", 1, "grid levels")
	cmd.Flags().StringVar(&g.configPath, "config", "", "TOML configuration file")
	cmd.Flags().IntVarP(&g.nparts, "nparts", "n", 4, "number of target processes when the config has no hierarchy")
	cmd.Flags().Float64Var(&g.imbalance, "imbalance", 0, "max/avg load bound, overrides the config")
	cmd.Flags().StringVar(&g.strategy, "strategy", "", "graph, block or roundrobin, overrides the config")
}

func (g *gridFlags) grid() (*mesh.MultiGrid, error) {
	switch g.shape {
	case "tri":
		return mesh.NewStructuredTri(g.nx, g.ny, g.levels)
	case "hex":
		return mesh.NewStructuredHex(g.nx, g.ny, g.nz, g.levels)
	}
	return nil, errors.Errorf("unknown grid %q", g.shape)
}

func (g *gridFlags) config() (config.Config, partitions.ProcessHierarchy, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return cfg, partitions.ProcessHierarchy{}, err
		}
	}
	if g.imbalance > 0 {
		cfg.MaxImbalance = g.imbalance
	}
	if g.strategy != "" {
		cfg.Strategy = g.strategy
	}
	if err := cfg.Validate(); err != nil {
		return cfg, partitions.ProcessHierarchy{}, err
	}
	if len(cfg.Hierarchy) == 0 {
		if g.nparts < 1 {
			return cfg, partitions.ProcessHierarchy{}, errors.Errorf("--nparts must be at least 1, got %d", g.nparts)
		}
		return cfg, partitions.FlatHierarchy(g.nparts), nil
	}
	ph, err := partitions.NewProcessHierarchy(cfg.Hierarchy)
	return cfg, ph, err
}

func (c *cli) partitionCommand() *cobra.Command {
	var g gridFlags
	cmd := &cobra.Command{
		Use:   "partition",
		Short: "Partition a generated grid and print per-level statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPartition(cmd.Context(), &g)
		},
	}
	g.register(cmd)
	return cmd
}

func (c *cli) runPartition(ctx context.Context, g *gridFlags) error {
	mg, err := g.grid()
	if err != nil {
		return err
	}
	cfg, ph, err := g.config()
	if err != nil {
		return err
	}
	logger := c.logger.With("run", uuid.NewString())
	e, err := partitions.NewEngine(cfg, partitions.WithLogger(logger))
	if err != nil {
		return err
	}
	logger.Debug("partitioning", "config", cfg.String())
	a, err := e.PartitionLocal(ctx, mg, ph)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s elements: %d on %d levels\n", a.Kind, len(a.Ranks), mg.NumLevels())
	for _, st := range a.Stats {
		fmt.Fprintln(c.out, st.String())
	}
	for _, r := range a.Targets() {
		fmt.Fprintf(c.out, "rank %d: %d elements\n", r, len(a.Elements(r)))
	}
	return nil
}

func (c *cli) distributeCommand() *cobra.Command {
	var (
		g        gridFlags
		outDir   string
		compress bool
	)
	cmd := &cobra.Command{
		Use:   "distribute",
		Short: "Run an in-memory redistribution and report every fragment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDistribute(cmd.Context(), &g, outDir, compress)
		},
	}
	g.register(cmd)
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "write each fragment stream to this directory")
	cmd.Flags().BoolVar(&compress, "compress", false, "zstd-compress streams in flight")
	return cmd
}

func (c *cli) runDistribute(ctx context.Context, g *gridFlags, outDir string, compress bool) error {
	mg, err := g.grid()
	if err != nil {
		return err
	}
	cfg, ph, err := g.config()
	if err != nil {
		return err
	}
	cfg.Compression = cfg.Compression || compress

	rd, err := redistribute.New(cfg, redistribute.WithLogger(c.logger))
	if err != nil {
		return err
	}
	size := ph.MaxRank() + 1
	if cfg.SourceRank >= size {
		size = cfg.SourceRank + 1
	}

	results := make([]*redistribute.Result, size)
	w := comm.NewWorld(size, 0)
	err = w.Run(ctx, func(ctx context.Context, cm comm.Communicator) error {
		var grid *mesh.MultiGrid
		if cm.Rank() == cfg.SourceRank {
			grid = mg
		}
		res, err := rd.Run(ctx, cm, grid, ph)
		results[cm.Rank()] = res
		return err
	})
	if err != nil {
		return err
	}

	src := results[cfg.SourceRank]
	fmt.Fprintf(c.out, "run %s\n", src.RunID)
	for _, st := range src.Assignment.Stats {
		fmt.Fprintln(c.out, st.String())
	}
	for r, res := range results {
		f := res.Fragment
		if f == nil {
			fmt.Fprintf(c.out, "rank %d: empty\n", r)
			continue
		}
		fmt.Fprintf(c.out, "rank %d: %d %s, %d bytes, neighbors %v\n",
			r, f.Grid.NumElements(f.Top), f.Top, res.StreamBytes, f.Neighbors())
		if outDir != "" {
			if err := writeStream(outDir, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeStream re-encodes a fragment; the bytes equal the stream received.
func writeStream(dir string, f *serialize.Fragment) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	buf, err := serialize.NewEncoder(f.Grid).Encode(f.Layout())
	if err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("rank%04d.dgd", f.Rank))
	return errors.Wrapf(os.WriteFile(path, buf, 0o644), "write %s", path)
}
