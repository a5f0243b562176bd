// Package redistribute runs a full redistribution pass: partition the grid
// held by the source rank, build the distribution layouts, stream every
// target its fragment and check that neighbours agree on their interfaces.
// Every rank of the communicator calls Run; the pass completes everywhere or
// fails everywhere.
package redistribute

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/notargets/DGDist/comm"
	"github.com/notargets/DGDist/config"
	"github.com/notargets/DGDist/layout"
	"github.com/notargets/DGDist/mesh"
	"github.com/notargets/DGDist/partitions"
	"github.com/notargets/DGDist/serialize"
)

// Message tags of the distribution stage.
const (
	TagStream comm.Tag = 0x200 + iota
	TagSizes
	TagDone
)

const runIDSize = 16

// Result is what one rank obtains from a pass.
type Result struct {
	RunID uuid.UUID
	// Fragment is nil when the rank received no elements.
	Fragment *serialize.Fragment
	// Assignment and Layouts are set on the source rank only.
	Assignment *partitions.Assignment
	Layouts    layout.Layouts
	// StreamBytes is the uncompressed size of the stream this rank received.
	StreamBytes int
}

// Redistributor binds a partition engine to the distribution stage.
type Redistributor struct {
	cfg        config.Config
	engine     *partitions.Engine
	logger     *log.Logger
	engineOpts []partitions.Option
}

type Option func(*Redistributor)

func WithLogger(l *log.Logger) Option { return func(rd *Redistributor) { rd.logger = l } }

// WithEngineOptions forwards options to the partition engine.
func WithEngineOptions(opts ...partitions.Option) Option {
	return func(rd *Redistributor) { rd.engineOpts = append(rd.engineOpts, opts...) }
}

func New(cfg config.Config, opts ...Option) (*Redistributor, error) {
	rd := &Redistributor{cfg: cfg, logger: log.Default()}
	for _, opt := range opts {
		opt(rd)
	}
	eopts := append([]partitions.Option{partitions.WithLogger(rd.logger)}, rd.engineOpts...)
	e, err := partitions.NewEngine(cfg, eopts...)
	if err != nil {
		return nil, err
	}
	rd.engine = e
	return rd, nil
}

// Engine returns the partition engine of the pass.
func (rd *Redistributor) Engine() *partitions.Engine { return rd.engine }

// Run executes one pass on the calling rank. The source rank passes the grid,
// every other rank passes nil. The source grid is exclusively owned by the
// pass; on failure it is left in mesh.StateInvalid.
func (rd *Redistributor) Run(ctx context.Context, c comm.Communicator, mg *mesh.MultiGrid, ph partitions.ProcessHierarchy) (res *Result, err error) {
	src := rd.cfg.SourceRank
	if c.Rank() == src {
		if mg == nil {
			return nil, errors.New("source rank needs the grid")
		}
		if err := mg.Check(); err != nil {
			return nil, err
		}
		if err := mg.BeginRedistribution(); err != nil {
			return nil, err
		}
		defer func() { mg.EndRedistribution(err) }()
	}

	streams := c
	if rd.cfg.Compression {
		streams = comm.Compressed(c, rd.cfg.CompressionLevel)
	}

	res = &Result{}
	var stream []byte
	if c.Rank() == src {
		stream, err = rd.lead(ctx, c, streams, mg, ph, res)
	} else {
		stream, err = rd.follow(ctx, c, streams, ph, res)
	}
	if err != nil {
		return nil, err
	}
	logger := rd.logger.With("run", res.RunID.String(), "rank", c.Rank())

	res.StreamBytes = len(stream)
	if len(stream) > 0 {
		if res.Fragment, err = serialize.Decode(stream); err != nil {
			return nil, err
		}
		if res.Fragment.Rank != c.Rank() {
			return nil, errors.Wrapf(serialize.ErrCorruptStream, "rank %d received the stream of rank %d",
				c.Rank(), res.Fragment.Rank)
		}
		logger.Debug("fragment received", "bytes", len(stream),
			"elements", res.Fragment.Grid.NumElements(res.Fragment.Top), "neighbors", res.Fragment.Neighbors())
	}
	if err := handshake(ctx, c, res.Fragment); err != nil {
		return nil, err
	}

	if err := rd.done(ctx, c); err != nil {
		return nil, err
	}
	if c.Rank() == src {
		logger.Info("redistribution complete", "targets", len(res.Layouts.Ranks()))
	}
	return res, nil
}

// lead partitions, lays out and streams the grid. It returns the source's own
// stream.
func (rd *Redistributor) lead(ctx context.Context, c, streams comm.Communicator, mg *mesh.MultiGrid,
	ph partitions.ProcessHierarchy, res *Result) ([]byte, error) {
	a, err := rd.engine.Partition(ctx, c, mg, ph)
	if err != nil {
		return nil, err
	}
	res.RunID = uuid.New()
	res.Assignment = a
	logger := rd.logger.With("run", res.RunID.String(), "rank", c.Rank())
	for _, st := range a.Stats {
		logger.Debug("level partitioned", "stats", st.String())
	}

	if res.Layouts, err = layout.Build(mg, a, rd.cfg.SourceRank); err != nil {
		return nil, err
	}
	enc := serialize.NewEncoder(mg)
	var own []byte
	for r := 0; r < c.Size(); r++ {
		var buf []byte
		if l, ok := res.Layouts[r]; ok {
			if buf, err = enc.Encode(l); err != nil {
				return nil, err
			}
		}
		if r == c.Rank() {
			own = buf
			continue
		}
		env := make([]byte, 0, runIDSize+len(buf))
		env = append(env, res.RunID[:]...)
		env = append(env, buf...)
		if err := streams.Send(ctx, r, TagStream, env); err != nil {
			return nil, errors.Wrapf(err, "stream to rank %d", r)
		}
		logger.Debug("stream sent", "to", r, "bytes", len(buf))
	}
	return own, nil
}

func (rd *Redistributor) follow(ctx context.Context, c, streams comm.Communicator,
	ph partitions.ProcessHierarchy, res *Result) ([]byte, error) {
	if _, err := rd.engine.Partition(ctx, c, nil, ph); err != nil {
		return nil, err
	}
	env, err := streams.Recv(ctx, rd.cfg.SourceRank, TagStream)
	if err != nil {
		return nil, err
	}
	if len(env) < runIDSize {
		return nil, errors.Wrapf(serialize.ErrShortStream, "envelope of %d bytes", len(env))
	}
	copy(res.RunID[:], env[:runIDSize])
	return env[runIDSize:], nil
}

// handshake exchanges interface lengths with every other rank, including
// ranks that hold nothing, so a link listed on one side only is reported
// instead of leaving a receive waiting. f is nil on a rank without elements.
func handshake(ctx context.Context, c comm.Communicator, f *serialize.Fragment) error {
	for q := 0; q < c.Size(); q++ {
		if q == c.Rank() {
			continue
		}
		if err := c.Send(ctx, q, TagSizes, f.InterfaceSizes(q)); err != nil {
			return err
		}
	}
	for q := 0; q < c.Size(); q++ {
		if q == c.Rank() {
			continue
		}
		buf, err := c.Recv(ctx, q, TagSizes)
		if err != nil {
			return err
		}
		if err := f.CheckInterfaceSizes(q, buf); err != nil {
			return err
		}
	}
	return nil
}

// done is a barrier over every rank, rooted at the source, so the source
// only reports success once every target has its fragment.
func (rd *Redistributor) done(ctx context.Context, c comm.Communicator) error {
	ranks := []int{rd.cfg.SourceRank}
	for r := 0; r < c.Size(); r++ {
		if r != rd.cfg.SourceRank {
			ranks = append(ranks, r)
		}
	}
	grp, err := comm.NewGroup(c, ranks, TagDone)
	if err != nil {
		return err
	}
	return grp.Barrier(ctx)
}
