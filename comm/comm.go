// Package comm provides the rank-addressed transport the redistribution
// layer runs on: reliable, ordered byte streams between process ranks, and
// collectives over process subsets.
//
// World is an in-memory implementation in which every rank is a goroutine.
// A failure on any rank cancels the context shared by all ranks, so a pass
// either completes everywhere or aborts everywhere.
package comm

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Tag separates independent message sequences between the same ranks.
type Tag uint16

// Communicator is the point-to-point transport seen by one rank. Messages
// between a (from, to, tag) triple are delivered in send order.
type Communicator interface {
	Rank() int
	Size() int
	Send(ctx context.Context, to int, tag Tag, payload []byte) error
	Recv(ctx context.Context, from int, tag Tag) ([]byte, error)
}

type boxKey struct {
	from, to int
	tag      Tag
}

// World connects size in-memory ranks.
type World struct {
	size  int
	depth int

	mu    sync.Mutex
	boxes map[boxKey]chan []byte
}

// NewWorld creates a world of size ranks. depth bounds the number of
// undelivered messages per (from, to, tag); senders block beyond it.
func NewWorld(size, depth int) *World {
	if depth < 1 {
		depth = 64
	}
	return &World{
		size:  size,
		depth: depth,
		boxes: make(map[boxKey]chan []byte),
	}
}

// Size returns the number of ranks.
func (w *World) Size() int { return w.size }

func (w *World) box(k boxKey) chan []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.boxes[k]
	if !ok {
		ch = make(chan []byte, w.depth)
		w.boxes[k] = ch
	}
	return ch
}

// Comm returns the endpoint of one rank.
func (w *World) Comm(rank int) Communicator {
	return &endpoint{world: w, rank: rank}
}

// Run executes fn once per rank, concurrently. The first error cancels the
// context of every other rank and is returned.
func (w *World) Run(ctx context.Context, fn func(ctx context.Context, c Communicator) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for r := 0; r < w.size; r++ {
		c := w.Comm(r)
		g.Go(func() error {
			if err := fn(gctx, c); err != nil {
				return errors.Wrapf(err, "rank %d", c.Rank())
			}
			return nil
		})
	}
	return g.Wait()
}

type endpoint struct {
	world *World
	rank  int
}

func (e *endpoint) Rank() int { return e.rank }
func (e *endpoint) Size() int { return e.world.size }

func (e *endpoint) checkPeer(peer int) error {
	if peer < 0 || peer >= e.world.size {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrBadRank, peer, e.world.size)
	}
	return nil
}

func (e *endpoint) Send(ctx context.Context, to int, tag Tag, payload []byte) error {
	if err := e.checkPeer(to); err != nil {
		return err
	}
	msg := append([]byte(nil), payload...)
	select {
	case e.world.box(boxKey{from: e.rank, to: to, tag: tag}) <- msg:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "send %d->%d tag %d", e.rank, to, tag)
	}
}

func (e *endpoint) Recv(ctx context.Context, from int, tag Tag) ([]byte, error) {
	if err := e.checkPeer(from); err != nil {
		return nil, err
	}
	select {
	case msg := <-e.world.box(boxKey{from: from, to: e.rank, tag: tag}):
		return msg, nil
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "recv %d<-%d tag %d", e.rank, from, tag)
	}
}
