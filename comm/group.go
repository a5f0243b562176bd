package comm

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Group is a process subset taking part in collective operations. Every
// member must call the same collectives in the same order; none returns
// before all members have entered.
type Group struct {
	c     Communicator
	ranks []int
	pos   int
	tag   Tag
}

// NewGroup builds the group of ranks as seen from c. ranks[0] is the root.
func NewGroup(c Communicator, ranks []int, tag Tag) (*Group, error) {
	pos := -1
	seen := make(map[int]bool, len(ranks))
	for i, r := range ranks {
		if r < 0 || r >= c.Size() {
			return nil, fmt.Errorf("%w: %d", ErrBadRank, r)
		}
		if seen[r] {
			return nil, fmt.Errorf("rank %d listed twice in group", r)
		}
		seen[r] = true
		if r == c.Rank() {
			pos = i
		}
	}
	if pos < 0 {
		return nil, fmt.Errorf("%w: rank %d, group %v", ErrNotMember, c.Rank(), ranks)
	}
	return &Group{c: c, ranks: append([]int(nil), ranks...), pos: pos, tag: tag}, nil
}

// Size returns the number of members.
func (g *Group) Size() int { return len(g.ranks) }

// Index returns this member's position in the group.
func (g *Group) Index() int { return g.pos }

// Ranks returns the member ranks in group order.
func (g *Group) Ranks() []int { return g.ranks }

// IsRoot reports whether this member is the group root.
func (g *Group) IsRoot() bool { return g.pos == 0 }

// Comm returns the underlying point-to-point transport.
func (g *Group) Comm() Communicator { return g.c }

// Gather collects one payload per member on the root, in group order.
// Non-root members receive nil.
func (g *Group) Gather(ctx context.Context, data []byte) ([][]byte, error) {
	root := g.ranks[0]
	if !g.IsRoot() {
		return nil, g.c.Send(ctx, root, g.tag, data)
	}
	out := make([][]byte, len(g.ranks))
	out[0] = append([]byte(nil), data...)
	for i := 1; i < len(g.ranks); i++ {
		msg, err := g.c.Recv(ctx, g.ranks[i], g.tag)
		if err != nil {
			return nil, errors.Wrap(err, "gather")
		}
		out[i] = msg
	}
	return out, nil
}

// Broadcast sends the root's payload to every member and returns it.
func (g *Group) Broadcast(ctx context.Context, data []byte) ([]byte, error) {
	root := g.ranks[0]
	if !g.IsRoot() {
		msg, err := g.c.Recv(ctx, root, g.tag)
		return msg, errors.Wrap(err, "broadcast")
	}
	for _, r := range g.ranks[1:] {
		if err := g.c.Send(ctx, r, g.tag, data); err != nil {
			return nil, errors.Wrap(err, "broadcast")
		}
	}
	return data, nil
}

// AllGather returns every member's payload, in group order, on every member.
func (g *Group) AllGather(ctx context.Context, data []byte) ([][]byte, error) {
	parts, err := g.Gather(ctx, data)
	if err != nil {
		return nil, err
	}
	var frame []byte
	if g.IsRoot() {
		frame = encodeFrames(parts)
	}
	frame, err = g.Broadcast(ctx, frame)
	if err != nil {
		return nil, err
	}
	return decodeFrames(frame, len(g.ranks))
}

// Barrier returns once every member has entered it.
func (g *Group) Barrier(ctx context.Context) error {
	_, err := g.AllGather(ctx, nil)
	return err
}

func encodeFrames(parts [][]byte) []byte {
	var buf []byte
	for _, p := range parts {
		buf = binary.AppendUvarint(buf, uint64(len(p)))
		buf = append(buf, p...)
	}
	return buf
}

func decodeFrames(buf []byte, n int) ([][]byte, error) {
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		l, w := binary.Uvarint(buf)
		if w <= 0 || uint64(len(buf)-w) < l {
			return nil, fmt.Errorf("%w: part %d of %d", ErrBadFrame, i, n)
		}
		buf = buf[w:]
		out[i] = buf[:l:l]
		buf = buf[l:]
	}
	if len(buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrBadFrame, len(buf))
	}
	return out, nil
}
