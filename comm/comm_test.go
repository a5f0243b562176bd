package comm

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTag Tag = 7

func TestWorld_OrderedDelivery(t *testing.T) {
	w := NewWorld(2, 4)
	err := w.Run(context.Background(), func(ctx context.Context, c Communicator) error {
		if c.Rank() == 0 {
			for i := 0; i < 32; i++ {
				if err := c.Send(ctx, 1, testTag, []byte{byte(i)}); err != nil {
					return err
				}
			}
			return nil
		}
		for i := 0; i < 32; i++ {
			msg, err := c.Recv(ctx, 0, testTag)
			if err != nil {
				return err
			}
			if len(msg) != 1 || msg[0] != byte(i) {
				return fmt.Errorf("message %d arrived as %v", i, msg)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestWorld_FailureAbortsAllRanks(t *testing.T) {
	w := NewWorld(3, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	boom := fmt.Errorf("partitioner exploded")
	err := w.Run(ctx, func(ctx context.Context, c Communicator) error {
		if c.Rank() == 2 {
			return boom
		}
		// blocks until rank 2's failure cancels the shared context
		_, err := c.Recv(ctx, 2, testTag)
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, ctx.Err(), "abort must come from the failing rank, not the timeout")
}

func TestWorld_BadRank(t *testing.T) {
	w := NewWorld(2, 1)
	err := w.Comm(0).Send(context.Background(), 5, testTag, nil)
	assert.ErrorIs(t, err, ErrBadRank)
}

func TestGroup_Collectives(t *testing.T) {
	w := NewWorld(4, 8)
	ranks := []int{3, 1, 2}
	results := make([][][]byte, 4)

	err := w.Run(context.Background(), func(ctx context.Context, c Communicator) error {
		if c.Rank() == 0 {
			_, err := NewGroup(c, ranks, testTag)
			if err == nil {
				return fmt.Errorf("rank 0 must not join %v", ranks)
			}
			return nil
		}
		g, err := NewGroup(c, ranks, testTag)
		if err != nil {
			return err
		}
		if err := g.Barrier(ctx); err != nil {
			return err
		}
		all, err := g.AllGather(ctx, []byte(fmt.Sprintf("r%d", c.Rank())))
		if err != nil {
			return err
		}
		results[c.Rank()] = all
		return nil
	})
	require.NoError(t, err)

	want := [][]byte{[]byte("r3"), []byte("r1"), []byte("r2")}
	for _, r := range ranks {
		assert.Equal(t, want, results[r], "rank %d", r)
	}
	assert.Nil(t, results[0])
}

func TestGroup_NotMember(t *testing.T) {
	w := NewWorld(2, 1)
	_, err := NewGroup(w.Comm(0), []int{1}, testTag)
	assert.ErrorIs(t, err, ErrNotMember)
	_, err = NewGroup(w.Comm(0), []int{0, 0}, testTag)
	assert.Error(t, err)
}

func TestDecodeFrames_Malformed(t *testing.T) {
	frame := encodeFrames([][]byte{[]byte("abc"), nil, []byte("de")})
	parts, err := decodeFrames(frame, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), parts[0])
	assert.Len(t, parts[1], 0)

	_, err = decodeFrames(frame[:len(frame)-1], 3)
	assert.ErrorIs(t, err, ErrBadFrame)
	_, err = decodeFrames(append(frame, 0), 3)
	assert.ErrorIs(t, err, ErrBadFrame)
}

func TestCompressed_RoundTrip(t *testing.T) {
	w := NewWorld(2, 2)
	payload := bytes.Repeat([]byte("interface-entry "), 512)
	var got []byte
	err := w.Run(context.Background(), func(ctx context.Context, c Communicator) error {
		zc := Compressed(c, 3)
		if c.Rank() == 0 {
			if err := zc.Send(ctx, 1, testTag, payload); err != nil {
				return err
			}
			return zc.Send(ctx, 1, testTag, nil)
		}
		var err error
		got, err = zc.Recv(ctx, 0, testTag)
		if err != nil {
			return err
		}
		empty, err := zc.Recv(ctx, 0, testTag)
		if err != nil {
			return err
		}
		if len(empty) != 0 {
			return fmt.Errorf("empty payload arrived with %d bytes", len(empty))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
