package comm

import (
	"context"

	"github.com/DataDog/zstd"
	"github.com/pkg/errors"
)

type compressed struct {
	Communicator
	level int
}

// Compressed wraps c so that every payload travels zstd-compressed. Both
// ends of a link must use the wrapper.
func Compressed(c Communicator, level int) Communicator {
	if level <= 0 {
		level = zstd.DefaultCompression
	}
	return &compressed{Communicator: c, level: level}
}

func (z *compressed) Send(ctx context.Context, to int, tag Tag, payload []byte) error {
	if len(payload) == 0 {
		return z.Communicator.Send(ctx, to, tag, nil)
	}
	buf, err := zstd.CompressLevel(nil, payload, z.level)
	if err != nil {
		return errors.Wrap(err, "zstd compress")
	}
	return z.Communicator.Send(ctx, to, tag, buf)
}

func (z *compressed) Recv(ctx context.Context, from int, tag Tag) ([]byte, error) {
	buf, err := z.Communicator.Recv(ctx, from, tag)
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return buf, nil
	}
	out, err := zstd.Decompress(nil, buf)
	if err != nil {
		return nil, errors.Wrap(err, "zstd decompress")
	}
	return out, nil
}
