package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/DGDist/serialize"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c := newCLI(io.Discard, &out)
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPartitionCommand(t *testing.T) {
	out, err := execute(t, "partition", "--grid", "tri", "--nx", "4", "--ny", "4", "-n", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "face elements: 32")
	assert.Contains(t, out, "rank 0: 16 elements")
	assert.Contains(t, out, "rank 1: 16 elements")
}

func TestDistributeCommand_WritesStreams(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "distribute", "--grid", "hex", "--nx", "4", "--ny", "2", "--nz", "2", "-n", "2",
		"--compress", "--out", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "rank 0:")
	assert.Contains(t, out, "neighbors [1]")

	for _, name := range []string{"rank0000.dgd", "rank0001.dgd"} {
		buf, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		f, err := serialize.Decode(buf)
		require.NoError(t, err)
		assert.Equal(t, 8, f.Grid.NumElements(f.Top))
	}
}

func TestCommands_RejectBadInput(t *testing.T) {
	_, err := execute(t, "partition", "--grid", "prism")
	assert.Error(t, err)

	cfg := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("no_such_key = 1\n"), 0o644))
	_, err = execute(t, "distribute", "--config", cfg)
	assert.Error(t, err)
}
