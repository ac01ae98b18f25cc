package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webflow/shareddata/internal/utils"
	"github.com/webflow/shareddata/wire"
)

func msg(clientID string, cs, ref, seq int64, op wire.Operation) *wire.SequencedMessage {
	return &wire.SequencedMessage{
		Type:                    "op",
		ClientID:                clientID,
		ClientSequenceNumber:    cs,
		ReferenceSequenceNumber: ref,
		SequenceNumber:          seq,
		Contents:                op,
	}
}

// A remote createSubDirectory for a name with no outstanding local
// pending op must materialize the child node.
func TestRouter_RemoteCreateSubDirectory(t *testing.T) {
	d := New(utils.NewDefaultLogger(1000), nil)
	d.Attach(func(op wire.Operation) int64 { return 1 })

	remote := msg("peerB", 0, 0, 1, wire.Operation{Type: wire.OpCreateSubDirectory, Path: RootPath, SubdirName: "a"})
	err := d.Process(context.Background(), remote, false)
	require.NoError(t, err)

	_, ok := d.Root().GetSubDirectory("a")
	assert.True(t, ok)
}

// A pending local clear on a node masks a remote createSubDirectory
// targeting that node until the clear's own echo arrives; after that,
// remote subdirectory ops apply normally (mirrors the kernel's
// clear-masking test).
func TestRouter_ClearMasksPendingSubDirOps(t *testing.T) {
	var nextCS int64 = 1
	d := New(utils.NewDefaultLogger(1000), nil)
	d.Attach(func(op wire.Operation) int64 {
		cs := nextCS
		nextCS++
		return cs
	})

	_, err := d.Root().CreateSubDirectory("a")
	require.NoError(t, err)

	cs2 := d.Root().Clear()
	require.EqualValues(t, 2, cs2)

	remote := msg("peerB", 0, 0, 5, wire.Operation{Type: wire.OpCreateSubDirectory, Path: RootPath, SubdirName: "b"})
	err = d.Process(context.Background(), remote, false)
	require.NoError(t, err)

	_, ok := d.Root().GetSubDirectory("b")
	assert.False(t, ok, "a createSubDirectory arriving while a local clear is outstanding must be masked")

	echoClear := msg("self", 2, 0, 6, wire.Operation{Type: wire.OpClear, Path: RootPath})
	err = d.Process(context.Background(), echoClear, true)
	require.NoError(t, err)

	remote2 := msg("peerB", 0, 0, 7, wire.Operation{Type: wire.OpCreateSubDirectory, Path: RootPath, SubdirName: "c"})
	err = d.Process(context.Background(), remote2, false)
	require.NoError(t, err)

	_, ok = d.Root().GetSubDirectory("c")
	assert.True(t, ok, "after the clear echo, subsequent remote ops apply normally")
}

// A message targeting a path no longer in the arena (its node was
// concurrently deleted) is dropped without error.
func TestRouter_DropsMessageForMissingNode(t *testing.T) {
	d := New(utils.NewDefaultLogger(1000), nil)
	d.Attach(func(op wire.Operation) int64 { return 1 })

	remote := msg("peerB", 0, 0, 1, wire.Operation{Type: wire.OpSet, Path: "/gone", Key: "k", Value: nil})
	err := d.Process(context.Background(), remote, false)
	assert.NoError(t, err)
}

func TestSubDirectory_LocalSetIsReadableOnChildNode(t *testing.T) {
	d := New(utils.NewDefaultLogger(1000), nil)
	d.Attach(func(op wire.Operation) int64 { return 1 })

	a, err := d.Root().CreateSubDirectory("a")
	require.NoError(t, err)
	_, err = a.Set("k", "v")
	require.NoError(t, err)

	v, ok := a.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}
