package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webflow/shareddata/internal/utils"
)

func TestSnapshot_RoundTripsTreeWithSubdirectories(t *testing.T) {
	d := newAttachedDirectory(t)
	_, err := d.Root().Set("k", "v")
	require.NoError(t, err)

	a, err := d.Root().CreateSubDirectory("a")
	require.NoError(t, err)
	_, err = a.Set("nested", 42.0)
	require.NoError(t, err)

	_, err = a.CreateSubDirectory("b")
	require.NoError(t, err)

	blobs, err := Snapshot(d, d.Registry())
	require.NoError(t, err)
	require.Contains(t, blobs, "header")

	reader := func(ctx context.Context, name string) ([]byte, error) { return blobs[name], nil }
	restored, err := Restore(context.Background(), reader, utils.NewDefaultLogger(1000), d.Registry())
	require.NoError(t, err)

	v, ok := restored.Root().Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	restoredA, ok := restored.Root().GetSubDirectory("a")
	require.True(t, ok)
	v, ok = restoredA.Get("nested")
	require.True(t, ok)
	assert.Equal(t, 42.0, v)

	_, ok = restoredA.GetSubDirectory("b")
	assert.True(t, ok)
}

func TestApplySnapshot_PopulatesExistingDirectory(t *testing.T) {
	d := newAttachedDirectory(t)
	_, err := d.Root().Set("k", "v")
	require.NoError(t, err)
	blobs, err := Snapshot(d, d.Registry())
	require.NoError(t, err)

	fresh := New(utils.NewDefaultLogger(1000), nil)
	reader := func(ctx context.Context, name string) ([]byte, error) { return blobs[name], nil }
	err = ApplySnapshot(context.Background(), fresh, reader)
	require.NoError(t, err)

	v, ok := fresh.Root().Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}
