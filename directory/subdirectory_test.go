package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webflow/shareddata/events"
	"github.com/webflow/shareddata/internal/utils"
	"github.com/webflow/shareddata/wire"
)

func newAttachedDirectory(t *testing.T) *SharedDirectory {
	t.Helper()
	var nextCS int64 = 1
	d := New(utils.NewDefaultLogger(1000), nil)
	d.Attach(func(op wire.Operation) int64 {
		cs := nextCS
		nextCS++
		return cs
	})
	return d
}

// TestGetWorkingDirectory_ChainedAndAbsoluteAgree checks that a chained
// getWorkingDirectory and a direct absolute lookup resolve to the same
// node, and that a missing path reports absence.
func TestGetWorkingDirectory_ChainedAndAbsoluteAgree(t *testing.T) {
	d := newAttachedDirectory(t)
	_, err := d.Root().CreateSubDirectory("a")
	require.NoError(t, err)
	a, ok := d.Root().GetSubDirectory("a")
	require.True(t, ok)
	_, err = a.CreateSubDirectory("b")
	require.NoError(t, err)

	direct, ok := d.GetWorkingDirectory("/a/b")
	require.True(t, ok)

	chained, ok := d.Root().GetWorkingDirectory("a")
	require.True(t, ok)
	chained, ok = chained.GetWorkingDirectory("b")
	require.True(t, ok)

	assert.Same(t, direct, chained)
	assert.Equal(t, "/a/b", direct.AbsolutePath())

	_, ok = d.GetWorkingDirectory("/a/c")
	assert.False(t, ok)
}

// TestDeleteSubDirectory_DropsSubtreeWithoutDescendantEvents checks
// that deleting a subtree drops it wholesale, without firing events
// for descendant keys.
func TestDeleteSubDirectory_DropsSubtreeWithoutDescendantEvents(t *testing.T) {
	d := newAttachedDirectory(t)
	a, err := d.Root().CreateSubDirectory("a")
	require.NoError(t, err)
	b, err := a.CreateSubDirectory("b")
	require.NoError(t, err)
	_, err = b.Set("k", "v")
	require.NoError(t, err)

	var descendantEvents int
	b.events().OnValueChanged(func(ev events.ValueChanged, local bool) { descendantEvents++ })

	existed := d.Root().DeleteSubDirectory("a")
	assert.True(t, existed)

	_, ok := d.Root().GetSubDirectory("a")
	assert.False(t, ok)
	_, ok = d.GetWorkingDirectory("/a/b")
	assert.False(t, ok, "descendant node must be removed from the arena")
	assert.Equal(t, 0, descendantEvents)
}

// TestCreateSubDirectory_RejectsInvalidName checks that a subdirectory
// name containing the path separator is rejected.
func TestCreateSubDirectory_RejectsInvalidName(t *testing.T) {
	d := newAttachedDirectory(t)
	_, err := d.Root().CreateSubDirectory("a/b")
	assert.Error(t, err)
}

func TestCreateSubDirectory_IsIdempotent(t *testing.T) {
	d := newAttachedDirectory(t)
	first, err := d.Root().CreateSubDirectory("a")
	require.NoError(t, err)
	second, err := d.Root().CreateSubDirectory("a")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestSubDirectory_FlatKeyOperationsDelegateToNode(t *testing.T) {
	d := newAttachedDirectory(t)
	a, err := d.Root().CreateSubDirectory("a")
	require.NoError(t, err)

	_, err = a.Set("k", "v")
	require.NoError(t, err)
	v, ok := a.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
	assert.False(t, d.Root().Has("k"), "keys are scoped to the node they were set on")

	existed, _ := a.Delete("k")
	assert.True(t, existed)
}
