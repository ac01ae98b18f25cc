package sharedmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webflow/shareddata/internal/utils"
	"github.com/webflow/shareddata/wire"
)

func TestSharedMap_SetThenGet(t *testing.T) {
	m := New(utils.NewDefaultLogger(1000), nil)
	m.Attach(func(op wire.Operation) int64 { return 1 })

	_, err := m.Set("greeting", "hello")
	require.NoError(t, err)

	v, ok := m.Get("greeting")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
	assert.Equal(t, 1, m.Size())
}

func TestSharedMap_DeleteReportsExistence(t *testing.T) {
	m := New(utils.NewDefaultLogger(1000), nil)
	m.Attach(func(op wire.Operation) int64 { return 1 })

	existed, _ := m.Delete("nope")
	assert.False(t, existed)

	_, err := m.Set("k", 1.0)
	require.NoError(t, err)
	existed, _ = m.Delete("k")
	assert.True(t, existed)
}

func TestSharedMap_CounterValueType(t *testing.T) {
	m := New(utils.NewDefaultLogger(1000), nil)
	m.Attach(func(op wire.Operation) int64 { return 1 })

	_, err := m.CreateValueType("hits", "counter", nil)
	require.NoError(t, err)

	v, ok := m.Get("hits")
	require.True(t, ok)
	counter, ok := v.(interface{ Value() int64 })
	require.True(t, ok)
	assert.EqualValues(t, 0, counter.Value())
}

func TestSharedMap_WaitResolvesImmediately(t *testing.T) {
	m := New(utils.NewDefaultLogger(1000), nil)
	m.Attach(func(op wire.Operation) int64 { return 1 })
	_, err := m.Set("k", "v")
	require.NoError(t, err)

	v, err := m.Wait(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}
