package hoststub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webflow/shareddata/internal/utils"
	"github.com/webflow/shareddata/sharedmap"
)

func TestInMemoryBlobStore_WriteThenRead(t *testing.T) {
	store := NewInMemoryBlobStore()
	err := store.Write(context.Background(), map[string][]byte{"header": []byte("hi")})
	require.NoError(t, err)

	body, err := store.Read(context.Background(), "header")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(body))

	_, err = store.Read(context.Background(), "missing")
	assert.Error(t, err)
}

func TestInMemoryHandleContext_MintThenResolve(t *testing.T) {
	hc := NewInMemoryHandleContext()
	handle := hc.Mint("target-object")

	resolved, err := hc.Resolve(handle)
	require.NoError(t, err)
	assert.Equal(t, "target-object", resolved)

	_, err = hc.Resolve("no-such-handle")
	assert.Error(t, err)
}

// Two hosts sharing one ordering service converge: a set on one
// SharedMap is visible on the other's Process loop.
func TestConnect_TwoMapsConvergeThroughOneOrderingService(t *testing.T) {
	hostA := NewLocalHost("clientA", utils.NewDefaultLogger(1000))
	mapA := sharedmap.New(utils.NewDefaultLogger(1000), nil)
	cancelA, err := Connect(context.Background(), hostA, mapA)
	require.NoError(t, err)
	defer cancelA()

	hostB := &LocalHost{clientID: "clientB", ordering: hostA.ordering, blobs: hostA.blobs, handles: hostA.handles, log: hostA.log}
	mapB := sharedmap.New(utils.NewDefaultLogger(1000), nil)
	cancelB, err := Connect(context.Background(), hostB, mapB)
	require.NoError(t, err)
	defer cancelB()

	_, err = mapA.Set("k", "v")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, ok := mapB.Get("k")
		return ok && v == "v"
	}, time.Second, time.Millisecond)
}
