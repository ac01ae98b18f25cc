package sharedmap

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webflow/shareddata/internal/kernel"
	"github.com/webflow/shareddata/internal/utils"
	"github.com/webflow/shareddata/valuetype"
	"github.com/webflow/shareddata/wire"
)

// TestChunker_ChunkingAndRestore snapshots 10 entries of 2 KiB each
// plus one entry of 20 KiB, and checks reload reproduces all 11
// entries with the 20 KiB value landing in its own blob.
func TestChunker_ChunkingAndRestore(t *testing.T) {
	registry := valuetype.NewRegistry()
	k := kernel.New(kernel.Options{Container: "map", Log: utils.NewDefaultLogger(1000), Registry: registry, Submit: func(wire.Operation) int64 { return 1 }})

	for i := 0; i < 10; i++ {
		_, err := k.Set(keyOf(i), strings.Repeat("a", 2*1024))
		require.NoError(t, err)
	}
	_, err := k.Set("big", strings.Repeat("b", 20*1024))
	require.NoError(t, err)

	c := NewChunker(registry, utils.NewDefaultLogger(1000))
	blobs, err := c.Chunk(k.SnapshotEntries())
	require.NoError(t, err)

	require.Contains(t, blobs, "header")
	// the 20 KiB value must be alone in its own blob
	foundBig := false
	for name, body := range blobs {
		if name == "header" {
			continue
		}
		if strings.Contains(string(body), "bbbbbbbbbb") {
			foundBig = true
			assert.NotContains(t, string(body), "aaaaaaaaaa", "the oversized value must not share a blob with small values")
		}
	}
	assert.True(t, foundBig)

	reader := func(ctx context.Context, name string) ([]byte, error) { return blobs[name], nil }
	restored, err := Restore(context.Background(), reader, registry)
	require.NoError(t, err)
	assert.Len(t, restored, 11)

	for i := 0; i < 10; i++ {
		lv, ok := restored[keyOf(i)]
		require.True(t, ok)
		assert.Equal(t, strings.Repeat("a", 2*1024), lv.Value)
	}
	lv, ok := restored["big"]
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("b", 20*1024), lv.Value)
}

func TestChunker_LegacySingleBlobFormat(t *testing.T) {
	registry := valuetype.NewRegistry()
	legacy := map[string][]byte{
		"header": []byte(`{"k":{"type":"Plain","value":"v"}}`),
	}
	reader := func(ctx context.Context, name string) ([]byte, error) { return legacy[name], nil }
	restored, err := Restore(context.Background(), reader, registry)
	require.NoError(t, err)
	require.Contains(t, restored, "k")
	assert.Equal(t, "v", restored["k"].Value)
}

func keyOf(i int) string {
	return "k" + string(rune('a'+i))
}
