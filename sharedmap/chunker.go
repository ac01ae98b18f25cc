package sharedmap

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash"
	"github.com/pkg/errors"

	"github.com/webflow/shareddata/internal/ddserrors"
	"github.com/webflow/shareddata/internal/kernel"
	"github.com/webflow/shareddata/internal/utils"
	"github.com/webflow/shareddata/metrics"
	"github.com/webflow/shareddata/valuetype"
	"github.com/webflow/shareddata/wire"
)

// Size thresholds governing snapshot chunking.
const (
	MinValueSizeSeparateSnapshotBlob = 8 * 1024
	MaxSnapshotBlobSize              = 16 * 1024

	// estimatedEntryOverhead is a heuristic, non-load-bearing constant
	// added to a value's raw size when deciding whether it still fits
	// in the current rolling blob.
	estimatedEntryOverhead = 21
)

type entryMap map[string]wire.SerializableValue

// headerBody is the multi-blob "header" shape. A legacy header has no
// "blobs" field and is just an entryMap. Hashes records each listed
// blob's xxhash checksum at write time, so Restore can detect a blob
// that was corrupted or replaced by the wrong bytes before it's
// unmarshaled.
type headerBody struct {
	Blobs   []string          `json:"blobs"`
	Hashes  map[string]uint64 `json:"hashes,omitempty"`
	Content entryMap          `json:"content"`
}

// Chunker partitions a kernel's serialized storage into a tree of
// named blobs, and restores it back.
type Chunker struct {
	registry *valuetype.Registry
	log      chunkerLogger
}

type chunkerLogger interface {
	Warn(msg string, args ...any)
}

func NewChunker(registry *valuetype.Registry, log chunkerLogger) *Chunker {
	return &Chunker{registry: registry, log: log}
}

// Chunk partitions entries into blob-name -> raw JSON bytes, with
// "header" always present. Any single value whose serialized payload
// is >= MinValueSizeSeparateSnapshotBlob gets its own blobN; the rest
// accumulate into rolling header blobs bounded by MaxSnapshotBlobSize.
func (c *Chunker) Chunk(entries map[string]*valuetype.LocalValue) (map[string][]byte, error) {
	blobs := make(map[string][]byte)
	var blobNames []string
	hashes := make(map[string]uint64)
	nextBlob := 0

	rolling := entryMap{}
	rollingSize := 0
	maxBlobSize := 0

	flushRolling := func() {
		if len(rolling) == 0 {
			return
		}
		name := fmt.Sprintf("blob%d", nextBlob)
		nextBlob++
		body, err := json.Marshal(rolling)
		if err == nil {
			blobs[name] = body
			blobNames = append(blobNames, name)
			hashes[name] = xxhash.Sum64(body)
			maxBlobSize = utils.Max(maxBlobSize, len(body))
			metrics.SnapshotBlobSize.WithLabelValues("map", "header_chunk").Observe(float64(len(body)))
		}
		rolling = entryMap{}
		rollingSize = 0
	}

	for key, lv := range entries {
		sv, err := valuetype.MakeSerializable(lv, c.registry)
		if err != nil {
			return nil, errors.Wrapf(err, "sharedmap: serializing %q for snapshot", key)
		}
		estimate := len(sv.Type) + estimatedEntryOverhead + len(sv.Value)

		if len(sv.Value) >= MinValueSizeSeparateSnapshotBlob {
			name := fmt.Sprintf("blob%d", nextBlob)
			nextBlob++
			single := entryMap{key: sv}
			body, err := json.Marshal(single)
			if err != nil {
				return nil, errors.Wrapf(err, "sharedmap: encoding oversized blob for %q", key)
			}
			blobs[name] = body
			blobNames = append(blobNames, name)
			hashes[name] = xxhash.Sum64(body)
			maxBlobSize = utils.Max(maxBlobSize, len(body))
			metrics.SnapshotBlobSize.WithLabelValues("map", "oversized").Observe(float64(len(body)))
			continue
		}

		if rollingSize+estimate > MaxSnapshotBlobSize {
			flushRolling()
		}
		rolling[key] = sv
		rollingSize += estimate
	}
	flushRolling()

	// content is always empty because Chunk flushes every rolling
	// chunk to its own blobN before writing the header. Restore still
	// populates from content, so a header carrying entries inline also
	// loads.
	header := headerBody{Blobs: blobNames, Hashes: hashes, Content: entryMap{}}
	body, err := json.Marshal(header)
	if err != nil {
		return nil, errors.Wrap(err, "sharedmap: encoding header blob")
	}
	blobs["header"] = body
	maxBlobSize = utils.Max(maxBlobSize, len(body))
	metrics.SnapshotBlobSize.WithLabelValues("map", "header").Observe(float64(len(body)))
	if c.log != nil && maxBlobSize > 4*MaxSnapshotBlobSize {
		c.log.Warn("sharedmap: unusually large snapshot blob", "bytes", maxBlobSize)
	}
	return blobs, nil
}

// BlobReader reads a named blob's raw bytes, e.g. after base64
// decoding what the blob store returned.
type BlobReader func(ctx context.Context, name string) ([]byte, error)

// Restore reads "header" and, for the multi-blob format, every listed
// blob (order among blobs does not matter: each entry targets a
// distinct key and no op stream is interleaved), populating a fresh
// entry map for MapKernel.Populate. Shared-kind entries are left as
// raw handle strings; resolving them is Populate's caller's job once a
// HandleResolver is wired in.
func Restore(ctx context.Context, read BlobReader, registry *valuetype.Registry) (map[string]*valuetype.LocalValue, error) {
	headerRaw, err := read(ctx, "header")
	if err != nil {
		return nil, errors.Wrap(err, "sharedmap: reading header blob")
	}

	var probe struct {
		Blobs []string `json:"blobs"`
	}
	if err := json.Unmarshal(headerRaw, &probe); err != nil {
		return nil, errors.Wrap(err, "sharedmap: parsing header blob")
	}

	out := make(map[string]*valuetype.LocalValue)

	if probe.Blobs == nil {
		// Legacy single-blob format: the whole body is the data object.
		var legacy entryMap
		if err := json.Unmarshal(headerRaw, &legacy); err != nil {
			return nil, errors.Wrap(err, "sharedmap: parsing legacy header body")
		}
		return populate(out, legacy, registry)
	}

	var header headerBody
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return nil, errors.Wrap(err, "sharedmap: parsing header body")
	}
	if _, err := populate(out, header.Content, registry); err != nil {
		return nil, err
	}

	for _, name := range header.Blobs {
		raw, err := read(ctx, name)
		if err != nil {
			return nil, errors.Wrapf(err, "sharedmap: reading blob %q", name)
		}
		if want, ok := header.Hashes[name]; ok {
			if got := xxhash.Sum64(raw); got != want {
				return nil, errors.Wrapf(ddserrors.ErrBlobCorrupted, "blob %q: xxhash %x, want %x", name, got, want)
			}
		}
		var entries entryMap
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, errors.Wrapf(err, "sharedmap: parsing blob %q", name)
		}
		if _, err := populate(out, entries, registry); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func populate(out map[string]*valuetype.LocalValue, entries entryMap, registry *valuetype.Registry) (map[string]*valuetype.LocalValue, error) {
	for key, sv := range entries {
		lv, err := valuetype.FromSerializable(sv, registry, nil, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "sharedmap: materializing %q", key)
		}
		out[key] = lv
	}
	return out, nil
}

// ApplySnapshot restores a kernel's state from a blob tree.
func ApplySnapshot(ctx context.Context, k *kernel.MapKernel, read BlobReader, registry *valuetype.Registry) error {
	entries, err := Restore(ctx, read, registry)
	if err != nil {
		return err
	}
	k.Populate(entries)
	return nil
}
