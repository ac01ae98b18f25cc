package directory

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/webflow/shareddata/internal/utils"
	"github.com/webflow/shareddata/valuetype"
	"github.com/webflow/shareddata/wire"
)

// BlobReader reads a named blob's raw bytes, mirroring
// sharedmap.BlobReader.
type BlobReader func(ctx context.Context, name string) ([]byte, error)

// nodeSnapshot is one SubDirectory's contribution to the recursive
// snapshot tree: its own storage, keyed by name, plus its named
// children, each a nodeSnapshot in turn.
type nodeSnapshot struct {
	Storage        map[string]wire.SerializableValue `json:"storage,omitempty"`
	Subdirectories map[string]*nodeSnapshot          `json:"subdirectories,omitempty"`
}

func snapshotNode(n *SubDirectory, registry *valuetype.Registry) (*nodeSnapshot, error) {
	entries := n.kernel.SnapshotEntries()
	storage := make(map[string]wire.SerializableValue, len(entries))
	for key, lv := range entries {
		sv, err := valuetype.MakeSerializable(lv, registry)
		if err != nil {
			return nil, errors.Wrapf(err, "directory: serializing %q at %q", key, n.absolutePath)
		}
		storage[key] = sv
	}

	n.mu.Lock()
	childNames := make(map[string]string, len(n.children))
	for name, path := range n.children {
		childNames[name] = path
	}
	n.mu.Unlock()

	var subdirs map[string]*nodeSnapshot
	if len(childNames) > 0 {
		subdirs = make(map[string]*nodeSnapshot, len(childNames))
		for name, path := range childNames {
			child, ok := n.owner.arena.Load(path)
			if !ok {
				continue
			}
			childSnap, err := snapshotNode(child, registry)
			if err != nil {
				return nil, err
			}
			subdirs[name] = childSnap
		}
	}

	return &nodeSnapshot{Storage: storage, Subdirectories: subdirs}, nil
}

// Snapshot serializes d's entire tree into a single "header" blob,
// following the {storage?, subdirectories?} recursive shape. Unlike
// SharedMap's Chunker, a directory's whole tree is written as one
// blob: the recursive shape is expected to stay small relative to any
// single oversized value a leaf SharedMap might carry.
func Snapshot(d *SharedDirectory, registry *valuetype.Registry) (map[string][]byte, error) {
	root, err := snapshotNode(d.root, registry)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(root)
	if err != nil {
		return nil, errors.Wrap(err, "directory: encoding snapshot header")
	}
	return map[string][]byte{"header": body}, nil
}

// hydrate populates n and recursively creates and populates every
// subdirectory named in snap, without submitting any op or firing any
// event: this is state loaded from storage, not a live mutation.
func hydrate(n *SubDirectory, snap *nodeSnapshot, registry *valuetype.Registry) error {
	if len(snap.Storage) > 0 {
		entries := make(map[string]*valuetype.LocalValue, len(snap.Storage))
		for key, sv := range snap.Storage {
			lv, err := valuetype.FromSerializable(sv, registry, nil, nil)
			if err != nil {
				return errors.Wrapf(err, "directory: materializing %q at %q", key, n.absolutePath)
			}
			entries[key] = lv
		}
		n.kernel.Populate(entries)
	}

	for name, childSnap := range snap.Subdirectories {
		child := n.attachChild(name)
		if err := hydrate(child, childSnap, registry); err != nil {
			return err
		}
	}
	return nil
}

// Restore builds a fresh, unattached SharedDirectory from a blob tree
// previously written by Snapshot. Attach must be called separately
// once a submitter is available.
func Restore(ctx context.Context, read BlobReader, log utils.Logger, registry *valuetype.Registry) (*SharedDirectory, error) {
	d := New(log, registry)
	if err := ApplySnapshot(ctx, d, read); err != nil {
		return nil, err
	}
	return d, nil
}

// ApplySnapshot populates d's tree from a blob tree previously written
// by Snapshot. d should be freshly constructed: existing content is
// not cleared first.
func ApplySnapshot(ctx context.Context, d *SharedDirectory, read BlobReader) error {
	raw, err := read(ctx, "header")
	if err != nil {
		return errors.Wrap(err, "directory: reading snapshot header")
	}
	var root nodeSnapshot
	if err := json.Unmarshal(raw, &root); err != nil {
		return errors.Wrap(err, "directory: parsing snapshot header")
	}
	return hydrate(d.root, &root, d.registry)
}
