// Package directory implements SharedDirectory: the hierarchical,
// path-addressed sibling of SharedMap. Each node of the tree is a
// SubDirectory that mirrors MapKernel semantics, scoped by absolute
// path; the SharedDirectory owns the node arena and the op-type
// router.
package directory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/webflow/shareddata/events"
	"github.com/webflow/shareddata/internal/ddserrors"
	"github.com/webflow/shareddata/internal/kernel"
	"github.com/webflow/shareddata/metrics"
	"github.com/webflow/shareddata/wire"
)

const unattachedSeq = int64(-1)

// SubDirectory is one node of the directory tree. It holds its own
// storage via an embedded MapKernel scoped to its absolute path, its
// children by name, and its own pending-subdirectory-op bookkeeping.
//
// Ownership is arena-style: a SubDirectory never holds a pointer to
// its parent. It reaches the owning SharedDirectory (for submission,
// the node arena, and the value-type registry) through a stable
// back-reference, avoiding cyclic ownership.
type SubDirectory struct {
	absolutePath string
	owner        *SharedDirectory
	kernel       *kernel.MapKernel

	mu             sync.Mutex
	children       map[string]string // name -> child absolute path
	pendingSubDirs map[string]int64
	unsentSubDirs  map[string]wire.Operation
}

func newSubDirectory(absolutePath string, owner *SharedDirectory) *SubDirectory {
	n := &SubDirectory{
		absolutePath:   absolutePath,
		owner:          owner,
		children:       make(map[string]string),
		pendingSubDirs: make(map[string]int64),
		unsentSubDirs:  make(map[string]wire.Operation),
	}
	n.kernel = kernel.New(kernel.Options{
		Container:      "directory:" + absolutePath,
		Path:           absolutePath,
		Log:            owner.log,
		Registry:       owner.registry,
		Events:         owner.events,
		Submit:         owner.submit,
		HandleResolver: owner.handleResolver(),
	})
	return n
}

// attachChild constructs, registers, and links a new child named name
// under n, without submitting any op. Shared by the local-creation
// path and by remote reconciliation, so both agree on how a child
// enters the arena and n.children.
func (n *SubDirectory) attachChild(name string) *SubDirectory {
	childPath := posixJoin(n.absolutePath, name)
	child := newSubDirectory(childPath, n.owner)
	n.owner.arena.Store(childPath, child)
	n.mu.Lock()
	n.children[name] = childPath
	n.mu.Unlock()
	return child
}

func (n *SubDirectory) AbsolutePath() string { return n.absolutePath }

// --- flat key-space, mirroring MapKernel exactly ------------------------

func (n *SubDirectory) Get(key string) (any, bool) { return n.kernel.Get(key) }
func (n *SubDirectory) Has(key string) bool        { return n.kernel.Has(key) }
func (n *SubDirectory) Size() int                  { return n.kernel.Size() }
func (n *SubDirectory) Keys() []string             { return n.kernel.Keys() }
func (n *SubDirectory) Values() []any              { return n.kernel.Values() }
func (n *SubDirectory) Entries() []kernel.Entry     { return n.kernel.Entries() }

func (n *SubDirectory) ForEach(fn func(value any, key string)) { n.kernel.ForEach(fn) }

func (n *SubDirectory) Set(key string, value any) (int64, error) { return n.kernel.Set(key, value) }

func (n *SubDirectory) CreateValueType(key, typeID string, params json.RawMessage) (int64, error) {
	return n.kernel.CreateValueType(key, typeID, params)
}

func (n *SubDirectory) Delete(key string) (bool, int64) { return n.kernel.Delete(key) }

func (n *SubDirectory) Clear() int64 { return n.kernel.Clear() }

func (n *SubDirectory) Wait(ctx context.Context, key string) (any, error) {
	return n.kernel.Wait(ctx, key)
}

// --- subdirectory lifecycle ----------------------------------------------

// CreateSubDirectory is idempotent: creating an existing child returns
// it without altering state, but the op is still submitted.
func (n *SubDirectory) CreateSubDirectory(name string) (*SubDirectory, error) {
	if !isValidSubdirName(name) {
		return nil, ddserrors.ErrInvalidName
	}

	n.mu.Lock()
	if childPath, exists := n.children[name]; exists {
		n.mu.Unlock()
		op := wire.Operation{Type: wire.OpCreateSubDirectory, Path: n.absolutePath, SubdirName: name}
		n.submitSubDirOp(name, op)
		child, _ := n.owner.arena.Load(childPath)
		return child, nil
	}
	n.mu.Unlock()

	child := n.attachChild(name)

	op := wire.Operation{Type: wire.OpCreateSubDirectory, Path: n.absolutePath, SubdirName: name}
	n.submitSubDirOp(name, op)
	n.kernel.Events().EmitOp(op, true)
	return child, nil
}

// GetSubDirectory returns the named direct child, if any.
func (n *SubDirectory) GetSubDirectory(name string) (*SubDirectory, bool) {
	n.mu.Lock()
	childPath, ok := n.children[name]
	n.mu.Unlock()
	if !ok {
		return nil, false
	}
	return n.owner.arena.Load(childPath)
}

func (n *SubDirectory) HasSubDirectory(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.children[name]
	return ok
}

// DeleteSubDirectory drops the named child subtree. No events are
// fired for descendant keys.
func (n *SubDirectory) DeleteSubDirectory(name string) bool {
	n.mu.Lock()
	childPath, existed := n.children[name]
	if existed {
		delete(n.children, name)
	}
	n.mu.Unlock()

	if existed {
		n.owner.removeSubtree(childPath)
	}

	op := wire.Operation{Type: wire.OpDeleteSubDirectory, Path: n.absolutePath, SubdirName: name}
	n.submitSubDirOp(name, op)
	n.kernel.Events().EmitOp(op, true)
	return existed
}

// GetWorkingDirectory resolves relOrAbsPath against this node's
// absolute path and returns the target node, or false if any
// component along the way is missing.
func (n *SubDirectory) GetWorkingDirectory(relOrAbsPath string) (*SubDirectory, bool) {
	abs := posixResolve(n.absolutePath, relOrAbsPath)
	return n.owner.arena.Load(abs)
}

// --- pending-subdirectory-op bookkeeping ---------------------------------

func (n *SubDirectory) submitSubDirOp(name string, op wire.Operation) int64 {
	n.mu.Lock()
	if n.owner.submit == nil {
		n.pendingSubDirs[name] = unattachedSeq
		n.unsentSubDirs[name] = op
		n.mu.Unlock()
		n.refreshPendingSubDirsMetric()
		return unattachedSeq
	}
	cs := n.owner.submit(op)
	n.pendingSubDirs[name] = cs
	if cs == unattachedSeq {
		n.unsentSubDirs[name] = op
	}
	n.mu.Unlock()
	n.refreshPendingSubDirsMetric()
	return cs
}

// refreshPendingSubDirsMetric reports the number of child names with
// an outstanding local createSubDirectory/deleteSubDirectory
// submission on this node.
func (n *SubDirectory) refreshPendingSubDirsMetric() {
	n.mu.Lock()
	count := len(n.pendingSubDirs)
	n.mu.Unlock()
	metrics.PendingSubDirs.WithLabelValues(n.absolutePath).Set(float64(count))
}

func (n *SubDirectory) attach(submit wire.Submitter) {
	n.kernel.Attach(submit)
	n.mu.Lock()
	for name, op := range n.unsentSubDirs {
		cs := submit(op)
		n.pendingSubDirs[name] = cs
		delete(n.unsentSubDirs, name)
	}
	n.mu.Unlock()
	n.refreshPendingSubDirsMetric()
}

// reconcileCreateSubDir applies the createSubDirectory reconciliation
// rule, symmetric to the key-op reconciliation in MapKernel.Process.
func (n *SubDirectory) reconcileCreateSubDir(msg *wire.SequencedMessage, local bool) {
	name := msg.Contents.SubdirName
	n.mu.Lock()
	cs, hasPending := n.pendingSubDirs[name]
	if hasPending {
		echoed := local && cs == msg.ClientSequenceNumber
		if echoed {
			delete(n.pendingSubDirs, name)
			delete(n.unsentSubDirs, name)
		}
		n.mu.Unlock()
		if echoed {
			n.refreshPendingSubDirsMetric()
		}
		return
	}
	_, exists := n.children[name]
	n.mu.Unlock()

	if local || exists {
		return
	}

	n.attachChild(name)
}

// reconcileDeleteSubDir applies the deleteSubDirectory reconciliation
// rule.
func (n *SubDirectory) reconcileDeleteSubDir(msg *wire.SequencedMessage, local bool) {
	name := msg.Contents.SubdirName
	n.mu.Lock()
	cs, hasPending := n.pendingSubDirs[name]
	if hasPending {
		echoed := local && cs == msg.ClientSequenceNumber
		if echoed {
			delete(n.pendingSubDirs, name)
			delete(n.unsentSubDirs, name)
		}
		n.mu.Unlock()
		if echoed {
			n.refreshPendingSubDirsMetric()
		}
		return
	}
	childPath, exists := n.children[name]
	if exists {
		delete(n.children, name)
	}
	n.mu.Unlock()

	if local || !exists {
		return
	}
	n.owner.removeSubtree(childPath)
}

// events exposes the shared emitter for tests within this package.
func (n *SubDirectory) events() *events.Emitter { return n.kernel.Events() }
