package directory

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/webflow/shareddata/events"
	"github.com/webflow/shareddata/internal/utils"
	"github.com/webflow/shareddata/valuetype"
	"github.com/webflow/shareddata/wire"
)

// SharedDirectory is the hierarchical counterpart of SharedMap: a tree
// of SubDirectory nodes sharing one arena, one value-type registry, and
// one event bus.
type SharedDirectory struct {
	root     *SubDirectory
	arena    *xsync.MapOf[string, *SubDirectory]
	registry *valuetype.Registry
	events   *events.Emitter
	log      utils.Logger
	submit   wire.Submitter
	resolver valuetype.HandleResolver

	router *router
}

const TypeURI = "shareddata/directory"

// New builds a SharedDirectory rooted at "/". If registry is nil, a
// fresh registry with the built-in value types (Counter) is used,
// mirroring sharedmap.New.
func New(log utils.Logger, registry *valuetype.Registry) *SharedDirectory {
	if registry == nil {
		registry = valuetype.NewRegistry()
		registry.Register(valuetype.CounterType{})
	}
	d := &SharedDirectory{
		arena:    xsync.NewMapOf[string, *SubDirectory](),
		registry: registry,
		events:   &events.Emitter{},
		log:      log,
	}
	d.root = newSubDirectory(RootPath, d)
	d.arena.Store(RootPath, d.root)
	d.router = newRouter(d)
	return d
}

func (d *SharedDirectory) Root() *SubDirectory { return d.root }
func (d *SharedDirectory) Events() *events.Emitter { return d.events }
func (d *SharedDirectory) Registry() *valuetype.Registry { return d.registry }

// Attach binds the submission function for every node currently in
// the arena and resubmits anything queued while unattached.
func (d *SharedDirectory) Attach(submit wire.Submitter) {
	d.submit = submit
	d.arena.Range(func(_ string, node *SubDirectory) bool {
		node.attach(submit)
		return true
	})
}

// SetHandleResolver wires (or replaces) the resolver used to
// materialize Shared-kind values for every node currently in the
// arena, and every node created afterward inherits it from d.
func (d *SharedDirectory) SetHandleResolver(r valuetype.HandleResolver) {
	d.resolver = r
	d.arena.Range(func(_ string, node *SubDirectory) bool {
		node.kernel.SetHandleResolver(r)
		return true
	})
}

func (d *SharedDirectory) handleResolver() valuetype.HandleResolver { return d.resolver }

// GetWorkingDirectory resolves an absolute or root-relative path
// starting from the tree's root.
func (d *SharedDirectory) GetWorkingDirectory(path string) (*SubDirectory, bool) {
	return d.root.GetWorkingDirectory(path)
}

// Process routes an inbound sequenced message to the node named by
// its path. A message whose path no longer resolves (its node was
// concurrently deleted) is dropped silently.
func (d *SharedDirectory) Process(ctx context.Context, msg *wire.SequencedMessage, local bool) error {
	return d.router.route(ctx, msg, local)
}

// removeSubtree evicts path and every arena entry nested under it. No
// valueChanged/op events fire for descendants.
func (d *SharedDirectory) removeSubtree(path string) {
	prefix := path
	if prefix != RootPath {
		prefix += Separator
	}
	d.arena.Delete(path)
	d.arena.Range(func(candidate string, _ *SubDirectory) bool {
		if candidate != path && len(candidate) > len(prefix) && candidate[:len(prefix)] == prefix {
			d.arena.Delete(candidate)
		}
		return true
	})
}
