package directory

import (
	"context"

	"github.com/webflow/shareddata/metrics"
	"github.com/webflow/shareddata/wire"
)

// router dispatches an inbound sequenced message to the SubDirectory
// named by its path and applies the op-type-specific reconciliation
// rule.
type router struct {
	owner *SharedDirectory
}

func newRouter(owner *SharedDirectory) *router {
	return &router{owner: owner}
}

func (r *router) route(ctx context.Context, msg *wire.SequencedMessage, local bool) error {
	op := msg.Contents
	node, ok := r.owner.arena.Load(op.Path)
	if !ok {
		// The target node was concurrently deleted; drop silently.
		metrics.OpsIgnored.WithLabelValues("directory", op.Type, "target_missing").Inc()
		return nil
	}

	switch op.Type {
	case wire.OpSet, wire.OpDelete, wire.OpClear, wire.OpAct:
		prepared, err := node.kernel.Prepare(ctx, msg, local)
		if err != nil {
			return err
		}
		node.kernel.Process(msg, local, prepared)
		return nil
	case wire.OpCreateSubDirectory:
		if node.kernel.MaskedByPendingClear(msg, local) {
			metrics.OpsIgnored.WithLabelValues("directory", op.Type, "clear_pending").Inc()
			return nil
		}
		node.reconcileCreateSubDir(msg, local)
		return nil
	case wire.OpDeleteSubDirectory:
		if node.kernel.MaskedByPendingClear(msg, local) {
			metrics.OpsIgnored.WithLabelValues("directory", op.Type, "clear_pending").Inc()
			return nil
		}
		node.reconcileDeleteSubDir(msg, local)
		return nil
	default:
		metrics.OpsIgnored.WithLabelValues("directory", op.Type, "unknown_type").Inc()
		return nil
	}
}
