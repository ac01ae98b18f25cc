package kernel

import (
	"context"
	"encoding/json"

	"github.com/webflow/shareddata/events"
	"github.com/webflow/shareddata/internal/ddserrors"
	"github.com/webflow/shareddata/metrics"
	"github.com/webflow/shareddata/valuetype"
	"github.com/webflow/shareddata/wire"
)

// remoteSet carries the materialized local value for a remote "set",
// produced during Prepare and consumed during Process.
type remoteSet struct {
	local *valuetype.LocalValue
}

// remoteAct carries the value-type op context produced during
// Prepare for a remote "act", consumed during Process.
type remoteAct struct {
	handler valuetype.OpHandler
	opctx   valuetype.OpContext
}

// Prepare performs the asynchronous half of inbound message handling:
// for a remote "set" it materializes the value (resolving a Shared
// handle through the configured HandleResolver, if any), for an "act"
// it looks up the target value-type's handler and runs its own
// Prepare. It never mutates kernel state.
func (k *MapKernel) Prepare(ctx context.Context, msg *wire.SequencedMessage, local bool) (any, error) {
	op := msg.Contents
	switch op.Type {
	case wire.OpSet:
		if local {
			return nil, nil
		}
		if op.Value == nil {
			return nil, ddserrors.ErrUnknownOp
		}
		emitter := &valuetype.KeyOpEmitter{
			Key:  op.Key,
			Path: k.path,
			Submit: func(opName string, payload json.RawMessage) {
				k.submitAct(op.Key, opName, payload)
			},
		}
		lv, err := valuetype.FromSerializable(*op.Value, k.registry, emitter, k.handleResolver())
		if err != nil {
			return nil, err
		}
		return remoteSet{local: lv}, nil
	case wire.OpAct:
		if op.Act == nil {
			return nil, ddserrors.ErrUnknownOp
		}
		k.mu.Lock()
		current := k.storage[op.Key]
		k.mu.Unlock()
		if current == nil || current.OpHandlers == nil {
			return nil, ddserrors.ErrUnknownValueType
		}
		handler, ok := current.OpHandlers[op.Act.OpName]
		if !ok {
			return nil, ddserrors.ErrUnknownOp
		}
		var curVal any
		if current != nil {
			curVal = current.Value
		}
		opctx, err := handler.Prepare(ctx, curVal, op.Act.Value, local, msg)
		if err != nil {
			return nil, err
		}
		return remoteAct{handler: handler, opctx: opctx}, nil
	default:
		return nil, nil
	}
}

// MaskedByPendingClear reports whether an outstanding local clear
// masks every other op on this key-space until its own echo arrives,
// at which point the marker clears. It is exported so a
// SharedDirectory's subdirectory-op reconciliation, which applies the
// identical rule scoped to one node, can reuse it for
// createSubDirectory / deleteSubDirectory ops targeting this node.
func (k *MapKernel) MaskedByPendingClear(msg *wire.SequencedMessage, local bool) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.pendingClearClientSeq == nil {
		return false
	}
	if local && msg.ClientSequenceNumber == *k.pendingClearClientSeq {
		k.pendingClearClientSeq = nil
	}
	return true
}

// clearActEcho drops the pending-submission bookkeeping for a local
// act once its own echo comes back, without touching whether a
// set/delete or a different act on the same key is still outstanding.
func (k *MapKernel) clearActEcho(key string, clientSeq int64) {
	k.mu.Lock()
	cs, ok := k.pendingActs[key]
	if ok && cs == clientSeq {
		delete(k.pendingActs, key)
		delete(k.unsentActs, key)
	}
	k.mu.Unlock()
	if ok {
		k.refreshPendingKeysMetric()
	}
}

// Process is the synchronous half: the reconciliation algorithm that
// decides, for each inbound op, whether it should mutate state now,
// wait behind a pending local op, or be dropped as an echo of one.
// It must never yield.
func (k *MapKernel) Process(msg *wire.SequencedMessage, local bool, prepared any) {
	op := msg.Contents

	if k.MaskedByPendingClear(msg, local) {
		metrics.OpsIgnored.WithLabelValues(k.container, op.Type, "clear_pending").Inc()
		return
	}

	switch op.Type {
	case wire.OpSet, wire.OpDelete:
		k.mu.Lock()
		cs, hasPending := k.pendingKeys[op.Key]
		if hasPending {
			echoed := local && cs == msg.ClientSequenceNumber
			if echoed {
				delete(k.pendingKeys, op.Key)
				delete(k.unsent, op.Key)
			}
			k.mu.Unlock()
			if echoed {
				k.refreshPendingKeysMetric()
			}
			metrics.OpsIgnored.WithLabelValues(k.container, op.Type, "key_pending").Inc()
			return
		}
		k.mu.Unlock()
		if local {
			// Already applied optimistically; the echo is a no-op.
			return
		}
		k.applyRemote(op, msg, prepared)
	case wire.OpAct:
		// An "act" never masks against a pending set/delete/act on the
		// same key: it carries its own delta (e.g. a counter
		// increment) rather than replacing the value, so it must apply
		// regardless of what else is outstanding on that key. Only the
		// echo of this exact local act is a no-op.
		if local {
			k.clearActEcho(op.Key, msg.ClientSequenceNumber)
			return
		}
		k.applyRemote(op, msg, prepared)
	case wire.OpClear:
		if local {
			// Already applied optimistically; the echo is a no-op.
			return
		}
		k.mu.Lock()
		k.storage = make(map[string]*valuetype.LocalValue)
		k.order = nil
		k.mu.Unlock()
		k.events.EmitClear(false)
		metrics.OpsApplied.WithLabelValues(k.container, wire.OpClear, "false").Inc()
	default:
		k.log.Warn("kernel: ignoring unknown operation type", "type", op.Type, "container", k.container)
		metrics.OpsIgnored.WithLabelValues(k.container, op.Type, "unknown_type").Inc()
	}
}

func (k *MapKernel) applyRemote(op wire.Operation, msg *wire.SequencedMessage, prepared any) {
	switch op.Type {
	case wire.OpSet:
		rs, ok := prepared.(remoteSet)
		if !ok {
			return
		}
		k.mu.Lock()
		previous := k.storage[op.Key]
		if _, exists := k.storage[op.Key]; !exists {
			k.order = append(k.order, op.Key)
		}
		k.storage[op.Key] = rs.local
		k.mu.Unlock()

		var prevVal any
		if previous != nil {
			prevVal = previous.Value
		}
		k.events.EmitValueChanged(events.ValueChanged{Key: op.Key, PreviousValue: prevVal, Path: k.path}, false)
		k.notifyWaiters(op.Key, rs.local.Value)
		metrics.OpsApplied.WithLabelValues(k.container, op.Type, "false").Inc()

	case wire.OpDelete:
		k.mu.Lock()
		previous, existed := k.storage[op.Key]
		if existed {
			delete(k.storage, op.Key)
			k.removeFromOrder(op.Key)
		}
		k.mu.Unlock()
		if !existed {
			return
		}
		k.events.EmitValueChanged(events.ValueChanged{Key: op.Key, PreviousValue: previous.Value, Path: k.path}, false)
		metrics.OpsApplied.WithLabelValues(k.container, op.Type, "false").Inc()

	case wire.OpAct:
		ra, ok := prepared.(remoteAct)
		if !ok {
			return
		}
		k.mu.Lock()
		current, exists := k.storage[op.Key]
		k.mu.Unlock()
		if !exists {
			// The key may have been deleted concurrently; drop silently.
			metrics.OpsIgnored.WithLabelValues(k.container, op.Type, "target_missing").Inc()
			return
		}
		previousVal := current.Value
		updated := ra.handler.Process(current.Value, op.Act.Value, ra.opctx, false, msg)
		current.Value = updated
		k.events.EmitValueChanged(events.ValueChanged{Key: op.Key, PreviousValue: previousVal, Path: k.path}, false)
		k.notifyWaiters(op.Key, updated)
		metrics.OpsApplied.WithLabelValues(k.container, op.Type, "false").Inc()
	}
}
