// Package kernel implements MapKernel: authoritative in-memory state
// for one key-space (flat for a SharedMap, per-node for a
// SharedDirectory's SubDirectory), plus the optimistic-concurrency
// reconciliation algorithm both containers share.
package kernel

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/webflow/shareddata/events"
	"github.com/webflow/shareddata/internal/ddserrors"
	"github.com/webflow/shareddata/internal/utils"
	"github.com/webflow/shareddata/metrics"
	"github.com/webflow/shareddata/valuetype"
	"github.com/webflow/shareddata/wire"
)

// unattachedSeq is the sentinel client-sequence-number a kernel
// records for an op it could not yet submit while unattached.
const unattachedSeq = int64(-1)

// MapKernel is shared, in substance, by SharedMap and by every
// SubDirectory node: both are one key-space plus pending-op
// reconciliation.
type MapKernel struct {
	container string
	log       utils.Logger
	registry  *valuetype.Registry
	events    *events.Emitter
	path      string // "" for a flat SharedMap; the owning node's absolute path for a directory

	mu                    sync.Mutex
	storage               map[string]*valuetype.LocalValue
	order                 []string
	pendingKeys           map[string]int64
	unsent                map[string]wire.Operation
	pendingActs           map[string]int64
	unsentActs            map[string]wire.Operation
	pendingClearClientSeq *int64
	unsentClear           *wire.Operation
	waiters               map[string][]chan any
	resolver              valuetype.HandleResolver

	submit wire.Submitter
}

// Options configures a new MapKernel.
type Options struct {
	Container      string // label used in logs/metrics, e.g. "map" or a directory path
	Path           string // absolute path for a directory node; empty for a flat map
	Log            utils.Logger
	Registry       *valuetype.Registry
	Events         *events.Emitter
	Submit         wire.Submitter // nil is fine; behaves as "not attached" until Attach is called
	HandleResolver valuetype.HandleResolver
}

func New(opts Options) *MapKernel {
	if opts.Registry == nil {
		opts.Registry = valuetype.NewRegistry()
	}
	if opts.Events == nil {
		opts.Events = &events.Emitter{}
	}
	return &MapKernel{
		container:   opts.Container,
		path:        opts.Path,
		log:         opts.Log,
		registry:    opts.Registry,
		events:      opts.Events,
		storage:     make(map[string]*valuetype.LocalValue),
		pendingKeys: make(map[string]int64),
		unsent:      make(map[string]wire.Operation),
		pendingActs: make(map[string]int64),
		unsentActs:  make(map[string]wire.Operation),
		waiters:     make(map[string][]chan any),
		submit:      opts.Submit,
		resolver:    opts.HandleResolver,
	}
}

// SetHandleResolver wires (or replaces) the resolver used to
// materialize Shared-kind values during Prepare. Typically called once
// a host runtime becomes available, after construction.
func (k *MapKernel) SetHandleResolver(r valuetype.HandleResolver) {
	k.mu.Lock()
	k.resolver = r
	k.mu.Unlock()
}

func (k *MapKernel) handleResolver() valuetype.HandleResolver {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.resolver
}

func (k *MapKernel) Registry() *valuetype.Registry { return k.registry }
func (k *MapKernel) Events() *events.Emitter       { return k.events }

// Attach binds the submission function and resubmits every op that
// was queued while unattached.
func (k *MapKernel) Attach(submit wire.Submitter) {
	k.mu.Lock()
	k.submit = submit
	if k.unsentClear != nil {
		op := *k.unsentClear
		cs := submit(op)
		seq := cs
		k.pendingClearClientSeq = &seq
		k.unsentClear = nil
	}
	for key, op := range k.unsent {
		cs := submit(op)
		k.pendingKeys[key] = cs
		delete(k.unsent, key)
	}
	for key, op := range k.unsentActs {
		cs := submit(op)
		k.pendingActs[key] = cs
		delete(k.unsentActs, key)
	}
	k.mu.Unlock()
}

// --- read-only accessors -------------------------------------------------

func (k *MapKernel) Get(key string) (any, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	lv, ok := k.storage[key]
	if !ok {
		return nil, false
	}
	return valuetype.Unwrap(lv.Value), true
}

func (k *MapKernel) Has(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.storage[key]
	return ok
}

func (k *MapKernel) Size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.order)
}

func (k *MapKernel) Keys() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]string, len(k.order))
	copy(out, k.order)
	return out
}

func (k *MapKernel) Values() []any {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]any, 0, len(k.order))
	for _, key := range k.order {
		out = append(out, valuetype.Unwrap(k.storage[key].Value))
	}
	return out
}

type Entry struct {
	Key   string
	Value any
}

func (k *MapKernel) Entries() []Entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]Entry, 0, len(k.order))
	for _, key := range k.order {
		out = append(out, Entry{Key: key, Value: valuetype.Unwrap(k.storage[key].Value)})
	}
	return out
}

func (k *MapKernel) ForEach(fn func(value any, key string)) {
	for _, e := range k.Entries() {
		fn(e.Value, e.Key)
	}
}

// SnapshotEntries returns the live LocalValues, for use by the map
// snapshot chunker and the directory snapshot writer.
func (k *MapKernel) SnapshotEntries() map[string]*valuetype.LocalValue {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[string]*valuetype.LocalValue, len(k.storage))
	for key, lv := range k.storage {
		out[key] = lv
	}
	return out
}

// Populate restores state from a snapshot without going through the
// op log — used by sharedmap.ApplySnapshot and by directory snapshot
// hydration. Value-type live objects
// have their emitter re-wired to this kernel, since restoration
// bypasses the normal Load(params, emitter) construction path.
func (k *MapKernel) Populate(entries map[string]*valuetype.LocalValue) {
	k.mu.Lock()
	for key, lv := range entries {
		if _, exists := k.storage[key]; !exists {
			k.order = append(k.order, key)
		}
		k.storage[key] = lv
	}
	k.mu.Unlock()

	for key, lv := range entries {
		aware, ok := lv.Value.(valuetype.EmitterAware)
		if !ok {
			continue
		}
		boundKey := key
		aware.SetEmitter(&valuetype.KeyOpEmitter{
			Key:  boundKey,
			Path: k.path,
			Submit: func(opName string, payload json.RawMessage) {
				k.submitAct(boundKey, opName, payload)
			},
		})
	}
}

// --- mutation ------------------------------------------------------------

func (k *MapKernel) toSerializable(value any) (wire.SerializableValue, error) {
	if h, ok := value.(SharedHandle); ok {
		payload, err := json.Marshal(struct {
			Handle string `json:"handle"`
		}{Handle: h.Handle()})
		if err != nil {
			return wire.SerializableValue{}, errors.Wrap(err, "kernel: encoding Shared payload")
		}
		return wire.SerializableValue{Type: wire.ValueKindShared, Value: payload}, nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return wire.SerializableValue{}, errors.Wrap(err, "kernel: encoding Plain payload")
	}
	return wire.SerializableValue{Type: wire.ValueKindPlain, Value: payload}, nil
}

// SharedHandle is implemented by values that reference another shared
// object rather than carrying plain JSON data.
type SharedHandle interface {
	Handle() string
}

// Set applies value locally and submits a "set" op: Plain for
// ordinary values, Shared for handle references.
func (k *MapKernel) Set(key string, value any) (int64, error) {
	if key == "" {
		return 0, ddserrors.ErrInvalidName
	}
	sv, err := k.toSerializable(value)
	if err != nil {
		return 0, err
	}
	local := &valuetype.LocalValue{Value: value, Type: sv.Type}
	return k.applyLocalKeyOp(key, local, wire.Operation{Type: wire.OpSet, Key: key, Path: k.path, Value: &sv})
}

// CreateValueType is like Set but forces value-type handling.
func (k *MapKernel) CreateValueType(key, typeID string, params json.RawMessage) (int64, error) {
	if key == "" {
		return 0, ddserrors.ErrInvalidName
	}
	vt, ok := k.registry.Lookup(typeID)
	if !ok {
		return 0, errors.Wrapf(ddserrors.ErrUnknownValueType, "type %q", typeID)
	}
	emitter := &valuetype.KeyOpEmitter{
		Key:  key,
		Path: k.path,
		Submit: func(opName string, payload json.RawMessage) {
			k.submitAct(key, opName, payload)
		},
	}
	live, err := vt.Load(params, emitter)
	if err != nil {
		return 0, errors.Wrapf(err, "kernel: creating value type %q", typeID)
	}
	local := &valuetype.LocalValue{Value: live, Type: typeID, OpHandlers: vt.OpHandlers()}
	stored, err := vt.Store(live)
	if err != nil {
		return 0, err
	}
	sv := wire.SerializableValue{Type: typeID, Value: stored}
	return k.applyLocalKeyOp(key, local, wire.Operation{Type: wire.OpSet, Key: key, Path: k.path, Value: &sv})
}

func (k *MapKernel) applyLocalKeyOp(key string, local *valuetype.LocalValue, op wire.Operation) (int64, error) {
	k.mu.Lock()
	previous := k.storage[key]
	if _, exists := k.storage[key]; !exists {
		k.order = append(k.order, key)
	}
	k.storage[key] = local
	k.mu.Unlock()

	k.events.EmitPreOp(op, true)
	cs := k.doSubmit(key, op)

	var prevVal any
	if previous != nil {
		prevVal = previous.Value
	}
	k.events.EmitValueChanged(events.ValueChanged{Key: key, PreviousValue: prevVal, Path: k.path}, true)
	k.events.EmitOp(op, true)
	k.notifyWaiters(key, local.Value)
	metrics.OpsApplied.WithLabelValues(k.container, op.Type, "true").Inc()
	return cs, nil
}

// submitAct is the callback a value-type's OpEmitter invokes on every
// local mutation: submit an "act" op and fire a local valueChanged
// synchronously.
func (k *MapKernel) submitAct(key, opName string, payload json.RawMessage) {
	k.mu.Lock()
	previous := k.storage[key]
	k.mu.Unlock()

	op := wire.Operation{Type: wire.OpAct, Key: key, Path: k.path, Act: &wire.ActPayload{OpName: opName, Value: payload}}
	k.events.EmitPreOp(op, true)
	k.doSubmitAct(key, op)

	var prevVal any
	if previous != nil {
		prevVal = previous.Value
	}
	k.events.EmitValueChanged(events.ValueChanged{Key: key, PreviousValue: prevVal, Path: k.path}, true)
	k.events.EmitOp(op, true)
	if current, ok := k.Get(key); ok {
		k.notifyWaiters(key, current)
	}
	metrics.OpsApplied.WithLabelValues(k.container, op.Type, "true").Inc()
}

// doSubmit records key's pending "set"/"delete" submission. It must
// never be used for an "act": an act carries a delta rather than
// replacing the value, so a key with an outstanding act must still
// let a concurrent remote set/delete through, which requires the two
// op kinds to track their pending state separately (see doSubmitAct).
func (k *MapKernel) doSubmit(key string, op wire.Operation) int64 {
	k.mu.Lock()
	if k.submit == nil {
		k.pendingKeys[key] = unattachedSeq
		k.unsent[key] = op
		k.mu.Unlock()
		k.refreshPendingKeysMetric()
		return unattachedSeq
	}
	cs := k.submit(op)
	k.pendingKeys[key] = cs
	if cs == unattachedSeq {
		k.unsent[key] = op
	}
	k.mu.Unlock()
	k.refreshPendingKeysMetric()
	return cs
}

// doSubmitAct records key's pending "act" submission in its own map,
// kept separate from pendingKeys so that a pending act never masks a
// concurrent remote set/delete reconciliation on the same key.
func (k *MapKernel) doSubmitAct(key string, op wire.Operation) int64 {
	k.mu.Lock()
	if k.submit == nil {
		k.pendingActs[key] = unattachedSeq
		k.unsentActs[key] = op
		k.mu.Unlock()
		k.refreshPendingKeysMetric()
		return unattachedSeq
	}
	cs := k.submit(op)
	k.pendingActs[key] = cs
	if cs == unattachedSeq {
		k.unsentActs[key] = op
	}
	k.mu.Unlock()
	k.refreshPendingKeysMetric()
	return cs
}

// refreshPendingKeysMetric reports the number of keys with an
// outstanding local submission, across both set/delete and act
// bookkeeping.
func (k *MapKernel) refreshPendingKeysMetric() {
	k.mu.Lock()
	n := len(k.pendingKeys) + len(k.pendingActs)
	k.mu.Unlock()
	metrics.PendingKeys.WithLabelValues(k.container).Set(float64(n))
}

// Delete removes key locally and submits a "delete" op. Returns
// whether the key existed locally at the time of the call.
func (k *MapKernel) Delete(key string) (existed bool, clientSeq int64) {
	k.mu.Lock()
	previous, existed := k.storage[key]
	if existed {
		delete(k.storage, key)
		k.removeFromOrder(key)
	}
	k.mu.Unlock()

	op := wire.Operation{Type: wire.OpDelete, Key: key, Path: k.path}
	k.events.EmitPreOp(op, true)
	cs := k.doSubmit(key, op)

	var prevVal any
	if previous != nil {
		prevVal = previous.Value
	}
	k.events.EmitValueChanged(events.ValueChanged{Key: key, PreviousValue: prevVal, Path: k.path}, true)
	k.events.EmitOp(op, true)
	metrics.OpsApplied.WithLabelValues(k.container, op.Type, "true").Inc()
	return existed, cs
}

func (k *MapKernel) removeFromOrder(key string) {
	for i, ordered := range k.order {
		if ordered == key {
			k.order = append(k.order[:i], k.order[i+1:]...)
			return
		}
	}
}

// Clear wipes all keys locally and submits a "clear" op, recording
// the assigned client-sequence-number as the single outstanding
// unacknowledged clear: only one clear can be in flight at a time.
func (k *MapKernel) Clear() int64 {
	k.mu.Lock()
	k.storage = make(map[string]*valuetype.LocalValue)
	k.order = nil
	k.pendingKeys = make(map[string]int64)
	k.unsent = make(map[string]wire.Operation)
	k.pendingActs = make(map[string]int64)
	k.unsentActs = make(map[string]wire.Operation)
	k.mu.Unlock()

	op := wire.Operation{Type: wire.OpClear, Path: k.path}
	k.events.EmitPreOp(op, true)

	k.mu.Lock()
	var cs int64
	if k.submit == nil {
		cs = unattachedSeq
	} else {
		cs = k.submit(op)
	}
	seq := cs
	k.pendingClearClientSeq = &seq
	if cs == unattachedSeq {
		k.unsentClear = &op
	}
	k.mu.Unlock()

	k.refreshPendingKeysMetric()
	k.events.EmitClear(true)
	k.events.EmitOp(op, true)
	metrics.OpsApplied.WithLabelValues(k.container, op.Type, "true").Inc()
	return cs
}

// Wait resolves immediately if key is present, else on the next
// valueChanged matching key. Subscribing before checking closes the
// race window between the presence check and the subscribe.
func (k *MapKernel) Wait(ctx context.Context, key string) (any, error) {
	ch := make(chan any, 1)
	k.mu.Lock()
	k.waiters[key] = append(k.waiters[key], ch)
	if lv, ok := k.storage[key]; ok {
		k.removeWaiter(key, ch)
		k.mu.Unlock()
		return lv.Value, nil
	}
	k.mu.Unlock()

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		k.mu.Lock()
		k.removeWaiter(key, ch)
		k.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (k *MapKernel) removeWaiter(key string, ch chan any) {
	waiters := k.waiters[key]
	for i, w := range waiters {
		if w == ch {
			k.waiters[key] = append(waiters[:i], waiters[i+1:]...)
			return
		}
	}
}

func (k *MapKernel) notifyWaiters(key string, value any) {
	k.mu.Lock()
	waiters := k.waiters[key]
	delete(k.waiters, key)
	k.mu.Unlock()
	for _, ch := range waiters {
		ch <- value
	}
}
