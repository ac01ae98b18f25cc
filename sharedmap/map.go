// Package sharedmap implements the SharedMap facade: the public, flat
// key-value container, plus the Chunker that partitions and restores
// its state to and from a blob store.
package sharedmap

import (
	"context"
	"encoding/json"

	"github.com/webflow/shareddata/events"
	"github.com/webflow/shareddata/internal/kernel"
	"github.com/webflow/shareddata/internal/utils"
	"github.com/webflow/shareddata/valuetype"
	"github.com/webflow/shareddata/wire"
)

// TypeURI is the type identifier this container registers under with
// the host runtime.
const TypeURI = "https://graph.microsoft.com/types/map"

// SnapshotFormatVersion is the current snapshot format version; it
// moves from 0.1 to 0.2 only on a format-breaking change.
const SnapshotFormatVersion = "0.2"

// SharedMap is a flat, replicated key-value container. It is created
// unattached, populated locally, then attached, at which point pending
// ops begin emitting.
type SharedMap struct {
	kernel *kernel.MapKernel
}

// New creates an unattached SharedMap. Attach must be called before
// local mutations will emit onto an ordering service.
func New(log utils.Logger, registry *valuetype.Registry) *SharedMap {
	if registry == nil {
		registry = valuetype.NewRegistry()
		registry.Register(valuetype.CounterType{})
	}
	return &SharedMap{
		kernel: kernel.New(kernel.Options{
			Container: "map",
			Log:       log,
			Registry:  registry,
		}),
	}
}

// Attach binds the map to an ordering service submission function and
// resubmits anything queued while unattached.
func (m *SharedMap) Attach(submit wire.Submitter) { m.kernel.Attach(submit) }

// SetHandleResolver wires in the resolver used to materialize
// Shared-kind values received from remote "set" ops, typically once a
// host runtime is available.
func (m *SharedMap) SetHandleResolver(r valuetype.HandleResolver) { m.kernel.SetHandleResolver(r) }

func (m *SharedMap) Get(key string) (any, bool) { return m.kernel.Get(key) }
func (m *SharedMap) Has(key string) bool        { return m.kernel.Has(key) }
func (m *SharedMap) Size() int                  { return m.kernel.Size() }
func (m *SharedMap) Keys() []string             { return m.kernel.Keys() }
func (m *SharedMap) Values() []any              { return m.kernel.Values() }

func (m *SharedMap) Entries() []kernel.Entry { return m.kernel.Entries() }

func (m *SharedMap) ForEach(fn func(value any, key string)) { m.kernel.ForEach(fn) }

// Set applies value locally and submits a "set" op; returns the
// assigned client-sequence-number (-1 if not yet attached).
func (m *SharedMap) Set(key string, value any) (int64, error) { return m.kernel.Set(key, value) }

// CreateValueType is like Set but forces value-type handling.
func (m *SharedMap) CreateValueType(key, typeID string, params json.RawMessage) (int64, error) {
	return m.kernel.CreateValueType(key, typeID, params)
}

// Delete removes key locally; returns whether it existed.
func (m *SharedMap) Delete(key string) (existed bool, clientSeq int64) { return m.kernel.Delete(key) }

// Clear wipes all keys locally.
func (m *SharedMap) Clear() int64 { return m.kernel.Clear() }

// Wait resolves once key is present, immediately if it already is.
func (m *SharedMap) Wait(ctx context.Context, key string) (any, error) {
	return m.kernel.Wait(ctx, key)
}

func (m *SharedMap) Events() *events.Emitter { return m.kernel.Events() }

// Registry exposes the value-type registry so callers can register
// additional pluggable types before attaching.
func (m *SharedMap) Registry() *valuetype.Registry { return m.kernel.Registry() }

// Process is the inbound entry point: given a sequenced message from
// the ordering service, prepare then process it.
func (m *SharedMap) Process(ctx context.Context, msg *wire.SequencedMessage, local bool) error {
	prepared, err := m.kernel.Prepare(ctx, msg, local)
	if err != nil {
		return err
	}
	m.kernel.Process(msg, local, prepared)
	return nil
}
