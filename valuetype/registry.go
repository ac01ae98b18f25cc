// Package valuetype hosts the pluggable value-type system: the
// LocalValue materialization of a wire.SerializableValue, and the
// Registry that pluggable value kinds register themselves with.
package valuetype

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/webflow/shareddata/internal/ddserrors"
	"github.com/webflow/shareddata/wire"
)

// OpContext is the value a Prepare phase hands to its matching
// Process phase. Its shape is defined by the value type.
type OpContext any

// OpHandler is the two-phase contract a value type installs per
// op-name: Prepare may do asynchronous work (e.g. resolving a
// handle), Process is synchronous and mutates the live value in
// place.
type OpHandler struct {
	Prepare func(ctx context.Context, current any, params json.RawMessage, local bool, msg *wire.SequencedMessage) (OpContext, error)
	Process func(previous any, params json.RawMessage, opctx OpContext, local bool, msg *wire.SequencedMessage) (updated any)
}

// OpEmitter is handed to a value type's live object so it can submit
// its own mutations as "act" ops on the parent container and fire a
// local valueChanged synchronously.
type OpEmitter interface {
	Emit(opName string, payload json.RawMessage)
}

// EmitterAware is implemented by live value-type objects that need
// their emitter re-wired after being restored from a snapshot, since
// snapshot restoration bypasses the normal Load(params, emitter) path.
type EmitterAware interface {
	SetEmitter(e OpEmitter)
}

// HandleResolver resolves the opaque handle string a Shared-kind
// value carries into the live object it references, through whatever
// host runtime minted that handle.
type HandleResolver interface {
	Resolve(handle string) (any, error)
}

// ResolvedHandle is the LocalValue.Value shape for a Shared-kind entry
// once its handle has been resolved: Handle is kept alongside Target
// so MakeSerializable can still recover the original wire handle
// without re-minting one.
type ResolvedHandle struct {
	Handle string
	Target any
}

// Unwrap returns the resolved target for a Shared-kind value produced
// through a HandleResolver, or v unchanged for anything else.
func Unwrap(v any) any {
	if rh, ok := v.(ResolvedHandle); ok {
		return rh.Target
	}
	return v
}

// ValueType is a registered, pluggable kind of value. Mutations of a
// live value flow through the same op log as everything else, via
// "act".
type ValueType interface {
	Name() string
	Load(params json.RawMessage, emitter OpEmitter) (live any, err error)
	Store(live any) (json.RawMessage, error)
	OpHandlers() map[string]OpHandler
}

// Registry is per-instance, not global: each SharedMap /
// SharedDirectory owns its own set of registered value types.
type Registry struct {
	types *xsync.MapOf[string, ValueType]
}

func NewRegistry() *Registry {
	return &Registry{types: xsync.NewMapOf[string, ValueType]()}
}

func (r *Registry) Register(vt ValueType) {
	r.types.Store(vt.Name(), vt)
}

func (r *Registry) Lookup(name string) (ValueType, bool) {
	return r.types.Load(name)
}

// LocalValue is the in-memory counterpart of a serializable value:
// { value, type, opHandlers }.
type LocalValue struct {
	Value      any
	Type       string
	OpHandlers map[string]OpHandler
}

// FromSerializable materializes a wire value into a LocalValue. For
// "Plain" it JSON-decodes into a generic any. For "Shared" it resolves
// the handle through resolver, when one is configured, into the
// referenced live object; with no resolver it keeps the raw handle
// string, which is what snapshot restoration does before a
// HandleResolver is wired in. For a registered value-type name it
// constructs the live object via the type's Load factory.
func FromSerializable(sv wire.SerializableValue, registry *Registry, emitter OpEmitter, resolver HandleResolver) (*LocalValue, error) {
	switch sv.Type {
	case wire.ValueKindPlain:
		var v any
		if len(sv.Value) > 0 {
			if err := json.Unmarshal(sv.Value, &v); err != nil {
				return nil, errors.Wrap(err, "valuetype: decoding Plain payload")
			}
		}
		return &LocalValue{Value: v, Type: wire.ValueKindPlain}, nil
	case wire.ValueKindShared:
		var handle struct {
			Handle string `json:"handle"`
		}
		if err := json.Unmarshal(sv.Value, &handle); err != nil {
			return nil, errors.Wrap(err, "valuetype: decoding Shared payload")
		}
		if resolver == nil {
			return &LocalValue{Value: handle.Handle, Type: wire.ValueKindShared}, nil
		}
		target, err := resolver.Resolve(handle.Handle)
		if err != nil {
			return nil, errors.Wrapf(ddserrors.ErrUnresolvedHandle, "handle %q: %s", handle.Handle, err)
		}
		return &LocalValue{Value: ResolvedHandle{Handle: handle.Handle, Target: target}, Type: wire.ValueKindShared}, nil
	default:
		vt, ok := registry.Lookup(sv.Type)
		if !ok {
			return nil, errors.Wrapf(ddserrors.ErrUnknownValueType, "type %q", sv.Type)
		}
		live, err := vt.Load(sv.Value, emitter)
		if err != nil {
			return nil, errors.Wrapf(err, "valuetype: loading %q", sv.Type)
		}
		return &LocalValue{Value: live, Type: sv.Type, OpHandlers: vt.OpHandlers()}, nil
	}
}

// MakeSerializable is the round-trip inverse of FromSerializable /
// direct local construction.
func MakeSerializable(lv *LocalValue, registry *Registry) (wire.SerializableValue, error) {
	switch lv.Type {
	case wire.ValueKindPlain:
		payload, err := json.Marshal(lv.Value)
		if err != nil {
			return wire.SerializableValue{}, errors.Wrap(err, "valuetype: encoding Plain payload")
		}
		return wire.SerializableValue{Type: wire.ValueKindPlain, Value: payload}, nil
	case wire.ValueKindShared:
		var handle string
		switch v := lv.Value.(type) {
		case string:
			handle = v
		case ResolvedHandle:
			handle = v.Handle
		case interface{ Handle() string }:
			handle = v.Handle()
		default:
			return wire.SerializableValue{}, errors.Errorf("valuetype: cannot recover a handle from Shared value of type %T", lv.Value)
		}
		payload, err := json.Marshal(struct {
			Handle string `json:"handle"`
		}{Handle: handle})
		if err != nil {
			return wire.SerializableValue{}, errors.Wrap(err, "valuetype: encoding Shared payload")
		}
		return wire.SerializableValue{Type: wire.ValueKindShared, Value: payload}, nil
	default:
		vt, ok := registry.Lookup(lv.Type)
		if !ok {
			return wire.SerializableValue{}, errors.Wrapf(ddserrors.ErrUnknownValueType, "type %q", lv.Type)
		}
		payload, err := vt.Store(lv.Value)
		if err != nil {
			return wire.SerializableValue{}, errors.Wrapf(err, "valuetype: storing %q", lv.Type)
		}
		return wire.SerializableValue{Type: lv.Type, Value: payload}, nil
	}
}
