package valuetype

import "encoding/json"

// KeyOpEmitter is the concrete OpEmitter a kernel hands to a value
// type's Load factory: it wraps {key, path} and submits an "act" op
// on the parent on every local mutation, firing a local valueChanged
// synchronously.
type KeyOpEmitter struct {
	Key    string
	Path   string
	Submit func(opName string, payload json.RawMessage)
}

func (e *KeyOpEmitter) Emit(opName string, payload json.RawMessage) {
	e.Submit(opName, payload)
}
