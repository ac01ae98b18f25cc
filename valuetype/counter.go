package valuetype

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/webflow/shareddata/wire"
)

// CounterType is a built-in, registered value type exercising the
// "act" op path: every increment is an "act" op that flows through
// the same total order as every other operation, so replicas converge
// on the same running total without needing an embedded (time, src)
// tiebreaker, since the ordering service already supplies the total
// order.
type CounterType struct{}

func (CounterType) Name() string { return "counter" }

type counterState struct {
	Value int64 `json:"value"`
}

func (CounterType) Load(params json.RawMessage, emitter OpEmitter) (any, error) {
	var state counterState
	if len(params) > 0 {
		if err := json.Unmarshal(params, &state); err != nil {
			return nil, errors.Wrap(err, "counter: decoding initial state")
		}
	}
	return &Counter{value: state.Value, emitter: emitter}, nil
}

func (CounterType) Store(live any) (json.RawMessage, error) {
	c := live.(*Counter)
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Marshal(counterState{Value: c.value})
}

type incrementParams struct {
	Delta int64 `json:"delta"`
}

func (CounterType) OpHandlers() map[string]OpHandler {
	return map[string]OpHandler{
		"increment": {
			Prepare: func(_ context.Context, current any, _ json.RawMessage, _ bool, _ *wire.SequencedMessage) (OpContext, error) {
				return nil, nil
			},
			Process: func(previous any, params json.RawMessage, _ OpContext, _ bool, _ *wire.SequencedMessage) any {
				c := previous.(*Counter)
				var p incrementParams
				_ = json.Unmarshal(params, &p)
				c.mu.Lock()
				c.value += p.Delta
				c.mu.Unlock()
				return c
			},
		},
	}
}

// Counter is the live object stored for a "counter" value-type key.
type Counter struct {
	mu      sync.Mutex
	value   int64
	emitter OpEmitter
}

// SetEmitter implements EmitterAware, used when a Counter is
// materialized from a snapshot rather than freshly created.
func (c *Counter) SetEmitter(e OpEmitter) {
	c.mu.Lock()
	c.emitter = e
	c.mu.Unlock()
}

func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Increment applies the delta locally and submits the matching "act"
// op through the emitter.
func (c *Counter) Increment(delta int64) {
	c.mu.Lock()
	c.value += delta
	c.mu.Unlock()
	payload, _ := json.Marshal(incrementParams{Delta: delta})
	c.emitter.Emit("increment", payload)
}
