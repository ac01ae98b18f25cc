package hoststub

import (
	"context"

	"github.com/webflow/shareddata/internal/utils"
	"github.com/webflow/shareddata/ordering"
	"github.com/webflow/shareddata/valuetype"
	"github.com/webflow/shareddata/wire"
)

// Host bundles the collaborators a container needs to actually run
// end to end: a place to submit/receive ops, a place to persist
// snapshot blobs, a place to resolve Shared handles, and a logger.
type Host interface {
	Ordering() ordering.Service
	Blobs() BlobStore
	Handles() HandleContext
	Logger() utils.Logger
}

// LocalHost is a single-process Host wiring the in-memory reference
// implementations together, for tests and for cmd/ddsctl.
type LocalHost struct {
	clientID string
	ordering *ordering.InMemory
	blobs    *InMemoryBlobStore
	handles  *InMemoryHandleContext
	log      utils.Logger
}

func NewLocalHost(clientID string, log utils.Logger) *LocalHost {
	return &LocalHost{
		clientID: clientID,
		ordering: ordering.NewInMemory(),
		blobs:    NewInMemoryBlobStore(),
		handles:  NewInMemoryHandleContext(),
		log:      log,
	}
}

func (h *LocalHost) Ordering() ordering.Service { return h.ordering }
func (h *LocalHost) Blobs() BlobStore           { return h.blobs }
func (h *LocalHost) Handles() HandleContext     { return h.handles }
func (h *LocalHost) Logger() utils.Logger       { return h.log }

// Attachable is implemented by SharedMap and SharedDirectory: the
// facade surface a Host session needs in order to drive attach and
// inbound delivery.
type Attachable interface {
	Attach(submit wire.Submitter)
	Process(ctx context.Context, msg *wire.SequencedMessage, local bool) error
}

// HandleResolverSetter is implemented by any Attachable that also
// wants a handle resolver wired in once a Host is available to
// resolve Shared references through.
type HandleResolverSetter interface {
	SetHandleResolver(r valuetype.HandleResolver)
}

// Connect attaches container to h's ordering service under h's client
// ID and starts a goroutine forwarding every delivered
// SequencedMessage into container.Process, tagging messages that
// originated from this same client as local. If container also
// implements HandleResolverSetter, its resolver is set to h's handle
// context so remote Shared values resolve through this host. The
// returned cancel function stops the forwarding goroutine and detaches
// from the ordering service.
func Connect(ctx context.Context, h *LocalHost, container Attachable) (cancel func(), err error) {
	deliveries, err := h.ordering.Attach(ctx, h.clientID)
	if err != nil {
		return nil, err
	}

	if setter, ok := container.(HandleResolverSetter); ok {
		setter.SetHandleResolver(h.handles)
	}

	container.Attach(func(op wire.Operation) int64 {
		cs, err := h.ordering.Submit(ctx, h.clientID, op)
		if err != nil {
			h.log.Warn("hoststub: submit failed", "error", err)
			return -1
		}
		return cs
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case msg, ok := <-deliveries:
				if !ok {
					return
				}
				local := msg.ClientID == h.clientID
				if err := container.Process(ctx, msg, local); err != nil {
					h.log.Warn("hoststub: process failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel = func() {
		h.ordering.Detach(h.clientID)
		<-done
	}
	return cancel, nil
}
