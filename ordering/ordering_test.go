package ordering

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webflow/shareddata/wire"
)

func TestInMemory_SubmitEchoesToSubmitter(t *testing.T) {
	svc := NewInMemory()
	ch, err := svc.Attach(context.Background(), "clientA")
	require.NoError(t, err)

	cs, err := svc.Submit(context.Background(), "clientA", wire.Operation{Type: wire.OpSet, Key: "k"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, cs)

	select {
	case msg := <-ch:
		assert.Equal(t, "clientA", msg.ClientID)
		assert.EqualValues(t, 1, msg.ClientSequenceNumber)
		assert.EqualValues(t, 1, msg.SequenceNumber)
	case <-time.After(time.Second):
		t.Fatal("did not receive echoed message")
	}
}

func TestInMemory_BroadcastsToAllAttachedClients(t *testing.T) {
	svc := NewInMemory()
	chA, err := svc.Attach(context.Background(), "clientA")
	require.NoError(t, err)
	chB, err := svc.Attach(context.Background(), "clientB")
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), "clientA", wire.Operation{Type: wire.OpSet, Key: "k"})
	require.NoError(t, err)

	for _, ch := range []<-chan *wire.SequencedMessage{chA, chB} {
		select {
		case msg := <-ch:
			assert.Equal(t, "k", msg.Contents.Key)
		case <-time.After(time.Second):
			t.Fatal("did not receive broadcast message")
		}
	}
}

func TestInMemory_ClientSequenceNumbersAreMonotonicPerClient(t *testing.T) {
	svc := NewInMemory()
	_, err := svc.Attach(context.Background(), "clientA")
	require.NoError(t, err)

	cs1, err := svc.Submit(context.Background(), "clientA", wire.Operation{Type: wire.OpSet, Key: "a"})
	require.NoError(t, err)
	cs2, err := svc.Submit(context.Background(), "clientA", wire.Operation{Type: wire.OpSet, Key: "b"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, cs1)
	assert.EqualValues(t, 2, cs2)
}

func TestInMemory_DetachStopsDelivery(t *testing.T) {
	svc := NewInMemory()
	ch, err := svc.Attach(context.Background(), "clientA")
	require.NoError(t, err)
	svc.Detach("clientA")

	_, ok := <-ch
	assert.False(t, ok, "channel must be closed on detach")
}
