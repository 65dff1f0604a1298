package peercall

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/peercall/call"
	"github.com/opd-ai/peercall/signaling"
)

func TestNewWithChannelOverride(t *testing.T) {
	ch := signaling.NewMemoryChannel()
	ctx := context.Background()

	client, err := New(ctx, Options{
		Identity: call.Identity{UserID: "alice", DisplayName: "Alice"},
		Channel:  ch,
	})
	require.NoError(t, err)
	defer client.Close()

	callID, err := client.StartCall(ctx, "bob", signaling.CallTypeAudio)
	require.NoError(t, err)
	require.NotEmpty(t, callID)
	assert.Equal(t, call.StateRinging, client.State())

	payload, err := ch.Read(ctx, "calls/bob/"+callID)
	require.NoError(t, err)
	record, err := signaling.DecodeCallRecord("calls/bob/"+callID, payload)
	require.NoError(t, err)
	assert.Equal(t, "alice", record.CallerID)
	require.NotNil(t, record.Offer)

	require.NoError(t, client.EndCall(ctx))
	assert.Equal(t, call.StateIdle, client.State())
}

func TestNewRequiresReachableStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := New(ctx, Options{Identity: call.Identity{UserID: "alice"}})
	// No Redis on the default address in this environment.
	if err == nil {
		t.Skip("local Redis is running")
	}
	var transportErr *signaling.TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestSealedSignaling(t *testing.T) {
	inner := signaling.NewMemoryChannel()
	ctx := context.Background()
	key := [32]byte{1, 2, 3}

	client, err := New(ctx, Options{
		Identity: call.Identity{UserID: "alice"},
		Channel:  inner,
		SealKey:  &key,
	})
	require.NoError(t, err)
	defer client.Close()

	callID, err := client.StartCall(ctx, "bob", signaling.CallTypeAudio)
	require.NoError(t, err)

	// The store only holds ciphertext.
	raw, err := inner.Read(ctx, "calls/bob/"+callID)
	require.NoError(t, err)
	_, err = signaling.DecodeCallRecord("calls/bob/"+callID, raw)
	assert.Error(t, err, "the relay must not see plaintext records")
}
