package signaling

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) [32]byte {
	var key [32]byte
	for i := range key {
		key[i] = b
	}
	return key
}

func TestSecretBoxCipherRoundTrip(t *testing.T) {
	cipher := NewSecretBoxCipher(testKey(7))

	sealed, err := cipher.Seal([]byte("hello"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("hello"), sealed)

	opened, err := cipher.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), opened)
}

func TestSecretBoxCipherRejectsTampering(t *testing.T) {
	cipher := NewSecretBoxCipher(testKey(7))

	sealed, err := cipher.Seal([]byte("hello"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = cipher.Open(sealed)
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestSecretBoxCipherRejectsWrongKey(t *testing.T) {
	sealed, err := NewSecretBoxCipher(testKey(1)).Seal([]byte("hello"))
	require.NoError(t, err)

	_, err = NewSecretBoxCipher(testKey(2)).Open(sealed)
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestSealedChannelRoundTrip(t *testing.T) {
	inner := NewMemoryChannel()
	sealed := NewSealedChannel(inner, NewSecretBoxCipher(testKey(9)))
	ctx := context.Background()

	require.NoError(t, sealed.Write(ctx, "calls/bob/c1", []byte("record")))

	// The relay only ever sees ciphertext.
	raw, err := inner.Read(ctx, "calls/bob/c1")
	require.NoError(t, err)
	assert.NotEqual(t, []byte("record"), raw)

	got, err := sealed.Read(ctx, "calls/bob/c1")
	require.NoError(t, err)
	assert.Equal(t, []byte("record"), got)
}

func TestSealedChannelSubscriptionsOpenPayloads(t *testing.T) {
	inner := NewMemoryChannel()
	sealed := NewSealedChannel(inner, NewSecretBoxCipher(testKey(9)))
	ctx := context.Background()

	var values [][]byte
	valueSub, err := sealed.SubscribeValue("p", func(payload []byte) {
		values = append(values, payload)
	})
	require.NoError(t, err)
	defer valueSub.Unsubscribe()

	var children []string
	childSub, err := sealed.SubscribeChildAdded("list", func(key string, payload []byte) {
		children = append(children, key+"="+string(payload))
	})
	require.NoError(t, err)
	defer childSub.Unsubscribe()

	require.NoError(t, sealed.Write(ctx, "p", []byte("v")))
	require.NoError(t, sealed.Write(ctx, "list/a", []byte("1")))

	require.Len(t, values, 1)
	assert.Equal(t, []byte("v"), values[0])
	assert.Equal(t, []string{"a=1"}, children)
}

func TestSealedChannelDropsUndecryptable(t *testing.T) {
	inner := NewMemoryChannel()
	sealed := NewSealedChannel(inner, NewSecretBoxCipher(testKey(9)))
	ctx := context.Background()

	delivered := 0
	sub, err := sealed.SubscribeValue("p", func([]byte) { delivered++ })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// Written past the cipher, e.g. by a peer with a different key.
	require.NoError(t, inner.Write(ctx, "p", []byte("garbage")))
	assert.Equal(t, 0, delivered)

	_, err = sealed.Read(ctx, "p")
	assert.ErrorIs(t, err, ErrOpenFailed)
}
