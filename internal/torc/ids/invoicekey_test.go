package ids

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeInvoiceKeyRoundTrip(t *testing.T) {
	for i := 0; i < 10000; i++ {
		id := uuid.New()
		key := EncodeInvoiceKey(id)
		got, err := DecodeInvoiceKey(key)
		require.NoError(t, err)
		require.Equal(t, id, got)
	}
}

func TestEncodeInvoiceKeyPadding(t *testing.T) {
	id := uuid.New()
	key := EncodeInvoiceKey(id)
	for _, b := range key[16:] {
		require.Zero(t, b)
	}
}

func TestDecodeInvoiceKeyRejectsNonZeroTail(t *testing.T) {
	id := uuid.New()
	key := EncodeInvoiceKey(id)
	key[31] = 1
	_, err := DecodeInvoiceKey(key)
	require.Error(t, err)
}
