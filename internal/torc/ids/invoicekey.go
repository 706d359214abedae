// Package ids implements the canonical UUID <-> 32-byte ledger key
// encoding used to address an escrow on the external ledger.
package ids

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EncodeInvoiceKey maps a UUID to its 32-byte ledger representation: the
// UUID's 16 bytes copied left-aligned, trailing 16 bytes zero.
func EncodeInvoiceKey(id uuid.UUID) common.Hash {
	var key common.Hash
	copy(key[:16], id[:])
	return key
}

// DecodeInvoiceKey recovers the UUID from its 32-byte ledger
// representation. Returns an error if the trailing 16 bytes are not
// all-zero, since that cannot have been produced by EncodeInvoiceKey.
func DecodeInvoiceKey(key common.Hash) (uuid.UUID, error) {
	for _, b := range key[16:] {
		if b != 0 {
			return uuid.Nil, fmt.Errorf("invoice key %x: trailing bytes are not zero-padded", key)
		}
	}
	var id uuid.UUID
	copy(id[:], key[:16])
	return id, nil
}

// DecodeInvoiceKeyHex parses a 0x-prefixed hex string (as produced by
// common.Hash.Hex) and decodes it the same way as DecodeInvoiceKey.
func DecodeInvoiceKeyHex(hex string) (uuid.UUID, error) {
	if len(hex) != 66 {
		return uuid.Nil, fmt.Errorf("invoice key hex %q: expected a 32-byte 0x-prefixed hash", hex)
	}
	return DecodeInvoiceKey(common.HexToHash(hex))
}
