package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// PreimageSize is the length in bytes of a valid hash preimage.
const PreimageSize = 32

// HashSize is the length in bytes of a SHA-256 hash.
const HashSize = 32

// Preimage is the 32-byte secret chosen by the Taker at the start of a
// swap. Its SHA-256 digest is baked into every contract script in the
// route.
type Preimage [PreimageSize]byte

// Hash returns the SHA-256 digest of the preimage.
func (p Preimage) Hash() Hash {
	return Hash(sha256.Sum256(p[:]))
}

// String returns the hex representation of the preimage.
func (p Preimage) String() string {
	return hex.EncodeToString(p[:])
}

// Hash is a 32-byte SHA-256 digest, HX in the swap-parameters vocabulary.
type Hash [HashSize]byte

// String returns the hex representation of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// NewPreimageFromBytes validates and wraps a raw preimage buffer. It fails
// closed on any length other than PreimageSize: a truncated or padded
// preimage must never be accepted onto the hashlock spend path.
func NewPreimageFromBytes(b []byte) (Preimage, error) {
	var p Preimage
	if len(b) != PreimageSize {
		return p, errors.New("contract: preimage must be exactly 32 bytes")
	}
	copy(p[:], b)
	return p, nil
}

// NewHashFromBytes validates and wraps a raw hash buffer.
func NewHashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, errors.New("contract: hash must be exactly 32 bytes")
	}
	copy(h[:], b)
	return h, nil
}

// Role identifies which side of a hop a party is playing.
type Role uint8

const (
	// RoleSender is the party that funds the multisig output and is
	// refunded via the timelock branch if the swap does not complete.
	RoleSender Role = iota

	// RoleReceiver is the party that is paid via the hashlock branch
	// once the preimage becomes known, and who chose the secret tweak
	// on the hashlock pubkey.
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	default:
		return "unknown"
	}
}
