// Package secret implements the preimage/hash commitment shared by both HTLC legs.
//
// Secret is a tagged variant rather than a bare byte slice so that a swap recovered
// from the state store, or observed by Bob before redeem, can never be mistaken for
// one where the preimage is actually known.
package secret

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/comit-node/rfc003/pkg/helpers"
)

// Size is the fixed preimage length in bytes.
const Size = 32

// ErrCommitmentMismatch is returned when a revealed preimage does not hash to the
// agreed SecretHash.
var ErrCommitmentMismatch = errors.New("secret: preimage does not match commitment")

// Hash is the SHA-256 commitment shared by both parties from swap negotiation onward.
type Hash [sha256.Size]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash) UnmarshalText(b []byte) error {
	decoded, err := hex.DecodeString(string(b))
	if err != nil {
		return fmt.Errorf("secret: invalid hash: %w", err)
	}
	if len(decoded) != sha256.Size {
		return fmt.Errorf("secret: hash must be %d bytes, got %d", sha256.Size, len(decoded))
	}
	copy(h[:], decoded)
	return nil
}

// HashOf computes the commitment for a given preimage.
func HashOf(preimage [Size]byte) Hash {
	return Hash(sha256.Sum256(preimage[:]))
}

// Secret is Known to Alice from creation, and to both parties once the preimage is
// observed on-chain (promoted via Reveal). It is HashOnly to Bob until then.
type Secret struct {
	hash     Hash
	preimage [Size]byte
	known    bool
}

// NewHashOnly constructs the pre-redeem variant both parties start with once the
// commitment is agreed during negotiation.
func NewHashOnly(hash Hash) Secret {
	return Secret{hash: hash}
}

// Generate creates a fresh random preimage and its commitment — the variant only
// Alice ever holds at swap creation.
func Generate() (Secret, error) {
	var preimage [Size]byte
	raw, err := helpers.GenerateSecureRandom(Size)
	if err != nil {
		return Secret{}, fmt.Errorf("secret: generate: %w", err)
	}
	copy(preimage[:], raw)
	return Secret{
		hash:     HashOf(preimage),
		preimage: preimage,
		known:    true,
	}, nil
}

// Hash returns the commitment, present regardless of whether the preimage is known.
func (s Secret) Hash() Hash { return s.hash }

// Known reports whether the preimage has been revealed (Alice always; Bob after
// observing a redeem transaction).
func (s Secret) Known() bool { return s.known }

// Preimage returns the raw preimage. It panics if Known is false; callers must check
// Known first — this mirrors the spec's requirement that the type system prevent
// redeeming beta without the preimage.
func (s Secret) Preimage() [Size]byte {
	if !s.known {
		panic("secret: preimage accessed on a HashOnly secret")
	}
	return s.preimage
}

// Reveal promotes a HashOnly secret to Known after verifying the commitment. It is
// the single path by which Bob learns the preimage once observed on-ledger.
func (s Secret) Reveal(preimage [Size]byte) (Secret, error) {
	if HashOf(preimage) != s.hash {
		return s, ErrCommitmentMismatch
	}
	return Secret{hash: s.hash, preimage: preimage, known: true}, nil
}

type wireSecret struct {
	Hash     Hash    `json:"hash"`
	Preimage *string `json:"preimage,omitempty"`
}

func (s Secret) MarshalJSON() ([]byte, error) {
	w := wireSecret{Hash: s.hash}
	if s.known {
		hexPreimage := hex.EncodeToString(s.preimage[:])
		w.Preimage = &hexPreimage
	}
	return json.Marshal(w)
}

func (s *Secret) UnmarshalJSON(data []byte) error {
	var w wireSecret
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = Secret{hash: w.Hash}
	if w.Preimage != nil {
		decoded, err := hex.DecodeString(*w.Preimage)
		if err != nil {
			return fmt.Errorf("secret: invalid preimage: %w", err)
		}
		if len(decoded) != Size {
			return fmt.Errorf("secret: preimage must be %d bytes, got %d", Size, len(decoded))
		}
		copy(s.preimage[:], decoded)
		s.known = true
	}
	return nil
}
