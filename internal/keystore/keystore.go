// Package keystore is the read-only identity surface the engine asks for a
// swap's local redeem/refund identities. It never signs or exposes private key
// material itself; it only derives public identities (RFC003's Identity
// associated type, rendered per-ledger in internal/htlc) from an already-unlocked
// *wallet.Wallet, which keeps the key-management concerns (BIP39/BIP44
// derivation, mnemonic encryption) where the teacher already built them.
package keystore

import (
	"fmt"
	"sync"

	"github.com/comit-node/rfc003/internal/htlc"
	"github.com/comit-node/rfc003/internal/wallet"
)

// KeyStore hands out fresh per-swap identities, one derivation index per call so
// no two swaps ever share an on-chain address (bip44 "change"-style external
// chain, account 0 for both ledgers).
type KeyStore struct {
	wallet *wallet.Wallet

	mu           sync.Mutex
	nextBitcoin  uint32
	nextEthereum uint32
}

func New(w *wallet.Wallet) *KeyStore {
	return &KeyStore{wallet: w}
}

// NextBitcoinIdentity derives the next unused Bitcoin public key for use as a
// swap's redeem or refund identity.
func (k *KeyStore) NextBitcoinIdentity() (htlc.BitcoinIdentity, error) {
	k.mu.Lock()
	index := k.nextBitcoin
	k.nextBitcoin++
	k.mu.Unlock()

	pub, err := k.wallet.DerivePublicKey("BTC", 0, index)
	if err != nil {
		return htlc.BitcoinIdentity{}, fmt.Errorf("keystore: derive bitcoin identity at index %d: %w", index, err)
	}
	return htlc.BitcoinIdentity{PubKey: pub}, nil
}

// NextEthereumIdentity derives the next unused Ethereum account for use as a
// swap's redeem or refund identity.
func (k *KeyStore) NextEthereumIdentity() (htlc.EthereumIdentity, error) {
	k.mu.Lock()
	index := k.nextEthereum
	k.nextEthereum++
	k.mu.Unlock()

	pub, err := k.wallet.DerivePublicKey("ETH", 0, index)
	if err != nil {
		return htlc.EthereumIdentity{}, fmt.Errorf("keystore: derive ethereum identity at index %d: %w", index, err)
	}
	return htlc.EthereumIdentityFromPublicKey(pub), nil
}
