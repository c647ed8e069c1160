// Package asset implements the value-typed quantities an HTLC leg can lock:
// Bitcoin (satoshis), Ether (wei), ERC20 tokens, and Lightning (millisatoshis).
//
// Arithmetic is deliberately not provided — the state machine only ever compares an
// observed Funded amount against an expected one; it never computes with assets.
package asset

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Asset is satisfied by every quantity type the engine can lock in an HTLC. Equal
// must be reflexive, symmetric, and transitive, and round-trip through JSON.
type Asset interface {
	// Equal reports whether two assets of the same concrete type denote the same
	// value. Comparing across concrete types is always false.
	Equal(Asset) bool
	fmt.Stringer
}

// BitcoinQuantity is an amount of bitcoin in satoshis.
type BitcoinQuantity uint64

func (q BitcoinQuantity) Equal(other Asset) bool {
	o, ok := other.(BitcoinQuantity)
	return ok && q == o
}

func (q BitcoinQuantity) String() string {
	return fmt.Sprintf("%d sat", uint64(q))
}

// EtherQuantity is an amount of ether in wei.
type EtherQuantity struct {
	wei *big.Int
}

// NewEtherQuantity builds an EtherQuantity from a wei amount.
func NewEtherQuantity(wei *big.Int) EtherQuantity {
	return EtherQuantity{wei: new(big.Int).Set(wei)}
}

func (q EtherQuantity) Wei() *big.Int { return new(big.Int).Set(q.wei) }

func (q EtherQuantity) Equal(other Asset) bool {
	o, ok := other.(EtherQuantity)
	return ok && q.wei.Cmp(o.wei) == 0
}

func (q EtherQuantity) String() string {
	return fmt.Sprintf("%s wei", q.wei.String())
}

func (q EtherQuantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.wei.String())
}

func (q *EtherQuantity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("asset: invalid wei amount %q", s)
	}
	q.wei = v
	return nil
}

// Erc20Quantity is an amount of a specific ERC20 token: the token's contract
// address, its decimals and display name (for presentation only), and the raw
// token-unit amount.
type Erc20Quantity struct {
	Name     string
	Decimals uint8
	Address  common.Address
	Amount   *big.Int
}

// NewErc20Quantity builds an Erc20Quantity from its token-unit amount.
func NewErc20Quantity(name string, decimals uint8, address common.Address, amount *big.Int) Erc20Quantity {
	return Erc20Quantity{Name: name, Decimals: decimals, Address: address, Amount: new(big.Int).Set(amount)}
}

func (q Erc20Quantity) Equal(other Asset) bool {
	o, ok := other.(Erc20Quantity)
	if !ok {
		return false
	}
	return q.Address == o.Address && q.Amount.Cmp(o.Amount) == 0
}

func (q Erc20Quantity) String() string {
	return fmt.Sprintf("%s %s (%s)", q.Amount.String(), q.Name, q.Address.Hex())
}

type erc20Wire struct {
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
	Address  string `json:"address"`
	Amount   string `json:"amount"`
}

func (q Erc20Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(erc20Wire{
		Name:     q.Name,
		Decimals: q.Decimals,
		Address:  q.Address.Hex(),
		Amount:   "0x" + q.Amount.Text(16),
	})
}

func (q *Erc20Quantity) UnmarshalJSON(data []byte) error {
	var w erc20Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	amount, ok := new(big.Int).SetString(trimHexPrefix(w.Amount), 16)
	if !ok {
		return fmt.Errorf("asset: invalid erc20 amount %q", w.Amount)
	}
	q.Name = w.Name
	q.Decimals = w.Decimals
	q.Address = common.HexToAddress(w.Address)
	q.Amount = amount
	return nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// LightningQuantity is an amount in millisatoshis, the unit Lightning invoices use.
type LightningQuantity uint64

func (q LightningQuantity) Equal(other Asset) bool {
	o, ok := other.(LightningQuantity)
	return ok && q == o
}

func (q LightningQuantity) String() string {
	return fmt.Sprintf("%d msat", uint64(q))
}
