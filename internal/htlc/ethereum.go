// Ethereum-native and ERC20 HTLC artifact derivation (C3), built on the generated
// SwapHTLC contract binding in internal/contracts/htlc. Deployment is not a
// transaction this engine broadcasts (actions are signable descriptors only, §6) —
// BuildEthereum/BuildErc20 compute the deterministic swap id and calldata the holder
// of the refund identity must sign, mirroring the keccak-based swap-id derivation
// the pre-RFC003 EVM session code used.
package htlc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	contracthtlc "github.com/comit-node/rfc003/internal/contracts/htlc"
	"github.com/comit-node/rfc003/internal/asset"
	"github.com/comit-node/rfc003/internal/wallet"
)

// EthereumIdentity is an EVM account address.
type EthereumIdentity common.Address

func (id EthereumIdentity) String() string { return common.Address(id).Hex() }

// EthereumIdentityFromPublicKey derives the account address a secp256k1 public
// key controls, for a keystore handing out fresh redeem/refund identities.
func EthereumIdentityFromPublicKey(pub *btcec.PublicKey) EthereumIdentity {
	return EthereumIdentity(common.HexToAddress(wallet.PublicKeyToEVMAddress(pub)))
}

// MarshalJSON and UnmarshalJSON encode as the 0x-prefixed hex address, the same
// wire form common.Address itself uses — a named type over it doesn't inherit
// those methods, so they're restated here for every EthereumIdentity that
// crosses internal/comm or internal/store.
func (id EthereumIdentity) MarshalJSON() ([]byte, error) {
	return json.Marshal(common.Address(id))
}

func (id *EthereumIdentity) UnmarshalJSON(data []byte) error {
	return (*common.Address)(id).UnmarshalJSON(data)
}

// EthereumArtifact is the deterministic EVM HTLC artifact: the contract's swap id
// (computed the same way on both sides so a Deployed event can be matched by id) and
// the ABI-encoded calldata for the call the funding party must sign.
type EthereumArtifact struct {
	ContractAddress common.Address
	SwapID          [32]byte
	Timelock        *big.Int
	CreateCalldata  []byte
}

// BuildEthereum derives the deterministic artifact for a native-ether leg.
func BuildEthereum(p Params[EthereumIdentity], contractAddress common.Address, expiry time.Time, nonce *big.Int) (*EthereumArtifact, error) {
	return buildEVM(p, common.Address{}, contractAddress, expiry, nonce, false)
}

// BuildErc20 derives the deterministic artifact for an ERC20 leg; the token address
// is taken from the asset itself, so the contract's createSwapERC20 call is wired to
// lock exactly the token the negotiated asset names.
func BuildErc20(p Params[EthereumIdentity], contractAddress common.Address, expiry time.Time, nonce *big.Int) (*EthereumArtifact, error) {
	erc20, ok := p.Asset.(asset.Erc20Quantity)
	if !ok {
		return nil, fmt.Errorf("htlc: BuildErc20 requires an Erc20Quantity asset, got %T", p.Asset)
	}
	return buildEVM(p, erc20.Address, contractAddress, expiry, nonce, true)
}

func buildEVM(p Params[EthereumIdentity], tokenAddress, contractAddress common.Address, expiry time.Time, nonce *big.Int, isToken bool) (*EthereumArtifact, error) {
	amount, err := amountOf(p.Asset)
	if err != nil {
		return nil, err
	}

	timelock := big.NewInt(expiry.Unix())
	secretHash := p.SecretHash

	swapID := crypto.Keccak256Hash(
		common.LeftPadBytes(common.Address(p.Refund).Bytes(), 32),
		common.LeftPadBytes(common.Address(p.Redeem).Bytes(), 32),
		common.LeftPadBytes(tokenAddress.Bytes(), 32),
		common.LeftPadBytes(amount.Bytes(), 32),
		secretHash[:],
		common.LeftPadBytes(timelock.Bytes(), 32),
		common.LeftPadBytes(nonce.Bytes(), 32),
	)

	parsedABI, err := contracthtlc.SwapHTLCMetaData.GetAbi()
	if err != nil {
		return nil, fmt.Errorf("htlc: load contract abi: %w", err)
	}

	var calldata []byte
	if isToken {
		calldata, err = parsedABI.Pack("createSwapERC20", swapID, common.Address(p.Redeem), tokenAddress, amount, secretHash, timelock)
	} else {
		calldata, err = parsedABI.Pack("createSwapNative", swapID, common.Address(p.Redeem), secretHash, timelock)
	}
	if err != nil {
		return nil, fmt.Errorf("htlc: pack calldata: %w", err)
	}

	return &EthereumArtifact{
		ContractAddress: contractAddress,
		SwapID:          swapID,
		Timelock:        timelock,
		CreateCalldata:  calldata,
	}, nil
}

func amountOf(a asset.Asset) (*big.Int, error) {
	switch v := a.(type) {
	case asset.EtherQuantity:
		return v.Wei(), nil
	case asset.Erc20Quantity:
		return v.Amount, nil
	default:
		return nil, fmt.Errorf("htlc: unsupported asset type %T for an EVM leg", a)
	}
}
