// Package commitment hashes, signs and recovers the EIP-712 messages a lender
// or borrower signs off-chain to pre-authorise a loan.
package commitment

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var ErrBadSignature = errors.New("commitment: malformed signature")

var domainType = []apitypes.Type{
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var lendTypes = apitypes.Types{
	"EIP712Domain": domainType,
	"Lend": {
		{Name: "contract", Type: "address"},
		{Name: "tokenId", Type: "uint256"},
		{Name: "anyTokenId", Type: "bool"},
		{Name: "valuation", Type: "uint128"},
		{Name: "duration", Type: "uint64"},
		{Name: "annualInterestBPS", Type: "uint16"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

var borrowTypes = apitypes.Types{
	"EIP712Domain": domainType,
	"Borrow": {
		{Name: "contract", Type: "address"},
		{Name: "tokenId", Type: "uint256"},
		{Name: "valuation", Type: "uint128"},
		{Name: "duration", Type: "uint64"},
		{Name: "annualInterestBPS", Type: "uint16"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

func (d Domain) typed() apitypes.TypedDataDomain {
	chainID := d.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	return apitypes.TypedDataDomain{
		ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
		VerifyingContract: d.Contract.Hex(),
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// TypedData returns the EIP-712 document for m under d.
func (m Lend) TypedData(d Domain) apitypes.TypedData {
	tokenID := orZero(m.TokenID)
	if m.AnyTokenID {
		tokenID = new(big.Int)
	}
	return apitypes.TypedData{
		Types:       lendTypes,
		PrimaryType: "Lend",
		Domain:      d.typed(),
		Message: apitypes.TypedDataMessage{
			"contract":          m.Contract.Hex(),
			"tokenId":           tokenID,
			"anyTokenId":        m.AnyTokenID,
			"valuation":         orZero(m.Valuation),
			"duration":          new(big.Int).SetUint64(m.Duration),
			"annualInterestBPS": big.NewInt(int64(m.AnnualInterestBPS)),
			"nonce":             new(big.Int).SetUint64(m.Nonce),
			"deadline":          new(big.Int).SetUint64(m.Deadline),
		},
	}
}

func (m Borrow) TypedData(d Domain) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       borrowTypes,
		PrimaryType: "Borrow",
		Domain:      d.typed(),
		Message: apitypes.TypedDataMessage{
			"contract":          m.Contract.Hex(),
			"tokenId":           orZero(m.TokenID),
			"valuation":         orZero(m.Valuation),
			"duration":          new(big.Int).SetUint64(m.Duration),
			"annualInterestBPS": big.NewInt(int64(m.AnnualInterestBPS)),
			"nonce":             new(big.Int).SetUint64(m.Nonce),
			"deadline":          new(big.Int).SetUint64(m.Deadline),
		},
	}
}

// Message is either a Lend or a Borrow.
type Message interface {
	TypedData(d Domain) apitypes.TypedData
}

// Digest is keccak256(0x1901 || domainSeparator || structHash).
func Digest(d Domain, m Message) (common.Hash, error) {
	hash, _, err := apitypes.TypedDataAndHash(m.TypedData(d))
	if err != nil {
		return common.Hash{}, fmt.Errorf("commitment: hash typed data: %w", err)
	}
	return common.BytesToHash(hash), nil
}

// Sign returns a 65-byte signature over m with V in {27, 28}.
func Sign(d Domain, m Message, key *ecdsa.PrivateKey) ([]byte, error) {
	digest, err := Digest(d, m)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// Recover returns the address that signed m. V may be 0/1 or 27/28. A
// signature over different fields recovers some other address rather than
// failing, so callers must compare the result against the expected signer.
func Recover(d Domain, m Message, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: %d bytes", ErrBadSignature, len(sig))
	}
	digest, err := Digest(d, m)
	if err != nil {
		return common.Address{}, err
	}
	cp := make([]byte, crypto.SignatureLength)
	copy(cp, sig)
	if cp[64] >= 27 {
		cp[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], cp)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
