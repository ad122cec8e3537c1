// cmd/signcommit/main.go: signs a lend or borrow commitment off-chain so a
// counterparty can submit it with request-and-borrow or take-and-lend.
//
// Usage examples:
//
//   # lender offer for token 7, nonce looked up from a running daemon
//   SIGNER_KEY=<hex> go run ./cmd/signcommit/ --kind lend --pair 0x... --collateral 0x... \
//     --chain-id 16602 --token-id 7 --valuation 1000000000000000000000 --duration 86400 \
//     --rate 2000 --api http://localhost:8080
//
//   # borrower offer with an explicit nonce and deadline
//   go run ./cmd/signcommit/ --kind borrow --key <hex> ... --nonce 3 --deadline 1700003600
package main

import (
	"crypto/ecdsa"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-nft-lending/internal/commitment"
)

type options struct {
	kind       string
	pair       common.Address
	collateral common.Address
	chainID    *big.Int
	tokenID    *big.Int
	anyToken   bool
	valuation  *big.Int
	duration   uint64
	rate       uint16
	nonce      uint64
	deadline   uint64
}

// output is what the counterparty needs to submit the commitment.
type output struct {
	Kind      string                `json:"kind"`
	Signer    common.Address        `json:"signer"`
	Digest    common.Hash           `json:"digest"`
	Signature hexutil.Bytes         `json:"signature"`
	TokenID   *math.HexOrDecimal256 `json:"token_id"`
	Nonce     uint64                `json:"nonce"`
	Deadline  uint64                `json:"deadline"`
}

func (o options) message() (commitment.Message, error) {
	switch o.kind {
	case "lend":
		return commitment.Lend{
			Contract:          o.collateral,
			TokenID:           o.tokenID,
			AnyTokenID:        o.anyToken,
			Valuation:         o.valuation,
			Duration:          o.duration,
			AnnualInterestBPS: o.rate,
			Nonce:             o.nonce,
			Deadline:          o.deadline,
		}, nil
	case "borrow":
		if o.anyToken {
			return nil, fmt.Errorf("--any-token only applies to lend commitments")
		}
		return commitment.Borrow{
			Contract:          o.collateral,
			TokenID:           o.tokenID,
			Valuation:         o.valuation,
			Duration:          o.duration,
			AnnualInterestBPS: o.rate,
			Nonce:             o.nonce,
			Deadline:          o.deadline,
		}, nil
	}
	return nil, fmt.Errorf("unknown --kind %q (want lend or borrow)", o.kind)
}

func sign(o options, key *ecdsa.PrivateKey) (*output, error) {
	msg, err := o.message()
	if err != nil {
		return nil, err
	}
	domain := commitment.Domain{ChainID: o.chainID, Contract: o.pair}
	digest, err := commitment.Digest(domain, msg)
	if err != nil {
		return nil, fmt.Errorf("digest: %w", err)
	}
	sig, err := commitment.Sign(domain, msg, key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return &output{
		Kind:      o.kind,
		Signer:    crypto.PubkeyToAddress(key.PublicKey),
		Digest:    digest,
		Signature: sig,
		TokenID:   (*math.HexOrDecimal256)(o.tokenID),
		Nonce:     o.nonce,
		Deadline:  o.deadline,
	}, nil
}

// fetchNonce asks a running daemon for signer's next commitment nonce.
func fetchNonce(apiURL string, signer common.Address) (uint64, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(strings.TrimRight(apiURL, "/") + "/api/nonces/" + signer.Hex())
	if err != nil {
		return 0, fmt.Errorf("get nonce: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("get nonce: status %d", resp.StatusCode)
	}
	var body struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode nonce: %w", err)
	}
	return body.Nonce, nil
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	kind       := flag.String("kind", "lend", "commitment kind: lend or borrow")
	keyHex     := flag.String("key", os.Getenv("SIGNER_KEY"), "signer private key (hex); defaults to $SIGNER_KEY")
	pairAddr   := flag.String("pair", "", "pair address, the EIP-712 verifying contract (required)")
	collAddr   := flag.String("collateral", "", "collateral token contract (required)")
	chainID    := flag.Int64("chain-id", 16602, "chain ID")
	tokenID    := flag.String("token-id", "0", "collateral token id (decimal or 0x-hex)")
	anyToken   := flag.Bool("any-token", false, "lend only: offer covers any token of the collection")
	valuation  := flag.String("valuation", "", "principal in asset base units (required)")
	duration   := flag.Uint64("duration", 0, "loan duration in seconds (required)")
	rate       := flag.Uint("rate", 0, "annual interest in basis points")
	nonce      := flag.Int64("nonce", -1, "signer nonce; -1 looks it up via --api")
	deadline   := flag.Uint64("deadline", 0, "unix deadline; 0 means now + --ttl")
	ttl        := flag.Duration("ttl", time.Hour, "validity when --deadline is 0")
	apiURL     := flag.String("api", "", "daemon base URL for nonce lookup")
	flag.Parse()

	if *pairAddr == "" || !common.IsHexAddress(*pairAddr) {
		fail("--pair must be an address")
	}
	if *collAddr == "" || !common.IsHexAddress(*collAddr) {
		fail("--collateral must be an address")
	}
	if *rate > 0xffff {
		fail("--rate out of range")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(*keyHex, "0x"))
	if err != nil {
		fail("invalid --key: %v", err)
	}
	id, ok := math.ParseBig256(*tokenID)
	if !ok {
		fail("invalid --token-id %q", *tokenID)
	}
	val, ok := math.ParseBig256(*valuation)
	if !ok {
		fail("invalid --valuation %q", *valuation)
	}

	o := options{
		kind:       *kind,
		pair:       common.HexToAddress(*pairAddr),
		collateral: common.HexToAddress(*collAddr),
		chainID:    big.NewInt(*chainID),
		tokenID:    id,
		anyToken:   *anyToken,
		valuation:  val,
		duration:   *duration,
		rate:       uint16(*rate),
		deadline:   *deadline,
	}
	if o.deadline == 0 {
		o.deadline = uint64(time.Now().Add(*ttl).Unix())
	}
	switch {
	case *nonce >= 0:
		o.nonce = uint64(*nonce)
	case *apiURL != "":
		n, err := fetchNonce(*apiURL, crypto.PubkeyToAddress(key.PublicKey))
		if err != nil {
			fail("%v", err)
		}
		o.nonce = n
	default:
		fail("either --nonce or --api is required")
	}

	out, err := sign(o, key)
	if err != nil {
		fail("%v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fail("encode: %v", err)
	}
}
