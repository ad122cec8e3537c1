package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-nft-lending/internal/auth"
	"github.com/0gfoundation/0g-nft-lending/internal/batch"
	"github.com/0gfoundation/0g-nft-lending/internal/collateral"
	"github.com/0gfoundation/0g-nft-lending/internal/commitment"
	"github.com/0gfoundation/0g-nft-lending/internal/events"
	"github.com/0gfoundation/0g-nft-lending/internal/metrics"
	"github.com/0gfoundation/0g-nft-lending/internal/pair"
	"github.com/0gfoundation/0g-nft-lending/internal/sequencer"
	"github.com/0gfoundation/0g-nft-lending/internal/vault"
)

func init() { gin.SetMode(gin.TestMode) }

var (
	assetAddr = common.HexToAddress("0x00000000000000000000000000000000000000a5")
	nftAddr   = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	vaultAddr = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	pairAddr  = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	feeTo     = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

const (
	day   = 86400
	start = 1_700_000_000
)

type fakeClock struct{ now uint64 }

func (c *fakeClock) Now(context.Context) (uint64, error) { return c.now, nil }

type fixture struct {
	t      *testing.T
	mr     *miniredis.Miniredis
	r      *gin.Engine
	srv    *Server
	p      *pair.Pair
	vault  *vault.Ledger
	nft    *collateral.Ledger
	clock  *fakeClock
	seq    *sequencer.Sequencer
	events *events.Publisher

	borrowerKey, lenderKey *ecdsa.PrivateKey
	borrower, lender       common.Address
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

// newFixture wires a full server over miniredis and in-memory ledgers with
// the dev faucet enabled. Nobody holds anything yet.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	f := &fixture{
		t:           t,
		mr:          mr,
		vault:       vault.NewLedger(),
		nft:         collateral.NewLedger(nftAddr),
		clock:       &fakeClock{now: start},
		events:      events.NewPublisher(rdb, 100),
		borrowerKey: newKey(t),
		lenderKey:   newKey(t),
	}
	f.borrower = crypto.PubkeyToAddress(f.borrowerKey.PublicKey)
	f.lender = crypto.PubkeyToAddress(f.lenderKey.PublicKey)

	m := metrics.New()
	f.p = pair.New(pair.Params{
		Address:      pairAddr,
		Asset:        assetAddr,
		ChainID:      big.NewInt(31337),
		FeeRecipient: feeTo,
	}, f.vault, f.nft, zap.NewNop(),
		pair.WithClock(f.clock), pair.WithEmitter(f.events), pair.WithObserver(m))
	d := batch.NewDispatcher(f.p, batch.Config{VaultAddress: vaultAddr}, zap.NewNop())
	d.SetObserver(m)
	f.seq = sequencer.New(rdb, d, sequencer.Config{
		PairAddress: pairAddr,
		ResultTTL:   time.Hour,
		PollTimeout: 100 * time.Millisecond,
	}, zap.NewNop())

	f.srv = NewServer(Deps{
		Pair:       f.p,
		Dispatcher: d,
		Sequencer:  f.seq,
		Events:     f.events,
		Metrics:    m,
		Faucet:     &Faucet{Vault: f.vault, NFT: f.nft},
		Redis:      rdb,
		Log:        zap.NewNop(),
	})
	f.r = gin.New()
	f.srv.Register(f.r)
	return f
}

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func hexBig(v *big.Int) *math.HexOrDecimal256 { return (*math.HexOrDecimal256)(v) }

func defaultTerms() TermsJSON {
	return TermsJSON{Valuation: hexBig(units(1000)), Duration: day, AnnualInterestBPS: 2000}
}

// signed sends an authenticated request for action on resource with payload.
func (f *fixture) signed(key *ecdsa.PrivateKey, method, path, action, resource string, payload interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		f.t.Fatal(err)
	}
	h, err := auth.Headers(auth.SignedRequest{
		Action:     action,
		ExpiresAt:  time.Now().Add(time.Minute).Unix(),
		Nonce:      uuid.NewString(),
		Payload:    raw,
		ResourceID: resource,
	}, key)
	if err != nil {
		f.t.Fatal(err)
	}
	req := httptest.NewRequest(method, path, nil)
	req.Header = h
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status %d, want %d: %s", w.Code, want, w.Body.String())
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(dst); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

// setup uses the dev routes to give the borrower token 1 approved to the
// pair and the lender 10 000 units of vault shares.
func (f *fixture) setup() {
	f.t.Helper()
	expectStatus(f.t, f.signed(f.borrowerKey, http.MethodPost, "/api/dev/mint-collateral", ActionMintCollateral, "",
		MintCollateralPayload{TokenID: hexBig(big.NewInt(1))}), http.StatusOK)
	expectStatus(f.t, f.signed(f.borrowerKey, http.MethodPost, "/api/dev/approve-all", ActionApproveAll, "",
		ApproveAllPayload{}), http.StatusOK)
	expectStatus(f.t, f.signed(f.lenderKey, http.MethodPost, "/api/dev/mint-asset", ActionMintAsset, "",
		MintAssetPayload{Amount: hexBig(units(10_000)), Deposit: true}), http.StatusOK)
}

func (f *fixture) request() {
	f.t.Helper()
	expectStatus(f.t, f.signed(f.borrowerKey, http.MethodPost, "/api/loans/1/request", ActionRequest, "1",
		RequestPayload{Terms: defaultTerms(), Recipient: f.borrower}), http.StatusOK)
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

func TestLoanLifecycle(t *testing.T) {
	f := newFixture(t)
	f.setup()
	f.request()

	var view LoanView
	decode(t, f.get("/api/loans/1"), &view)
	if view.Status != pair.StatusRequested || view.Borrower != f.borrower {
		t.Fatalf("after request: %+v", view)
	}
	if owner, _ := f.nft.OwnerOf(big.NewInt(1)); owner != pairAddr {
		t.Fatalf("collateral held by %s", owner.Hex())
	}

	expectStatus(t, f.signed(f.lenderKey, http.MethodPost, "/api/loans/1/lend", ActionLend, "1",
		LendPayload{Terms: defaultTerms()}), http.StatusOK)

	f.clock.now = start + day/2
	view = LoanView{}
	decode(t, f.get("/api/loans/1"), &view)
	if view.Status != pair.StatusOutstanding || view.Lender != f.lender {
		t.Fatalf("after lend: %+v", view)
	}
	if view.Expiry != start+day {
		t.Errorf("expiry %d", view.Expiry)
	}
	if view.AmountOwed == nil || (*big.Int)(view.AmountOwed).Cmp(units(1000)) <= 0 {
		t.Fatalf("amount owed %v", view.AmountOwed)
	}

	// The borrower received 990 of the 1000 and needs the interest on top.
	expectStatus(t, f.signed(f.borrowerKey, http.MethodPost, "/api/dev/mint-asset", ActionMintAsset, "",
		MintAssetPayload{Amount: hexBig(units(100)), Deposit: true}), http.StatusOK)
	expectStatus(t, f.signed(f.borrowerKey, http.MethodPost, "/api/loans/1/repay", ActionRepay, "1",
		RepayPayload{}), http.StatusOK)

	expectStatus(t, f.get("/api/loans/1"), http.StatusNotFound)
	if owner, _ := f.nft.OwnerOf(big.NewInt(1)); owner != f.borrower {
		t.Errorf("collateral held by %s after repay", owner.Hex())
	}

	var evs struct{ Events []pair.Event }
	decode(t, f.get("/api/events"), &evs)
	var types []pair.EventType
	for _, ev := range evs.Events {
		types = append(types, ev.Type)
	}
	want := []pair.EventType{pair.EventLoanRequested, pair.EventLoanFunded, pair.EventLoanRepaid}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Errorf("events %v, want %v", types, want)
	}
}

func TestFeesAndWithdraw(t *testing.T) {
	f := newFixture(t)
	f.setup()
	f.request()
	expectStatus(t, f.signed(f.lenderKey, http.MethodPost, "/api/loans/1/lend", ActionLend, "1",
		LendPayload{Terms: defaultTerms()}), http.StatusOK)

	var fees struct {
		Shares *math.HexOrDecimal256 `json:"fees_earned_shares"`
	}
	decode(t, f.get("/api/fees"), &fees)
	if (*big.Int)(fees.Shares).Cmp(units(1)) != 0 {
		t.Fatalf("fees %v, want 1 unit", fees.Shares)
	}

	// Anyone may trigger the withdrawal; the shares go to the recipient.
	stranger := newKey(t)
	w := f.signed(stranger, http.MethodPost, "/api/fees/withdraw", ActionWithdrawFees, "", nil)
	expectStatus(t, w, http.StatusOK)
	var out struct {
		Withdrawn *math.HexOrDecimal256 `json:"withdrawn_shares"`
	}
	decode(t, w, &out)
	if out.Withdrawn == nil || (*big.Int)(out.Withdrawn).Cmp(units(1)) != 0 {
		t.Errorf("withdrawn_shares %v, want 1 unit", out.Withdrawn)
	}
	if got := f.vault.BalanceOf(assetAddr, feeTo); got.Cmp(units(1)) != 0 {
		t.Errorf("recipient holds %s", got)
	}
	if f.p.FeesEarned().Sign() != 0 {
		t.Error("fee ledger not cleared")
	}
}

// ── Errors ────────────────────────────────────────────────────────────────────

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)
	f.setup()

	// No loan: precondition.
	w := f.signed(f.lenderKey, http.MethodPost, "/api/loans/1/lend", ActionLend, "1", LendPayload{Terms: defaultTerms()})
	expectStatus(t, w, http.StatusConflict)
	var body map[string]interface{}
	decode(t, w, &body)
	if body["kind"] != "precondition" {
		t.Errorf("kind %v", body["kind"])
	}

	f.request()

	// Wrong caller.
	expectStatus(t, f.signed(f.lenderKey, http.MethodPost, "/api/loans/1/remove", ActionRemove, "1",
		RemovePayload{Recipient: f.lender}), http.StatusForbidden)

	// Terms changed under the lender.
	other := defaultTerms()
	other.Duration = 2 * day
	expectStatus(t, f.signed(f.lenderKey, http.MethodPost, "/api/loans/1/lend", ActionLend, "1",
		LendPayload{Terms: other}), http.StatusConflict)

	// A lender without funds: settlement.
	poor := newKey(t)
	expectStatus(t, f.signed(poor, http.MethodPost, "/api/loans/1/lend", ActionLend, "1",
		LendPayload{Terms: defaultTerms()}), http.StatusUnprocessableEntity)

	// Missing valuation never reaches the engine.
	expectStatus(t, f.signed(f.borrowerKey, http.MethodPut, "/api/loans/1/params", ActionParams, "1",
		ParamsPayload{}), http.StatusBadRequest)

	// A signature made for another action.
	expectStatus(t, f.signed(f.borrowerKey, http.MethodPost, "/api/loans/1/repay", ActionLend, "1",
		RepayPayload{}), http.StatusUnauthorized)

	// Negative ids would alias token 1.
	expectStatus(t, f.signed(f.borrowerKey, http.MethodPost, "/api/loans/-1/remove", ActionRemove, "-1",
		RemovePayload{Recipient: f.borrower}), http.StatusBadRequest)

	// Rate times duration past the interest bound.
	long := defaultTerms()
	long.Duration = 365 * day
	expectStatus(t, f.signed(f.borrowerKey, http.MethodPut, "/api/loans/1/params", ActionParams, "1",
		ParamsPayload{Terms: long}), http.StatusConflict)
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{pair.ErrNoLoan, http.StatusConflict},
		{pair.ErrNotBorrower, http.StatusForbidden},
		{pair.ErrNotLender, http.StatusForbidden},
		{pair.ErrLoanExpired, http.StatusConflict},
		{pair.ErrFeeRecipientUnset, http.StatusUnprocessableEntity},
		{vault.ErrInsufficientShares, http.StatusUnprocessableEntity},
		{pair.ErrSignatureInvalid, http.StatusUnauthorized},
		{&batch.ActionError{Index: 1, Kind: batch.KindLend, Err: pair.ErrNotLender}, http.StatusForbidden},
		{fmt.Errorf("redis: down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusOf(tc.err); got != tc.want {
			t.Errorf("statusOf(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

// ── Signed commitments ────────────────────────────────────────────────────────

func TestRequestAndBorrowWithLenderCommitment(t *testing.T) {
	f := newFixture(t)
	f.setup()

	terms := defaultTerms()
	deadline := uint64(start + 3600)
	sig, err := commitment.Sign(f.p.Domain(), commitment.Lend{
		Contract:          nftAddr,
		TokenID:           big.NewInt(1),
		Valuation:         units(1000),
		Duration:          day,
		AnnualInterestBPS: 2000,
		Nonce:             f.p.Nonce(f.lender),
		Deadline:          deadline,
	}, f.lenderKey)
	if err != nil {
		t.Fatal(err)
	}
	p := RequestAndBorrowPayload{
		Lender:    f.lender,
		Recipient: f.borrower,
		Terms:     terms,
		Deadline:  deadline,
		Signature: sig,
	}
	expectStatus(t, f.signed(f.borrowerKey, http.MethodPost, "/api/loans/1/request-and-borrow",
		ActionRequestAndBorrow, "1", p), http.StatusOK)

	l, _ := f.p.Loan(big.NewInt(1))
	if l.Status != pair.StatusOutstanding || l.Lender != f.lender {
		t.Fatalf("loan %+v", l)
	}

	var nonce struct{ Nonce uint64 }
	decode(t, f.get("/api/nonces/"+f.lender.Hex()), &nonce)
	if nonce.Nonce != 1 {
		t.Errorf("lender nonce %d, want 1", nonce.Nonce)
	}
}

func TestTakeAndLendReplayRejected(t *testing.T) {
	f := newFixture(t)
	f.setup()

	deadline := uint64(start + 3600)
	sig, err := commitment.Sign(f.p.Domain(), commitment.Borrow{
		Contract:          nftAddr,
		TokenID:           big.NewInt(1),
		Valuation:         units(1000),
		Duration:          day,
		AnnualInterestBPS: 2000,
		Nonce:             0,
		Deadline:          deadline,
	}, f.borrowerKey)
	if err != nil {
		t.Fatal(err)
	}
	p := TakeAndLendPayload{Borrower: f.borrower, Terms: defaultTerms(), Deadline: deadline, Signature: sig}
	expectStatus(t, f.signed(f.lenderKey, http.MethodPost, "/api/loans/1/take-and-lend", ActionTakeAndLend, "1", p),
		http.StatusOK)

	// Repay so the token is free again, then replay the same commitment.
	expectStatus(t, f.signed(f.borrowerKey, http.MethodPost, "/api/dev/mint-asset", ActionMintAsset, "",
		MintAssetPayload{Amount: hexBig(units(100)), Deposit: true}), http.StatusOK)
	expectStatus(t, f.signed(f.borrowerKey, http.MethodPost, "/api/loans/1/repay", ActionRepay, "1",
		RepayPayload{}), http.StatusOK)
	expectStatus(t, f.signed(f.lenderKey, http.MethodPost, "/api/loans/1/take-and-lend", ActionTakeAndLend, "1", p),
		http.StatusUnauthorized)
}

// ── Batches ───────────────────────────────────────────────────────────────────

func TestBatchSync(t *testing.T) {
	f := newFixture(t)
	f.setup()
	f.request()

	// Deposit fresh asset, then lend skimming the deposited shares.
	expectStatus(t, f.signed(f.lenderKey, http.MethodPost, "/api/dev/mint-asset", ActionMintAsset, "",
		MintAssetPayload{Amount: hexBig(units(991))}), http.StatusOK)
	dep, err := batch.EncodeVaultDeposit(assetAddr, pairAddr, units(991))
	if err != nil {
		t.Fatal(err)
	}
	lend, err := batch.EncodeLend(big.NewInt(1), defaultTerms().terms(), true)
	if err != nil {
		t.Fatal(err)
	}
	w := f.signed(f.lenderKey, http.MethodPost, "/api/batches", ActionBatch, "",
		BatchPayload{Actions: []batch.Action{dep, lend}})
	expectStatus(t, w, http.StatusOK)
	var res batch.Result
	decode(t, w, &res)
	if res.Value1.Cmp(units(991)) != 0 {
		t.Errorf("value1 %s", res.Value1)
	}
	if l, _ := f.p.Loan(big.NewInt(1)); l.Status != pair.StatusOutstanding {
		t.Fatalf("status %s", l.Status)
	}
}

func TestBatchFailureReportsIndex(t *testing.T) {
	f := newFixture(t)
	f.setup()
	repay, err := batch.EncodeRepay(big.NewInt(1), false)
	if err != nil {
		t.Fatal(err)
	}
	w := f.signed(f.lenderKey, http.MethodPost, "/api/batches", ActionBatch, "",
		BatchPayload{Actions: []batch.Action{batch.EncodeWithdrawFees(), repay}})
	expectStatus(t, w, http.StatusConflict)
	var body struct {
		Index  int    `json:"index"`
		Action string `json:"action"`
	}
	decode(t, w, &body)
	if body.Index != 1 || body.Action != "repay" {
		t.Errorf("body %+v", body)
	}

	expectStatus(t, f.signed(f.lenderKey, http.MethodPost, "/api/batches", ActionBatch, "", BatchPayload{}),
		http.StatusBadRequest)
}

func TestBatchAsync(t *testing.T) {
	f := newFixture(t)
	f.setup()
	f.request()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.seq.Run(ctx)

	lend, err := batch.EncodeLend(big.NewInt(1), defaultTerms().terms(), false)
	if err != nil {
		t.Fatal(err)
	}
	w := f.signed(f.lenderKey, http.MethodPost, "/api/batches", ActionBatch, "",
		BatchPayload{Actions: []batch.Action{lend}, Async: true})
	expectStatus(t, w, http.StatusAccepted)
	var queued struct{ ID string }
	decode(t, w, &queued)

	deadline := time.Now().Add(3 * time.Second)
	for {
		var r sequencer.JobResult
		decode(t, f.get("/api/batches/"+queued.ID), &r)
		if r.Status == sequencer.StatusCommitted {
			break
		}
		if r.Status == sequencer.StatusRejected {
			t.Fatalf("job rejected: %s", r.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job still %s", r.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if l, _ := f.p.Loan(big.NewInt(1)); l.Status != pair.StatusOutstanding {
		t.Fatalf("status %s", l.Status)
	}
	expectStatus(t, f.get("/api/batches/"+uuid.NewString()), http.StatusNotFound)
}

// ── Public reads ──────────────────────────────────────────────────────────────

func TestPublicReads(t *testing.T) {
	f := newFixture(t)
	f.setup()

	expectStatus(t, f.get("/healthz"), http.StatusOK)
	expectStatus(t, f.get("/api/loans/not-a-number"), http.StatusBadRequest)
	expectStatus(t, f.get("/api/loans/-1"), http.StatusBadRequest)
	expectStatus(t, f.get("/api/nonces/0x1234"), http.StatusBadRequest)
	expectStatus(t, f.get("/api/events?limit=-1"), http.StatusBadRequest)

	var bal struct {
		Shares *math.HexOrDecimal256 `json:"shares"`
		Amount *math.HexOrDecimal256 `json:"amount"`
	}
	decode(t, f.get("/api/vault/"+f.lender.Hex()), &bal)
	if (*big.Int)(bal.Shares).Cmp(units(10_000)) != 0 || (*big.Int)(bal.Amount).Cmp(units(10_000)) != 0 {
		t.Errorf("balance %v / %v", bal.Shares, bal.Amount)
	}

	var info struct {
		Collateral common.Address `json:"collateral"`
		OpenFee    uint16         `json:"open_fee_bps"`
	}
	decode(t, f.get("/api/pair"), &info)
	if info.Collateral != nftAddr || info.OpenFee != pair.DefaultOpenFeeBPS {
		t.Errorf("pair info %+v", info)
	}

	w := f.get("/metrics")
	expectStatus(t, w, http.StatusOK)
	if !bytes.Contains(w.Body.Bytes(), []byte("pair_http_requests_total")) {
		t.Error("metrics missing http counter")
	}
}

func TestHealthRedisDown(t *testing.T) {
	f := newFixture(t)
	f.mr.Close()
	expectStatus(t, f.get("/healthz"), http.StatusServiceUnavailable)
}

func TestDevMintCollateralTwice(t *testing.T) {
	f := newFixture(t)
	p := MintCollateralPayload{TokenID: hexBig(big.NewInt(9))}
	expectStatus(t, f.signed(f.borrowerKey, http.MethodPost, "/api/dev/mint-collateral", ActionMintCollateral, "", p),
		http.StatusOK)
	expectStatus(t, f.signed(f.borrowerKey, http.MethodPost, "/api/dev/mint-collateral", ActionMintCollateral, "", p),
		http.StatusConflict)
}
