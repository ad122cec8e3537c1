package config

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const (
	pairAddr  = "0x00000000000000000000000000000000000000fa"
	assetAddr = "0x00000000000000000000000000000000000000a5"
	nftAddr   = "0x00000000000000000000000000000000000000c0"
	vaultAddr = "0x00000000000000000000000000000000000000b0"
	lender    = "0x0000000000000000000000000000000000001e4d"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("PAIR_CONTRACT", pairAddr)
	t.Setenv("PAIR_ASSET", assetAddr)
	t.Setenv("PAIR_COLLATERAL", nftAddr)
	t.Setenv("PAIR_VAULT", vaultAddr)
	t.Setenv("CHAIN_ID", "16602")
}

// ── Load ──────────────────────────────────────────────────────────────────────

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port %d", cfg.Server.Port)
	}
	if cfg.Pair.OpenFeeBPS != 100 || cfg.Pair.ProtocolFeeBPS != 1000 {
		t.Errorf("fees %d/%d", cfg.Pair.OpenFeeBPS, cfg.Pair.ProtocolFeeBPS)
	}
	if cfg.Batch.MaxActions != 32 || cfg.Batch.MaxCallData != 4096 {
		t.Errorf("batch limits %+v", cfg.Batch)
	}
	if cfg.Sweeper.IntervalSec != 3600 || cfg.Sequencer.ResultTTLSec != 86400 {
		t.Errorf("intervals %+v %+v", cfg.Sweeper, cfg.Sequencer)
	}
	if cfg.Dev.Faucet {
		t.Error("faucet on by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("OPEN_FEE_BPS", "50")
	t.Setenv("FEE_RECIPIENT", lender)
	t.Setenv("DEV_FAUCET", "true")
	t.Setenv("APPROVAL_HOOKS", lender+"=http://hook.local/approve, ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Pair.OpenFeeBPS != 50 || !cfg.Dev.Faucet {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if got := cfg.Approval.Hooks[lender]; got != "http://hook.local/approve" {
		t.Errorf("hook %q", got)
	}

	p := cfg.PairParams()
	if p.Address != common.HexToAddress(pairAddr) || p.FeeRecipient != common.HexToAddress(lender) {
		t.Errorf("params %+v", p)
	}
	if p.ChainID.Int64() != 16602 {
		t.Errorf("chain id %s", p.ChainID)
	}
}

func TestLoad_Missing(t *testing.T) {
	for _, missing := range []string{"PAIR_CONTRACT", "PAIR_ASSET", "PAIR_COLLATERAL", "PAIR_VAULT", "CHAIN_ID"} {
		t.Run(missing, func(t *testing.T) {
			setRequired(t)
			t.Setenv(missing, "")
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), missing) {
				t.Fatalf("expected error naming %s, got %v", missing, err)
			}
		})
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"PAIR_ASSET":     "not-an-address",
		"FEE_RECIPIENT":  "0x123",
		"OPEN_FEE_BPS":   "10001",
		"APPROVAL_HOOKS": "no-equals-sign",
		// without RPC_URL
		"BATCH_CALL_TARGETS": "0x0000000000000000000000000000000000000ca1",
	}
	for env, val := range cases {
		t.Run(env, func(t *testing.T) {
			setRequired(t)
			t.Setenv(env, val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", env, val)
			}
		})
	}
}

func TestLoad_CallTargets(t *testing.T) {
	setRequired(t)
	t.Setenv("RPC_URL", "http://node.local:8545")
	t.Setenv("BATCH_CALL_TARGETS", "0x0000000000000000000000000000000000000ca1, 0x0000000000000000000000000000000000000ca2")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	got := cfg.Batch.Targets()
	if len(got) != 2 || got[1] != common.HexToAddress("0x0000000000000000000000000000000000000ca2") {
		t.Errorf("targets %v", got)
	}

	t.Setenv("BATCH_CALL_TARGETS", "0xnope")
	if _, err := Load(); err == nil {
		t.Error("expected error for invalid call target")
	}
}
