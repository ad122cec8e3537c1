package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/0gfoundation/0g-nft-lending/internal/pair"
)

type Config struct {
	Redis     RedisConfig
	Chain     ChainConfig
	Pair      PairConfig
	Batch     BatchConfig
	Approval  ApprovalConfig
	Events    EventsConfig
	Sweeper   SweeperConfig
	Sequencer SequencerConfig
	Server    ServerConfig
	Dev       DevConfig
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

// ChainConfig identifies the chain commitments are signed for. RPCURL is
// optional; without it the pair runs on the local clock.
type ChainConfig struct {
	RPCURL          string `mapstructure:"rpc_url"`
	ContractAddress string `mapstructure:"contract_address"`
	ChainID         int64  `mapstructure:"chain_id"`
}

type PairConfig struct {
	Asset          string `mapstructure:"asset"`
	Collateral     string `mapstructure:"collateral"`
	Vault          string `mapstructure:"vault"`
	FeeRecipient   string `mapstructure:"fee_recipient"`
	OpenFeeBPS     uint16 `mapstructure:"open_fee_bps"`
	ProtocolFeeBPS uint16 `mapstructure:"protocol_fee_bps"`
}

// BatchConfig limits batches. CallTargets is a comma-separated list of
// contracts Call actions may reach through the RPC node.
type BatchConfig struct {
	MaxActions  int    `mapstructure:"max_actions"`
	MaxCallData int    `mapstructure:"max_call_data"`
	CallTargets string `mapstructure:"call_targets"`
}

func (b BatchConfig) Targets() []common.Address {
	var out []common.Address
	for _, s := range strings.Split(b.CallTargets, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, common.HexToAddress(s))
		}
	}
	return out
}

// ApprovalConfig maps lender addresses to loan approval hook URLs. Hooks
// comes from the config file; HooksSpec ("0xlender=url,...") from the
// environment. Both are merged by Load.
type ApprovalConfig struct {
	Hooks      map[string]string `mapstructure:"hooks"`
	HooksSpec  string            `mapstructure:"hooks_spec"`
	Token      string            `mapstructure:"token"`
	TimeoutSec int64             `mapstructure:"timeout_sec"`
}

type EventsConfig struct {
	MaxLen int64 `mapstructure:"max_len"`
}

type SweeperConfig struct {
	IntervalSec int64 `mapstructure:"interval_sec"`
}

type SequencerConfig struct {
	ResultTTLSec int64 `mapstructure:"result_ttl_sec"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DevConfig struct {
	Faucet bool `mapstructure:"faucet"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("pair.open_fee_bps", pair.DefaultOpenFeeBPS)
	v.SetDefault("pair.protocol_fee_bps", pair.DefaultProtocolFeeBPS)
	v.SetDefault("batch.max_actions", 32)
	v.SetDefault("batch.max_call_data", 4096)
	v.SetDefault("approval.timeout_sec", 5)
	v.SetDefault("events.max_len", 100000)
	v.SetDefault("sweeper.interval_sec", 3600)
	v.SetDefault("sequencer.result_ttl_sec", 86400)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"redis.addr":               "REDIS_ADDR",
		"redis.password":           "REDIS_PASSWORD",
		"chain.rpc_url":            "RPC_URL",
		"chain.contract_address":   "PAIR_CONTRACT",
		"chain.chain_id":           "CHAIN_ID",
		"pair.asset":               "PAIR_ASSET",
		"pair.collateral":          "PAIR_COLLATERAL",
		"pair.vault":               "PAIR_VAULT",
		"pair.fee_recipient":       "FEE_RECIPIENT",
		"pair.open_fee_bps":        "OPEN_FEE_BPS",
		"pair.protocol_fee_bps":    "PROTOCOL_FEE_BPS",
		"batch.max_actions":        "BATCH_MAX_ACTIONS",
		"batch.max_call_data":      "BATCH_MAX_CALL_DATA",
		"batch.call_targets":       "BATCH_CALL_TARGETS",
		"approval.hooks_spec":      "APPROVAL_HOOKS",
		"approval.token":           "APPROVAL_TOKEN",
		"approval.timeout_sec":     "APPROVAL_TIMEOUT_SEC",
		"events.max_len":           "EVENTS_MAX_LEN",
		"sweeper.interval_sec":     "SWEEP_INTERVAL_SEC",
		"sequencer.result_ttl_sec": "BATCH_RESULT_TTL_SEC",
		"server.port":              "PORT",
		"dev.faucet":               "DEV_FAUCET",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Approval.merge(); err != nil {
		return nil, err
	}

	return cfg, cfg.validate()
}

func (a *ApprovalConfig) merge() error {
	if a.Hooks == nil {
		a.Hooks = make(map[string]string)
	}
	for _, entry := range strings.Split(a.HooksSpec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		lender, url, ok := strings.Cut(entry, "=")
		if !ok || url == "" {
			return fmt.Errorf("invalid APPROVAL_HOOKS entry %q", entry)
		}
		a.Hooks[strings.TrimSpace(lender)] = strings.TrimSpace(url)
	}
	return nil
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Chain.ContractAddress, "PAIR_CONTRACT"},
		{c.Pair.Asset, "PAIR_ASSET"},
		{c.Pair.Collateral, "PAIR_COLLATERAL"},
		{c.Pair.Vault, "PAIR_VAULT"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
		if !common.IsHexAddress(r.val) {
			return fmt.Errorf("invalid address for %s: %q", r.name, r.val)
		}
	}
	if c.Pair.FeeRecipient != "" && !common.IsHexAddress(c.Pair.FeeRecipient) {
		return fmt.Errorf("invalid address for FEE_RECIPIENT: %q", c.Pair.FeeRecipient)
	}
	for lender := range c.Approval.Hooks {
		if !common.IsHexAddress(lender) {
			return fmt.Errorf("invalid approval hook lender %q", lender)
		}
	}
	for _, s := range strings.Split(c.Batch.CallTargets, ",") {
		if s = strings.TrimSpace(s); s != "" && !common.IsHexAddress(s) {
			return fmt.Errorf("invalid address in BATCH_CALL_TARGETS: %q", s)
		}
	}
	if c.Batch.CallTargets != "" && c.Chain.RPCURL == "" {
		return fmt.Errorf("BATCH_CALL_TARGETS requires RPC_URL")
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	if c.Pair.OpenFeeBPS > 10000 || c.Pair.ProtocolFeeBPS > 10000 {
		return fmt.Errorf("fee bps above 10000: open=%d protocol=%d", c.Pair.OpenFeeBPS, c.Pair.ProtocolFeeBPS)
	}
	if c.Sweeper.IntervalSec <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SEC must be positive")
	}
	return nil
}

// PairParams converts the validated config into engine parameters.
func (c *Config) PairParams() pair.Params {
	p := pair.Params{
		Address:        common.HexToAddress(c.Chain.ContractAddress),
		Asset:          common.HexToAddress(c.Pair.Asset),
		ChainID:        big.NewInt(c.Chain.ChainID),
		OpenFeeBPS:     c.Pair.OpenFeeBPS,
		ProtocolFeeBPS: c.Pair.ProtocolFeeBPS,
	}
	if c.Pair.FeeRecipient != "" {
		p.FeeRecipient = common.HexToAddress(c.Pair.FeeRecipient)
	}
	return p
}
