package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-nft-lending/internal/api"
	"github.com/0gfoundation/0g-nft-lending/internal/approval"
	"github.com/0gfoundation/0g-nft-lending/internal/batch"
	"github.com/0gfoundation/0g-nft-lending/internal/chain"
	"github.com/0gfoundation/0g-nft-lending/internal/collateral"
	"github.com/0gfoundation/0g-nft-lending/internal/config"
	"github.com/0gfoundation/0g-nft-lending/internal/events"
	"github.com/0gfoundation/0g-nft-lending/internal/metrics"
	"github.com/0gfoundation/0g-nft-lending/internal/pair"
	"github.com/0gfoundation/0g-nft-lending/internal/sequencer"
	"github.com/0gfoundation/0g-nft-lending/internal/sweeper"
	"github.com/0gfoundation/0g-nft-lending/internal/vault"
)

// app is the wired daemon minus its listeners.
type app struct {
	cfg     *config.Config
	rdb     *redis.Client
	pair    *pair.Pair
	seq     *sequencer.Sequencer
	handler http.Handler
	log     *zap.Logger
}

// newApp builds the engine and HTTP handler. onchain may be nil, in which
// case the pair runs on the local clock and no call targets are reachable.
func newApp(cfg *config.Config, rdb *redis.Client, onchain *chain.Client, log *zap.Logger) (*app, error) {
	params := cfg.PairParams()
	m := metrics.New()
	pub := events.NewPublisher(rdb, cfg.Events.MaxLen)
	opts := []pair.Option{pair.WithEmitter(pub), pair.WithObserver(m)}
	if onchain != nil {
		opts = append(opts, pair.WithClock(onchain))
	}

	// ── Approval hooks ────────────────────────────────────────────────────────
	approvers := pair.NewApprovers()
	timeout := time.Duration(cfg.Approval.TimeoutSec) * time.Second
	if err := approval.BindAll(approvers, cfg.Approval.Hooks, cfg.Approval.Token, params.Address, timeout, log); err != nil {
		return nil, fmt.Errorf("approval hooks: %w", err)
	}
	opts = append(opts, pair.WithApprovers(approvers))

	// ── Engine ────────────────────────────────────────────────────────────────
	ledger := vault.NewLedger()
	nft := collateral.NewLedger(common.HexToAddress(cfg.Pair.Collateral))
	p := pair.New(params, ledger, nft, log, opts...)

	dispatcher := batch.NewDispatcher(p, batch.Config{
		VaultAddress: common.HexToAddress(cfg.Pair.Vault),
		MaxActions:   cfg.Batch.MaxActions,
		MaxCallData:  cfg.Batch.MaxCallData,
	}, log)
	dispatcher.SetObserver(m)
	for _, target := range cfg.Batch.Targets() {
		if onchain == nil {
			return nil, fmt.Errorf("call target %s needs an rpc connection", target.Hex())
		}
		callee, err := onchain.Contract(target)
		if err != nil {
			return nil, fmt.Errorf("call target %s: %w", target.Hex(), err)
		}
		dispatcher.Register(target, callee)
		log.Info("call target registered", zap.String("target", target.Hex()))
	}

	seq := sequencer.New(rdb, dispatcher, sequencer.Config{
		PairAddress: params.Address,
		ResultTTL:   time.Duration(cfg.Sequencer.ResultTTLSec) * time.Second,
	}, log)

	// ── HTTP ──────────────────────────────────────────────────────────────────
	deps := api.Deps{
		Pair:       p,
		Dispatcher: dispatcher,
		Sequencer:  seq,
		Events:     pub,
		Metrics:    m,
		Redis:      rdb,
		Log:        log,
	}
	if cfg.Dev.Faucet {
		deps.Faucet = &api.Faucet{Vault: ledger, NFT: nft}
		log.Warn("dev faucet enabled")
	}
	r := gin.New()
	r.Use(gin.Recovery())
	api.NewServer(deps).Register(r)

	return &app{cfg: cfg, rdb: rdb, pair: p, seq: seq, handler: r, log: log}, nil
}

// start launches the background workers. They stop when ctx is cancelled.
func (a *app) start(ctx context.Context) {
	go a.seq.Run(ctx)
	interval := time.Duration(a.cfg.Sweeper.IntervalSec) * time.Second
	go sweeper.Run(ctx, interval, a.rdb, a.pair, a.pair.Address(), a.log)
}

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Chain clock (optional) ────────────────────────────────────────────────
	var onchain *chain.Client
	if cfg.Chain.RPCURL != "" {
		onchain, err = chain.Dial(ctx, cfg.Chain.RPCURL)
		if err != nil {
			log.Fatal("chain client init failed", zap.Error(err))
		}
		defer onchain.Close()
		if err := onchain.VerifyChainID(ctx, cfg.PairParams().ChainID); err != nil {
			log.Fatal("chain id check failed", zap.Error(err))
		}
		log.Info("using block time", zap.String("rpc", cfg.Chain.RPCURL))
	}

	a, err := newApp(cfg, rdb, onchain, log)
	if err != nil {
		log.Fatal("init failed", zap.Error(err))
	}
	a.start(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: a.handler,
	}

	go func() {
		log.Info("HTTP server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("pair", a.pair.Address().Hex()),
			zap.String("collateral", cfg.Pair.Collateral),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}
