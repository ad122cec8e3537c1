// Package sweeper periodically moves accrued protocol fees to the fee
// recipient.
package sweeper

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-nft-lending/internal/pair"
)

// LockKeyFmt guards a pair's sweep so only one replica runs it per interval.
const LockKeyFmt = "pair:sweep:lock:%s"

// FeeSource is the part of a pair the sweeper drives.
type FeeSource interface {
	Address() common.Address
	Params() pair.Params
	FeesEarned() *big.Int
	WithdrawFees(ctx context.Context, sender common.Address) (*big.Int, error)
}

// Run sweeps fees every interval until ctx is cancelled. sender is the
// address the withdrawal is attributed to.
func Run(ctx context.Context, interval time.Duration, rdb *redis.Client, src FeeSource, sender common.Address, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("fee sweeper started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			log.Info("fee sweeper stopped")
			return
		case <-ticker.C:
			runSweep(ctx, interval, rdb, src, sender, log)
		}
	}
}

// runSweep withdraws when there is something to withdraw and somewhere to
// send it. It reports whether a withdrawal was committed.
func runSweep(ctx context.Context, interval time.Duration, rdb *redis.Client, src FeeSource, sender common.Address, log *zap.Logger) bool {
	fees := src.FeesEarned()
	if fees.Sign() == 0 {
		return false
	}
	if src.Params().FeeRecipient == (common.Address{}) {
		log.Warn("sweeper: fees accrued but no recipient configured", zap.String("fees", fees.String()))
		return false
	}

	if rdb != nil {
		key := fmt.Sprintf(LockKeyFmt, strings.ToLower(src.Address().Hex()))
		ok, err := rdb.SetNX(ctx, key, time.Now().Unix(), interval).Result()
		if err != nil {
			log.Error("sweeper: acquire lock", zap.Error(err))
			return false
		}
		if !ok {
			return false
		}
	}

	swept, err := src.WithdrawFees(ctx, sender)
	if err != nil {
		log.Error("sweeper: withdraw fees", zap.String("fees", fees.String()), zap.Error(err))
		return false
	}
	log.Info("fees swept", zap.String("shares", swept.String()))
	return true
}
