// Package events publishes committed pair events to Redis for indexers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/0gfoundation/0g-nft-lending/internal/pair"
)

const (
	// StreamKeyFmt is the list holding a pair's event history, oldest first.
	StreamKeyFmt = "pair:events:%s"
	// ChannelFmt is the pub/sub channel live consumers subscribe to.
	ChannelFmt = "pair:events:live:%s"
)

func StreamKey(pairAddr common.Address) string {
	return fmt.Sprintf(StreamKeyFmt, strings.ToLower(pairAddr.Hex()))
}

func Channel(pairAddr common.Address) string {
	return fmt.Sprintf(ChannelFmt, strings.ToLower(pairAddr.Hex()))
}

// Publisher is a pair.Emitter that appends every event to the pair's stream
// and announces it on the live channel.
type Publisher struct {
	rdb    *redis.Client
	maxLen int64
}

// NewPublisher keeps at most maxLen events per stream; zero keeps all.
func NewPublisher(rdb *redis.Client, maxLen int64) *Publisher {
	return &Publisher{rdb: rdb, maxLen: maxLen}
}

func (p *Publisher) Emit(ctx context.Context, ev pair.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := StreamKey(ev.Pair)
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, raw)
		if p.maxLen > 0 {
			pipe.LTrim(ctx, key, -p.maxLen, -1)
		}
		pipe.Publish(ctx, Channel(ev.Pair), raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish event %s: %w", ev.Type, err)
	}
	return nil
}

// Recent returns up to n of the newest events of pairAddr, oldest first.
func (p *Publisher) Recent(ctx context.Context, pairAddr common.Address, n int64) ([]pair.Event, error) {
	if n <= 0 {
		return nil, nil
	}
	raws, err := p.rdb.LRange(ctx, StreamKey(pairAddr), -n, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	out := make([]pair.Event, 0, len(raws))
	for _, raw := range raws {
		var ev pair.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}
