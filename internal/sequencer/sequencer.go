// Package sequencer queues submitted batches in Redis and executes them one
// at a time, in submission order.
package sequencer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-nft-lending/internal/batch"
	"github.com/0gfoundation/0g-nft-lending/internal/pair"
)

const (
	QueueKeyFmt  = "pair:batch:queue:%s"
	ResultKeyFmt = "pair:batch:result:%s"
	DLQKey       = "pair:batch:dlq"
)

var ErrJobNotFound = errors.New("sequencer: job not found")

type Status string

const (
	StatusQueued    Status = "queued"
	StatusCommitted Status = "committed"
	StatusRejected  Status = "rejected"
)

// Job is one queued batch.
type Job struct {
	ID          string         `json:"id"`
	Sender      common.Address `json:"sender"`
	Actions     []batch.Action `json:"actions"`
	SubmittedAt int64          `json:"submitted_at"`
}

// JobResult is stored under the job's result key.
type JobResult struct {
	ID          string        `json:"id"`
	Status      Status        `json:"status"`
	Result      *batch.Result `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	FailedIndex *int          `json:"failed_index,omitempty"`
	FinishedAt  int64         `json:"finished_at,omitempty"`
}

// Cooker executes a batch atomically.
type Cooker interface {
	Cook(ctx context.Context, sender common.Address, actions []batch.Action) (*batch.Result, error)
}

type Config struct {
	PairAddress common.Address
	ResultTTL   time.Duration
	PollTimeout time.Duration
}

type Sequencer struct {
	rdb      *redis.Client
	cooker   Cooker
	queueKey string
	cfg      Config
	log      *zap.Logger
}

func New(rdb *redis.Client, cooker Cooker, cfg Config, log *zap.Logger) *Sequencer {
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	return &Sequencer{
		rdb:      rdb,
		cooker:   cooker,
		queueKey: fmt.Sprintf(QueueKeyFmt, strings.ToLower(cfg.PairAddress.Hex())),
		cfg:      cfg,
		log:      log,
	}
}

func resultKey(id string) string { return fmt.Sprintf(ResultKeyFmt, id) }

// Enqueue stores a queued marker for a new job and appends it to the queue.
func (s *Sequencer) Enqueue(ctx context.Context, sender common.Address, actions []batch.Action) (string, error) {
	job := Job{
		ID:          uuid.NewString(),
		Sender:      sender,
		Actions:     actions,
		SubmittedAt: time.Now().Unix(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	marker, err := json.Marshal(JobResult{ID: job.ID, Status: StatusQueued})
	if err != nil {
		return "", fmt.Errorf("marshal job result: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, resultKey(job.ID), marker, s.cfg.ResultTTL)
		pipe.RPush(ctx, s.queueKey, raw)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return job.ID, nil
}

// Result returns the stored outcome of job id.
func (s *Sequencer) Result(ctx context.Context, id string) (*JobResult, error) {
	raw, err := s.rdb.Get(ctx, resultKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job result: %w", err)
	}
	var r JobResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("unmarshal job result: %w", err)
	}
	return &r, nil
}

// Pending is the number of jobs waiting in the queue.
func (s *Sequencer) Pending(ctx context.Context) (int64, error) {
	return s.rdb.LLen(ctx, s.queueKey).Result()
}

// Run is the worker loop: BLPOP → cook → store result. It returns when ctx
// is cancelled.
func (s *Sequencer) Run(ctx context.Context) {
	s.log.Info("sequencer started", zap.String("queue", s.queueKey))
	for {
		if ctx.Err() != nil {
			s.log.Info("sequencer stopped")
			return
		}
		items, err := s.rdb.BLPop(ctx, s.cfg.PollTimeout, s.queueKey).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.log.Error("sequencer: BLPOP error", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		s.process(ctx, items[1])
	}
}

func (s *Sequencer) process(ctx context.Context, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		s.log.Error("sequencer: unmarshal job", zap.String("raw", raw), zap.Error(err))
		s.rdb.RPush(ctx, DLQKey, raw)
		return
	}

	res, err := s.cooker.Cook(ctx, job.Sender, job.Actions)
	out := JobResult{ID: job.ID, Status: StatusCommitted, Result: res, FinishedAt: time.Now().Unix()}
	if err != nil {
		out.Status = StatusRejected
		out.Error = err.Error()
		out.ErrorKind = pair.KindOf(err).String()
		var ae *batch.ActionError
		if errors.As(err, &ae) {
			idx := ae.Index
			out.FailedIndex = &idx
		}
		s.rdb.RPush(ctx, DLQKey, raw)
		s.log.Warn("batch job rejected",
			zap.String("job", job.ID),
			zap.String("sender", job.Sender.Hex()),
			zap.Error(err),
		)
	} else {
		s.log.Info("batch job committed", zap.String("job", job.ID), zap.Int("actions", len(job.Actions)))
	}

	b, err := json.Marshal(out)
	if err != nil {
		s.log.Error("sequencer: marshal result", zap.String("job", job.ID), zap.Error(err))
		return
	}
	if err := s.rdb.Set(ctx, resultKey(job.ID), b, s.cfg.ResultTTL).Err(); err != nil {
		s.log.Error("sequencer: store result", zap.String("job", job.ID), zap.Error(err))
	}
}
