// Package api is the HTTP surface of the lending daemon. Reads are public.
// Every state change is authenticated by an EIP-191 wallet signature and
// executes with the signing wallet as sender; operation arguments are taken
// from the signed payload only.
package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-nft-lending/internal/auth"
	"github.com/0gfoundation/0g-nft-lending/internal/batch"
	"github.com/0gfoundation/0g-nft-lending/internal/events"
	"github.com/0gfoundation/0g-nft-lending/internal/metrics"
	"github.com/0gfoundation/0g-nft-lending/internal/pair"
	"github.com/0gfoundation/0g-nft-lending/internal/sequencer"
)

// Signed action names. A signature made for one action is rejected on every
// other route.
const (
	ActionRequest          = "request"
	ActionParams           = "params"
	ActionLend             = "lend"
	ActionRepay            = "repay"
	ActionRemove           = "remove"
	ActionRequestAndBorrow = "request_and_borrow"
	ActionTakeAndLend      = "take_and_lend"
	ActionWithdrawFees     = "withdraw_fees"
	ActionBatch            = "batch"
	ActionMintAsset        = "dev_mint_asset"
	ActionMintCollateral   = "dev_mint_collateral"
	ActionApproveAll       = "dev_approve_all"
)

const maxRecentEvents = 500

// Deps are the collaborators the server is built from. Sequencer, Events,
// Metrics and Faucet are optional; their routes answer 404 or are not
// mounted when absent.
type Deps struct {
	Pair       *pair.Pair
	Dispatcher *batch.Dispatcher
	Sequencer  *sequencer.Sequencer
	Events     *events.Publisher
	Metrics    *metrics.Metrics
	Faucet     *Faucet
	Redis      *redis.Client
	Log        *zap.Logger
}

type Server struct {
	Deps
}

func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Server{Deps: d}
}

// Register mounts all routes on r.
func (s *Server) Register(r *gin.Engine) {
	if s.Metrics != nil {
		r.Use(s.Metrics.Middleware())
		r.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}
	r.GET("/healthz", s.handleHealth)

	// ── Public reads ───────────────────────────────────────────────────────
	api := r.Group("/api")
	api.GET("/pair", s.handlePair)
	api.GET("/loans/:id", s.handleGetLoan)
	api.GET("/nonces/:address", s.handleNonce)
	api.GET("/fees", s.handleFees)
	api.GET("/vault/:holder", s.handleVaultBalance)
	api.GET("/batches/:id", s.handleBatchResult)
	api.GET("/events", s.handleEvents)

	// ── Signed operations ─────────────────────────────────────────────────
	signed := api.Group("", auth.Middleware(s.Redis))
	signed.POST("/loans/:id/request", auth.RequireAction(ActionRequest), s.handleRequest)
	signed.PUT("/loans/:id/params", auth.RequireAction(ActionParams), s.handleParams)
	signed.POST("/loans/:id/lend", auth.RequireAction(ActionLend), s.handleLend)
	signed.POST("/loans/:id/repay", auth.RequireAction(ActionRepay), s.handleRepay)
	signed.POST("/loans/:id/remove", auth.RequireAction(ActionRemove), s.handleRemove)
	signed.POST("/loans/:id/request-and-borrow", auth.RequireAction(ActionRequestAndBorrow), s.handleRequestAndBorrow)
	signed.POST("/loans/:id/take-and-lend", auth.RequireAction(ActionTakeAndLend), s.handleTakeAndLend)
	signed.POST("/fees/withdraw", auth.RequireAction(ActionWithdrawFees), s.handleWithdrawFees)
	signed.POST("/batches", auth.RequireAction(ActionBatch), s.handleBatch)

	if s.Faucet != nil {
		dev := signed.Group("/dev")
		dev.POST("/mint-asset", auth.RequireAction(ActionMintAsset), s.handleMintAsset)
		dev.POST("/mint-collateral", auth.RequireAction(ActionMintCollateral), s.handleMintCollateral)
		dev.POST("/approve-all", auth.RequireAction(ActionApproveAll), s.handleApproveAll)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.Redis != nil {
		if err := s.Redis.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// statusOf maps an engine error to an HTTP status.
func statusOf(err error) int {
	var ae *batch.ActionError
	if errors.As(err, &ae) {
		err = ae.Err
	}
	if pair.IsWrongCaller(err) {
		return http.StatusForbidden
	}
	switch pair.KindOf(err) {
	case pair.KindPrecondition, pair.KindTemporal:
		return http.StatusConflict
	case pair.KindSettlement, pair.KindArithmetic:
		return http.StatusUnprocessableEntity
	case pair.KindAuthorization:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	body := gin.H{"error": err.Error(), "kind": pair.KindOf(err).String()}
	var ae *batch.ActionError
	if errors.As(err, &ae) {
		body["index"] = ae.Index
		body["action"] = ae.Kind.String()
	}
	if status == http.StatusInternalServerError {
		s.Log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		body = gin.H{"error": "internal error"}
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

// tokenID parses the :id route parameter, decimal or 0x-hex.
func tokenID(c *gin.Context) (*big.Int, bool) {
	id, ok := math.ParseBig256(c.Param("id"))
	if !ok || id.Sign() < 0 {
		badRequest(c, "invalid token id")
		return nil, false
	}
	return id, true
}

func address(c *gin.Context, param string) (common.Address, bool) {
	v := c.Param(param)
	if !common.IsHexAddress(v) {
		badRequest(c, "invalid address")
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

// payload decodes the signed payload into dst. An empty payload leaves dst
// at its zero value.
func payload(c *gin.Context, dst interface{}) bool {
	req, ok := auth.Request(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return false
	}
	if len(req.Payload) == 0 || string(req.Payload) == "null" {
		return true
	}
	if err := json.Unmarshal(req.Payload, dst); err != nil {
		badRequest(c, "invalid payload: "+err.Error())
		return false
	}
	return true
}

func sender(c *gin.Context) common.Address {
	addr, _ := auth.Sender(c)
	return addr
}
