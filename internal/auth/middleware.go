package auth

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// SignedRequest is the JSON payload inside X-Signed-Message (fields sorted).
// Payload carries the operation's arguments; handlers read them from here,
// never from the unsigned body.
type SignedRequest struct {
	Action     string          `json:"action"`
	ExpiresAt  int64           `json:"expires_at"`
	Nonce      string          `json:"nonce"`
	Payload    json.RawMessage `json:"payload"`
	ResourceID string          `json:"resource_id"`
}

const (
	maxFutureWindow = 5 * time.Minute

	// NonceKeyFmt records a used request nonce per wallet until it expires.
	NonceKeyFmt = "auth:nonce:%s:%s"

	senderKey  = "sender"
	requestKey = "signed_request"
)

// Middleware returns a Gin handler that validates EIP-191 wallet signatures.
// The recovered wallet becomes the sender of whatever the route executes.
func Middleware(rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		walletAddr := c.GetHeader("X-Wallet-Address")
		signedMsgB64 := c.GetHeader("X-Signed-Message")
		sigHex := c.GetHeader("X-Wallet-Signature")

		if walletAddr == "" || signedMsgB64 == "" || sigHex == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing auth headers"})
			return
		}
		if !common.IsHexAddress(walletAddr) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-Wallet-Address"})
			return
		}

		msgBytes, err := base64.StdEncoding.DecodeString(signedMsgB64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-Signed-Message encoding"})
			return
		}

		var req SignedRequest
		if err := json.Unmarshal(msgBytes, &req); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signed message JSON"})
			return
		}
		if req.Nonce == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing nonce"})
			return
		}

		now := time.Now().Unix()
		if req.ExpiresAt <= now {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "request expired"})
			return
		}
		if req.ExpiresAt > now+int64(maxFutureWindow.Seconds()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "expires_at too far in future"})
			return
		}

		sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature hex"})
			return
		}
		recovered, err := Recover(msgBytes, sig)
		if err != nil || recovered != common.HexToAddress(walletAddr) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		// Nonce dedup via Redis SET NX, scoped to the wallet.
		nonceKey := fmt.Sprintf(NonceKeyFmt, strings.ToLower(recovered.Hex()), req.Nonce)
		ttl := time.Duration(req.ExpiresAt-now) * time.Second
		set, err := rdb.SetNX(c.Request.Context(), nonceKey, 1, ttl).Result()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !set {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "nonce already used"})
			return
		}

		c.Set(senderKey, recovered)
		c.Set(requestKey, &req)
		c.Next()
	}
}

// RequireAction rejects a signed request made for a different action, or for
// a different resource than the route's :id parameter.
func RequireAction(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := Request(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		if req.Action != action {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signed for action " + req.Action})
			return
		}
		if id := c.Param("id"); id != "" && req.ResourceID != id {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signed for another resource"})
			return
		}
		c.Next()
	}
}

// Sender returns the authenticated wallet.
func Sender(c *gin.Context) (common.Address, bool) {
	v, ok := c.Get(senderKey)
	if !ok {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}

// Request returns the verified signed request.
func Request(c *gin.Context) (*SignedRequest, bool) {
	v, ok := c.Get(requestKey)
	if !ok {
		return nil, false
	}
	req, ok := v.(*SignedRequest)
	return req, ok
}

// Headers builds the three auth headers for req signed by key. Clients and
// tests use it to call authenticated routes.
func Headers(req SignedRequest, key *ecdsa.PrivateKey) (http.Header, error) {
	msgBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal signed request: %w", err)
	}
	sig, err := crypto.Sign(HashMessage(msgBytes), key)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	sig[64] += 27
	h := http.Header{}
	h.Set("X-Wallet-Address", crypto.PubkeyToAddress(key.PublicKey).Hex())
	h.Set("X-Signed-Message", base64.StdEncoding.EncodeToString(msgBytes))
	h.Set("X-Wallet-Signature", "0x"+hex.EncodeToString(sig))
	return h, nil
}
