package interceptor

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"hamlet/api/api/common"
	"hamlet/api/codes"
	"hamlet/api/log"
	"hamlet/api/security"
)

const (
	CtxWallet = "user_wallet"
	CtxChain  = "user_chain"
)

func makeFaileRes(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(http.StatusOK, common.Response{
		Timestamp: time.Now().Unix(),
		Code:      code,
		Msg:       msg,
	})
}

// TokenInterceptor accepts "Authorization: Bearer <jwt>" or the bare token in the AUTH header
// and puts the wallet into the context.
func TokenInterceptor(issuer *security.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if raw == "" {
			raw = strings.TrimSpace(c.GetHeader("AUTH"))
		}
		if raw == "" {
			makeFaileRes(c, codes.CODE_ERR_SECURITY, "token missing")
			return
		}
		claims, err := issuer.Parse(raw)
		if errors.Is(err, security.ErrTokenExpired) {
			makeFaileRes(c, codes.CODE_ERR_REQ_EXPIRED, "token expired error")
			return
		}
		if err != nil {
			log.Debugf("token check failed: %v", err)
			makeFaileRes(c, codes.CODE_ERR_SECURITY, "token check failed")
			return
		}
		c.Set(CtxWallet, claims.Wallet)
		c.Set(CtxChain, claims.Chain)
		c.Next()
	}
}

// AdminInterceptor lets through wallets on the allowlist. Must run after TokenInterceptor.
func AdminInterceptor(admins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(admins))
	for _, w := range admins {
		allowed[security.NormalizeWallet(w)] = true
	}
	return func(c *gin.Context) {
		wallet := c.GetString(CtxWallet)
		if !allowed[security.NormalizeWallet(wallet)] {
			log.Warnf("wallet %s denied admin route %s", wallet, c.FullPath())
			makeFaileRes(c, codes.CODE_ERR_PERMISSION, "permission denied")
			return
		}
		c.Next()
	}
}
