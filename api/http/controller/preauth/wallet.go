package preauth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"hamlet/api/api/common"
	"hamlet/api/codes"
	"hamlet/api/log"
	"hamlet/api/security"
)

type Wallet struct {
	Nonces *security.NonceStore
	Tokens *security.TokenIssuer
}

// POST /preauth/get_msg
func (h *Wallet) GetAuthMsg(c *gin.Context) {
	var req GetMsgRequest
	res := common.Response{}
	res.Timestamp = time.Now().Unix()

	if err := c.ShouldBindJSON(&req); err != nil {
		res.Code = codes.CODE_ERR_REQFORMAT
		res.Msg = "invalid request" + err.Error()
		c.JSON(http.StatusOK, res)
		return
	}

	msg, err := h.Nonces.Issue(c.Request.Context(), req.Wallet)
	if errors.Is(err, security.ErrBadWallet) {
		res.Code = codes.CODE_ERR_BAD_PARAMS
		res.Msg = "unsupported wallet"
		c.JSON(http.StatusOK, res)
		return
	}
	if err != nil {
		log.Error("issue auth msg error", err)
		res.Code = codes.CODE_ERR_UNKNOWN
		res.Msg = "issue auth message failed"
		c.JSON(http.StatusOK, res)
		return
	}

	res.Code = codes.CODE_SUCCESS
	res.Msg = "success"
	res.Data = gin.H{
		"wallet":  msg.Wallet,
		"chain":   msg.Chain,
		"nonce":   msg.Nonce,
		"message": msg.Format(),
	}
	c.JSON(http.StatusOK, res)
}

// POST /preauth/verify_msg
func (h *Wallet) VerifyMessage(c *gin.Context) {
	var req VerifyMsgRequest
	res := common.Response{}
	res.Timestamp = time.Now().Unix()

	if err := c.ShouldBindJSON(&req); err != nil {
		res.Code = codes.CODE_ERR_REQFORMAT
		res.Msg = "invalid request" + err.Error()
		c.JSON(http.StatusOK, res)
		return
	}

	msg, err := h.Nonces.Consume(c.Request.Context(), req.Wallet)
	if errors.Is(err, security.ErrNonceNotFound) {
		res.Code = codes.CODE_ERR_REQ_EXPIRED
		res.Msg = "auth message expired or missing"
		c.JSON(http.StatusOK, res)
		return
	}
	if err != nil {
		log.Error("load auth msg error", err)
		res.Code = codes.CODE_ERR_UNKNOWN
		res.Msg = "verify failed"
		c.JSON(http.StatusOK, res)
		return
	}

	if err := msg.Verify(req.Signature); err != nil {
		log.Infof("signature rejected for %s: %v", msg.Wallet, err)
		res.Code = codes.CODE_ERR_SIG_COMMON
		res.Msg = "signature verify failed"
		c.JSON(http.StatusOK, res)
		return
	}

	token, exp, err := h.Tokens.Issue(msg.Wallet, msg.Chain)
	if err != nil {
		res.Code = codes.CODE_ERR_SECURITY
		res.Msg = "token gen error:" + err.Error()
		c.JSON(http.StatusOK, res)
		return
	}

	res.Code = codes.CODE_SUCCESS
	res.Msg = "success"
	res.Data = gin.H{
		"wallet":      msg.Wallet,
		"chain":       msg.Chain,
		"token":       token,
		"expire_time": exp.Unix(),
	}
	c.JSON(http.StatusOK, res)
}
