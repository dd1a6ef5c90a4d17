package preauth

type GetMsgRequest struct {
	Wallet string `json:"wallet" binding:"required"`
}

type VerifyMsgRequest struct {
	Wallet    string `json:"wallet" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}
