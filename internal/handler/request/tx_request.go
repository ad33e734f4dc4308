package request

type SendTxRequest struct {
	From   string `json:"from" binding:"required,eth_addr"`
	To     string `json:"to" binding:"required,eth_addr"`
	Amount string `json:"amount" binding:"required,ether_amount"` // ether
	// PrivateKey 为空时交给外部签名方
	PrivateKey string `json:"private_key" binding:"omitempty,hexadecimal"`

	GasLimit     uint64  `json:"gas_limit" binding:"omitempty,min=21000"`
	GasPriceGwei string  `json:"gas_price_gwei" binding:"omitempty,numeric"`
	Nonce        *uint64 `json:"nonce"`
}

type TrackQuery struct {
	Interval    string `form:"interval"` // Go duration, 例如 "2s"
	MaxAttempts int    `form:"max_attempts" binding:"omitempty,min=1,max=1000"`
}

type HistoryQuery struct {
	Address string `form:"address" binding:"required,eth_addr"`
	Limit   int    `form:"limit" binding:"omitempty,min=1,max=50"`
}
