package event

const (
	TopicTxSubmitted = "wallet_events_tx_submitted"
	TopicTxFinalized = "wallet_events_tx_finalized"
)

// TxSubmittedEvent 交易广播成功 (或超时后被重新排队跟踪)
// Topic: wallet_events_tx_submitted
type TxSubmittedEvent struct {
	Hash    string `json:"hash"`
	From    string `json:"from"`
	To      string `json:"to"`
	Value   string `json:"value"` // ether, decimal string
	Nonce   uint64 `json:"nonce"`
	ChainID int64  `json:"chain_id"`
	Signer  string `json:"signer"`
	Resume  int    `json:"resume"` // 第几次重新跟踪, 0 表示首次
}

// TxFinalizedEvent 跟踪进入终态
// Topic: wallet_events_tx_finalized
type TxFinalizedEvent struct {
	Hash          string  `json:"hash"`
	Status        string  `json:"status"` // confirmed, failed, timed_out
	BlockNumber   *uint64 `json:"block_number,omitempty"`
	ReceiptStatus *uint64 `json:"receipt_status,omitempty"`
	Error         string  `json:"error,omitempty"`
}
