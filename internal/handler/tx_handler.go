package handler

import (
	"context"
	"strings"
	"time"

	"github.com/MateoOdt/DigitalMedia2/internal/handler/request"
	"github.com/MateoOdt/DigitalMedia2/internal/handler/response"
	"github.com/MateoOdt/DigitalMedia2/internal/model"
	"github.com/MateoOdt/DigitalMedia2/internal/service/account"
	"github.com/MateoOdt/DigitalMedia2/internal/service/receipts"
	"github.com/MateoOdt/DigitalMedia2/internal/service/txcoord"
	"github.com/MateoOdt/DigitalMedia2/pkg/errno"
	"github.com/MateoOdt/DigitalMedia2/pkg/logger"
	"github.com/MateoOdt/DigitalMedia2/pkg/unit"
	"github.com/MateoOdt/DigitalMedia2/pkg/validator"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HistoryReader *history.Service 满足该接口
type HistoryReader interface {
	ListByAddress(ctx context.Context, addr common.Address, limit int) ([]model.TxRecord, error)
}

type TxHandler struct {
	coord    *txcoord.Coordinator
	history  HistoryReader
	receipts *receipts.Cache
	track    txcoord.TrackOptions
}

type TxHandlerOption func(*TxHandler)

func WithHistory(h HistoryReader) TxHandlerOption {
	return func(t *TxHandler) { t.history = h }
}

func WithReceiptCache(rc *receipts.Cache) TxHandlerOption {
	return func(t *TxHandler) { t.receipts = rc }
}

// NewTxHandler track 为 /track 未指定参数时的默认轮询配置
func NewTxHandler(coord *txcoord.Coordinator, track txcoord.TrackOptions, opts ...TxHandlerOption) *TxHandler {
	h := &TxHandler{coord: coord, track: track}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *TxHandler) Register(rg *gin.RouterGroup) {
	tx := rg.Group("/tx")
	{
		tx.POST("", h.Send)
		tx.GET("", h.History)
		tx.GET("/:hash", h.Get)
		tx.GET("/:hash/track", h.Track)
	}
}

type SubmitResponse struct {
	Hash         string `json:"hash"`
	From         string `json:"from"`
	To           string `json:"to"`
	Value        string `json:"value"` // ether
	Nonce        uint64 `json:"nonce"`
	GasLimit     uint64 `json:"gas_limit"`
	GasPriceGwei string `json:"gas_price_gwei"`
	ChainID      string `json:"chain_id"`
	Signer       string `json:"signer"`
}

type PollStateResponse struct {
	Hash          string  `json:"hash"`
	Attempt       int     `json:"attempt"`
	MaxAttempts   int     `json:"max_attempts"`
	Status        string  `json:"status"`
	BlockNumber   *uint64 `json:"block_number,omitempty"`
	ReceiptStatus *uint64 `json:"receipt_status,omitempty"`
	GasUsed       *uint64 `json:"gas_used,omitempty"`
	Error         string  `json:"error,omitempty"`
}

type TxDetailResponse struct {
	Hash          string  `json:"hash"`
	From          string  `json:"from"`
	To            string  `json:"to,omitempty"`
	Value         string  `json:"value"`
	Nonce         uint64  `json:"nonce"`
	Gas           uint64  `json:"gas"`
	GasPriceGwei  string  `json:"gas_price_gwei"`
	Pending       bool    `json:"pending"`
	BlockNumber   *uint64 `json:"block_number,omitempty"`
	ReceiptStatus *uint64 `json:"receipt_status,omitempty"`
}

// Send 发送转账
// @Summary 发送转账
// @Description 构造、签名并广播交易，广播成功后立即返回哈希。未提供 private_key 时使用外部签名方
// @Tags Transaction
// @Accept json
// @Produce json
// @Param request body request.SendTxRequest true "Send Request"
// @Success 200 {object} response.Response{data=SubmitResponse}
// @Router /api/v1/tx [post]
func (h *TxHandler) Send(c *gin.Context) {
	var req request.SendTxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	sender := account.Account{Address: common.HexToAddress(req.From)}
	if req.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(req.PrivateKey, "0x"))
		if err != nil {
			response.Error(c, errno.ErrBind.WithMessage("private_key 格式错误"))
			return
		}
		sender.PrivateKey = key
	}
	to := common.HexToAddress(req.To)

	var (
		res *txcoord.SubmissionResult
		err error
	)
	if req.GasLimit == 0 && req.GasPriceGwei == "" && req.Nonce == nil {
		res, err = h.coord.Submit(c.Request.Context(), sender, to, req.Amount)
	} else {
		txReq := txcoord.TransactionRequest{From: sender.Address, To: to, GasLimit: req.GasLimit, Nonce: req.Nonce}
		if txReq.Value, err = unit.ParseEther(req.Amount); err != nil {
			response.Error(c, errno.Wrap("build", errno.ErrInvalidAmount, err))
			return
		}
		if req.GasPriceGwei != "" {
			if txReq.GasPrice, err = unit.ParseGwei(req.GasPriceGwei); err != nil {
				response.Error(c, errno.Wrap("build", errno.ErrInvalidAmount, err))
				return
			}
		}
		res, err = h.coord.SubmitRequest(c.Request.Context(), sender, txReq)
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, SubmitResponse{
		Hash:         res.Hash.Hex(),
		From:         res.Request.From.Hex(),
		To:           res.Request.To.Hex(),
		Value:        unit.ToEther(res.Request.Value),
		Nonce:        res.Nonce,
		GasLimit:     res.GasLimit,
		GasPriceGwei: unit.ToGwei(res.GasPrice),
		ChainID:      res.ChainID.String(),
		Signer:       string(res.SignedBy),
	})
}

// Get 按哈希查询交易
// @Summary 按哈希查询交易
// @Tags Transaction
// @Produce json
// @Param hash path string true "Tx Hash"
// @Success 200 {object} response.Response{data=TxDetailResponse}
// @Router /api/v1/tx/{hash} [get]
func (h *TxHandler) Get(c *gin.Context) {
	hash, ok := hashParam(c)
	if !ok {
		return
	}
	details, err := h.coord.Lookup(c.Request.Context(), hash)
	if err != nil {
		response.Error(c, err)
		return
	}

	tx := details.Tx
	resp := TxDetailResponse{
		Hash:         hash.Hex(),
		From:         details.From.Hex(),
		Value:        unit.ToEther(tx.Value()),
		Nonce:        tx.Nonce(),
		Gas:          tx.Gas(),
		GasPriceGwei: unit.ToGwei(tx.GasPrice()),
		Pending:      details.Pending,
	}
	if tx.To() != nil {
		resp.To = tx.To().Hex()
	}
	if r := details.Receipt; r != nil {
		status := r.Status
		resp.BlockNumber, resp.ReceiptStatus = blockNumber(r), &status
	}
	response.Success(c, resp)
}

// Track 以 Server-Sent Events 推送确认进度
// @Summary 跟踪交易确认 (SSE)
// @Description 每次轮询推送一个 poll 事件，最后一个为终态。断开连接即取消跟踪
// @Tags Transaction
// @Produce text/event-stream
// @Param hash path string true "Tx Hash"
// @Param interval query string false "轮询间隔, 例如 2s"
// @Param max_attempts query int false "最大轮询次数"
// @Router /api/v1/tx/{hash}/track [get]
func (h *TxHandler) Track(c *gin.Context) {
	hash, ok := hashParam(c)
	if !ok {
		return
	}
	var q request.TrackQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	opts := h.track
	if q.Interval != "" {
		d, err := time.ParseDuration(q.Interval)
		if err != nil || d <= 0 {
			response.Error(c, errno.ErrBind.WithMessage("interval 格式错误"))
			return
		}
		opts.PollInterval = d
	}
	if q.MaxAttempts > 0 {
		opts.MaxAttempts = q.MaxAttempts
	}

	ctx := c.Request.Context()

	// 已缓存的回执直接返回，不再请求节点
	if h.receipts != nil {
		if receipt, err := h.receipts.Get(ctx, hash); err == nil && receipt != nil {
			c.SSEvent("poll", pollStateResponse(txcoord.PollState{
				Hash: hash, Attempt: 1, MaxAttempts: 1, Status: txcoord.StatusConfirmed, Receipt: receipt,
			}))
			c.Writer.Flush()
			return
		}
	}

	for state := range h.coord.TrackConfirmation(ctx, hash, opts) {
		c.SSEvent("poll", pollStateResponse(state))
		c.Writer.Flush()
		if state.Status == txcoord.StatusConfirmed && h.receipts != nil {
			if err := h.receipts.Put(ctx, state.Receipt); err != nil {
				logger.Warn("回执缓存失败", zap.String("hash", hash.Hex()), zap.Error(err))
			}
		}
	}
}

// History 交易历史
// @Summary 交易历史
// @Tags Transaction
// @Produce json
// @Param address query string true "Address"
// @Param limit query int false "Limit (<=50)"
// @Success 200 {object} response.Response
// @Router /api/v1/tx [get]
func (h *TxHandler) History(c *gin.Context) {
	var q request.HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}
	if h.history == nil {
		response.Error(c, errno.ErrDatabase.WithMessage("交易历史未启用"))
		return
	}

	records, err := h.history.ListByAddress(c.Request.Context(), common.HexToAddress(q.Address), q.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"records": records})
}

func pollStateResponse(st txcoord.PollState) PollStateResponse {
	resp := PollStateResponse{
		Hash:        st.Hash.Hex(),
		Attempt:     st.Attempt,
		MaxAttempts: st.MaxAttempts,
		Status:      string(st.Status),
	}
	if st.LastError != nil {
		resp.Error = st.LastError.Error()
	}
	if r := st.Receipt; r != nil {
		resp.BlockNumber = blockNumber(r)
		status, gasUsed := r.Status, r.GasUsed
		resp.ReceiptStatus, resp.GasUsed = &status, &gasUsed
	}
	return resp
}

func blockNumber(r *types.Receipt) *uint64 {
	if r.BlockNumber == nil {
		return nil
	}
	n := r.BlockNumber.Uint64()
	return &n
}

func hashParam(c *gin.Context) (common.Hash, bool) {
	b, err := hexutil.Decode(c.Param("hash"))
	if err != nil || len(b) != common.HashLength {
		response.Error(c, errno.ErrBind.WithMessage("hash 格式错误"))
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}
