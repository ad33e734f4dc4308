package handler

import (
	"crypto/ecdsa"

	"github.com/MateoOdt/DigitalMedia2/internal/handler/request"
	"github.com/MateoOdt/DigitalMedia2/internal/handler/response"
	"github.com/MateoOdt/DigitalMedia2/internal/service/account"
	"github.com/MateoOdt/DigitalMedia2/pkg/errno"
	"github.com/MateoOdt/DigitalMedia2/pkg/validator"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
)

type AccountHandler struct {
	manager *account.Manager
}

func NewAccountHandler(manager *account.Manager) *AccountHandler {
	return &AccountHandler{manager: manager}
}

// Register 注册账户与网络相关路由
func (h *AccountHandler) Register(rg *gin.RouterGroup) {
	accounts := rg.Group("/accounts")
	{
		accounts.POST("", h.Create)
		accounts.GET("", h.List)
		accounts.POST("/connect", h.Connect)
		accounts.POST("/resolve", h.Resolve)
		accounts.GET("/:address/balance", h.Balance)
	}
	rg.GET("/network", h.Network)
}

type AccountResponse struct {
	Address    string `json:"address"`
	PrivateKey string `json:"private_key,omitempty"`
}

func accountResponse(acc account.Account) AccountResponse {
	resp := AccountResponse{Address: acc.Address.Hex()}
	if acc.PrivateKey != nil {
		resp.PrivateKey = encodeKey(acc.PrivateKey)
	}
	return resp
}

func encodeKey(key *ecdsa.PrivateKey) string {
	return hexutil.Encode(crypto.FromECDSA(key))
}

// Create 创建账户
// @Summary 创建账户
// @Description 生成新的密钥对，私钥只在本次响应中返回，服务端不保存
// @Tags Account
// @Produce json
// @Success 200 {object} response.Response{data=AccountResponse}
// @Router /api/v1/accounts [post]
func (h *AccountHandler) Create(c *gin.Context) {
	acc, err := h.manager.CreateAccount()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, accountResponse(acc))
}

// Connect 连接外部签名方
// @Summary 连接外部签名方
// @Description 向外部签名方 (Clef / 节点托管账户) 请求账户，返回第一个地址
// @Tags Account
// @Produce json
// @Success 200 {object} response.Response{data=AccountResponse}
// @Router /api/v1/accounts/connect [post]
func (h *AccountHandler) Connect(c *gin.Context) {
	addr, err := h.manager.ConnectViaExternalSigner(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, AccountResponse{Address: addr.Hex()})
}

// Resolve 用助记词恢复节点账户
// @Summary 用助记词恢复节点账户
// @Description 仅适用于由同一助记词初始化的本地测试链
// @Tags Account
// @Accept json
// @Produce json
// @Param request body request.ResolveAccountRequest true "Resolve Request"
// @Success 200 {object} response.Response{data=AccountResponse}
// @Router /api/v1/accounts/resolve [post]
func (h *AccountHandler) Resolve(c *gin.Context) {
	var req request.ResolveAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	acc, err := h.manager.ResolveExistingAccount(c.Request.Context(), common.HexToAddress(req.Address), req.Mnemonic)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, accountResponse(acc))
}

// List 节点已知账户
// @Summary 节点已知账户 (eth_accounts)
// @Tags Account
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/accounts [get]
func (h *AccountHandler) List(c *gin.Context) {
	addrs, err := h.manager.ListKnownAccounts(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Hex())
	}
	response.Success(c, gin.H{"accounts": out})
}

// Balance 查询余额
// @Summary 查询余额
// @Tags Account
// @Produce json
// @Param address path string true "Address"
// @Success 200 {object} response.Response
// @Router /api/v1/accounts/{address}/balance [get]
func (h *AccountHandler) Balance(c *gin.Context) {
	addr, ok := addressParam(c, c.Param("address"))
	if !ok {
		return
	}
	balance, err := h.manager.GetBalance(c.Request.Context(), addr)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"address": addr.Hex(), "balance": balance, "unit": "ether"})
}

// Network 网络信息
// @Summary 网络信息
// @Tags Account
// @Produce json
// @Success 200 {object} response.Response{data=account.NetworkInfo}
// @Router /api/v1/network [get]
func (h *AccountHandler) Network(c *gin.Context) {
	info, err := h.manager.NetworkInfo(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, info)
}

func addressParam(c *gin.Context, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		response.Error(c, errno.ErrInvalidAddress)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}
