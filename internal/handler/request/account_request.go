package request

type ResolveAccountRequest struct {
	Address  string `json:"address" binding:"required,eth_addr"`
	Mnemonic string `json:"mnemonic" binding:"required"`
}
