package account

import (
	"context"

	"github.com/MateoOdt/DigitalMedia2/pkg/unit"
)

var networkNames = map[uint64]string{
	1:        "Mainnet",
	3:        "Ropsten",
	4:        "Rinkeby",
	5:        "Goerli",
	42:       "Kovan",
	11155111: "Sepolia",
	17000:    "Holesky",
	1337:     "Local",
	5777:     "Ganache",
	31337:    "Hardhat",
}

// NetworkName 按 net_version 返回网络名，未知网络返回 "Unknown"
func NetworkName(networkID uint64) string {
	if name, ok := networkNames[networkID]; ok {
		return name
	}
	return "Unknown"
}

type NetworkInfo struct {
	NetworkID    uint64 `json:"network_id"`
	Name         string `json:"name"`
	ChainID      string `json:"chain_id"`
	BlockNumber  uint64 `json:"block_number"`
	GasPriceGwei string `json:"gas_price_gwei"`
}

// NetworkInfo 汇总节点的网络信息
func (m *Manager) NetworkInfo(ctx context.Context) (*NetworkInfo, error) {
	client, err := m.provider.Get(ctx)
	if err != nil {
		return nil, err
	}

	networkID, err := client.NetworkID(ctx)
	if err != nil {
		return nil, err
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	block, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	return &NetworkInfo{
		NetworkID:    networkID,
		Name:         NetworkName(networkID),
		ChainID:      chainID.String(),
		BlockNumber:  block,
		GasPriceGwei: unit.ToGwei(gasPrice),
	}, nil
}

// GasPrice 当前建议 gas price，单位 gwei
func (m *Manager) GasPrice(ctx context.Context) (string, error) {
	client, err := m.provider.Get(ctx)
	if err != nil {
		return "", err
	}
	price, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", err
	}
	return unit.ToGwei(price), nil
}
