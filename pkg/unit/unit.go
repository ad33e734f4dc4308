// Package unit converts between wei and the human readable ether / gwei
// denominations. All conversions go through shopspring/decimal so that
// representable decimal inputs round-trip exactly.
package unit

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	EtherDecimals = 18
	GweiDecimals  = 9
)

// ToEther 1500000000000000000 -> "1.5"
func ToEther(wei *big.Int) string {
	return format(wei, EtherDecimals)
}

// ToGwei 20000000000 -> "20"
func ToGwei(wei *big.Int) string {
	return format(wei, GweiDecimals)
}

// ParseEther "1.5" -> 1500000000000000000
func ParseEther(amount string) (*big.Int, error) {
	return parse(amount, EtherDecimals)
}

// ParseGwei "20" -> 20000000000
func ParseGwei(amount string) (*big.Int, error) {
	return parse(amount, GweiDecimals)
}

func format(wei *big.Int, decimals int32) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -decimals).String()
}

func parse(amount string, decimals int32) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("金额为空")
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("无效的金额 %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("金额不能为负数: %s", amount)
	}

	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("金额 %s 超过 %d 位小数精度", amount, decimals)
	}
	return shifted.BigInt(), nil
}
