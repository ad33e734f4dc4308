package cmd

import (
	"fmt"

	"github.com/MateoOdt/DigitalMedia2/pkg/unit"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

func newBalanceCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <address>",
		Short: "查询账户余额 (ether)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			manager, err := app.manager()
			if err != nil {
				return err
			}
			balance, err := manager.GetBalance(cmd.Context(), addr)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ETH\n", balance)
			return nil
		},
	}
}

func newNetworkCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "network",
		Short: "显示节点网络信息",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := app.manager()
			if err != nil {
				return err
			}
			info, err := manager.NetworkInfo(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "网络 (Network): %s (id %d)\n", info.Name, info.NetworkID)
			fmt.Fprintf(out, "链 ID (Chain ID): %s\n", info.ChainID)
			fmt.Fprintf(out, "最新区块 (Block): %d\n", info.BlockNumber)
			fmt.Fprintf(out, "Gas Price: %s gwei\n", info.GasPriceGwei)
			return nil
		},
	}
}

func newTxCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "tx <hash>",
		Short: "按哈希查询交易",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := parseHash(args[0])
			if err != nil {
				return err
			}
			coord, err := app.coordinator()
			if err != nil {
				return err
			}
			details, err := coord.Lookup(cmd.Context(), hash)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tx := details.Tx
			fmt.Fprintf(out, "Hash:      %s\n", tx.Hash().Hex())
			fmt.Fprintf(out, "From:      %s\n", details.From.Hex())
			if tx.To() != nil {
				fmt.Fprintf(out, "To:        %s\n", tx.To().Hex())
			}
			fmt.Fprintf(out, "Value:     %s ETH\n", unit.ToEther(tx.Value()))
			fmt.Fprintf(out, "Nonce:     %d\n", tx.Nonce())
			fmt.Fprintf(out, "Gas:       %d @ %s gwei\n", tx.Gas(), unit.ToGwei(tx.GasPrice()))
			if details.Pending {
				fmt.Fprintln(out, "Status:    PENDING")
				return nil
			}
			if r := details.Receipt; r != nil {
				fmt.Fprintf(out, "Status:    %s\n", receiptStatus(r.Status))
				fmt.Fprintf(out, "Block:     %d\n", r.BlockNumber.Uint64())
				fmt.Fprintf(out, "Gas Used:  %d\n", r.GasUsed)
			}
			return nil
		},
	}
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("不是合法的交易哈希: %s", s)
	}
	return common.BytesToHash(b), nil
}

func receiptStatus(status uint64) string {
	if status == 1 {
		return "SUCCESS"
	}
	return "REVERTED"
}
