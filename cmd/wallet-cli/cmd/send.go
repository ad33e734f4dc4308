package cmd

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MateoOdt/DigitalMedia2/internal/service/account"
	"github.com/MateoOdt/DigitalMedia2/internal/service/txcoord"
	"github.com/MateoOdt/DigitalMedia2/pkg/unit"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

type trackFlags struct {
	interval time.Duration
	attempts int
}

func (f *trackFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.interval, "interval", txcoord.DefaultPollInterval, "轮询间隔")
	cmd.Flags().IntVar(&f.attempts, "attempts", txcoord.DefaultMaxAttempts, "最大轮询次数")
}

func (f *trackFlags) options() txcoord.TrackOptions {
	return txcoord.TrackOptions{PollInterval: f.interval, MaxAttempts: f.attempts}
}

func newSendCmd(app *cliApp) *cobra.Command {
	var (
		from, to, amount string
		keyHex, keyFile  string
		wait             bool
		track            trackFlags
	)
	c := &cobra.Command{
		Use:   "send",
		Short: "发送 ETH 转账",
		Long: `构造、签名并广播一笔转账，广播成功后打印交易哈希。
签名方式: --key 十六进制私钥, --key-file Keystore 文件, 都不提供时使用 --signer 指定的外部签名方。
加 --wait 会继续轮询直到交易上链或超时。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recipient, err := parseAddress(to)
			if err != nil {
				return err
			}
			sender, err := app.loadSender(cmd, from, keyHex, keyFile)
			if err != nil {
				return err
			}
			coord, err := app.coordinator()
			if err != nil {
				return err
			}

			res, err := coord.Submit(cmd.Context(), sender, recipient, amount)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✅ 广播成功!\n")
			fmt.Fprintf(out, "Tx Hash: %s\n", res.Hash.Hex())
			fmt.Fprintf(out, "Nonce: %d, Gas: %d @ %s gwei, Signer: %s\n", res.Nonce, res.GasLimit, unit.ToGwei(res.GasPrice), res.SignedBy)

			if !wait {
				return nil
			}
			return printTracking(cmd, coord, res.Hash, track.options())
		},
	}
	c.Flags().StringVar(&from, "from", "", "发送方地址 (使用 --key/--key-file 时可省略)")
	c.Flags().StringVar(&to, "to", "", "接收方地址")
	c.Flags().StringVar(&amount, "amount", "", "转账金额 (ether)")
	c.Flags().StringVar(&keyHex, "key", "", "十六进制私钥")
	c.Flags().StringVar(&keyFile, "key-file", "", "go-ethereum Keystore 文件")
	c.Flags().BoolVar(&wait, "wait", false, "广播后等待确认")
	track.register(c)
	_ = c.MarkFlagRequired("to")
	_ = c.MarkFlagRequired("amount")
	c.MarkFlagsMutuallyExclusive("key", "key-file")
	return c
}

func newTrackCmd(app *cliApp) *cobra.Command {
	var track trackFlags
	c := &cobra.Command{
		Use:   "track <hash>",
		Short: "跟踪交易直到上链、失败或超时",
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
			return printTracking(cmd, coord, hash, track.options())
		},
	}
	track.register(c)
	return c
}

// printTracking 逐次打印轮询结果，返回终态对应的错误
func printTracking(cmd *cobra.Command, coord *txcoord.Coordinator, hash common.Hash, opts txcoord.TrackOptions) error {
	out := cmd.OutOrStdout()
	var last txcoord.PollState
	for state := range coord.TrackConfirmation(cmd.Context(), hash, opts) {
		last = state
		line := fmt.Sprintf("[%d/%d] %s", state.Attempt, state.MaxAttempts, state.Status)
		if state.LastError != nil {
			line += " (" + state.LastError.Error() + ")"
		}
		fmt.Fprintln(out, line)
	}

	switch last.Status {
	case txcoord.StatusConfirmed:
		fmt.Fprintf(out, "区块 %d, 状态 %s, Gas Used %d\n", last.Receipt.BlockNumber.Uint64(), receiptStatus(last.Receipt.Status), last.Receipt.GasUsed)
		return nil
	case txcoord.StatusTimedOut:
		fmt.Fprintln(out, "⏳ 等待超时，交易可能仍在内存池中，可稍后使用 track 命令继续跟踪")
		return nil
	case txcoord.StatusFailed:
		return fmt.Errorf("跟踪失败: %w", last.LastError)
	}
	// 被取消
	return cmd.Context().Err()
}

// loadSender 按 --key / --key-file / --from 的优先级确定发送账户
func (a *cliApp) loadSender(cmd *cobra.Command, from, keyHex, keyFile string) (account.Account, error) {
	var key *ecdsa.PrivateKey
	switch {
	case keyHex != "":
		k, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return account.Account{}, fmt.Errorf("私钥格式错误: %w", err)
		}
		key = k
	case keyFile != "":
		k, err := a.decryptKeyFile(cmd, keyFile)
		if err != nil {
			return account.Account{}, err
		}
		key = k
	}

	if key == nil {
		if from == "" {
			return account.Account{}, fmt.Errorf("未提供私钥时必须指定 --from")
		}
		addr, err := parseAddress(from)
		if err != nil {
			return account.Account{}, err
		}
		return account.Account{Address: addr}, nil
	}

	acc := account.Account{Address: crypto.PubkeyToAddress(key.PublicKey), PrivateKey: key}
	if from != "" {
		addr, err := parseAddress(from)
		if err != nil {
			return account.Account{}, err
		}
		if addr != acc.Address {
			return account.Account{}, fmt.Errorf("--from %s 与私钥地址 %s 不一致", addr.Hex(), acc.Address.Hex())
		}
	}
	return acc, nil
}

func (a *cliApp) decryptKeyFile(cmd *cobra.Command, path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取 Keystore 文件失败: %w", err)
	}

	password, err := a.readSecret(cmd, "输入 Keystore 密码: ")
	if err != nil {
		return nil, err
	}
	k, err := keystore.DecryptKey(data, password)
	if err != nil {
		return nil, fmt.Errorf("解密 Keystore 失败: 密码错误或文件损坏: %w", err)
	}
	return k.PrivateKey, nil
}
