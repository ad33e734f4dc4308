package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MateoOdt/DigitalMedia2/pkg/config"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newAccountCmd(app *cliApp) *cobra.Command {
	accountCmd := &cobra.Command{
		Use:   "account",
		Short: "账户管理",
	}
	accountCmd.AddCommand(
		newAccountNewCmd(app),
		newAccountListCmd(app),
		newAccountResolveCmd(app),
		newAccountConnectCmd(app),
	)
	return accountCmd
}

func newAccountNewCmd(app *cliApp) *cobra.Command {
	var keystoreDir string
	var save bool
	c := &cobra.Command{
		Use:   "new",
		Short: "创建一个新账户",
		Long: `生成新的 secp256k1 密钥对。
默认直接打印私钥；指定 --keystore (或 --save 使用配置中的 wallet.keystore_path) 时
加密保存为 go-ethereum V3 Keystore 文件。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := app.manager()
			if err != nil {
				return err
			}
			acc, err := manager.CreateAccount()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if keystoreDir == "" && save {
				keystoreDir = config.Global.Wallet.KeystorePath
			}
			if keystoreDir == "" {
				fmt.Fprintf(out, "地址 (Address): %s\n", acc.Address.Hex())
				fmt.Fprintf(out, "私钥 (Private Key): %s\n", hexutil.Encode(crypto.FromECDSA(acc.PrivateKey)))
				fmt.Fprintln(out, "⚠️  请妥善保管私钥！任何拥有私钥的人都可以控制该账户的所有资产。")
				return nil
			}

			password, err := app.readNewPassword(cmd)
			if err != nil {
				return err
			}
			ks := keystore.NewKeyStore(keystoreDir, app.scryptN, app.scryptP)
			saved, err := ks.ImportECDSA(acc.PrivateKey, password)
			if err != nil {
				return fmt.Errorf("保存 Keystore 失败: %w", err)
			}
			fmt.Fprintf(out, "✅ 账户已创建: %s\n", saved.Address.Hex())
			fmt.Fprintf(out, "文件位置: %s\n", saved.URL.Path)
			fmt.Fprintln(out, "⚠️  警告: 请务必记住您的密码！如果丢失密码，您将无法恢复账户。")
			return nil
		},
	}
	c.Flags().StringVar(&keystoreDir, "keystore", "", "Keystore 目录 (为空时直接打印私钥)")
	c.Flags().BoolVar(&save, "save", false, "保存到 wallet.keystore_path")
	return c
}

func newAccountListCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "列出节点已知账户 (eth_accounts)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := app.manager()
			if err != nil {
				return err
			}
			addrs, err := manager.ListKnownAccounts(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(addrs) == 0 {
				fmt.Fprintln(out, "节点没有已知账户")
				return nil
			}
			for i, a := range addrs {
				fmt.Fprintf(out, "[%d] %s\n", i, a.Hex())
			}
			return nil
		},
	}
}

func newAccountResolveCmd(app *cliApp) *cobra.Command {
	var mnemonic string
	c := &cobra.Command{
		Use:   "resolve <address>",
		Short: "用助记词恢复节点账户的私钥",
		Long: `在 eth_accounts 中查找地址，并按 m/44'/60'/0'/0/<index> 从助记词派生私钥。
只适用于用同一助记词启动的本地测试链 (ganache / anvil / geth --dev)。`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			if mnemonic == "" {
				if mnemonic, err = app.readSecret(cmd, "输入助记词: "); err != nil {
					return err
				}
			}
			manager, err := app.manager()
			if err != nil {
				return err
			}
			acc, err := manager.ResolveExistingAccount(cmd.Context(), addr, mnemonic)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "地址 (Address): %s\n", acc.Address.Hex())
			fmt.Fprintf(out, "私钥 (Private Key): %s\n", hexutil.Encode(crypto.FromECDSA(acc.PrivateKey)))
			return nil
		},
	}
	c.Flags().StringVar(&mnemonic, "mnemonic", "", "助记词 (为空时从终端读取)")
	return c
}

func newAccountConnectCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "连接外部签名方并返回账户地址",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := app.manager()
			if err != nil {
				return err
			}
			if app.signerMode == "clef" {
				fmt.Fprintln(cmd.ErrOrStderr(), "请在 Clef 中确认账户请求...")
			}
			addr, err := manager.ConnectViaExternalSigner(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已连接: %s\n", addr.Hex())
			return nil
		},
	}
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("不是合法的以太坊地址: %s", s)
	}
	return common.HexToAddress(s), nil
}

// readSecret 终端下不回显，否则 (管道、测试) 读取一行
func (a *cliApp) readSecret(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("读取输入失败: %w", err)
		}
		return string(b), nil
	}
	if a.stdin == nil {
		a.stdin = bufio.NewReader(cmd.InOrStdin())
	}
	line, err := a.stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("读取输入失败: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (a *cliApp) readNewPassword(cmd *cobra.Command) (string, error) {
	password, err := a.readSecret(cmd, "输入密码: ")
	if err != nil {
		return "", err
	}
	confirm, err := a.readSecret(cmd, "确认密码: ")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", errors.New("两次输入的密码不一致")
	}
	if len(password) < 6 {
		return "", errors.New("密码长度至少需要 6 位")
	}
	return password, nil
}
