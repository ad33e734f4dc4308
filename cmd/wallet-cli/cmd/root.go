package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MateoOdt/DigitalMedia2/internal/chain"
	"github.com/MateoOdt/DigitalMedia2/internal/service/account"
	"github.com/MateoOdt/DigitalMedia2/internal/service/txcoord"
	"github.com/MateoOdt/DigitalMedia2/internal/signer"
	"github.com/MateoOdt/DigitalMedia2/pkg/config"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/spf13/cobra"
)

const defaultRPC = "http://localhost:8545"

// cliApp 子命令共享的连接与服务，在第一次使用时创建
type cliApp struct {
	rpcURL     string
	timeout    time.Duration
	signerMode string
	clefURL    string

	// 测试中替换为进程内节点与轻量 scrypt 参数
	dialer           chain.Dialer
	scryptN, scryptP int

	provider *chain.Provider
	stdin    *bufio.Reader
}

func (a *cliApp) chainProvider() *chain.Provider {
	if a.provider == nil {
		var opts []chain.ProviderOption
		if a.dialer != nil {
			opts = append(opts, chain.WithDialer(a.dialer))
		}
		a.provider = chain.NewProvider(a.rpcURL, a.timeout, opts...)
	}
	return a.provider
}

func (a *cliApp) external() (signer.External, error) {
	switch a.signerMode {
	case "", "none":
		return nil, nil
	case "node":
		return signer.NewProviderNodeSigner(a.chainProvider()), nil
	case "clef":
		return signer.DialClef(a.clefURL)
	}
	return nil, fmt.Errorf("未知的签名方: %s (可选 none, node, clef)", a.signerMode)
}

func (a *cliApp) manager() (*account.Manager, error) {
	ext, err := a.external()
	if err != nil {
		return nil, err
	}
	return account.NewManager(a.chainProvider(), ext), nil
}

func (a *cliApp) coordinator() (*txcoord.Coordinator, error) {
	ext, err := a.external()
	if err != nil {
		return nil, err
	}
	return txcoord.NewCoordinator(a.chainProvider(), txcoord.WithExternalSigner(ext)), nil
}

func (a *cliApp) close() {
	if a.provider != nil {
		a.provider.Close()
	}
}

// newRootCmd 构造完整的命令树
func newRootCmd(app *cliApp) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wallet-cli",
		Short: "以太坊钱包命令行工具",
		Long: `连接以太坊 JSON-RPC 节点的钱包工具。
支持创建/恢复账户、查询余额与网络信息、发送转账并跟踪确认。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.close()
		},
	}

	rpcURL := config.Global.Chain.RpcUrl
	if rpcURL == "" {
		rpcURL = defaultRPC
	}
	signerMode := config.Global.Signer.Mode
	if signerMode == "" {
		signerMode = "none"
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&app.rpcURL, "rpc", rpcURL, "RPC 节点地址")
	flags.DurationVar(&app.timeout, "timeout", config.Global.Chain.RpcTimeout, "单次 RPC 调用超时")
	flags.StringVar(&app.signerMode, "signer", signerMode, "外部签名方: none, node, clef")
	flags.StringVar(&app.clefURL, "clef", config.Global.Signer.ClefEndpoint, "Clef RPC 地址")

	rootCmd.AddCommand(
		newAccountCmd(app),
		newBalanceCmd(app),
		newNetworkCmd(app),
		newSendCmd(app),
		newTrackCmd(app),
		newTxCmd(app),
	)
	return rootCmd
}

// Execute 将所有子命令添加到根命令并执行，Ctrl-C 会取消进行中的调用
func Execute() {
	config.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cliApp{scryptN: keystore.StandardScryptN, scryptP: keystore.StandardScryptP}
	if err := newRootCmd(app).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		stop()
		os.Exit(1)
	}
}
