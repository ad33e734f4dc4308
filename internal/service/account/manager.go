package account

import (
	"context"
	"crypto/ecdsa"
	"sync/atomic"

	"github.com/MateoOdt/DigitalMedia2/internal/chain"
	"github.com/MateoOdt/DigitalMedia2/internal/signer"
	"github.com/MateoOdt/DigitalMedia2/pkg/bip32"
	"github.com/MateoOdt/DigitalMedia2/pkg/bip39"
	"github.com/MateoOdt/DigitalMedia2/pkg/errno"
	"github.com/MateoOdt/DigitalMedia2/pkg/logger"
	"github.com/MateoOdt/DigitalMedia2/pkg/monitor"
	"github.com/MateoOdt/DigitalMedia2/pkg/unit"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// Account 钱包账户。PrivateKey 只在本地创建或助记词派生时存在，外部签名账户为 nil
type Account struct {
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
}

// HasKey 是否持有私钥 (决定使用本地签名还是外部签名)
func (a Account) HasKey() bool {
	return a.PrivateKey != nil
}

// Manager 账户管理: 创建、连接外部签名方、从助记词恢复、余额与网络查询
type Manager struct {
	provider  *chain.Provider
	external  signer.External
	mnemonics *bip39.MnemonicService

	// 外部签名方的账户请求是否正在进行，同一时间只允许一个
	connecting atomic.Bool
}

// NewManager external 可以为 nil，此时 ConnectViaExternalSigner 返回 ErrSignerUnavailable
func NewManager(provider *chain.Provider, external signer.External) *Manager {
	return &Manager{
		provider:  provider,
		external:  external,
		mnemonics: bip39.NewMnemonicService(),
	}
}

// CreateAccount 生成新的 secp256k1 密钥对，不产生任何链上交互
func (m *Manager) CreateAccount() (Account, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return Account{}, err
	}
	acc := Account{Address: crypto.PubkeyToAddress(key.PublicKey), PrivateKey: key}
	logger.Info("新账户已创建", zap.String("address", acc.Address.Hex()))
	return acc, nil
}

// ConnectViaExternalSigner 向外部签名方请求账户，只返回地址
func (m *Manager) ConnectViaExternalSigner(ctx context.Context) (common.Address, error) {
	if m.external == nil {
		return common.Address{}, errno.ErrSignerUnavailable
	}
	if !m.connecting.CompareAndSwap(false, true) {
		monitor.RecordSignerBusy()
		return common.Address{}, errno.ErrSignerBusy
	}
	defer m.connecting.Store(false)

	accounts, err := m.external.RequestAccounts(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return common.Address{}, ctx.Err()
		}
		return common.Address{}, errno.Wrap("connect", errno.ErrSignerUnavailable, err)
	}
	if len(accounts) == 0 {
		return common.Address{}, errno.ErrSignerUnavailable
	}

	logger.Info("外部签名方已连接", zap.String("address", accounts[0].Hex()), zap.Int("exposed", len(accounts)))
	return accounts[0], nil
}

// ListKnownAccounts eth_accounts
func (m *Manager) ListKnownAccounts(ctx context.Context) ([]common.Address, error) {
	client, err := m.provider.Get(ctx)
	if err != nil {
		return nil, err
	}
	return client.Accounts(ctx)
}

// ResolveExistingAccount 用助记词恢复节点上已有账户的私钥。
// 账户在 eth_accounts 中的下标被当作 BIP-44 address_index，
// 只在节点本身由同一助记词初始化时成立 (ganache / anvil / hardhat 等本地测试链)。
// 派生结果与地址不符时返回 ErrKeyMismatch，不会返回其它账户的私钥
func (m *Manager) ResolveExistingAccount(ctx context.Context, address common.Address, mnemonic string) (Account, error) {
	known, err := m.ListKnownAccounts(ctx)
	if err != nil {
		return Account{}, err
	}

	index := -1
	for i, a := range known {
		if a == address {
			index = i
			break
		}
	}
	if index < 0 {
		return Account{}, errno.ErrAccountNotFound
	}

	seed, err := m.mnemonics.MnemonicToSeed(mnemonic, "")
	if err != nil {
		return Account{}, errno.Wrap("resolve", errno.ErrInvalidMnemonic, err)
	}
	wallet, err := bip32.NewMasterKeyFromSeed(seed, nil)
	if err != nil {
		return Account{}, errno.Wrap("resolve", errno.ErrInvalidMnemonic, err)
	}

	key, derived, err := wallet.DeriveEthereumKey(uint32(index))
	if err != nil {
		return Account{}, errno.Wrap("resolve", errno.ErrKeyMismatch, err)
	}
	if derived != address {
		logger.Warn("助记词派生地址与节点账户不一致",
			zap.String("address", address.Hex()),
			zap.String("derived", derived.Hex()),
			zap.String("path", bip32.EthereumPath(uint32(index))))
		return Account{}, errno.ErrKeyMismatch
	}

	return Account{Address: address, PrivateKey: key}, nil
}

// GetBalance 返回 ether 为单位的精确十进制字符串
func (m *Manager) GetBalance(ctx context.Context, address common.Address) (string, error) {
	client, err := m.provider.Get(ctx)
	if err != nil {
		return "", err
	}
	wei, err := client.BalanceAt(ctx, address)
	if err != nil {
		return "", err
	}
	return unit.ToEther(wei), nil
}
