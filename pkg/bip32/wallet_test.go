package bip32

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/MateoOdt/DigitalMedia2/pkg/bip39"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestNewMasterKeyFromSeed(t *testing.T) {
	mnemonicService := bip39.NewMnemonicService()
	mnemonic, err := mnemonicService.GenerateMnemonic(128)
	if err != nil {
		t.Fatalf("生成助记词失败: %v", err)
	}
	seed, err := mnemonicService.MnemonicToSeed(mnemonic, "")
	if err != nil {
		t.Fatalf("生成种子失败: %v", err)
	}

	wallet, err := NewMasterKeyFromSeed(seed, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("生成主密钥失败: %v", err)
	}
	if wallet.MasterKey() == nil || !wallet.MasterKey().IsPrivate() {
		t.Fatalf("主密钥应为扩展私钥")
	}

	if _, err := NewMasterKeyFromSeed([]byte{1, 2, 3}, nil); !errors.Is(err, ErrInvalidSeed) {
		t.Errorf("期望 ErrInvalidSeed, 实际: %v", err)
	}
}

func TestDeriveEthereumKey_KnownVector(t *testing.T) {
	// ganache / hardhat 常用测试助记词，m/44'/60'/0'/0/0 的地址是公开已知的
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	seed, err := bip39.NewMnemonicService().MnemonicToSeed(mnemonic, "")
	if err != nil {
		t.Fatalf("生成种子失败: %v", err)
	}

	wallet, err := NewMasterKeyFromSeed(seed, nil)
	if err != nil {
		t.Fatalf("生成主密钥失败: %v", err)
	}

	priv, addr, err := wallet.DeriveEthereumKey(0)
	if err != nil {
		t.Fatalf("派生失败: %v", err)
	}
	if want := "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"; addr.Hex() != want {
		t.Errorf("地址不匹配\n预期: %s\n实际: %s", want, addr.Hex())
	}
	if crypto.PubkeyToAddress(priv.PublicKey) != addr {
		t.Errorf("私钥与地址不对应")
	}

	// ExtendedKey.Address 与私钥推导出的地址一致
	key, err := wallet.DerivePath(EthereumPath(0))
	if err != nil {
		t.Fatalf("派生路径失败: %v", err)
	}
	pubAddr, err := key.Address()
	if err != nil || pubAddr != addr {
		t.Errorf("ExtendedKey.Address 不一致: %s, %v", pubAddr.Hex(), err)
	}

	// 不同 index 派生出不同账户
	_, addr1, err := wallet.DeriveEthereumKey(1)
	if err != nil {
		t.Fatalf("派生 index 1 失败: %v", err)
	}
	if addr1 == addr {
		t.Errorf("index 0 与 index 1 派生出相同地址")
	}
}

func TestDerivePath(t *testing.T) {
	seed, _ := hex.DecodeString("fffcf9f6da3247d8a846f4b6113e6173")

	wallet, err := NewMasterKeyFromSeed(seed, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("生成主密钥失败: %v", err)
	}

	for _, path := range []string{"m", "m/0", "m/0'", "m/44h/60h/0h/0/7"} {
		if _, err := wallet.DerivePath(path); err != nil {
			t.Errorf("派生路径 %s 失败: %v", path, err)
		}
	}

	for _, path := range []string{"44'/60'", "m/abc", "m/2147483648'"} {
		if _, err := wallet.DerivePath(path); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("路径 %s 期望 ErrInvalidPath, 实际: %v", path, err)
		}
	}

	child, err := wallet.DerivePath(EthereumPath(0))
	if err != nil {
		t.Fatalf("派生失败: %v", err)
	}
	pub, err := child.Neuter()
	if err != nil {
		t.Fatalf("转换为扩展公钥失败: %v", err)
	}
	if pub.IsPrivate() {
		t.Errorf("Neuter() 应该返回公钥，但 IsPrivate() 返回 true")
	}
	if _, err := pub.ECDSA(); !errors.Is(err, ErrPublicOnly) {
		t.Errorf("扩展公钥导出私钥应失败, 实际: %v", err)
	}
}
