package bip39

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestGenerateMnemonic(t *testing.T) {
	service := NewMnemonicService()

	for _, bits := range []int{128, 256} {
		mnemonic, err := service.GenerateMnemonic(bits)
		if err != nil {
			t.Fatalf("生成 %d 位助记词失败: %v", bits, err)
		}
		if want := bits / 32 * 3; len(strings.Fields(mnemonic)) != want {
			t.Errorf("期望 %d 个单词, 实际 %d", want, len(strings.Fields(mnemonic)))
		}
		if !service.ValidateMnemonic(mnemonic) {
			t.Errorf("生成的助记词无效: %s", mnemonic)
		}
	}
}

func TestMnemonicToSeed(t *testing.T) {
	service := NewMnemonicService()

	// BIP-39 官方测试向量 (空 passphrase)
	expectedSeedHex := "5eb00bbddcf069084889a8ab9155568165f5c453ccb85e70811aaed6f6da5fc19a5ac40b389cd370d086206dec8aa6c43daea6690f20ad3d8d48b2d2ce9e38e4"

	seed, err := service.MnemonicToSeed(testMnemonic, "")
	if err != nil {
		t.Fatalf("测试向量助记词无效: %v", err)
	}
	if got := hex.EncodeToString(seed); got != expectedSeedHex {
		t.Errorf("Seed 生成不匹配。\n预期: %s\n实际: %s", expectedSeedHex, got)
	}

	// 多余空白不影响结果
	seed2, err := service.MnemonicToSeed("  "+strings.ReplaceAll(testMnemonic, " ", "\n  ")+"\n", "")
	if err != nil {
		t.Fatalf("规范化后的助记词无效: %v", err)
	}
	if hex.EncodeToString(seed2) != expectedSeedHex {
		t.Errorf("规范化后的 Seed 不匹配")
	}
}

func TestMnemonicToSeed_Invalid(t *testing.T) {
	service := NewMnemonicService()

	invalidMnemonic := "hello world invalid mnemonic phrase designed to fail validation check"
	if service.ValidateMnemonic(invalidMnemonic) {
		t.Errorf("期望验证失败，但验证通过了")
	}
	if _, err := service.MnemonicToSeed(invalidMnemonic, ""); !errors.Is(err, ErrInvalidMnemonic) {
		t.Errorf("期望 ErrInvalidMnemonic, 实际: %v", err)
	}
}
