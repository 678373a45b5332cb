// Package wallet 从私钥推导钱包地址并校验代币地址，不做任何交易签名。
package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrMissingKey 表示未配置私钥。
var ErrMissingKey = errors.New("wallet: 未配置私钥")

// Account 为钱包账户信息。
type Account struct {
	Address common.Address
}

// FromPrivateKey 从十六进制私钥推导地址，允许带 0x 前缀。
func FromPrivateKey(privateKeyHex string) (Account, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if keyHex == "" {
		return Account{}, ErrMissingKey
	}
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return Account{}, fmt.Errorf("wallet: 无效私钥: %w", err)
	}
	return Account{Address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Hex 返回 EIP-55 校验格式地址。
func (a Account) Hex() string {
	return a.Address.Hex()
}

// NormalizeAddress 校验并返回 EIP-55 格式的代币地址。
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("wallet: 无效地址 %q", addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

// TxHash 由任意标识生成确定性的交易哈希，用于模拟成交回执。
func TxHash(parts ...string) string {
	return ethcrypto.Keccak256Hash([]byte(strings.Join(parts, "|"))).Hex()
}

// DeriveAddress 由任意标识生成确定性的合约地址，用于模拟价格源等链上对象。
func DeriveAddress(parts ...string) string {
	hash := ethcrypto.Keccak256([]byte(strings.Join(parts, "|")))
	return common.BytesToAddress(hash[12:]).Hex()
}
