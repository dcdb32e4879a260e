package models

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Session 钱包会话
type Session struct {
	Account common.Address `json:"account"`
	ChainID string         `json:"chain_id"` // 十六进制链ID，例如 0x89
}

// IsConnected 是否已连接账户
func (s Session) IsConnected() bool {
	return s.Account != (common.Address{})
}

// HasChain 是否已获取链ID
func (s Session) HasChain() bool {
	return s.ChainID != ""
}

// AccountHex 账户地址（未连接时为空字符串）
func (s Session) AccountHex() string {
	if !s.IsConnected() {
		return ""
	}
	return s.Account.Hex()
}

// ShortAccount 缩略显示账户地址 0x1234...abcd
func (s Session) ShortAccount() string {
	return ShortAddress(s.AccountHex())
}

// ShortAddress 缩略地址
func ShortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// NormalizeChainID 统一链ID格式（小写十六进制）
func NormalizeChainID(chainID string) string {
	chainID = strings.ToLower(strings.TrimSpace(chainID))
	if chainID == "" {
		return ""
	}
	if !strings.HasPrefix(chainID, "0x") {
		chainID = "0x" + chainID
	}
	// 去掉多余的前导零，0x0089 与 0x89 视为同一条链
	digits := strings.TrimLeft(chainID[2:], "0")
	if digits == "" {
		digits = "0"
	}
	return "0x" + digits
}
