package wallet

import (
	"context"

	"w3up/pkg/models"

	"github.com/ethereum/go-ethereum/common"
)

// Provider 钱包提供者（EIP-1193 语义）
type Provider interface {
	// RequestAccounts 请求授权账户，可能弹出钱包确认
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	// Accounts 已授权账户，不弹窗
	Accounts(ctx context.Context) ([]common.Address, error)
	// ChainID 当前链ID（十六进制）
	ChainID(ctx context.Context) (string, error)
	SwitchChain(ctx context.Context, chainID string) error
	AddChain(ctx context.Context, chain models.ChainInfo) error
	IsConnected() bool
	SendTransaction(ctx context.Context, req models.TxRequest) (common.Hash, error)
	Close()
}
