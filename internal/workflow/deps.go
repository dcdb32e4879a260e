package workflow

import (
	"context"
	"math/big"
	"time"

	"w3up/internal/registry"
	"w3up/internal/wallet"
	"w3up/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Registry 合约写入与回执等待
type Registry interface {
	Register(ctx context.Context, sender registry.Sender, from common.Address, name string, value *big.Int) (common.Hash, error)
	SetRecord(ctx context.Context, sender registry.Sender, from common.Address, name, record string) (common.Hash, error)
	WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Sender 签名发送交易的钱包
type Sender = registry.Sender

// Fetcher 注册表快照读取
type Fetcher interface {
	FetchAll(ctx context.Context, session models.Session) ([]models.MintRecord, error)
}

// SessionSource 当前会话及签名钱包（*wallet.SessionManager 满足）
type SessionSource interface {
	Session() models.Session
	Provider() wallet.Provider
}

// NetworkGate 目标网络判断
type NetworkGate interface {
	IsOnTargetNetwork(session models.Session) bool
}

// TxJournal 交易流水
type TxJournal interface {
	SaveTx(tx *models.TxRecord) error
}

// Scheduler 延迟执行
type Scheduler func(delay time.Duration, fn func())

// AfterFunc 基于 time.AfterFunc 的调度器
func AfterFunc(delay time.Duration, fn func()) {
	time.AfterFunc(delay, fn)
}
