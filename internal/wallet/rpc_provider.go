package wallet

import (
	"context"
	"fmt"
	"sync/atomic"

	"w3up/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
)

// RPCProvider 通过 JSON-RPC 访问的外部钱包
type RPCProvider struct {
	client    *rpc.Client
	url       string
	connected atomic.Bool
	logger    *logrus.Entry
}

// switchChainParams wallet_switchEthereumChain 参数
type switchChainParams struct {
	ChainID string `json:"chainId"`
}

// sendTxArgs eth_sendTransaction 参数
type sendTxArgs struct {
	From  common.Address  `json:"from"`
	To    common.Address  `json:"to"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
	Gas   *hexutil.Uint64 `json:"gas,omitempty"`
}

// DialRPCProvider 连接钱包端点
func DialRPCProvider(ctx context.Context, url string, logger *logrus.Logger) (*RPCProvider, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("连接钱包 %s 失败: %w", url, err)
	}
	p := NewRPCProvider(client, logger)
	p.url = url
	return p, nil
}

// NewRPCProvider 基于已有 rpc 客户端创建钱包提供者
func NewRPCProvider(client *rpc.Client, logger *logrus.Logger) *RPCProvider {
	p := &RPCProvider{
		client: client,
		logger: logger.WithField("component", "rpc_wallet"),
	}
	p.connected.Store(true)
	return p
}

// RequestAccounts 请求账户授权
func (p *RPCProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := p.call(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Accounts 查询已授权账户
func (p *RPCProvider) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := p.call(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}

// ChainID 查询当前链ID
func (p *RPCProvider) ChainID(ctx context.Context) (string, error) {
	var chainID hexutil.Big
	if err := p.call(ctx, &chainID, "eth_chainId"); err != nil {
		return "", err
	}
	return models.NormalizeChainID(chainID.String()), nil
}

// SwitchChain 请求钱包切换链
func (p *RPCProvider) SwitchChain(ctx context.Context, chainID string) error {
	return p.call(ctx, nil, "wallet_switchEthereumChain", switchChainParams{ChainID: chainID})
}

// AddChain 请求钱包添加链
func (p *RPCProvider) AddChain(ctx context.Context, chain models.ChainInfo) error {
	return p.call(ctx, nil, "wallet_addEthereumChain", chain)
}

// IsConnected 是否仍可访问钱包
func (p *RPCProvider) IsConnected() bool {
	return p.connected.Load()
}

// SendTransaction 交由钱包签名并广播
func (p *RPCProvider) SendTransaction(ctx context.Context, req models.TxRequest) (common.Hash, error) {
	args := sendTxArgs{
		From: req.From,
		To:   req.To,
		Data: req.Data,
	}
	if req.Value != nil {
		args.Value = (*hexutil.Big)(req.Value)
	}
	if req.Gas > 0 {
		gas := hexutil.Uint64(req.Gas)
		args.Gas = &gas
	}

	var hash common.Hash
	if err := p.call(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// Close 关闭连接
func (p *RPCProvider) Close() {
	if p.connected.CompareAndSwap(true, false) {
		p.client.Close()
	}
}

// call 调用钱包方法，保留 rpc.Error 以便识别错误码
func (p *RPCProvider) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if !p.connected.Load() {
		return fmt.Errorf("钱包连接已关闭")
	}

	err := p.client.CallContext(ctx, result, method, args...)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"method": method,
			"error":  err.Error(),
		}).Debug("钱包请求失败")
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}
