package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"w3up/internal/errors"
	"w3up/pkg/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// KeyBackend 本地签名所需的节点能力（*ethclient.Client 满足）
type KeyBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// KeyProvider 以本地私钥签名的无界面钱包，只能工作在节点所在的链上
type KeyProvider struct {
	key     *ecdsa.PrivateKey
	address common.Address
	backend KeyBackend
	closer  func()
	logger  *logrus.Entry

	mu      sync.Mutex
	chainID *big.Int
	closed  bool
}

// NewKeyProvider 创建私钥钱包
func NewKeyProvider(hexKey string, backend KeyBackend, logger *logrus.Logger) (*KeyProvider, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}

	return &KeyProvider{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		backend: backend,
		logger:  logger.WithField("component", "key_wallet"),
	}, nil
}

// DialKeyProvider 连接节点并创建私钥钱包
func DialKeyProvider(ctx context.Context, rpcURL, hexKey string, logger *logrus.Logger) (*KeyProvider, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接节点 %s 失败: %w", rpcURL, err)
	}
	p, err := NewKeyProvider(hexKey, client, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	p.closer = client.Close
	return p, nil
}

// Address 钱包地址
func (p *KeyProvider) Address() common.Address {
	return p.address
}

// RequestAccounts 私钥钱包无需授权
func (p *KeyProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{p.address}, nil
}

// Accounts 已授权账户
func (p *KeyProvider) Accounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{p.address}, nil
}

// ChainID 节点链ID
func (p *KeyProvider) ChainID(ctx context.Context) (string, error) {
	id, err := p.chain(ctx)
	if err != nil {
		return "", err
	}
	return hexutil.EncodeBig(id), nil
}

func (p *KeyProvider) chain(ctx context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.chainID != nil {
		return p.chainID, nil
	}
	id, err := p.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链ID失败: %w", err)
	}
	p.chainID = id
	return id, nil
}

// SwitchChain 只接受节点当前所在的链
func (p *KeyProvider) SwitchChain(ctx context.Context, chainID string) error {
	current, err := p.ChainID(ctx)
	if err != nil {
		return err
	}
	if models.NormalizeChainID(chainID) == current {
		return nil
	}
	return errors.ErrProvider.Wrap(fmt.Errorf("私钥钱包无法切换链: 当前 %s, 请求 %s", current, chainID)).
		WithComponent("key_wallet")
}

// AddChain 私钥钱包不支持添加链
func (p *KeyProvider) AddChain(ctx context.Context, chain models.ChainInfo) error {
	return p.SwitchChain(ctx, chain.ChainID)
}

// IsConnected 是否可用
func (p *KeyProvider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// SendTransaction 本地签名并广播交易
func (p *KeyProvider) SendTransaction(ctx context.Context, req models.TxRequest) (common.Hash, error) {
	if req.From != (common.Address{}) && req.From != p.address {
		return common.Hash{}, fmt.Errorf("发送方 %s 不是当前钱包地址", req.From.Hex())
	}

	chainID, err := p.chain(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := p.backend.PendingNonceAt(ctx, p.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("获取nonce失败: %w", err)
	}

	gasPrice, err := p.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("获取gas价格失败: %w", err)
	}

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}

	gas := req.Gas
	if gas == 0 {
		to := req.To
		gas, err = p.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  p.address,
			To:    &to,
			Value: value,
			Data:  req.Data,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("估算gas失败: %w", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &req.To,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     req.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), p.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("签名交易失败: %w", err)
	}

	if err := p.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("发送交易失败: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"tx_hash": signed.Hash().Hex(),
		"nonce":   nonce,
		"gas":     gas,
	}).Debug("交易已广播")

	return signed.Hash(), nil
}

// Close 关闭节点连接
func (p *KeyProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.closer != nil {
		p.closer()
	}
}
