package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"w3up/internal/retry"
	"w3up/pkg/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
)

// Backend 合约读取和回执查询所需的节点能力（*ethclient.Client 满足）
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Sender 交易发送方（钱包）
type Sender interface {
	SendTransaction(ctx context.Context, req models.TxRequest) (common.Hash, error)
}

// Contract 注册合约绑定
type Contract struct {
	address      common.Address
	abi          abi.ABI
	backend      Backend
	retrier      *retry.Retrier
	pollInterval time.Duration
	logger       *logrus.Entry
}

// NewContract 创建合约绑定
func NewContract(address common.Address, backend Backend, retrier *retry.Retrier, pollInterval time.Duration, logger *logrus.Logger) (*Contract, error) {
	parsed, err := abi.JSON(strings.NewReader(RegistryABI))
	if err != nil {
		return nil, fmt.Errorf("解析合约ABI失败: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if retrier == nil {
		retrier = retry.NewRetrier(retry.ReadRetryConfig, logger)
	}

	return &Contract{
		address:      address,
		abi:          parsed,
		backend:      backend,
		retrier:      retrier,
		pollInterval: pollInterval,
		logger:       logger.WithField("component", "registry"),
	}, nil
}

// Address 合约地址
func (c *Contract) Address() common.Address {
	return c.address
}

// Register 提交注册交易，value 为支付金额（wei）
func (c *Contract) Register(ctx context.Context, sender Sender, from common.Address, name string, value *big.Int) (common.Hash, error) {
	data, err := c.abi.Pack(methodRegister, name)
	if err != nil {
		return common.Hash{}, fmt.Errorf("编码 register 失败: %w", err)
	}
	return c.transact(ctx, sender, from, value, data, methodRegister)
}

// SetRecord 提交设置记录交易
func (c *Contract) SetRecord(ctx context.Context, sender Sender, from common.Address, name, record string) (common.Hash, error) {
	data, err := c.abi.Pack(methodSetRecord, name, record)
	if err != nil {
		return common.Hash{}, fmt.Errorf("编码 setRecord 失败: %w", err)
	}
	return c.transact(ctx, sender, from, nil, data, methodSetRecord)
}

func (c *Contract) transact(ctx context.Context, sender Sender, from common.Address, value *big.Int, data []byte, method string) (common.Hash, error) {
	hash, err := sender.SendTransaction(ctx, models.TxRequest{
		From:  from,
		To:    c.address,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: %w", method, err)
	}

	c.logger.WithFields(logrus.Fields{
		"method":  method,
		"tx_hash": hash.Hex(),
	}).Info("交易已提交")
	return hash, nil
}

// WaitReceipt 轮询直到交易被打包
func (c *Contract) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			c.logger.WithFields(logrus.Fields{
				"tx_hash": hash.Hex(),
				"status":  receipt.Status,
			}).Debug("已获取交易回执")
			return receipt, nil
		}
		if err != nil && !stderrors.Is(err, ethereum.NotFound) && !retry.IsRetryableError(err) {
			return nil, fmt.Errorf("查询交易回执 %s 失败: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetAllNames 所有已注册名称
func (c *Contract) GetAllNames(ctx context.Context) ([]string, error) {
	var names []string
	err := c.call(ctx, &names, methodGetAllNames)
	return names, err
}

// Record 名称的记录
func (c *Contract) Record(ctx context.Context, name string) (string, error) {
	var record string
	err := c.call(ctx, &record, methodRecords, name)
	return record, err
}

// Owner 名称的所有者
func (c *Contract) Owner(ctx context.Context, name string) (common.Address, error) {
	var owner common.Address
	err := c.call(ctx, &owner, methodDomains, name)
	return owner, err
}

// call 只读调用，瞬时错误按重试配置重试
func (c *Contract) call(ctx context.Context, out interface{}, method string, args ...interface{}) error {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("编码 %s 失败: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &c.address, Data: data}
	result, err := retry.Do(ctx, c.retrier, method, func() ([]byte, error) {
		out, err := c.backend.CallContract(ctx, msg, nil)
		// 节点已给出JSON-RPC错误（如revert），重试结果不变
		var rpcErr rpc.Error
		if stderrors.As(err, &rpcErr) {
			return nil, retry.NewRetryableError(err, false)
		}
		return out, err
	})
	if err != nil {
		return fmt.Errorf("调用 %s 失败: %w", method, err)
	}

	values, err := c.abi.Unpack(method, result)
	if err != nil {
		return fmt.Errorf("解码 %s 返回值失败: %w", method, err)
	}
	if len(values) == 0 {
		return fmt.Errorf("%s 没有返回值", method)
	}

	return assign(out, values[0], method)
}

func assign(out interface{}, value interface{}, method string) error {
	switch dst := out.(type) {
	case *[]string:
		v, ok := value.([]string)
		if !ok {
			return fmt.Errorf("%s 返回类型 %T 不是 []string", method, value)
		}
		*dst = v
	case *string:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s 返回类型 %T 不是 string", method, value)
		}
		*dst = v
	case *common.Address:
		v, ok := value.(common.Address)
		if !ok {
			return fmt.Errorf("%s 返回类型 %T 不是 address", method, value)
		}
		*dst = v
	default:
		return fmt.Errorf("不支持的输出类型 %T", out)
	}
	return nil
}
