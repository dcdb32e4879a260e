package connection

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"w3up/internal/config"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
)

// Client 只读节点客户端，*ethclient.Client 满足该接口
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Dialer 建立节点连接
type Dialer func(ctx context.Context, url string) (Client, error)

// DialEthClient 默认拨号器
func DialEthClient(ctx context.Context, url string) (Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// ErrNoHealthyNode 没有可用节点
var ErrNoHealthyNode = stderrors.New("没有可用的健康节点")

// ConnectionPool 按优先级故障转移的只读节点池
type ConnectionPool struct {
	nodes       []*nodeConn
	dial        Dialer
	logger      *logrus.Logger
	healthCheck time.Duration
	cooldown    time.Duration
	dialTimeout time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// nodeConn 单个节点连接
type nodeConn struct {
	config    *config.NodeConfig
	mu        sync.Mutex
	client    Client
	isHealthy bool
	failures  int
	lastCheck time.Time
	lastError string
}

// NewConnectionPool 创建连接池
func NewConnectionPool(nodes []*config.NodeConfig, dial Dialer, logger *logrus.Logger) *ConnectionPool {
	if dial == nil {
		dial = DialEthClient
	}

	sorted := make([]*config.NodeConfig, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	conns := make([]*nodeConn, 0, len(sorted))
	for _, n := range sorted {
		conns = append(conns, &nodeConn{config: n})
	}

	return &ConnectionPool{
		nodes:       conns,
		dial:        dial,
		logger:      logger,
		healthCheck: 30 * time.Second,
		cooldown:    15 * time.Second,
		dialTimeout: 10 * time.Second,
		stop:        make(chan struct{}),
	}
}

// Initialize 连接所有节点，至少一个成功即可
func (cp *ConnectionPool) Initialize(ctx context.Context) error {
	healthy := 0
	for _, n := range cp.nodes {
		if err := cp.connect(ctx, n); err != nil {
			cp.logger.Warnf("初始化节点 %s 失败: %v", n.config.Name, err)
			continue
		}
		healthy++
		cp.logger.Infof("节点 %s 已连接", n.config.Name)
	}

	if healthy == 0 {
		return ErrNoHealthyNode
	}
	return nil
}

// connect 拨号并测试节点
func (cp *ConnectionPool) connect(ctx context.Context, n *nodeConn) error {
	ctx, cancel := context.WithTimeout(ctx, cp.dialTimeout)
	defer cancel()

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.client == nil {
		client, err := cp.dial(ctx, n.config.URL)
		if err != nil {
			n.markFailed(err)
			return fmt.Errorf("连接节点失败: %w", err)
		}
		n.client = client
	}

	if _, err := n.client.ChainID(ctx); err != nil {
		n.client.Close()
		n.client = nil
		n.markFailed(err)
		return fmt.Errorf("测试连接失败: %w", err)
	}

	n.isHealthy = true
	n.failures = 0
	n.lastError = ""
	n.lastCheck = time.Now()
	return nil
}

func (n *nodeConn) markFailed(err error) {
	n.isHealthy = false
	n.failures++
	n.lastError = err.Error()
	n.lastCheck = time.Now()
}

// candidate 返回可用客户端，冷却期内的故障节点跳过
func (cp *ConnectionPool) candidate(ctx context.Context, n *nodeConn) Client {
	n.mu.Lock()
	healthy, client, since := n.isHealthy, n.client, time.Since(n.lastCheck)
	n.mu.Unlock()

	if healthy && client != nil {
		return client
	}
	if since < cp.cooldown {
		return nil
	}
	if err := cp.connect(ctx, n); err != nil {
		cp.logger.Debugf("节点 %s 重连失败: %v", n.config.Name, err)
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.client
}

// nodeResponded 节点已给出应答的错误，不需要故障转移
func nodeResponded(err error) bool {
	if stderrors.Is(err, ethereum.NotFound) {
		return true
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var rpcErr rpc.Error
	return stderrors.As(err, &rpcErr)
}

// do 按优先级依次尝试节点
func (cp *ConnectionPool) do(ctx context.Context, op string, fn func(Client) error) error {
	var lastErr error
	for _, n := range cp.nodes {
		client := cp.candidate(ctx, n)
		if client == nil {
			continue
		}

		err := fn(client)
		if err == nil || nodeResponded(err) {
			return err
		}

		lastErr = err
		n.mu.Lock()
		n.markFailed(err)
		n.mu.Unlock()
		cp.logger.WithFields(logrus.Fields{
			"node": n.config.Name,
			"op":   op,
		}).Warnf("节点调用失败，切换下一个节点: %v", err)
	}

	if lastErr != nil {
		return fmt.Errorf("%s: 所有节点均失败: %w", op, lastErr)
	}
	return ErrNoHealthyNode
}

// CallContract 只读合约调用
func (cp *ConnectionPool) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := cp.do(ctx, "eth_call", func(c Client) error {
		var err error
		out, err = c.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}

// TransactionReceipt 查询交易回执
func (cp *ConnectionPool) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := cp.do(ctx, "eth_getTransactionReceipt", func(c Client) error {
		var err error
		receipt, err = c.TransactionReceipt(ctx, txHash)
		return err
	})
	return receipt, err
}

// StartHealthCheck 启动后台健康检查
func (cp *ConnectionPool) StartHealthCheck(ctx context.Context) {
	cp.wg.Add(1)
	go func() {
		defer cp.wg.Done()
		ticker := time.NewTicker(cp.healthCheck)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-cp.stop:
				return
			case <-ticker.C:
				cp.checkAll(ctx)
			}
		}
	}()
}

// checkAll 检查所有节点
func (cp *ConnectionPool) checkAll(ctx context.Context) {
	for _, n := range cp.nodes {
		if err := cp.connect(ctx, n); err != nil {
			cp.logger.Warnf("节点 %s 健康检查失败: %v", n.config.Name, err)
			continue
		}
		cp.logger.Debugf("节点 %s 健康检查通过", n.config.Name)
	}
}

// GetStats 获取连接池统计信息
func (cp *ConnectionPool) GetStats() map[string]interface{} {
	stats := make(map[string]interface{}, len(cp.nodes))
	for _, n := range cp.nodes {
		n.mu.Lock()
		nodeStats := map[string]interface{}{
			"url":        n.config.URL,
			"priority":   n.config.Priority,
			"is_healthy": n.isHealthy,
			"failures":   n.failures,
			"last_check": n.lastCheck.Format(time.RFC3339),
		}
		if n.lastError != "" {
			nodeStats["last_error"] = n.lastError
		}
		n.mu.Unlock()
		stats[n.config.Name] = nodeStats
	}
	return stats
}

// Close 关闭连接池
func (cp *ConnectionPool) Close() error {
	cp.stopOnce.Do(func() { close(cp.stop) })
	cp.wg.Wait()

	for _, n := range cp.nodes {
		n.mu.Lock()
		if n.client != nil {
			n.client.Close()
			n.client = nil
		}
		n.isHealthy = false
		n.mu.Unlock()
	}

	cp.logger.Info("连接池已关闭")
	return nil
}
