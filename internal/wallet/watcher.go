package wallet

import (
	"context"
	"sync"
	"time"

	"w3up/pkg/models"

	"github.com/sirupsen/logrus"
)

// ChainWatcher 轮询钱包链ID，变化时通知会话管理器
type ChainWatcher struct {
	manager  *SessionManager
	interval time.Duration
	logger   *logrus.Entry

	mu      sync.Mutex
	last    string
	retry   bool // 上次重新推导失败，下次轮询即使链未变也重试
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewChainWatcher 创建链变更监听器
func NewChainWatcher(manager *SessionManager, interval time.Duration, logger *logrus.Logger) *ChainWatcher {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &ChainWatcher{
		manager:  manager,
		interval: interval,
		logger:   logger.WithField("component", "chain_watcher"),
	}
}

// Start 启动后台轮询
func (w *ChainWatcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true
	w.last = w.manager.Session().ChainID
	w.retry = !w.manager.Session().IsConnected()

	go w.loop(ctx, w.done)
	w.logger.WithField("interval", w.interval).Info("链变更监听已启动")
}

// Stop 停止轮询并等待退出
func (w *ChainWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
	w.logger.Info("链变更监听已停止")
}

func (w *ChainWatcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll 检查一次链ID
func (w *ChainWatcher) Poll(ctx context.Context) {
	if !w.manager.HasProvider() {
		return
	}

	chainID, err := w.manager.Provider().ChainID(ctx)
	if err != nil {
		w.logger.WithError(err).Debug("查询链ID失败")
		return
	}
	chainID = models.NormalizeChainID(chainID)

	w.mu.Lock()
	due := chainID != w.last || w.retry
	w.last = chainID
	w.mu.Unlock()

	if !due {
		return
	}
	err = w.manager.HandleChainChanged(ctx, chainID)

	w.mu.Lock()
	w.retry = err != nil
	w.mu.Unlock()
}
