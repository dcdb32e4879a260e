package wallet

import (
	"context"
	"sync"

	"w3up/internal/errors"
	"w3up/pkg/models"

	"github.com/sirupsen/logrus"
)

// SessionListener 会话变更回调
type SessionListener func(session models.Session)

// SessionManager 钱包会话管理器，持有当前账户和链
type SessionManager struct {
	provider Provider
	logger   *logrus.Entry

	mu        sync.RWMutex
	session   models.Session
	listeners []SessionListener
}

// NewSessionManager 创建会话管理器，provider 为 nil 表示未检测到钱包
func NewSessionManager(provider Provider, logger *logrus.Logger) *SessionManager {
	return &SessionManager{
		provider: provider,
		logger:   logger.WithField("component", "session"),
	}
}

// Provider 当前钱包
func (m *SessionManager) Provider() Provider {
	return m.provider
}

// HasProvider 是否检测到钱包
func (m *SessionManager) HasProvider() bool {
	return m.provider != nil && m.provider.IsConnected()
}

// Session 缓存的会话
func (m *SessionManager) Session() models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// OnChange 注册会话变更回调
func (m *SessionManager) OnChange(listener SessionListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// Connect 请求钱包授权并建立会话
func (m *SessionManager) Connect(ctx context.Context) (models.Session, error) {
	if !m.HasProvider() {
		m.logger.Warn("未检测到钱包")
		return m.Session(), errors.ErrNoWalletFound.Wrap(nil).WithComponent("session")
	}

	accounts, err := m.provider.RequestAccounts(ctx)
	if err != nil {
		return m.Session(), m.providerFailed(err, "请求账户授权失败")
	}
	if len(accounts) == 0 {
		return m.Session(), m.providerFailed(errors.ErrUserRejected, "钱包未返回账户")
	}

	chainID, err := m.provider.ChainID(ctx)
	if err != nil {
		return m.Session(), m.providerFailed(err, "获取链ID失败")
	}

	session := models.Session{
		Account: accounts[0],
		ChainID: models.NormalizeChainID(chainID),
	}
	m.logger.WithFields(logrus.Fields{
		"account":  session.Account.Hex(),
		"chain_id": session.ChainID,
	}).Info("钱包已连接")

	m.replace(session)
	return session, nil
}

// CurrentSession 不弹窗地读取已授权账户和当前链
func (m *SessionManager) CurrentSession(ctx context.Context) (models.Session, error) {
	if !m.HasProvider() {
		m.logger.Debug("未检测到钱包，会话为空")
		return m.Session(), errors.ErrNoWalletFound.Wrap(nil).WithComponent("session")
	}

	chainID, err := m.provider.ChainID(ctx)
	if err != nil {
		return m.Session(), m.providerFailed(err, "获取链ID失败")
	}

	accounts, err := m.provider.Accounts(ctx)
	if err != nil {
		return m.Session(), m.providerFailed(err, "查询已授权账户失败")
	}

	session := models.Session{ChainID: models.NormalizeChainID(chainID)}
	if len(accounts) > 0 {
		session.Account = accounts[0]
		m.logger.WithField("account", session.Account.Hex()).Info("发现已授权账户")
	} else {
		m.logger.Info("没有已授权账户")
	}

	m.replace(session)
	return session, nil
}

// HandleChainChanged 链变更后就地重新推导会话，失败时会话保持不变
func (m *SessionManager) HandleChainChanged(ctx context.Context, chainID string) error {
	m.logger.WithFields(logrus.Fields{
		"from": m.Session().ChainID,
		"to":   models.NormalizeChainID(chainID),
	}).Info("检测到链变更，重新加载会话")

	if _, err := m.CurrentSession(ctx); err != nil {
		m.logger.WithError(err).Warn("链变更后重新加载会话失败")
		return err
	}
	return nil
}

// Disconnect 清空会话
func (m *SessionManager) Disconnect() {
	m.replace(models.Session{})
}

// replace 整体替换会话并通知监听者
func (m *SessionManager) replace(session models.Session) {
	m.mu.Lock()
	changed := m.session != session
	m.session = session
	listeners := make([]SessionListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if !changed {
		return
	}
	for _, l := range listeners {
		l(session)
	}
}

// providerFailed 记录钱包错误，会话保持不变
func (m *SessionManager) providerFailed(err error, msg string) error {
	classified := errors.Classify(err).Clone().WithComponent("session")
	m.logger.WithError(err).WithField("error_type", classified.Type.String()).Warn(msg)
	return classified
}
