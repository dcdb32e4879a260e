package workflow

import (
	"context"

	"w3up/internal/errors"
	"w3up/internal/network"
	"w3up/internal/wallet"
	"w3up/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Coordinator 将会话、网络守卫和各流程串联起来，CLI 与 API 只与它交互
type Coordinator struct {
	sessions  *wallet.SessionManager
	guard     *network.Guard
	store     *Store
	refresher *Refresher
	registrar *Registrar
	updater   *RecordUpdater
	errs      *errors.ErrorHandler
	logger    *logrus.Entry
}

// NewCoordinator 创建协调器并订阅会话变更
func NewCoordinator(sessions *wallet.SessionManager, guard *network.Guard, store *Store, refresher *Refresher,
	registrar *Registrar, updater *RecordUpdater, errs *errors.ErrorHandler, logger *logrus.Logger) *Coordinator {
	c := &Coordinator{
		sessions:  sessions,
		guard:     guard,
		store:     store,
		refresher: refresher,
		registrar: registrar,
		updater:   updater,
		errs:      errs,
		logger:    logger.WithField("component", "coordinator"),
	}
	sessions.OnChange(c.onSessionChanged)
	return c
}

// Store 状态存储
func (c *Coordinator) Store() *Store {
	return c.store
}

// Guard 网络守卫
func (c *Coordinator) Guard() *network.Guard {
	return c.guard
}

// Init 不弹窗地读取已有会话
func (c *Coordinator) Init(ctx context.Context) error {
	session, err := c.sessions.CurrentSession(ctx)
	if err != nil {
		// 未安装钱包时只记录，不打断加载
		if errors.IsType(err, errors.ErrorTypeNoWallet) {
			c.logger.Info("未检测到钱包，等待用户连接")
			c.publish(session)
			return nil
		}
		return c.errs.HandleError(ctx, err)
	}
	c.publish(session)
	return nil
}

// Connect 连接钱包
func (c *Coordinator) Connect(ctx context.Context) (models.Session, error) {
	session, err := c.sessions.Connect(ctx)
	if err != nil {
		return session, c.errs.HandleError(ctx, err)
	}
	return session, nil
}

// Disconnect 清空本地会话，钱包中的授权不受影响
func (c *Coordinator) Disconnect() {
	c.sessions.Disconnect()
}

// SwitchNetwork 切换到目标网络
func (c *Coordinator) SwitchNetwork(ctx context.Context) error {
	var switcher network.ChainSwitcher
	if c.sessions.HasProvider() {
		switcher = c.sessions.Provider()
	}

	if err := c.guard.SwitchToTargetNetwork(ctx, switcher); err != nil {
		handled := c.errs.HandleError(ctx, err)
		// 未检测到钱包的提示已由错误回调发出，其余失败提示用户手动切换
		if handled.Type != errors.ErrorTypeNoWallet {
			c.store.Alert(errors.ErrSwitchNetworkFailed.UserMessage())
		}
		return handled
	}

	// 切换成功后立即重新推导会话；失败时由链变更监听重试
	if err := c.sessions.HandleChainChanged(ctx, c.guard.Target().ChainID); err != nil {
		c.logger.WithError(err).Debug("切换网络后重新加载会话失败")
	}
	return nil
}

// Mint 铸造
func (c *Coordinator) Mint(ctx context.Context, req models.DomainRequest) (*MintResult, error) {
	return c.registrar.Mint(ctx, req)
}

// UpdateRecord 更新记录
func (c *Coordinator) UpdateRecord(ctx context.Context, req models.DomainRequest) (*models.TxRecord, error) {
	return c.updater.Update(ctx, req)
}

// Refresh 手动刷新，失败保留旧快照
func (c *Coordinator) Refresh(ctx context.Context) error {
	if err := c.refresher.Refresh(ctx); err != nil {
		return c.errs.HandleError(ctx, err)
	}
	return nil
}

// Close 停止尚未执行的延迟刷新
func (c *Coordinator) Close() {
	c.registrar.Close()
}

// Price 域名价格，长度不合法时返回验证错误
func (c *Coordinator) Price(name string) (MintQuote, error) {
	length := models.DomainLength(name)
	quote := MintQuote{
		Name:   name,
		Length: length,
		Price:  models.PriceFor(length),
		Symbol: c.guard.Target().NativeCurrency.Symbol,
	}
	if length < models.MinDomainLength {
		return quote, errors.ErrDomainTooShort.Wrap(nil)
	}
	if length > models.MaxDomainLength {
		return quote, errors.ErrDomainTooLong.Wrap(nil)
	}
	return quote, nil
}

// onSessionChanged 会话或网络变化后更新状态，在目标链上时刷新注册表
func (c *Coordinator) onSessionChanged(session models.Session) {
	c.publish(session)

	if session.IsConnected() && c.guard.IsOnTargetNetwork(session) {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := c.refresher.Refresh(ctx); err != nil {
			c.logger.WithError(err).Warn("会话变更后刷新注册表失败")
		}
	}
}

func (c *Coordinator) publish(session models.Session) {
	c.store.SetSession(session, c.guard.Describe(session), c.guard.IsOnTargetNetwork(session))
}

// MintQuote 价格报价
type MintQuote struct {
	Name   string          `json:"name"`
	Length int             `json:"length"`
	Price  decimal.Decimal `json:"price"`
	Symbol string          `json:"symbol"`
}
