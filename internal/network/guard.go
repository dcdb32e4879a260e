package network

import (
	"context"

	"w3up/internal/errors"
	"w3up/pkg/models"

	"github.com/sirupsen/logrus"
)

// ChainSwitcher 钱包的链切换能力
type ChainSwitcher interface {
	SwitchChain(ctx context.Context, chainID string) error
	AddChain(ctx context.Context, chain models.ChainInfo) error
}

// Guard 网络守卫：判断是否在目标链上，并提供切换操作
type Guard struct {
	target   models.ChainInfo
	targetID string
	logger   *logrus.Entry
}

// NewGuard 创建网络守卫
func NewGuard(target models.ChainInfo, logger *logrus.Logger) *Guard {
	return &Guard{
		target:   target,
		targetID: models.NormalizeChainID(target.ChainID),
		logger:   logger.WithField("component", "network_guard"),
	}
}

// Target 目标链信息
func (g *Guard) Target() models.ChainInfo {
	return g.target
}

// IsOnTargetNetwork 会话链ID是否为目标链（忽略大小写）
func (g *Guard) IsOnTargetNetwork(session models.Session) bool {
	if !session.HasChain() {
		return false
	}
	return models.NormalizeChainID(session.ChainID) == g.targetID
}

// Describe 会话所在网络的显示名称
func (g *Guard) Describe(session models.Session) string {
	if g.IsOnTargetNetwork(session) && g.target.ChainName != "" {
		return g.target.ChainName
	}
	return Label(session.ChainID)
}

// SwitchToTargetNetwork 切换到目标链；钱包不认识该链(4902)时改为添加链，添加请求本身完成切换
func (g *Guard) SwitchToTargetNetwork(ctx context.Context, switcher ChainSwitcher) error {
	if switcher == nil {
		g.logger.Warn("未检测到钱包，无法切换网络")
		return errors.ErrNoWalletFound.Wrap(nil).WithComponent("network_guard")
	}

	err := switcher.SwitchChain(ctx, g.targetID)
	if err == nil {
		g.logger.WithField("chain_id", g.targetID).Info("已切换到目标网络")
		return nil
	}

	if !errors.IsChainUnknown(err) {
		return g.switchFailed(err)
	}

	g.logger.WithField("chain_id", g.targetID).Info("钱包中没有目标链，尝试添加")
	chain := g.target
	chain.ChainID = g.targetID
	if addErr := switcher.AddChain(ctx, chain); addErr != nil {
		return g.switchFailed(addErr)
	}

	g.logger.WithField("chain_id", g.targetID).Info("已添加并切换到目标网络")
	return nil
}

// switchFailed 记录失败并返回提示用户手动切换的错误
func (g *Guard) switchFailed(err error) error {
	classified := errors.Classify(err)
	g.logger.WithError(err).WithField("error_type", classified.Type.String()).Error("切换网络失败")

	if classified.Type == errors.ErrorTypeUserRejected {
		return classified.Clone().WithComponent("network_guard")
	}
	return errors.ErrSwitchNetworkFailed.Wrap(err).
		WithComponent("network_guard").
		WithContext("target_chain", g.target.ChainName)
}
