package workflow

import (
	"context"
	"time"

	"w3up/internal/errors"
	"w3up/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	workflowMint   = "mint"
	workflowUpdate = "update"

	// DefaultRefreshDelay 铸造成功后等待链上状态传播的时间
	DefaultRefreshDelay = 2 * time.Second
	refreshTimeout      = 30 * time.Second
)

// MintResult 铸造结果
type MintResult struct {
	Name       string           `json:"name"`
	Price      decimal.Decimal  `json:"price"`
	RegisterTx *models.TxRecord `json:"register_tx"`
	RecordTx   *models.TxRecord `json:"record_tx"`
}

// Registrar 铸造流程：register 成功后再 setRecord
type Registrar struct {
	txRunner
	refreshDelay time.Duration
	schedule     Scheduler

	// 延迟刷新挂在 baseCtx 上，Close 后不再执行
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewRegistrar 创建铸造流程，schedule 为 nil 时使用 time.AfterFunc
func NewRegistrar(deps Deps, refreshDelay time.Duration, schedule Scheduler) *Registrar {
	deps.defaults()
	if refreshDelay <= 0 {
		refreshDelay = DefaultRefreshDelay
	}
	if schedule == nil {
		schedule = AfterFunc
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Registrar{
		txRunner: txRunner{
			deps:   deps,
			logger: deps.Logger.WithField("component", "registrar"),
		},
		refreshDelay: refreshDelay,
		schedule:     schedule,
		baseCtx:      baseCtx,
		cancel:       cancel,
	}
}

// InFlight 是否有铸造正在进行
func (r *Registrar) InFlight() bool {
	return r.deps.Store.Owner() == workflowMint
}

// Close 取消尚未执行的延迟刷新
func (r *Registrar) Close() {
	r.cancel()
}

// Mint 铸造域名并设置记录
func (r *Registrar) Mint(ctx context.Context, req models.DomainRequest) (*MintResult, error) {
	// 与记录更新共用一个控制权，互相排斥
	if !r.deps.Store.Acquire(workflowMint) {
		return nil, r.fail(ctx, workflowMint, errors.ErrBusy.Wrap(nil).WithComponent("registrar"))
	}
	defer r.deps.Store.Release(workflowMint)

	r.deps.Store.SetRequest(req)

	// 校验在任何链上调用之前完成
	if result := r.deps.Validator.ValidateMintRequest(req); !result.Valid {
		return nil, r.fail(ctx, workflowMint, result.Err())
	}

	session, sender, err := r.requireWallet()
	if err != nil {
		return nil, r.fail(ctx, workflowMint, err)
	}
	if !r.deps.Gate.IsOnTargetNetwork(session) {
		return nil, r.fail(ctx, workflowMint, errors.ErrWrongNetwork.Wrap(nil).WithContext("chain_id", session.ChainID))
	}

	length := models.DomainLength(req.Name)
	result := &MintResult{
		Name:  req.Name,
		Price: models.PriceFor(length),
	}
	value := models.PriceWei(length)

	r.logger.WithFields(logrus.Fields{
		"name":  req.Name,
		"price": result.Price.String(),
	}).Info("开始铸造域名")

	defer r.deps.Store.Settle()
	r.deps.Store.SetPhase(models.PhaseSubmitting)

	regTx, err := r.submit(models.TxKindRegister, req, session.Account, value, func() (common.Hash, error) {
		return r.deps.Registry.Register(ctx, sender, session.Account, req.Name, value)
	})
	if err != nil {
		return nil, r.fail(ctx, workflowMint, err)
	}
	result.RegisterTx = regTx

	if err := r.confirm(ctx, regTx); err != nil {
		return result, r.fail(ctx, workflowMint, err)
	}

	r.deps.Store.SetPhase(models.PhaseSubmitting)
	recTx, err := r.submit(models.TxKindSetRecord, req, session.Account, nil, func() (common.Hash, error) {
		return r.deps.Registry.SetRecord(ctx, sender, session.Account, req.Name, req.Record)
	})
	if err != nil {
		// 已铸造但未设置记录，是可接受的中间状态
		return result, r.fail(ctx, workflowMint, err)
	}
	result.RecordTx = recTx

	if err := r.confirm(ctx, recTx); err != nil {
		return result, r.fail(ctx, workflowMint, err)
	}

	r.deps.Store.ClearRequest()
	r.deps.Metrics.WorkflowFinished(workflowMint, "success")
	r.logger.WithField("name", req.Name).Info("域名铸造完成")

	r.schedule(r.refreshDelay, r.delayedRefresh)

	return result, nil
}

// delayedRefresh 铸造后的延迟刷新，Close 之后直接跳过
func (r *Registrar) delayedRefresh() {
	if r.baseCtx.Err() != nil {
		r.logger.Debug("流程已关闭，跳过延迟刷新")
		return
	}
	ctx, cancel := context.WithTimeout(r.baseCtx, refreshTimeout)
	defer cancel()
	if err := r.deps.Refresher.Refresh(ctx); err != nil {
		r.logger.WithError(err).Warn("铸造后刷新注册表失败")
	}
}
