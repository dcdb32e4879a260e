package workflow

import (
	"context"

	"w3up/internal/errors"
	"w3up/pkg/models"

	"github.com/ethereum/go-ethereum/common"
)

// RecordUpdater 更新已拥有域名的记录
type RecordUpdater struct {
	txRunner
}

// NewRecordUpdater 创建记录更新流程
func NewRecordUpdater(deps Deps) *RecordUpdater {
	deps.defaults()
	return &RecordUpdater{
		txRunner: txRunner{
			deps:   deps,
			logger: deps.Logger.WithField("component", "record_updater"),
		},
	}
}

// Update 提交 setRecord，成功后立即刷新注册表
func (u *RecordUpdater) Update(ctx context.Context, req models.DomainRequest) (*models.TxRecord, error) {
	if result := u.deps.Validator.ValidateUpdateRequest(req); !result.Valid {
		return nil, u.fail(ctx, workflowUpdate, result.Err())
	}

	// 铸造进行中或已在 loading 时拒绝
	if !u.deps.Store.Acquire(workflowUpdate) {
		return nil, u.fail(ctx, workflowUpdate, errors.ErrBusy.Wrap(nil).WithComponent("record_updater"))
	}
	defer u.deps.Store.Release(workflowUpdate)
	if !u.deps.Store.TryStartLoading() {
		return nil, u.fail(ctx, workflowUpdate, errors.ErrBusy.Wrap(nil).WithComponent("record_updater"))
	}
	defer u.deps.Store.StopLoading()

	u.deps.Store.SetRequest(req)

	session, sender, err := u.requireWallet()
	if err != nil {
		return nil, u.fail(ctx, workflowUpdate, err)
	}

	// 持有控制权后阶段只由本流程推进，结束时恰好回到空闲一次
	u.deps.Store.SetPhase(models.PhaseSubmitting)
	settled := false
	settle := func() {
		if !settled {
			settled = true
			u.deps.Store.Settle()
		}
	}
	defer settle()

	tx, err := u.submit(models.TxKindSetRecord, req, session.Account, nil, func() (common.Hash, error) {
		return u.deps.Registry.SetRecord(ctx, sender, session.Account, req.Name, req.Record)
	})
	if err != nil {
		return nil, u.fail(ctx, workflowUpdate, err)
	}

	if err := u.confirm(ctx, tx); err != nil {
		return tx, u.fail(ctx, workflowUpdate, err)
	}

	u.deps.Store.ClearRequest()
	u.deps.Metrics.WorkflowFinished(workflowUpdate, "success")
	u.logger.WithField("name", req.Name).Info("记录已更新")

	// 刷新失败不影响更新结果
	settle()
	_ = u.deps.Refresher.Refresh(ctx)

	return tx, nil
}
