package workflow

import (
	"context"
	"math/big"
	"time"

	"w3up/internal/errors"
	"w3up/internal/metrics"
	"w3up/internal/validation"
	"w3up/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// Deps 工作流依赖
type Deps struct {
	Session   SessionSource
	Gate      NetworkGate
	Registry  Registry
	Validator *validation.Validator
	Store     *Store
	Refresher *Refresher
	Journal   TxJournal
	Errors    *errors.ErrorHandler
	Metrics   metrics.Recorder
	Logger    *logrus.Logger
}

func (d *Deps) defaults() {
	if d.Metrics == nil {
		d.Metrics = metrics.NoopRecorder{}
	}
	if d.Errors == nil {
		d.Errors = errors.NewErrorHandler(d.Logger)
	}
	if d.Validator == nil {
		d.Validator = validation.NewValidator(d.Logger, false)
	}
}

// BindAlerts 面向用户的错误转为状态中的提示
func BindAlerts(handler *errors.ErrorHandler, store *Store) {
	handler.UseAlerts(func(err *errors.AppError) {
		store.Alert(err.UserMessage())
	})
}

// txRunner 提交交易、等待回执并记录流水
type txRunner struct {
	deps   Deps
	logger *logrus.Entry
}

// submit 提交交易并发布 tx_submitted
func (t *txRunner) submit(kind models.TxKind, req models.DomainRequest, from common.Address, value *big.Int, send func() (common.Hash, error)) (*models.TxRecord, error) {
	hash, err := send()
	if err != nil {
		return nil, err
	}

	tx := &models.TxRecord{
		Hash:        hash.Hex(),
		Kind:        kind,
		Name:        req.Name,
		Value:       value,
		From:        from.Hex(),
		Status:      models.TxStatusPending,
		SubmittedAt: time.Now(),
	}
	if kind == models.TxKindSetRecord {
		tx.Record = req.Record
	}

	t.deps.Metrics.TxSubmitted(string(kind))
	t.journal(tx)
	t.deps.Store.RecordTx(models.EventTxSubmitted, tx)
	t.logger.WithFields(logrus.Fields{
		"kind":    string(kind),
		"name":    req.Name,
		"tx_hash": tx.Hash,
	}).Info("交易已提交，等待确认")
	return tx, nil
}

// confirm 等待回执；回执状态失败时返回交易失败错误
func (t *txRunner) confirm(ctx context.Context, tx *models.TxRecord) error {
	t.deps.Store.SetPhase(models.PhaseConfirming)

	receipt, err := t.deps.Registry.WaitReceipt(ctx, common.HexToHash(tx.Hash))
	if err != nil {
		return errors.ErrProvider.Wrap(err).WithTxHash(tx.Hash).WithContext("kind", string(tx.Kind))
	}

	tx.ApplyReceipt(receipt)
	t.deps.Metrics.TxConfirmed(string(tx.Kind), string(tx.Status), tx.ConfirmedAt.Sub(tx.SubmittedAt))
	t.journal(tx)
	t.deps.Store.RecordTx(models.EventTxConfirmed, tx)

	if tx.Status != models.TxStatusSuccess {
		return errors.ErrTransactionFailed.Wrap(nil).
			WithTxHash(tx.Hash).
			WithContext("kind", string(tx.Kind)).
			WithContext("name", tx.Name)
	}

	t.logger.WithFields(logrus.Fields{
		"kind":         string(tx.Kind),
		"tx_hash":      tx.Hash,
		"block_number": tx.BlockNumber,
	}).Info("交易已确认")
	return nil
}

func (t *txRunner) journal(tx *models.TxRecord) {
	if t.deps.Journal == nil {
		return
	}
	if err := t.deps.Journal.SaveTx(tx); err != nil {
		t.logger.WithError(err).WithField("tx_hash", tx.Hash).Warn("保存交易流水失败")
	}
}

// fail 工作流边界统一处理错误
func (t *txRunner) fail(ctx context.Context, workflow string, err error) error {
	handled := t.deps.Errors.HandleError(ctx, err)
	t.deps.Metrics.WorkflowFinished(workflow, outcome(handled))
	if handled == nil {
		return nil
	}
	return handled
}

// requireWallet 需要已连接账户和钱包
func (t *txRunner) requireWallet() (models.Session, Sender, error) {
	session := t.deps.Session.Session()
	if !session.IsConnected() {
		return session, nil, errors.ErrNotConnected.Wrap(nil)
	}
	provider := t.deps.Session.Provider()
	if provider == nil {
		return session, nil, errors.ErrNoWalletFound.Wrap(nil)
	}
	return session, provider, nil
}

func outcome(err *errors.AppError) string {
	if err == nil {
		return "success"
	}
	switch err.Type {
	case errors.ErrorTypeValidation:
		return "invalid"
	case errors.ErrorTypeUserRejected:
		return "rejected"
	case errors.ErrorTypeBusy:
		return "busy"
	case errors.ErrorTypeWrongNetwork:
		return "wrong_network"
	case errors.ErrorTypeTransactionFailed:
		return "failed"
	default:
		return "error"
	}
}
