package workflow

import (
	"context"
	"time"

	"w3up/internal/metrics"
	"w3up/pkg/models"

	"github.com/sirupsen/logrus"
)

// Refresher 重新拉取注册表并整体替换快照
type Refresher struct {
	fetcher Fetcher
	store   *Store
	metrics metrics.Recorder
	logger  *logrus.Entry
}

// NewRefresher 创建刷新器
func NewRefresher(fetcher Fetcher, store *Store, recorder metrics.Recorder, logger *logrus.Logger) *Refresher {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Refresher{
		fetcher: fetcher,
		store:   store,
		metrics: recorder,
		logger:  logger.WithField("component", "refresher"),
	}
}

// Refresh 拉取失败时记录日志并保留上一次快照
func (r *Refresher) Refresh(ctx context.Context) error {
	session := r.store.Snapshot().Session
	if !session.IsConnected() {
		r.logger.Debug("未连接账户，跳过刷新")
		return nil
	}

	if r.store.BeginPhase(models.PhaseRefreshing) {
		defer r.store.EndPhase(models.PhaseRefreshing)
	}

	start := time.Now()
	mints, err := r.fetcher.FetchAll(ctx, session)
	r.metrics.RefreshFinished(err == nil, time.Since(start), len(mints))
	if err != nil {
		r.logger.WithError(err).Warn("刷新注册表失败，保留上一次结果")
		return err
	}

	r.store.ReplaceMints(mints)
	r.logger.WithField("count", len(mints)).Info("注册表已刷新")
	return nil
}
