package registry

import (
	"context"
	"fmt"
	"sync"

	"w3up/internal/errors"
	"w3up/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

// Lookup 注册表只读接口
type Lookup interface {
	GetAllNames(ctx context.Context) ([]string, error)
	Record(ctx context.Context, name string) (string, error)
	Owner(ctx context.Context, name string) (common.Address, error)
}

// Reader 注册表读取器
type Reader struct {
	lookup  Lookup
	workers int
	logger  *logrus.Entry
}

// lookupJob 单个名称的查询任务
type lookupJob struct {
	index  int
	name   string
	record string
	owner  common.Address
	err    error
}

// NewReader 创建读取器，workers 为并发查询数
func NewReader(lookup Lookup, workers int, logger *logrus.Logger) *Reader {
	if workers <= 0 {
		workers = 8
	}
	return &Reader{
		lookup:  lookup,
		workers: workers,
		logger:  logger.WithField("component", "registry_reader"),
	}
}

// FetchAll 拉取全部名称及其记录和所有者，顺序与 getAllNames 一致
func (r *Reader) FetchAll(ctx context.Context, session models.Session) ([]models.MintRecord, error) {
	if !session.IsConnected() {
		return nil, errors.ErrNotConnected.Wrap(nil).WithComponent("registry_reader")
	}

	names, err := r.lookup.GetAllNames(ctx)
	if err != nil {
		r.logger.WithError(err).Warn("获取名称列表失败")
		return nil, errors.ErrProvider.Wrap(err).WithComponent("registry_reader")
	}

	jobs := make([]*lookupJob, len(names))
	for i, name := range names {
		jobs[i] = &lookupJob{index: i, name: name}
	}

	if len(jobs) > 0 {
		if err := r.runLookups(ctx, jobs); err != nil {
			return nil, err
		}
	}

	mints := make([]models.MintRecord, 0, len(jobs))
	var failed []string
	for _, job := range jobs {
		if job.err != nil {
			failed = append(failed, job.name)
			r.logger.WithError(job.err).WithField("name", job.name).Warn("查询名称详情失败")
			continue
		}
		mints = append(mints, models.MintRecord{
			ID:     job.index,
			Name:   job.name,
			Record: job.record,
			Owner:  job.owner,
		})
	}

	// 任一名称失败则整体失败，调用方保留上一次快照
	if len(failed) > 0 {
		return nil, errors.ErrProvider.Wrap(fmt.Errorf("%d 个名称查询失败: %v", len(failed), failed)).
			WithComponent("registry_reader").
			WithContext("failed", len(failed))
	}

	r.logger.WithField("count", len(mints)).Debug("注册表已拉取")
	return mints, nil
}

// runLookups 在协程池中并发查询记录和所有者
func (r *Reader) runLookups(ctx context.Context, jobs []*lookupJob) error {
	var wg sync.WaitGroup

	size := r.workers
	if size > len(jobs) {
		size = len(jobs)
	}
	pool, err := ants.NewPoolWithFunc(size, func(i interface{}) {
		defer wg.Done()
		job := i.(*lookupJob)
		r.lookupOne(ctx, job)
	}, ants.WithPanicHandler(func(p interface{}) {
		r.logger.Errorf("名称查询任务panic: %v", p)
	}))
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeSystem, errors.SeverityHigh,
			"WORKER_POOL_FAILED", "创建查询协程池失败")
	}
	defer pool.Release()

	for _, job := range jobs {
		wg.Add(1)
		if err := pool.Invoke(job); err != nil {
			job.err = err
			wg.Done()
		}
	}
	wg.Wait()

	return nil
}

func (r *Reader) lookupOne(ctx context.Context, job *lookupJob) {
	// 预置错误，panic 时任务仍计为失败
	job.err = fmt.Errorf("查询 %s 未完成", job.name)

	record, err := r.lookup.Record(ctx, job.name)
	if err != nil {
		job.err = fmt.Errorf("records(%s): %w", job.name, err)
		return
	}
	owner, err := r.lookup.Owner(ctx, job.name)
	if err != nil {
		job.err = fmt.Errorf("domains(%s): %w", job.name, err)
		return
	}

	job.record = record
	job.owner = owner
	job.err = nil
}
