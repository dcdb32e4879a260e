package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"w3up/pkg/models"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/journal.db"

	// 存储桶名称
	TxBucket    = "txs"
	IndexBucket = "by_time"
	StatsBucket = "stats"
)

// Stats 交易统计
type Stats struct {
	Total     uint64    `json:"total"`
	Succeeded uint64    `json:"succeeded"`
	Failed    uint64    `json:"failed"`
	Pending   uint64    `json:"pending"`
	LastTxAt  time.Time `json:"last_tx_at,omitempty"`
}

// Journal 交易流水，记录每笔已提交的合约交易及其最终状态
type Journal struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
	mu     sync.RWMutex
}

// Open 打开交易流水数据库
func Open(dbPath string, logger *logrus.Logger) (*Journal, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	// 确保目录存在
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开交易流水数据库失败: %w", err)
	}

	j := &Journal{
		db:     db,
		logger: logger,
		dbPath: dbPath,
	}

	if err := j.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	logger.Infof("交易流水已打开，数据库路径: %s", dbPath)
	return j, nil
}

// initDB 初始化存储桶
func (j *Journal) initDB() error {
	return j.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{TxBucket, IndexBucket, StatsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("创建存储桶 %s 失败: %w", name, err)
			}
		}
		return nil
	})
}

// indexKey 提交时间(纳秒) + 哈希，保证按提交顺序遍历
func indexKey(record *models.TxRecord) []byte {
	key := make([]byte, 8, 8+len(record.Hash))
	binary.BigEndian.PutUint64(key, uint64(record.SubmittedAt.UnixNano()))
	return append(key, record.Hash...)
}

// SaveTx 新增或更新交易
func (j *Journal) SaveTx(record *models.TxRecord) error {
	if record == nil || record.Hash == "" {
		return fmt.Errorf("交易哈希为空")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化交易失败: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	return j.db.Update(func(tx *bolt.Tx) error {
		txs := tx.Bucket([]byte(TxBucket))
		index := tx.Bucket([]byte(IndexBucket))
		if txs == nil || index == nil {
			return fmt.Errorf("交易存储桶不存在")
		}

		var previous *models.TxRecord
		if old := txs.Get([]byte(record.Hash)); old != nil {
			previous = &models.TxRecord{}
			if err := json.Unmarshal(old, previous); err != nil {
				previous = nil
			}
		}

		if err := txs.Put([]byte(record.Hash), data); err != nil {
			return fmt.Errorf("保存交易失败: %w", err)
		}
		if previous == nil {
			if err := index.Put(indexKey(record), []byte(record.Hash)); err != nil {
				return fmt.Errorf("保存交易索引失败: %w", err)
			}
		}

		return j.updateStats(tx, previous, record)
	})
}

// updateStats 按状态变化调整计数
func (j *Journal) updateStats(tx *bolt.Tx, previous, current *models.TxRecord) error {
	bucket := tx.Bucket([]byte(StatsBucket))
	if bucket == nil {
		return fmt.Errorf("统计存储桶不存在")
	}

	stats := readStats(bucket)
	if previous == nil {
		stats.Total++
		stats.LastTxAt = current.SubmittedAt
	} else {
		adjust(&stats, previous.Status, -1)
	}
	adjust(&stats, current.Status, 1)

	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return bucket.Put([]byte("summary"), data)
}

func adjust(stats *Stats, status models.TxStatus, delta int) {
	var counter *uint64
	switch status {
	case models.TxStatusSuccess:
		counter = &stats.Succeeded
	case models.TxStatusFailed:
		counter = &stats.Failed
	default:
		counter = &stats.Pending
	}
	if delta < 0 {
		if *counter > 0 {
			*counter--
		}
		return
	}
	*counter++
}

func readStats(bucket *bolt.Bucket) Stats {
	var stats Stats
	if data := bucket.Get([]byte("summary")); data != nil {
		_ = json.Unmarshal(data, &stats)
	}
	return stats
}

// GetTx 按哈希查询交易
func (j *Journal) GetTx(hash string) (*models.TxRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var record *models.TxRecord
	err := j.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(TxBucket)).Get([]byte(hash))
		if data == nil {
			return nil
		}
		record = &models.TxRecord{}
		return json.Unmarshal(data, record)
	})
	if err != nil {
		return nil, fmt.Errorf("读取交易失败: %w", err)
	}
	return record, nil
}

// History 最近的交易，按提交时间倒序；limit<=0 返回全部
func (j *Journal) History(limit int) ([]models.TxRecord, error) {
	return j.scan(limit, func(*models.TxRecord) bool { return true })
}

// ByName 某个名称相关的交易，按提交时间倒序
func (j *Journal) ByName(name string, limit int) ([]models.TxRecord, error) {
	return j.scan(limit, func(r *models.TxRecord) bool { return r.Name == name })
}

func (j *Journal) scan(limit int, match func(*models.TxRecord) bool) ([]models.TxRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	records := make([]models.TxRecord, 0)
	err := j.db.View(func(tx *bolt.Tx) error {
		txs := tx.Bucket([]byte(TxBucket))
		cursor := tx.Bucket([]byte(IndexBucket)).Cursor()

		for k, hash := cursor.Last(); k != nil; k, hash = cursor.Prev() {
			data := txs.Get(hash)
			if data == nil {
				continue
			}
			var record models.TxRecord
			if err := json.Unmarshal(data, &record); err != nil {
				j.logger.Warnf("跳过无法解析的交易 %s: %v", hash, err)
				continue
			}
			if !match(&record) {
				continue
			}
			records = append(records, record)
			if limit > 0 && len(records) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("读取交易流水失败: %w", err)
	}
	return records, nil
}

// GetStats 获取统计信息
func (j *Journal) GetStats() (Stats, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var stats Stats
	err := j.db.View(func(tx *bolt.Tx) error {
		stats = readStats(tx.Bucket([]byte(StatsBucket)))
		return nil
	})
	return stats, err
}

// Reset 清空流水
func (j *Journal) Reset() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{TxBucket, IndexBucket, StatsBucket} {
			if err := tx.DeleteBucket([]byte(name)); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetDBPath 获取数据库路径
func (j *Journal) GetDBPath() string {
	return j.dbPath
}

// Close 关闭交易流水
func (j *Journal) Close() error {
	if j.db != nil {
		j.logger.Info("关闭交易流水")
		return j.db.Close()
	}
	return nil
}
