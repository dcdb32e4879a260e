package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"w3up/pkg/models"

	"github.com/sirupsen/logrus"
)

// Output 事件输出接口
type Output interface {
	WriteEvent(event *models.Event) error
	WriteTx(tx *models.TxRecord) error
	Close() error
}

// KafkaSettings Kafka输出参数
type KafkaSettings struct {
	Brokers []string
	Topics  map[string]string
}

// NewOutputWithConfig 根据格式创建输出器
func NewOutputWithConfig(format, directory string, kafka *KafkaSettings, logger *logrus.Logger) (Output, error) {
	switch format {
	case "", "none":
		return NopOutput{}, nil
	case "json", "file":
		return NewFileOutput(directory, logger)
	case "kafka":
		if kafka == nil || len(kafka.Brokers) == 0 {
			return nil, fmt.Errorf("kafka输出需要配置brokers")
		}
		return NewKafkaOutput(kafka.Brokers, kafka.Topics, logger)
	default:
		return nil, fmt.Errorf("不支持的输出格式: %s", format)
	}
}

// NopOutput 丢弃所有事件
type NopOutput struct{}

func (NopOutput) WriteEvent(*models.Event) error { return nil }
func (NopOutput) WriteTx(*models.TxRecord) error { return nil }
func (NopOutput) Close() error                   { return nil }

// FileOutput 以JSON行写入本地文件
type FileOutput struct {
	mu        sync.Mutex
	directory string
	logger    *logrus.Logger
	files     map[string]*os.File
	stamp     string
}

// NewFileOutput 创建文件输出器
func NewFileOutput(directory string, logger *logrus.Logger) (*FileOutput, error) {
	if directory == "" {
		directory = "./outputs"
	}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	return &FileOutput{
		directory: directory,
		logger:    logger,
		files:     make(map[string]*os.File),
		stamp:     time.Now().Format("20060102_150405"),
	}, nil
}

// getFile 按数据类型获取输出文件
func (f *FileOutput) getFile(dataType string) (*os.File, error) {
	if file, ok := f.files[dataType]; ok {
		return file, nil
	}

	name := filepath.Join(f.directory, fmt.Sprintf("%s_%s.jsonl", dataType, f.stamp))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("创建输出文件失败: %w", err)
	}

	f.files[dataType] = file
	f.logger.Debugf("创建输出文件: %s", name)
	return file, nil
}

func (f *FileOutput) writeJSON(dataType string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化数据失败: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := f.getFile(dataType)
	if err != nil {
		return err
	}
	if _, err := file.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("写入%s失败: %w", dataType, err)
	}
	return file.Sync()
}

// WriteEvent 写入状态事件
func (f *FileOutput) WriteEvent(event *models.Event) error {
	if event == nil {
		return nil
	}
	return f.writeJSON("events", event)
}

// WriteTx 写入交易记录
func (f *FileOutput) WriteTx(tx *models.TxRecord) error {
	if tx == nil {
		return nil
	}
	return f.writeJSON("transactions", tx)
}

// Files 已创建的输出文件路径
func (f *FileOutput) Files() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]string, len(f.files))
	for k, file := range f.files {
		out[k] = file.Name()
	}
	return out
}

// Close 关闭所有文件
func (f *FileOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for k, file := range f.files {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(f.files, k)
	}
	return firstErr
}

// Forwarder 返回转发状态事件的监听函数
// 交易事件同时写入交易流，写入失败只记录日志。
func Forwarder(out Output, logger *logrus.Logger) func(models.Event) {
	return func(event models.Event) {
		if err := out.WriteEvent(&event); err != nil {
			logger.WithError(err).WithField("event", event.Type).Warn("写入事件失败")
		}
		if event.Tx == nil {
			return
		}
		if event.Type != models.EventTxSubmitted && event.Type != models.EventTxConfirmed {
			return
		}
		if err := out.WriteTx(event.Tx); err != nil {
			logger.WithError(err).WithField("tx_hash", event.Tx.Hash).Warn("写入交易失败")
		}
	}
}
