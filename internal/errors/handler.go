package errors

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrorHandler 错误处理器：工作流边界统一记录、统计并分发错误
type ErrorHandler struct {
	logger *logrus.Logger
	stats  *ErrorStats
	mu     sync.RWMutex

	// 错误处理策略
	strategies map[ErrorType]ErrorStrategy

	// 错误回调
	callbacks []ErrorCallback
}

// ErrorStrategy 错误处理策略
type ErrorStrategy interface {
	Handle(ctx context.Context, err *AppError) error
}

// ErrorCallback 错误回调函数
type ErrorCallback func(err *AppError)

// LoggingStrategy 日志记录策略
type LoggingStrategy struct {
	logger *logrus.Logger
}

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	eh := &ErrorHandler{
		logger:     logger,
		stats:      NewErrorStats(),
		strategies: make(map[ErrorType]ErrorStrategy),
		callbacks:  make([]ErrorCallback, 0),
	}

	// 所有错误默认记录日志
	loggingStrategy := &LoggingStrategy{logger: logger}
	for errorType := range errorTypeNames {
		eh.strategies[errorType] = loggingStrategy
	}

	return eh
}

// HandleError 处理错误，返回归类后的 AppError
func (eh *ErrorHandler) HandleError(ctx context.Context, err error) *AppError {
	if err == nil {
		return nil
	}

	appErr := Classify(err)

	eh.recordError(appErr)
	eh.executeCallbacks(appErr)

	if strategyErr := eh.executeStrategy(ctx, appErr); strategyErr != nil {
		if classified, ok := As(strategyErr); ok {
			return classified
		}
	}
	return appErr
}

// recordError 记录错误
func (eh *ErrorHandler) recordError(err *AppError) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats.RecordError(err)
}

// executeCallbacks 同步执行错误回调，保证提示在返回前已发出
func (eh *ErrorHandler) executeCallbacks(err *AppError) {
	eh.mu.RLock()
	callbacks := make([]ErrorCallback, len(eh.callbacks))
	copy(callbacks, eh.callbacks)
	eh.mu.RUnlock()

	for _, callback := range callbacks {
		func(cb ErrorCallback) {
			defer func() {
				if r := recover(); r != nil {
					eh.logger.Errorf("错误回调执行时发生panic: %v", r)
				}
			}()
			cb(err)
		}(callback)
	}
}

// executeStrategy 执行处理策略
func (eh *ErrorHandler) executeStrategy(ctx context.Context, err *AppError) error {
	eh.mu.RLock()
	strategy, exists := eh.strategies[err.Type]
	eh.mu.RUnlock()
	if !exists {
		strategy = &LoggingStrategy{logger: eh.logger}
	}

	return strategy.Handle(ctx, err)
}

// Handle 实现LoggingStrategy的处理方法
func (ls *LoggingStrategy) Handle(ctx context.Context, err *AppError) error {
	fields := logrus.Fields{
		"error_type": err.Type.String(),
		"error_code": err.Code,
		"component":  err.Component,
		"retryable":  err.Retryable,
	}
	if err.TxHash != nil {
		fields["tx_hash"] = *err.TxHash
	}
	if len(err.Context) > 0 {
		fields["context"] = err.Context
	}
	if err.Cause != nil {
		fields["cause"] = err.Cause.Error()
	}
	logEntry := ls.logger.WithFields(fields)

	// 错误对会话均非致命，Critical 也只记录为 Error
	switch err.Severity {
	case SeverityLow:
		logEntry.Debug(err.Message)
	case SeverityMedium:
		logEntry.Warn(err.Message)
	default:
		logEntry.Error(err.Message)
	}

	return err
}

// AddCallback 添加错误回调
func (eh *ErrorHandler) AddCallback(callback ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, callback)
}

// SetStrategy 设置错误处理策略
func (eh *ErrorHandler) SetStrategy(errorType ErrorType, strategy ErrorStrategy) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.strategies[errorType] = strategy
}

// GetStats 获取错误统计信息的副本
func (eh *ErrorHandler) GetStats() ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()
	return eh.stats.copy()
}

// ClearStats 清除统计信息
func (eh *ErrorHandler) ClearStats() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats = NewErrorStats()
}

// UseAlerts 面向用户的错误在记录日志之外再发出提示，其余错误只记录日志
func (eh *ErrorHandler) UseAlerts(alertFunc func(err *AppError)) {
	alert := NewAlertStrategy(func(err *AppError) {
		if IsUserFacing(err) {
			alertFunc(err)
		}
	})
	for errorType := range errorTypeNames {
		eh.SetStrategy(errorType, NewCompositeStrategy(&LoggingStrategy{logger: eh.logger}, alert))
	}
}

// AlertStrategy 告警策略：面向用户的错误转为阻塞提示
type AlertStrategy struct {
	alertFunc func(err *AppError)
}

// NewAlertStrategy 创建告警策略
func NewAlertStrategy(alertFunc func(err *AppError)) *AlertStrategy {
	return &AlertStrategy{alertFunc: alertFunc}
}

// Handle 实现AlertStrategy的处理方法
func (as *AlertStrategy) Handle(ctx context.Context, err *AppError) error {
	as.alertFunc(err)
	return err
}

// CompositeStrategy 组合策略，可以执行多个策略
type CompositeStrategy struct {
	strategies []ErrorStrategy
}

// NewCompositeStrategy 创建组合策略
func NewCompositeStrategy(strategies ...ErrorStrategy) *CompositeStrategy {
	return &CompositeStrategy{
		strategies: strategies,
	}
}

// Handle 实现CompositeStrategy的处理方法
func (cs *CompositeStrategy) Handle(ctx context.Context, err *AppError) error {
	var lastErr error

	for _, strategy := range cs.strategies {
		if strategyErr := strategy.Handle(ctx, err); strategyErr != nil {
			lastErr = strategyErr
		}
	}

	return lastErr
}
