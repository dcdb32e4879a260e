package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 钱包相关错误
	ErrorTypeNoWallet ErrorType = iota
	ErrorTypeUserRejected
	ErrorTypeChainUnknown
	ErrorTypeProvider

	// 工作流相关错误
	ErrorTypeValidation
	ErrorTypeWrongNetwork
	ErrorTypeTransactionFailed
	ErrorTypeBusy

	// 系统相关错误
	ErrorTypeConfig
	ErrorTypeStorage
	ErrorTypeOutput
	ErrorTypeSystem
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// AppError 自定义错误类型
type AppError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"cause,omitempty"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component"`
	TxHash    *string                `json:"tx_hash,omitempty"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较，使预定义错误可用于 errors.Is
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// IsRetryable 判断是否可由用户重试
func (e *AppError) IsRetryable() bool {
	return e.Retryable
}

// UserMessage 面向用户的提示
func (e *AppError) UserMessage() string {
	return e.Message
}

// WithContext 添加上下文信息
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithComponent 设置组件名称
func (e *AppError) WithComponent(component string) *AppError {
	e.Component = component
	return e
}

// WithTxHash 添加交易哈希
func (e *AppError) WithTxHash(txHash string) *AppError {
	e.TxHash = &txHash
	return e
}

// NewAppError 创建新的错误
func NewAppError(errorType ErrorType, severity ErrorSeverity, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Retryable: determineRetryable(errorType),
	}
}

// determineRetryable 根据错误类型判断用户能否直接重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeUserRejected, ErrorTypeProvider, ErrorTypeTransactionFailed, ErrorTypeBusy:
		return true
	case ErrorTypeWrongNetwork, ErrorTypeChainUnknown:
		return true
	default:
		return false
	}
}

// As 提取 *AppError
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// TypeOf 返回错误类型，非 AppError 视为系统错误
func TypeOf(err error) ErrorType {
	if appErr, ok := As(err); ok {
		return appErr.Type
	}
	return ErrorTypeSystem
}

// IsType 判断错误是否为指定类型
func IsType(err error, errorType ErrorType) bool {
	if err == nil {
		return false
	}
	return TypeOf(err) == errorType
}

// 安装钱包提示地址
const WalletInstallURL = "https://metamask.io/"

// 预定义错误
var (
	ErrNoWalletFound = NewAppError(
		ErrorTypeNoWallet,
		SeverityMedium,
		"NO_WALLET_FOUND",
		"未检测到钱包，请安装 MetaMask -> "+WalletInstallURL,
	)

	ErrUserRejected = NewAppError(
		ErrorTypeUserRejected,
		SeverityLow,
		"USER_REJECTED",
		"用户拒绝了钱包请求",
	)

	ErrChainUnknown = NewAppError(
		ErrorTypeChainUnknown,
		SeverityLow,
		"CHAIN_UNKNOWN",
		"钱包中尚未添加目标链",
	)

	ErrWrongNetwork = NewAppError(
		ErrorTypeWrongNetwork,
		SeverityMedium,
		"WRONG_NETWORK",
		"当前网络不是目标网络，请切换网络",
	)

	ErrSwitchNetworkFailed = NewAppError(
		ErrorTypeProvider,
		SeverityMedium,
		"SWITCH_NETWORK_FAILED",
		"切换网络失败，请在钱包中手动切换到目标网络",
	)

	ErrNotConnected = NewAppError(
		ErrorTypeValidation,
		SeverityLow,
		"NOT_CONNECTED",
		"钱包未连接",
	)

	ErrDomainTooShort = NewAppError(
		ErrorTypeValidation,
		SeverityLow,
		"DOMAIN_TOO_SHORT",
		"域名至少需要3个字符",
	)

	ErrDomainTooLong = NewAppError(
		ErrorTypeValidation,
		SeverityLow,
		"DOMAIN_TOO_LONG",
		"域名不能超过10个字符",
	)

	ErrEmptyField = NewAppError(
		ErrorTypeValidation,
		SeverityLow,
		"EMPTY_FIELD",
		"域名和记录均不能为空",
	)

	ErrTransactionFailed = NewAppError(
		ErrorTypeTransactionFailed,
		SeverityHigh,
		"TRANSACTION_FAILED",
		"交易失败，请重试",
	)

	ErrBusy = NewAppError(
		ErrorTypeBusy,
		SeverityLow,
		"REQUEST_IN_FLIGHT",
		"已有请求正在处理中",
	)

	ErrProvider = NewAppError(
		ErrorTypeProvider,
		SeverityMedium,
		"PROVIDER_ERROR",
		"钱包或节点请求失败",
	)

	ErrConfigInvalid = NewAppError(
		ErrorTypeConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)

	ErrStorageFailed = NewAppError(
		ErrorTypeStorage,
		SeverityMedium,
		"STORAGE_FAILED",
		"本地存储操作失败",
	)

	ErrOutputFailed = NewAppError(
		ErrorTypeOutput,
		SeverityMedium,
		"OUTPUT_FAILED",
		"事件输出失败",
	)
)

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeNoWallet:          "NoWalletFound",
	ErrorTypeUserRejected:      "UserRejected",
	ErrorTypeChainUnknown:      "ChainUnknown",
	ErrorTypeProvider:          "ProviderError",
	ErrorTypeValidation:        "ValidationError",
	ErrorTypeWrongNetwork:      "WrongNetwork",
	ErrorTypeTransactionFailed: "TransactionFailed",
	ErrorTypeBusy:              "Busy",
	ErrorTypeConfig:            "Config",
	ErrorTypeStorage:           "Storage",
	ErrorTypeOutput:            "Output",
	ErrorTypeSystem:            "System",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int                   `json:"total_errors"`
	ErrorsByType      map[ErrorType]int     `json:"errors_by_type"`
	ErrorsBySeverity  map[ErrorSeverity]int `json:"errors_by_severity"`
	ErrorsByComponent map[string]int        `json:"errors_by_component"`
	RecentErrors      []*AppError           `json:"recent_errors"`
	LastError         *AppError             `json:"last_error"`
	LastErrorTime     time.Time             `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[ErrorType]int),
		ErrorsBySeverity:  make(map[ErrorSeverity]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*AppError, 0),
	}
}

func (es *ErrorStats) copy() ErrorStats {
	out := *es
	out.ErrorsByType = make(map[ErrorType]int, len(es.ErrorsByType))
	for k, v := range es.ErrorsByType {
		out.ErrorsByType[k] = v
	}
	out.ErrorsBySeverity = make(map[ErrorSeverity]int, len(es.ErrorsBySeverity))
	for k, v := range es.ErrorsBySeverity {
		out.ErrorsBySeverity[k] = v
	}
	out.ErrorsByComponent = make(map[string]int, len(es.ErrorsByComponent))
	for k, v := range es.ErrorsByComponent {
		out.ErrorsByComponent[k] = v
	}
	out.RecentErrors = append([]*AppError(nil), es.RecentErrors...)
	return out
}

// Summary 按名称汇总的统计，用于对外展示
func (es ErrorStats) Summary() map[string]interface{} {
	byType := make(map[string]int, len(es.ErrorsByType))
	for k, v := range es.ErrorsByType {
		byType[k.String()] = v
	}
	bySeverity := make(map[string]int, len(es.ErrorsBySeverity))
	for k, v := range es.ErrorsBySeverity {
		bySeverity[k.String()] = v
	}
	summary := map[string]interface{}{
		"total_errors":        es.TotalErrors,
		"errors_by_type":      byType,
		"errors_by_severity":  bySeverity,
		"errors_by_component": es.ErrorsByComponent,
	}
	if es.LastError != nil {
		summary["last_error"] = es.LastError.Error()
		summary["last_error_time"] = es.LastErrorTime.Unix()
	}
	return summary
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *AppError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type]++
	es.ErrorsBySeverity[err.Severity]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	// 保留最近100个错误
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > 100 {
		es.RecentErrors = es.RecentErrors[1:]
	}
}
