package errors

import (
	stderrors "errors"
	"strings"
	"time"
)

// EIP-1193 / EIP-3085 钱包错误码
const (
	CodeUserRejected    = 4001
	CodeUnauthorized    = 4100
	CodeUnsupported     = 4200
	CodeDisconnected    = 4900
	CodeChainDisconnect = 4901
	CodeUnrecognized    = 4902
	CodeRequestPending  = -32002
)

// codedError 带错误码的钱包错误（go-ethereum rpc.Error 满足该接口）
type codedError interface {
	error
	ErrorCode() int
}

// ProviderCode 提取钱包错误码
func ProviderCode(err error) (int, bool) {
	var ce codedError
	if stderrors.As(err, &ce) {
		return ce.ErrorCode(), true
	}
	return 0, false
}

// Wrap 以预定义错误为模板创建新错误，不修改模板本身
func (e *AppError) Wrap(cause error) *AppError {
	out := e.Clone()
	out.Cause = cause
	return out
}

// Clone 复制错误，之后的 With* 调用不会影响原错误
func (e *AppError) Clone() *AppError {
	out := *e
	out.Timestamp = time.Now()
	out.Context = nil
	if e.Context != nil {
		out.Context = make(map[string]interface{}, len(e.Context))
		for k, v := range e.Context {
			out.Context[k] = v
		}
	}
	return &out
}

// Classify 将钱包/节点错误归类为 AppError
func Classify(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := As(err); ok {
		return appErr
	}

	if code, ok := ProviderCode(err); ok {
		switch code {
		case CodeUserRejected, CodeUnauthorized:
			return ErrUserRejected.Wrap(err).WithContext("provider_code", code)
		case CodeUnrecognized:
			return ErrChainUnknown.Wrap(err).WithContext("provider_code", code)
		case CodeRequestPending:
			return ErrBusy.Wrap(err).WithContext("provider_code", code)
		default:
			return ErrProvider.Wrap(err).WithContext("provider_code", code)
		}
	}

	errStr := strings.ToLower(err.Error())
	rejected := []string{
		"user rejected",
		"user denied",
		"rejected by user",
		"user cancelled",
	}
	for _, s := range rejected {
		if strings.Contains(errStr, s) {
			return ErrUserRejected.Wrap(err)
		}
	}

	return ErrProvider.Wrap(err)
}

// IsChainUnknown 是否为“未知链”错误
func IsChainUnknown(err error) bool {
	if code, ok := ProviderCode(err); ok {
		return code == CodeUnrecognized
	}
	return IsType(err, ErrorTypeChainUnknown)
}

// IsUserFacing 是否需要以阻塞提示形式告知用户
func IsUserFacing(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeNoWallet, ErrorTypeWrongNetwork, ErrorTypeValidation, ErrorTypeTransactionFailed:
		return true
	default:
		return false
	}
}
