package validation

import (
	"fmt"
	"regexp"
	"strings"

	"w3up/internal/errors"
	"w3up/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

var (
	hashRegex   = regexp.MustCompile("^0x[0-9a-fA-F]{64}$")
	domainRegex = regexp.MustCompile("^[a-z0-9-]+$")
)

// Validator 请求验证器
type Validator struct {
	logger     *logrus.Logger
	strictMode bool // 严格模式：字符集问题视为错误
	rules      map[string]ValidationRule
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(data interface{}) error
	Name() string
	Description() string
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool               `json:"valid"`
	Errors   []*errors.AppError `json:"errors,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
	DataType string             `json:"data_type"`
}

// Err 返回第一个验证错误
func (r *ValidationResult) Err() error {
	if r == nil || r.Valid || len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// NewValidator 创建验证器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	v := &Validator{
		logger:     logger,
		strictMode: strictMode,
		rules:      make(map[string]ValidationRule),
	}

	v.registerDefaultRules()

	return v
}

// registerDefaultRules 注册默认验证规则
func (v *Validator) registerDefaultRules() {
	v.AddRule(NewDomainLengthRule())
	v.AddRule(NewDomainCharsetRule())
	v.AddRule(NewAddressValidationRule())
	v.AddRule(NewHashValidationRule())
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

func newResult(dataType string) *ValidationResult {
	return &ValidationResult{
		Valid:    true,
		DataType: dataType,
		Errors:   make([]*errors.AppError, 0),
		Warnings: make([]string, 0),
	}
}

func (r *ValidationResult) fail(err *errors.AppError) {
	r.Valid = false
	r.Errors = append(r.Errors, err)
}

// toAppError 规则返回的普通错误统一包装为验证错误
func toAppError(err error, code, message string) *errors.AppError {
	if appErr, ok := errors.As(err); ok {
		return appErr
	}
	return errors.WrapError(err, errors.ErrorTypeValidation, errors.SeverityLow, code, message)
}

// ValidateMintRequest 验证铸造请求：域名长度 3-10
func (v *Validator) ValidateMintRequest(req models.DomainRequest) *ValidationResult {
	result := newResult("mint_request")

	if strings.TrimSpace(req.Name) == "" {
		result.fail(errors.ErrEmptyField.Wrap(nil).WithContext("field", "name"))
		return result
	}

	if rule, exists := v.rules["domain_length"]; exists {
		if err := rule.Validate(req.Name); err != nil {
			result.fail(toAppError(err, "DOMAIN_LENGTH_INVALID", "域名长度无效").
				WithContext("name", req.Name))
		}
	}

	v.applyCharset(req.Name, result)

	return result
}

// ValidateUpdateRequest 验证记录更新请求：域名和记录均非空
func (v *Validator) ValidateUpdateRequest(req models.DomainRequest) *ValidationResult {
	result := newResult("update_request")

	if strings.TrimSpace(req.Name) == "" {
		result.fail(errors.ErrEmptyField.Wrap(nil).WithContext("field", "name"))
	}
	if strings.TrimSpace(req.Record) == "" {
		result.fail(errors.ErrEmptyField.Wrap(nil).WithContext("field", "record"))
	}

	return result
}

// applyCharset 字符集检查，非严格模式下只给出警告
func (v *Validator) applyCharset(name string, result *ValidationResult) {
	rule, exists := v.rules["domain_charset"]
	if !exists {
		return
	}
	err := rule.Validate(name)
	if err == nil {
		return
	}
	if v.strictMode {
		result.fail(toAppError(err, "DOMAIN_CHARSET_INVALID", "域名包含非法字符"))
		return
	}
	result.Warnings = append(result.Warnings, fmt.Sprintf("域名 %q 含有非常规字符", name))
}

// ValidateAddress 验证地址
func (v *Validator) ValidateAddress(addr string) *ValidationResult {
	result := newResult("address")
	if rule, exists := v.rules["address"]; exists {
		if err := rule.Validate(addr); err != nil {
			result.fail(toAppError(err, "INVALID_ADDRESS_FORMAT", "地址格式无效"))
		}
	}
	return result
}

// ValidateTxHash 验证交易哈希
func (v *Validator) ValidateTxHash(hash string) *ValidationResult {
	result := newResult("tx_hash")
	if rule, exists := v.rules["hash"]; exists {
		if err := rule.Validate(hash); err != nil {
			result.fail(toAppError(err, "INVALID_HASH_FORMAT", "哈希格式无效"))
		}
	}
	return result
}

// isValidHash 验证哈希格式
func isValidHash(hash string) bool {
	return hashRegex.MatchString(hash)
}

// isValidAddress 验证地址格式
func isValidAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") {
		return false
	}
	return common.IsHexAddress(addr)
}

// DomainLengthRule 域名长度规则
type DomainLengthRule struct{}

func NewDomainLengthRule() *DomainLengthRule {
	return &DomainLengthRule{}
}

func (r *DomainLengthRule) Name() string {
	return "domain_length"
}

func (r *DomainLengthRule) Description() string {
	return "域名长度必须在3到10个字符之间"
}

func (r *DomainLengthRule) Validate(data interface{}) error {
	name, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	length := models.DomainLength(name)
	if length < models.MinDomainLength {
		return errors.ErrDomainTooShort.Wrap(nil).WithContext("length", length)
	}
	if length > models.MaxDomainLength {
		return errors.ErrDomainTooLong.Wrap(nil).WithContext("length", length)
	}

	return nil
}

// DomainCharsetRule 域名字符集规则
type DomainCharsetRule struct{}

func NewDomainCharsetRule() *DomainCharsetRule {
	return &DomainCharsetRule{}
}

func (r *DomainCharsetRule) Name() string {
	return "domain_charset"
}

func (r *DomainCharsetRule) Description() string {
	return "域名仅包含小写字母、数字和连字符"
}

func (r *DomainCharsetRule) Validate(data interface{}) error {
	name, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if !domainRegex.MatchString(name) {
		return errors.NewAppError(errors.ErrorTypeValidation, errors.SeverityLow,
			"DOMAIN_CHARSET_INVALID", "域名包含非法字符")
	}

	return nil
}

// AddressValidationRule 地址验证规则
type AddressValidationRule struct{}

func NewAddressValidationRule() *AddressValidationRule {
	return &AddressValidationRule{}
}

func (r *AddressValidationRule) Name() string {
	return "address"
}

func (r *AddressValidationRule) Description() string {
	return "以太坊地址验证规则"
}

func (r *AddressValidationRule) Validate(data interface{}) error {
	addr, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if !isValidAddress(addr) {
		return errors.NewAppError(errors.ErrorTypeValidation, errors.SeverityLow,
			"INVALID_ADDRESS_FORMAT", "地址格式无效")
	}

	return nil
}

// HashValidationRule 哈希验证规则
type HashValidationRule struct{}

func NewHashValidationRule() *HashValidationRule {
	return &HashValidationRule{}
}

func (r *HashValidationRule) Name() string {
	return "hash"
}

func (r *HashValidationRule) Description() string {
	return "哈希值验证规则"
}

func (r *HashValidationRule) Validate(data interface{}) error {
	hash, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if !isValidHash(hash) {
		return errors.NewAppError(errors.ErrorTypeValidation, errors.SeverityLow,
			"INVALID_HASH_FORMAT", "哈希格式无效")
	}

	return nil
}

// GetValidationStats 获取验证统计信息
func (v *Validator) GetValidationStats() map[string]interface{} {
	return map[string]interface{}{
		"strict_mode":      v.strictMode,
		"registered_rules": len(v.rules),
	}
}
