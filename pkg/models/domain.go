package models

import (
	"math/big"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// 域名长度限制
const (
	MinDomainLength = 3
	MaxDomainLength = 10
)

// 原生代币精度
const nativeDecimals = 18

// DomainRequest 正在编辑的铸造/更新请求
type DomainRequest struct {
	Name   string `json:"name"`
	Record string `json:"record"`
}

// IsEmpty 请求是否为空
func (r DomainRequest) IsEmpty() bool {
	return r.Name == "" && r.Record == ""
}

// MintRecord 已注册域名记录
type MintRecord struct {
	ID     int            `json:"id"`
	Name   string         `json:"name"`
	Record string         `json:"record"`
	Owner  common.Address `json:"owner"`
}

// HasRecord 是否已设置记录。只铸造未设置记录是合法状态
func (m MintRecord) HasRecord() bool {
	return m.Record != ""
}

// FullName 带顶级域的名称
func (m MintRecord) FullName(tld string) string {
	return m.Name + tld
}

// DomainLength 按字符计算域名长度
func DomainLength(name string) int {
	return utf8.RuneCountInString(name)
}

// PriceFor 根据长度计算价格（原生代币单位）：3位50，4位30，5位及以上10
func PriceFor(length int) decimal.Decimal {
	switch {
	case length == 3:
		return decimal.NewFromInt(50)
	case length == 4:
		return decimal.NewFromInt(30)
	default:
		return decimal.NewFromInt(10)
	}
}

// PriceWei 价格换算为 wei
func PriceWei(length int) *big.Int {
	return PriceFor(length).Shift(nativeDecimals).BigInt()
}
