package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxKind 交易类型
type TxKind string

const (
	TxKindRegister  TxKind = "register"
	TxKindSetRecord TxKind = "set_record"
)

// TxStatus 交易状态
type TxStatus string

const (
	TxStatusPending TxStatus = "pending"
	TxStatusSuccess TxStatus = "success"
	TxStatusFailed  TxStatus = "failed"
)

// TxRecord 已提交的合约交易
type TxRecord struct {
	Hash        string    `json:"hash"`
	Kind        TxKind    `json:"kind"`
	Name        string    `json:"name"`
	Record      string    `json:"record,omitempty"`
	Value       *big.Int  `json:"value,omitempty"`
	From        string    `json:"from"`
	Status      TxStatus  `json:"status"`
	BlockNumber uint64    `json:"block_number,omitempty"`
	GasUsed     uint64    `json:"gas_used,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	ConfirmedAt time.Time `json:"confirmed_at,omitempty"`
}

// ApplyReceipt 根据回执更新交易状态
func (t *TxRecord) ApplyReceipt(receipt *types.Receipt) {
	if receipt == nil {
		return
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		t.Status = TxStatusSuccess
	} else {
		t.Status = TxStatusFailed
	}
	if receipt.BlockNumber != nil {
		t.BlockNumber = receipt.BlockNumber.Uint64()
	}
	t.GasUsed = receipt.GasUsed
	t.ConfirmedAt = time.Now()
}

// ToKafkaMessage 转换为Kafka消息格式
func (t *TxRecord) ToKafkaMessage() map[string]interface{} {
	value := "0"
	if t.Value != nil {
		value = t.Value.String()
	}
	msg := map[string]interface{}{
		"hash":         t.Hash,
		"kind":         string(t.Kind),
		"name":         t.Name,
		"record":       t.Record,
		"value":        value,
		"from":         t.From,
		"status":       string(t.Status),
		"block_number": t.BlockNumber,
		"gas_used":     t.GasUsed,
		"submitted_at": t.SubmittedAt.Unix(),
	}
	if !t.ConfirmedAt.IsZero() {
		msg["confirmed_at"] = t.ConfirmedAt.Unix()
	}
	return msg
}

// TxRequest 待签名发送的合约调用
type TxRequest struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value,omitempty"`
	Data  []byte         `json:"data,omitempty"`
	Gas   uint64         `json:"gas,omitempty"` // 0 表示由钱包估算
}
