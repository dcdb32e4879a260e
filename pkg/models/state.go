package models

import (
	"time"
)

// Phase 工作流阶段
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseWrongNetwork Phase = "wrong_network"
	PhaseReady        Phase = "ready"
	PhaseSubmitting   Phase = "submitting"
	PhaseConfirming   Phase = "confirming"
	PhaseRefreshing   Phase = "refreshing"
)

// State 客户端状态快照
type State struct {
	Session      Session       `json:"session"`
	NetworkLabel string        `json:"network_label"`
	OnTarget     bool          `json:"on_target"`
	Phase        Phase         `json:"phase"`
	Request      DomainRequest `json:"request"`
	Mints        []MintRecord  `json:"mints"`
	Loading      bool          `json:"loading"`
	Alert        string        `json:"alert,omitempty"`
	LastFetched  time.Time     `json:"last_fetched,omitempty"`
}

// Clone 深拷贝快照
func (s State) Clone() State {
	out := s
	if s.Mints != nil {
		out.Mints = make([]MintRecord, len(s.Mints))
		copy(out.Mints, s.Mints)
	}
	return out
}

// EventType 事件类型
type EventType string

const (
	EventSessionChanged EventType = "session_changed"
	EventPhaseChanged   EventType = "phase_changed"
	EventRequestChanged EventType = "request_changed"
	EventMintsReplaced  EventType = "mints_replaced"
	EventLoadingChanged EventType = "loading_changed"
	EventAlert          EventType = "alert"
	EventTxSubmitted    EventType = "tx_submitted"
	EventTxConfirmed    EventType = "tx_confirmed"
)

// Event 状态变更事件
type Event struct {
	ID      string    `json:"id"`
	Type    EventType `json:"type"`
	Time    time.Time `json:"time"`
	Message string    `json:"message,omitempty"`
	Tx      *TxRecord `json:"tx,omitempty"`
	State   State     `json:"state"`
}

// ToKafkaMessage 转换为Kafka消息格式
func (e *Event) ToKafkaMessage() map[string]interface{} {
	msg := map[string]interface{}{
		"id":         e.ID,
		"type":       string(e.Type),
		"time":       e.Time.Unix(),
		"phase":      string(e.State.Phase),
		"account":    e.State.Session.AccountHex(),
		"chain_id":   e.State.Session.ChainID,
		"mint_count": len(e.State.Mints),
	}
	if e.Message != "" {
		msg["message"] = e.Message
	}
	if e.Tx != nil {
		msg["tx"] = e.Tx.ToKafkaMessage()
	}
	return msg
}
