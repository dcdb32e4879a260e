package workflow

import (
	"sync"
	"time"

	"w3up/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Listener 状态事件订阅者
type Listener func(event models.Event)

// Store 客户端状态的唯一持有者，只能通过下列方法修改
type Store struct {
	mu        sync.Mutex
	state     models.State
	listeners map[int]Listener
	nextID    int
	owner     string
	logger    *logrus.Entry
}

// NewStore 创建状态存储
func NewStore(logger *logrus.Logger) *Store {
	return &Store{
		state:     models.State{Phase: models.PhaseDisconnected},
		listeners: make(map[int]Listener),
		logger:    logger.WithField("component", "store"),
	}
}

// Snapshot 当前状态副本
func (s *Store) Snapshot() models.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe 订阅状态事件，返回取消函数
func (s *Store) Subscribe(listener Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// basePhase 由会话推导的空闲阶段
func basePhase(state models.State) models.Phase {
	switch {
	case !state.Session.IsConnected():
		return models.PhaseDisconnected
	case !state.OnTarget:
		return models.PhaseWrongNetwork
	default:
		return models.PhaseReady
	}
}

func isBusy(phase models.Phase) bool {
	return phase == models.PhaseSubmitting || phase == models.PhaseConfirming || phase == models.PhaseRefreshing
}

// SetSession 替换会话及网络信息
func (s *Store) SetSession(session models.Session, label string, onTarget bool) {
	s.update(models.EventSessionChanged, "", nil, func(st *models.State) bool {
		if st.Session == session && st.NetworkLabel == label && st.OnTarget == onTarget {
			return false
		}
		st.Session = session
		st.NetworkLabel = label
		st.OnTarget = onTarget

		base := basePhase(*st)
		if base != models.PhaseReady || !isBusy(st.Phase) {
			st.Phase = base
		}
		return true
	})
}

// SetPhase 进入工作流阶段
func (s *Store) SetPhase(phase models.Phase) {
	s.update(models.EventPhaseChanged, "", nil, func(st *models.State) bool {
		if st.Phase == phase {
			return false
		}
		st.Phase = phase
		return true
	})
}

// BeginPhase 仅在空闲时进入阶段，返回是否进入
func (s *Store) BeginPhase(phase models.Phase) bool {
	entered := false
	s.update(models.EventPhaseChanged, "", nil, func(st *models.State) bool {
		if isBusy(st.Phase) || st.Phase == phase {
			return false
		}
		st.Phase = phase
		entered = true
		return true
	})
	return entered
}

// Settle 工作流结束，回到会话决定的空闲阶段
func (s *Store) Settle() {
	s.update(models.EventPhaseChanged, "", nil, func(st *models.State) bool {
		base := basePhase(*st)
		if st.Phase == base {
			return false
		}
		st.Phase = base
		return true
	})
}

// EndPhase 仍处于 phase 时回到空闲阶段，阶段已被其他流程接管时不做修改
func (s *Store) EndPhase(phase models.Phase) {
	s.update(models.EventPhaseChanged, "", nil, func(st *models.State) bool {
		if st.Phase != phase {
			return false
		}
		st.Phase = basePhase(*st)
		return st.Phase != phase
	})
}

// Acquire 获取写流程控制权，已有流程持有或处于 loading 时返回 false
func (s *Store) Acquire(workflow string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != "" || s.state.Loading {
		return false
	}
	s.owner = workflow
	return true
}

// Release 释放控制权，只有持有者可以释放
func (s *Store) Release(workflow string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == workflow {
		s.owner = ""
	}
}

// Owner 当前持有控制权的流程，空串表示空闲
func (s *Store) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// SetRequest 设置正在编辑的请求
func (s *Store) SetRequest(req models.DomainRequest) {
	s.update(models.EventRequestChanged, "", nil, func(st *models.State) bool {
		if st.Request == req {
			return false
		}
		st.Request = req
		return true
	})
}

// ClearRequest 清空请求
func (s *Store) ClearRequest() {
	s.SetRequest(models.DomainRequest{})
}

// ReplaceMints 整体替换注册表快照
func (s *Store) ReplaceMints(mints []models.MintRecord) {
	s.update(models.EventMintsReplaced, "", nil, func(st *models.State) bool {
		st.Mints = make([]models.MintRecord, len(mints))
		copy(st.Mints, mints)
		st.LastFetched = time.Now()
		return true
	})
}

// TryStartLoading 设置 loading 标志，已在 loading 时返回 false
func (s *Store) TryStartLoading() bool {
	started := false
	s.update(models.EventLoadingChanged, "", nil, func(st *models.State) bool {
		if st.Loading {
			return false
		}
		st.Loading = true
		started = true
		return true
	})
	return started
}

// StopLoading 清除 loading 标志
func (s *Store) StopLoading() {
	s.update(models.EventLoadingChanged, "", nil, func(st *models.State) bool {
		if !st.Loading {
			return false
		}
		st.Loading = false
		return true
	})
}

// Alert 发出需要用户确认的提示
func (s *Store) Alert(message string) {
	s.update(models.EventAlert, message, nil, func(st *models.State) bool {
		st.Alert = message
		return true
	})
}

// DismissAlert 清除提示
func (s *Store) DismissAlert() {
	s.update(models.EventAlert, "", nil, func(st *models.State) bool {
		if st.Alert == "" {
			return false
		}
		st.Alert = ""
		return true
	})
}

// RecordTx 发布交易事件
func (s *Store) RecordTx(eventType models.EventType, tx *models.TxRecord) {
	copied := *tx
	s.update(eventType, "", &copied, func(st *models.State) bool { return true })
}

// update 在锁内修改状态，锁外通知订阅者
func (s *Store) update(eventType models.EventType, message string, tx *models.TxRecord, mutate func(st *models.State) bool) {
	s.mu.Lock()
	if !mutate(&s.state) {
		s.mu.Unlock()
		return
	}
	event := models.Event{
		ID:      uuid.NewString(),
		Type:    eventType,
		Time:    time.Now(),
		Message: message,
		Tx:      tx,
		State:   s.state.Clone(),
	}
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"event": string(eventType),
		"phase": string(event.State.Phase),
	}).Debug("状态已更新")

	for _, l := range listeners {
		l(event)
	}
}
