package workflow

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"w3up/internal/errors"
	"w3up/internal/network"
	"w3up/internal/registry"
	"w3up/internal/wallet"
	"w3up/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

var alice = common.HexToAddress("0x1111111111111111111111111111111111111111")

type codeErr struct{ code int }

func (e *codeErr) Error() string  { return "wallet error" }
func (e *codeErr) ErrorCode() int { return e.code }

// stubProvider 满足 wallet.Provider
type stubProvider struct {
	mu       sync.Mutex
	accounts []common.Address
	chainID  string
}

func (p *stubProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return p.accounts, nil
}
func (p *stubProvider) Accounts(ctx context.Context) ([]common.Address, error) {
	return p.accounts, nil
}
func (p *stubProvider) ChainID(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chainID, nil
}
func (p *stubProvider) SwitchChain(ctx context.Context, chainID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chainID = chainID
	return nil
}
func (p *stubProvider) AddChain(ctx context.Context, chain models.ChainInfo) error { return nil }
func (p *stubProvider) IsConnected() bool                                          { return true }
func (p *stubProvider) SendTransaction(ctx context.Context, req models.TxRequest) (common.Hash, error) {
	return common.Hash{}, nil
}
func (p *stubProvider) Close() {}

// staticSession 固定会话
type staticSession struct {
	session  models.Session
	provider wallet.Provider
}

func (s *staticSession) Session() models.Session   { return s.session }
func (s *staticSession) Provider() wallet.Provider { return s.provider }

type call struct {
	method string
	name   string
	record string
	value  *big.Int
}

// fakeRegistry 记录调用顺序
type fakeRegistry struct {
	mu        sync.Mutex
	calls     []call
	statuses  map[common.Hash]uint64
	nextHash  int64
	failKinds map[string]bool  // 回执失败的方法
	sendErrs  map[string]error // 提交失败的方法
	block     chan struct{}    // 非 nil 时 Register 阻塞直到关闭
	entered   chan struct{}
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		statuses:  map[common.Hash]uint64{},
		failKinds: map[string]bool{},
		sendErrs:  map[string]error{},
	}
}

func (f *fakeRegistry) record(c call) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if err := f.sendErrs[c.method]; err != nil {
		return common.Hash{}, err
	}
	f.nextHash++
	hash := common.BigToHash(big.NewInt(f.nextHash))
	status := types.ReceiptStatusSuccessful
	if f.failKinds[c.method] {
		status = types.ReceiptStatusFailed
	}
	f.statuses[hash] = status
	return hash, nil
}

func (f *fakeRegistry) Register(ctx context.Context, sender registry.Sender, from common.Address, name string, value *big.Int) (common.Hash, error) {
	if f.block != nil {
		if f.entered != nil {
			close(f.entered)
		}
		<-f.block
	}
	return f.record(call{method: "register", name: name, value: value})
}

func (f *fakeRegistry) SetRecord(ctx context.Context, sender registry.Sender, from common.Address, name, record string) (common.Hash, error) {
	return f.record(call{method: "setRecord", name: name, record: record})
}

func (f *fakeRegistry) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[hash]
	if !ok {
		return nil, fmt.Errorf("unknown tx %s", hash.Hex())
	}
	return &types.Receipt{Status: status, TxHash: hash, BlockNumber: big.NewInt(100)}, nil
}

func (f *fakeRegistry) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.method)
	}
	return out
}

// fakeFetcher 计数的注册表读取
type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	mints []models.MintRecord
	err   error
}

func (f *fakeFetcher) FetchAll(ctx context.Context, session models.Session) ([]models.MintRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.mints, nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// manualScheduler 记录延迟任务，由测试手动执行
type manualScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
}

func (m *manualScheduler) schedule(delay time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays = append(m.delays, delay)
	m.fns = append(m.fns, fn)
}

func (m *manualScheduler) runAll() {
	m.mu.Lock()
	fns := m.fns
	m.fns = nil
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type memJournal struct {
	mu  sync.Mutex
	txs map[string]models.TxRecord
}

func (j *memJournal) SaveTx(tx *models.TxRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.txs == nil {
		j.txs = map[string]models.TxRecord{}
	}
	j.txs[tx.Hash] = *tx
	return nil
}

func polygon() models.ChainInfo {
	return models.ChainInfo{
		ChainID:           "0x89",
		ChainName:         "Polygon Mainnet",
		RPCURLs:           []string{"https://polygon-rpc.com/"},
		NativeCurrency:    models.NativeCurrency{Name: "MATIC", Symbol: "MATIC", Decimals: 18},
		BlockExplorerURLs: []string{"https://polygonscan.com/"},
	}
}

type harness struct {
	logger    *logrus.Logger
	store     *Store
	session   *staticSession
	registry  *fakeRegistry
	fetcher   *fakeFetcher
	scheduler *manualScheduler
	journal   *memJournal
	refresher *Refresher
	registrar *Registrar
	updater   *RecordUpdater
}

func newHarness(chainID string) *harness {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	h := &harness{
		logger: logger,
		store:  NewStore(logger),
		session: &staticSession{
			session:  models.Session{Account: alice, ChainID: chainID},
			provider: &stubProvider{accounts: []common.Address{alice}, chainID: chainID},
		},
		registry:  newFakeRegistry(),
		fetcher:   &fakeFetcher{mints: []models.MintRecord{{ID: 0, Name: "abc", Owner: alice}}},
		scheduler: &manualScheduler{},
		journal:   &memJournal{},
	}
	guard := network.NewGuard(polygon(), logger)
	h.store.SetSession(h.session.session, guard.Describe(h.session.session), guard.IsOnTargetNetwork(h.session.session))

	errs := errors.NewErrorHandler(logger)
	BindAlerts(errs, h.store)
	h.refresher = NewRefresher(h.fetcher, h.store, nil, logger)

	deps := Deps{
		Session:   h.session,
		Gate:      guard,
		Registry:  h.registry,
		Store:     h.store,
		Refresher: h.refresher,
		Journal:   h.journal,
		Errors:    errs,
		Logger:    logger,
	}
	h.registrar = NewRegistrar(deps, 0, h.scheduler.schedule)
	h.updater = NewRecordUpdater(deps)
	return h
}
