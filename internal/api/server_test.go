package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "w3up/internal/errors"
	"w3up/internal/journal"
	"w3up/internal/network"
	"w3up/internal/workflow"
	"w3up/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var polygon = models.ChainInfo{
	ChainID:           "0x89",
	ChainName:         "Polygon Mainnet",
	RPCURLs:           []string{"https://polygon-rpc.com/"},
	NativeCurrency:    models.NativeCurrency{Name: "MATIC", Symbol: "MATIC", Decimals: 18},
	BlockExplorerURLs: []string{"https://polygonscan.com/"},
}

var owner = common.HexToAddress("0x1111111111111111111111111111111111111111")

type fakeClient struct {
	connectErr error
	switchErr  error
	mintErr    error
	updateErr  error
	refreshErr error
	minted     []models.DomainRequest
	updated    []models.DomainRequest
	refreshes  int
	store      *workflow.Store
}

func (f *fakeClient) Connect(ctx context.Context) (models.Session, error) {
	if f.connectErr != nil {
		return models.Session{}, f.connectErr
	}
	return models.Session{Account: owner, ChainID: "0x89"}, nil
}

func (f *fakeClient) Disconnect() {
	f.store.SetSession(models.Session{}, "", false)
}

func (f *fakeClient) SwitchNetwork(ctx context.Context) error { return f.switchErr }

func (f *fakeClient) Mint(ctx context.Context, req models.DomainRequest) (*workflow.MintResult, error) {
	f.minted = append(f.minted, req)
	if f.mintErr != nil {
		return nil, f.mintErr
	}
	return &workflow.MintResult{
		Name:       req.Name,
		Price:      models.PriceFor(models.DomainLength(req.Name)),
		RegisterTx: &models.TxRecord{Hash: "0xaa", Kind: models.TxKindRegister, Status: models.TxStatusSuccess},
		RecordTx:   &models.TxRecord{Hash: "0xbb", Kind: models.TxKindSetRecord, Status: models.TxStatusSuccess},
	}, nil
}

func (f *fakeClient) UpdateRecord(ctx context.Context, req models.DomainRequest) (*models.TxRecord, error) {
	f.updated = append(f.updated, req)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &models.TxRecord{Hash: "0xcc", Kind: models.TxKindSetRecord, Status: models.TxStatusSuccess}, nil
}

func (f *fakeClient) Refresh(ctx context.Context) error {
	f.refreshes++
	return f.refreshErr
}

func (f *fakeClient) Price(name string) (workflow.MintQuote, error) {
	length := models.DomainLength(name)
	quote := workflow.MintQuote{Name: name, Length: length, Price: models.PriceFor(length), Symbol: "MATIC"}
	if length < models.MinDomainLength {
		return quote, apperrors.ErrDomainTooShort.Wrap(nil)
	}
	return quote, nil
}

type fakeHistory struct {
	records []models.TxRecord
}

func (f *fakeHistory) GetTx(hash string) (*models.TxRecord, error) {
	for _, r := range f.records {
		if r.Hash == hash {
			record := r
			return &record, nil
		}
	}
	return nil, nil
}

func (f *fakeHistory) History(limit int) ([]models.TxRecord, error) { return f.records, nil }
func (f *fakeHistory) ByName(name string, limit int) ([]models.TxRecord, error) {
	var out []models.TxRecord
	for _, r := range f.records {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeHistory) GetStats() (journal.Stats, error) {
	return journal.Stats{Total: uint64(len(f.records))}, nil
}

type fakeNodes struct{}

func (fakeNodes) GetStats() map[string]interface{} {
	return map[string]interface{}{"chain_rpc_0": map[string]interface{}{"is_healthy": true}}
}

type fakeShutdown struct {
	stopping bool
}

func (f *fakeShutdown) IsShuttingDown() bool { return f.stopping }
func (f *fakeShutdown) GetRegisteredFunctions() []string {
	return []string{"api_server", "resources"}
}

var (
	txHashA = "0x" + strings.Repeat("0a", 32)
	txHashB = "0x" + strings.Repeat("0b", 32)
)

type fixture struct {
	client   *fakeClient
	store    *workflow.Store
	server   *Server
	logger   *logrus.Logger
	errs     *apperrors.ErrorHandler
	shutdown *fakeShutdown
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := workflow.NewStore(logger)
	client := &fakeClient{store: store}
	history := &fakeHistory{records: []models.TxRecord{
		{Hash: txHashA, Name: "abc", Kind: models.TxKindRegister, Status: models.TxStatusSuccess},
		{Hash: txHashB, Name: "xyz", Kind: models.TxKindRegister, Status: models.TxStatusFailed},
	}}
	errs := apperrors.NewErrorHandler(logger)
	stopping := &fakeShutdown{}

	server := NewServer(client, store, network.NewGuard(polygon, logger), Options{
		History:  history,
		Metrics:  http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("w3up_up 1\n")) }),
		Errors:   errs,
		Nodes:    fakeNodes{},
		Shutdown: stopping,
		TLD:      ".w3",
		Mode:     gin.TestMode,
	}, logger)
	return &fixture{client: client, store: store, server: server, logger: logger, errs: errs, shutdown: stopping}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	rec, _ = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "w3up_up")

	f.shutdown.stopping = true
	rec, body = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "shutting_down", body["status"])
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t)
	f.store.SetSession(models.Session{Account: owner, ChainID: "0x89"}, "Polygon Mainnet", true)

	rec, body := f.do(t, http.MethodPost, "/api/v1/disconnect", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["connected"])
	assert.False(t, f.store.Snapshot().Session.IsConnected())
}

func TestSessionAndConnect(t *testing.T) {
	f := newFixture(t)

	_, body := f.do(t, http.MethodGet, "/api/v1/session", "")
	assert.Equal(t, false, body["connected"])
	assert.Equal(t, "", body["account"])

	rec, body := f.do(t, http.MethodPost, "/api/v1/connect", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, owner.Hex(), body["account"])
	assert.Equal(t, "Polygon Mainnet", body["network_label"])
	assert.Equal(t, true, body["on_target"])
	assert.Equal(t, "0x1111...1111", body["short_account"])
}

func TestConnect_NoWalletReturnsInstallURL(t *testing.T) {
	f := newFixture(t)
	f.client.connectErr = apperrors.ErrNoWalletFound

	rec, body := f.do(t, http.MethodPost, "/api/v1/connect", "")
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, apperrors.WalletInstallURL, body["install_url"])
}

func TestNetworkEndpoints(t *testing.T) {
	f := newFixture(t)
	f.store.SetSession(models.Session{Account: owner, ChainID: "0x1"}, "Ethereum Mainnet", false)

	_, body := f.do(t, http.MethodGet, "/api/v1/network", "")
	assert.Equal(t, "0x1", body["current"])
	assert.Equal(t, false, body["on_target"])

	f.client.switchErr = apperrors.ErrSwitchNetworkFailed.Wrap(errors.New("boom"))
	rec, _ := f.do(t, http.MethodPost, "/api/v1/network/switch", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	f.client.switchErr = nil
	rec, _ = f.do(t, http.MethodPost, "/api/v1/network/switch", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPrice(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/api/v1/price?name=abc", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "50", body["price"])
	assert.Equal(t, "abc.w3", body["full_name"])

	rec, body = f.do(t, http.MethodGet, "/api/v1/price?name=ab", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ValidationError", body["type"])
}

func TestMintDomain(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/v1/domains", `{"name":"abc","record":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc.w3", body["full_name"])
	assert.Equal(t, "50", body["price"])
	registerTx := body["register_tx"].(map[string]interface{})
	assert.Equal(t, "https://polygonscan.com/tx/0xaa", registerTx["url"])
	require.Len(t, f.client.minted, 1)
	assert.Equal(t, models.DomainRequest{Name: "abc", Record: "hello"}, f.client.minted[0])
}

func TestMintDomain_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", apperrors.ErrDomainTooShort.Wrap(nil), http.StatusBadRequest},
		{"wrong network", apperrors.ErrWrongNetwork, http.StatusConflict},
		{"busy", apperrors.ErrBusy, http.StatusConflict},
		{"rejected", apperrors.ErrUserRejected, http.StatusForbidden},
		{"tx failed", apperrors.ErrTransactionFailed.Wrap(nil).WithTxHash("0xdead"), http.StatusUnprocessableEntity},
		{"provider", errors.New("socket closed"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.client.mintErr = tt.err

			rec, body := f.do(t, http.MethodPost, "/api/v1/domains", `{"name":"abc","record":"x"}`)
			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, body["message"])
			if tt.status == http.StatusUnprocessableEntity {
				assert.Equal(t, "https://polygonscan.com/tx/0xdead", body["tx_url"])
			}
		})
	}
}

func TestMintDomain_BadJSON(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, http.MethodPost, "/api/v1/domains", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.client.minted)
}

func TestUpdateRecord(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPut, "/api/v1/domains/abc/record", `{"record":"new"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xcc", body["tx"].(map[string]interface{})["hash"])
	assert.Equal(t, []models.DomainRequest{{Name: "abc", Record: "new"}}, f.client.updated)
}

func TestDomainsAndRefresh(t *testing.T) {
	f := newFixture(t)
	f.store.ReplaceMints([]models.MintRecord{
		{ID: 0, Name: "abc", Record: "r1", Owner: owner},
		{ID: 1, Name: "nore", Owner: owner},
	})

	_, body := f.do(t, http.MethodGet, "/api/v1/domains", "")
	assert.EqualValues(t, 2, body["total"])
	domains := body["domains"].([]interface{})
	first := domains[0].(map[string]interface{})
	assert.Equal(t, "abc.w3", first["full_name"])
	assert.Equal(t, true, first["has_record"])
	assert.Equal(t, false, domains[1].(map[string]interface{})["has_record"])

	other := common.HexToAddress("0x2222222222222222222222222222222222222222")
	f.store.ReplaceMints([]models.MintRecord{
		{ID: 0, Name: "abc", Record: "r1", Owner: owner},
		{ID: 1, Name: "nore", Owner: owner},
		{ID: 2, Name: "else", Owner: other},
	})
	_, body = f.do(t, http.MethodGet, "/api/v1/domains?owner="+other.Hex(), "")
	assert.EqualValues(t, 1, body["total"])
	assert.Equal(t, "else", body["domains"].([]interface{})[0].(map[string]interface{})["name"])

	rec, body := f.do(t, http.MethodGet, "/api/v1/domains?owner=0x1234", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ValidationError", body["type"])

	rec, _ = f.do(t, http.MethodPost, "/api/v1/domains/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.client.refreshes)

	f.client.refreshErr = apperrors.ErrProvider.Wrap(errors.New("down"))
	rec, _ = f.do(t, http.MethodPost, "/api/v1/domains/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestStateAndHistory(t *testing.T) {
	f := newFixture(t)
	f.store.Alert("hello")

	_, body := f.do(t, http.MethodGet, "/api/v1/state", "")
	assert.Equal(t, "hello", body["alert"])

	_, body = f.do(t, http.MethodGet, "/api/v1/history", "")
	assert.EqualValues(t, 2, body["total"])

	_, body = f.do(t, http.MethodGet, "/api/v1/history?name=xyz", "")
	assert.EqualValues(t, 1, body["total"])

	rec, _ := f.do(t, http.MethodDelete, "/api/v1/alert", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.store.Snapshot().Alert)
}

func TestGetTx(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/api/v1/history/"+strings.ToUpper(txHashA[2:]), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ValidationError", body["type"])

	rec, body = f.do(t, http.MethodGet, "/api/v1/history/0x"+strings.ToUpper(txHashA[2:]), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", body["transaction"].(map[string]interface{})["name"])
	assert.Equal(t, "https://polygonscan.com/tx/"+txHashA, body["url"])

	rec, _ = f.do(t, http.MethodGet, "/api/v1/history/0x"+strings.Repeat("0c", 32), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/v1/history/0x1234", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.errs.HandleError(context.Background(), apperrors.ErrBusy)

	_, body := f.do(t, http.MethodGet, "/api/v1/stats", "")
	errs := body["errors"].(map[string]interface{})
	assert.EqualValues(t, 1, errs["total_errors"])
	assert.Contains(t, body["nodes"], "chain_rpc_0")
	assert.Equal(t, []interface{}{"api_server", "resources"}, body["shutdown_steps"])
	assert.EqualValues(t, 4, body["validation"].(map[string]interface{})["registered_rules"])

	rec, _ := f.do(t, http.MethodDelete, "/api/v1/stats/errors", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.errs.GetStats().TotalErrors)
}

func TestLogsEndpoints(t *testing.T) {
	f := newFixture(t)
	f.logger.WithField("component", "test").Warn("first")
	f.logger.Info("second")

	_, body := f.do(t, http.MethodGet, "/api/v1/logs", "")
	assert.EqualValues(t, 2, body["total"])
	logs := body["logs"].([]interface{})
	assert.Equal(t, "second", logs[0].(map[string]interface{})["message"])

	_, body = f.do(t, http.MethodGet, "/api/v1/logs?level=warning", "")
	assert.EqualValues(t, 1, body["total"])

	rec, _ := f.do(t, http.MethodDelete, "/api/v1/logs", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	_, body = f.do(t, http.MethodGet, "/api/v1/logs", "")
	assert.EqualValues(t, 0, body["total"])
}

func TestStreamEvents(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "event:") {
				return strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			}
		}
	}

	assert.Equal(t, "state", readEvent())

	f.store.Alert("minted")
	assert.Equal(t, string(models.EventAlert), readEvent())
}

func TestLogManager_RingBuffer(t *testing.T) {
	lm := NewLogManager(2)
	logger, _ := test.NewNullLogger()
	logger.AddHook(NewLogHook(lm))

	logger.WithError(errors.New("bad")).Error("one")
	logger.Info("two")
	logger.Info("three")

	logs := lm.GetLogs("", 0)
	require.Len(t, logs, 2)
	assert.Equal(t, "two", logs[0].Message)
	assert.Equal(t, "three", logs[1].Message)

	page, total := lm.GetLogsWithPagination("", 2, 1)
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, "two", page[0].Message)
}

func TestLogManager_ErrorFieldsAreStrings(t *testing.T) {
	lm := NewLogManager(10)
	logger, _ := test.NewNullLogger()
	logger.AddHook(NewLogHook(lm))

	logger.WithError(errors.New("bad")).WithField("price", decimal.NewFromInt(50)).Error("failed")

	logs := lm.GetLogs("error", 0)
	require.Len(t, logs, 1)
	assert.Equal(t, "bad", logs[0].Fields[logrus.ErrorKey])
	assert.Equal(t, "50", logs[0].Fields["price"])
}
