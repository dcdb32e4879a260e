package api

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"w3up/internal/errors"
	"w3up/internal/journal"
	"w3up/internal/network"
	"w3up/internal/validation"
	"w3up/internal/workflow"
	"w3up/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Client 服务端依赖的工作流操作，*workflow.Coordinator 满足该接口
type Client interface {
	Connect(ctx context.Context) (models.Session, error)
	Disconnect()
	SwitchNetwork(ctx context.Context) error
	Mint(ctx context.Context, req models.DomainRequest) (*workflow.MintResult, error)
	UpdateRecord(ctx context.Context, req models.DomainRequest) (*models.TxRecord, error)
	Refresh(ctx context.Context) error
	Price(name string) (workflow.MintQuote, error)
}

// History 交易历史查询
type History interface {
	GetTx(hash string) (*models.TxRecord, error)
	History(limit int) ([]models.TxRecord, error)
	ByName(name string, limit int) ([]models.TxRecord, error)
	GetStats() (journal.Stats, error)
}

// ErrorStats 错误统计来源，*errors.ErrorHandler 满足
type ErrorStats interface {
	GetStats() errors.ErrorStats
	ClearStats()
}

// NodeStats 节点统计来源，*connection.ConnectionPool 满足
type NodeStats interface {
	GetStats() map[string]interface{}
}

// ShutdownState 停机状态，*shutdown.GracefulShutdown 满足
type ShutdownState interface {
	IsShuttingDown() bool
	GetRegisteredFunctions() []string
}

// Options 服务器可选依赖
type Options struct {
	History    History
	Metrics    http.Handler
	Configs    *ConfigManager
	LogManager *LogManager
	Errors     ErrorStats
	Nodes      NodeStats
	Shutdown   ShutdownState
	Validator  *validation.Validator
	TLD        string
	Mode       string
}

// Server API服务器
type Server struct {
	client     Client
	store      *workflow.Store
	guard      *network.Guard
	opts       Options
	logger     *logrus.Logger
	logManager *LogManager
	server     *http.Server
	router     *gin.Engine
	mu         sync.Mutex
	startedAt  time.Time
}

// NewServer 创建API服务器
func NewServer(client Client, store *workflow.Store, guard *network.Guard, opts Options, logger *logrus.Logger) *Server {
	if opts.LogManager == nil {
		opts.LogManager = NewLogManager(1000)
		logger.AddHook(NewLogHook(opts.LogManager))
	}
	if opts.Mode == "" {
		opts.Mode = gin.ReleaseMode
	}
	if opts.Validator == nil {
		opts.Validator = validation.NewValidator(logger, false)
	}

	s := &Server{
		client:     client,
		store:      store,
		guard:      guard,
		opts:       opts,
		logger:     logger,
		logManager: opts.LogManager,
		startedAt:  time.Now(),
	}

	gin.SetMode(opts.Mode)
	router := gin.New()
	router.Use(corsMiddleware(), requestLogger(logger), gin.Recovery())
	s.setupRoutes(router)
	s.router = router
	return s
}

// Handler 返回HTTP处理器
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动API服务器，阻塞直到关闭
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Infof("API服务器启动在 %s", addr)
	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止API服务器
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Info("API服务器正在关闭")
	return srv.Shutdown(ctx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogger 用logrus记录请求
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"component": "api",
			"method":    c.Request.Method,
			"path":      c.FullPath(),
			"status":    c.Writer.Status(),
			"latency":   time.Since(start).String(),
		}).Debug("HTTP请求")
	}
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)
	if s.opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}

	api := router.Group("/api/v1")
	{
		// 会话与网络
		api.GET("/session", s.getSession)
		api.POST("/connect", s.connect)
		api.POST("/disconnect", s.disconnect)
		api.GET("/network", s.getNetwork)
		api.POST("/network/switch", s.switchNetwork)

		// 域名
		api.GET("/price", s.getPrice)
		api.GET("/domains", s.listDomains)
		api.POST("/domains", s.mintDomain)
		api.PUT("/domains/:name/record", s.updateRecord)
		api.POST("/domains/refresh", s.refreshDomains)

		// 状态
		api.GET("/state", s.getState)
		api.DELETE("/alert", s.dismissAlert)
		api.GET("/events", s.streamEvents)
		api.GET("/history", s.getHistory)
		api.GET("/history/:hash", s.getTx)
		api.GET("/stats", s.getStats)
		api.DELETE("/stats/errors", s.clearErrorStats)

		// 日志管理
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)

		if s.opts.Configs != nil {
			api.GET("/config", s.opts.Configs.GetConfig)
			api.PUT("/config", s.opts.Configs.UpdateConfig)
		}
	}
}

// statusFor 错误类型对应的HTTP状态码
func statusFor(err *errors.AppError) int {
	switch err.Type {
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeNoWallet:
		return http.StatusPreconditionFailed
	case errors.ErrorTypeUserRejected:
		return http.StatusForbidden
	case errors.ErrorTypeWrongNetwork, errors.ErrorTypeBusy:
		return http.StatusConflict
	case errors.ErrorTypeTransactionFailed:
		return http.StatusUnprocessableEntity
	case errors.ErrorTypeProvider, errors.ErrorTypeChainUnknown:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError 统一错误响应
func (s *Server) respondError(c *gin.Context, err error) {
	appErr := errors.Classify(err)
	body := gin.H{
		"error":   appErr.Code,
		"type":    appErr.Type.String(),
		"message": appErr.UserMessage(),
	}
	if appErr.Type == errors.ErrorTypeNoWallet {
		body["install_url"] = errors.WalletInstallURL
	}
	if appErr.TxHash != nil {
		body["tx_hash"] = *appErr.TxHash
		body["tx_url"] = s.guard.Target().TxURL(*appErr.TxHash)
	}
	c.JSON(statusFor(appErr), body)
}

// healthCheck 健康检查，停机过程中返回503
func (s *Server) healthCheck(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	if s.opts.Shutdown != nil && s.opts.Shutdown.IsShuttingDown() {
		status, code = "shutting_down", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"service":   "w3up-api",
	})
}

func (s *Server) sessionView(session models.Session) gin.H {
	view := gin.H{
		"account":       session.AccountHex(),
		"short_account": session.ShortAccount(),
		"chain_id":      session.ChainID,
		"connected":     session.IsConnected(),
		"network_label": s.guard.Describe(session),
		"on_target":     s.guard.IsOnTargetNetwork(session),
	}
	if session.IsConnected() {
		view["account_url"] = s.guard.Target().AddressURL(session.AccountHex())
	}
	return view
}

// getSession 当前会话
func (s *Server) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessionView(s.store.Snapshot().Session))
}

// connect 请求钱包授权
func (s *Server) connect(c *gin.Context) {
	session, err := s.client.Connect(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.sessionView(session))
}

// disconnect 清空本地会话
func (s *Server) disconnect(c *gin.Context) {
	s.client.Disconnect()
	c.JSON(http.StatusOK, s.sessionView(s.store.Snapshot().Session))
}

// getNetwork 目标网络与当前网络
func (s *Server) getNetwork(c *gin.Context) {
	session := s.store.Snapshot().Session
	c.JSON(http.StatusOK, gin.H{
		"target":    s.guard.Target(),
		"current":   session.ChainID,
		"label":     s.guard.Describe(session),
		"on_target": s.guard.IsOnTargetNetwork(session),
	})
}

// switchNetwork 切换到目标网络
func (s *Server) switchNetwork(c *gin.Context) {
	if err := s.client.SwitchNetwork(c.Request.Context()); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "网络已切换",
		"network": s.sessionView(s.store.Snapshot().Session),
	})
}

// getPrice 域名价格
func (s *Server) getPrice(c *gin.Context) {
	quote, err := s.client.Price(c.Query("name"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      quote.Name,
		"full_name": quote.Name + s.opts.TLD,
		"length":    quote.Length,
		"price":     quote.Price.String(),
		"symbol":    quote.Symbol,
	})
}

func (s *Server) mintView(m models.MintRecord) gin.H {
	return gin.H{
		"id":         m.ID,
		"name":       m.Name,
		"full_name":  m.FullName(s.opts.TLD),
		"record":     m.Record,
		"has_record": m.HasRecord(),
		"owner":      m.Owner.Hex(),
	}
}

// listDomains 已注册域名快照，owner 参数按持有者过滤
func (s *Server) listDomains(c *gin.Context) {
	var filter *common.Address
	if raw := strings.TrimSpace(c.Query("owner")); raw != "" {
		if result := s.opts.Validator.ValidateAddress(raw); !result.Valid {
			s.respondError(c, result.Err())
			return
		}
		addr := common.HexToAddress(raw)
		filter = &addr
	}

	state := s.store.Snapshot()
	domains := make([]gin.H, 0, len(state.Mints))
	for _, m := range state.Mints {
		if filter != nil && m.Owner != *filter {
			continue
		}
		domains = append(domains, s.mintView(m))
	}

	body := gin.H{
		"domains": domains,
		"total":   len(domains),
		"loading": state.Loading,
	}
	if !state.LastFetched.IsZero() {
		body["last_fetched"] = state.LastFetched.Unix()
	}
	c.JSON(http.StatusOK, body)
}

type domainRequest struct {
	Name   string `json:"name"`
	Record string `json:"record"`
}

func (s *Server) txView(tx *models.TxRecord) gin.H {
	if tx == nil {
		return nil
	}
	return gin.H{
		"hash":   tx.Hash,
		"kind":   tx.Kind,
		"status": tx.Status,
		"url":    s.guard.Target().TxURL(tx.Hash),
	}
}

// mintDomain 注册域名并写入记录
func (s *Server) mintDomain(c *gin.Context) {
	var req domainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "请求参数错误",
			"message": err.Error(),
		})
		return
	}

	result, err := s.client.Mint(c.Request.Context(), models.DomainRequest{Name: req.Name, Record: req.Record})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "域名注册成功",
		"name":        result.Name,
		"full_name":   result.Name + s.opts.TLD,
		"price":       result.Price.String(),
		"register_tx": s.txView(result.RegisterTx),
		"record_tx":   s.txView(result.RecordTx),
	})
}

// updateRecord 更新域名记录
func (s *Server) updateRecord(c *gin.Context) {
	var req struct {
		Record string `json:"record"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "请求参数错误",
			"message": err.Error(),
		})
		return
	}

	tx, err := s.client.UpdateRecord(c.Request.Context(), models.DomainRequest{Name: c.Param("name"), Record: req.Record})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "记录已更新",
		"tx":      s.txView(tx),
	})
}

// refreshDomains 手动刷新注册表
func (s *Server) refreshDomains(c *gin.Context) {
	if err := s.client.Refresh(c.Request.Context()); err != nil {
		s.respondError(c, err)
		return
	}
	s.listDomains(c)
}

// getState 完整状态快照
func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Snapshot())
}

// dismissAlert 用户确认提示
func (s *Server) dismissAlert(c *gin.Context) {
	s.store.DismissAlert()
	c.JSON(http.StatusOK, gin.H{"message": "提示已关闭"})
}

// streamEvents 以SSE推送状态事件
func (s *Server) streamEvents(c *gin.Context) {
	events := make(chan models.Event, 64)
	unsubscribe := s.store.Subscribe(func(event models.Event) {
		select {
		case events <- event:
		default:
			s.logger.WithField("event", event.Type).Warn("SSE客户端消费过慢，丢弃事件")
		}
	})
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("state", s.store.Snapshot())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event := <-events:
			c.SSEvent(string(event.Type), event)
			return true
		}
	})
}

// getHistory 交易历史
func (s *Server) getHistory(c *gin.Context) {
	if s.opts.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "交易日志未启用"})
		return
	}

	limit := 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}

	var (
		records []models.TxRecord
		err     error
	)
	if name := strings.TrimSpace(c.Query("name")); name != "" {
		records, err = s.opts.History.ByName(name, limit)
	} else {
		records, err = s.opts.History.History(limit)
	}
	if err != nil {
		s.respondError(c, errors.ErrStorageFailed.Wrap(err))
		return
	}

	stats, err := s.opts.History.GetStats()
	if err != nil {
		s.respondError(c, errors.ErrStorageFailed.Wrap(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": records,
		"total":        len(records),
		"stats":        stats,
	})
}

// getTx 按哈希查询交易流水
func (s *Server) getTx(c *gin.Context) {
	if s.opts.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "交易日志未启用"})
		return
	}

	hash := c.Param("hash")
	if result := s.opts.Validator.ValidateTxHash(hash); !result.Valid {
		s.respondError(c, result.Err())
		return
	}

	record, err := s.opts.History.GetTx(common.HexToHash(hash).Hex())
	if err != nil {
		s.respondError(c, errors.ErrStorageFailed.Wrap(err))
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "交易不存在", "hash": hash})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transaction": record,
		"url":         s.guard.Target().TxURL(record.Hash),
	})
}

// getStats 错误、节点和验证器统计
func (s *Server) getStats(c *gin.Context) {
	body := gin.H{
		"validation": s.opts.Validator.GetValidationStats(),
	}
	if s.opts.Errors != nil {
		body["errors"] = s.opts.Errors.GetStats().Summary()
	}
	if s.opts.Nodes != nil {
		body["nodes"] = s.opts.Nodes.GetStats()
	}
	if s.opts.Shutdown != nil {
		body["shutdown_steps"] = s.opts.Shutdown.GetRegisteredFunctions()
	}
	c.JSON(http.StatusOK, body)
}

// clearErrorStats 清空错误统计
func (s *Server) clearErrorStats(c *gin.Context) {
	if s.opts.Errors == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "错误统计未启用"})
		return
	}
	s.opts.Errors.ClearStats()
	c.JSON(http.StatusOK, gin.H{"message": "错误统计已清空"})
}

// getLogs 获取日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")

	page := 1
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}
	pageSize := 20
	if ps, err := strconv.Atoi(c.Query("pageSize")); err == nil && ps > 0 {
		pageSize = ps
	}

	logs, total := s.logManager.GetLogsWithPagination(level, page, pageSize)
	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()
	c.JSON(http.StatusOK, gin.H{"message": "日志已清空"})
}
