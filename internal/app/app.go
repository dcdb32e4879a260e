package app

import (
	"context"
	"fmt"
	"io"

	"w3up/internal/api"
	"w3up/internal/config"
	"w3up/internal/connection"
	"w3up/internal/errors"
	"w3up/internal/journal"
	"w3up/internal/logging"
	"w3up/internal/metrics"
	"w3up/internal/network"
	"w3up/internal/output"
	"w3up/internal/registry"
	"w3up/internal/retry"
	"w3up/internal/shutdown"
	"w3up/internal/validation"
	"w3up/internal/wallet"
	"w3up/internal/workflow"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// App 组装好的客户端
type App struct {
	Config      *config.Config
	Logger      *logrus.Logger
	Errors      *errors.ErrorHandler
	Metrics     *metrics.PrometheusRecorder
	Validator   *validation.Validator
	Guard       *network.Guard
	Store       *workflow.Store
	Sessions    *wallet.SessionManager
	Watcher     *wallet.ChainWatcher
	Pool        *connection.ConnectionPool
	Contract    *registry.Contract
	Journal     *journal.Journal
	Output      output.Output
	Coordinator *workflow.Coordinator
	LogManager  *api.LogManager

	provider  wallet.Provider
	logCloser io.Closer
	closers   []func(context.Context) error
}

// New 按配置组装客户端，失败时释放已打开的资源
func New(ctx context.Context, cfg *config.Config) (app *App, err error) {
	logger, logCloser, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	a := &App{
		Config:     cfg,
		Logger:     logger,
		LogManager: api.NewLogManager(1000),
		logCloser:  logCloser,
	}
	logger.AddHook(api.NewLogHook(a.LogManager))

	defer func() {
		if err != nil {
			a.closeAll(context.Background())
		}
	}()

	a.Errors = errors.NewErrorHandler(logger)
	a.Metrics = metrics.NewPrometheusRecorder()
	a.Guard = network.NewGuard(cfg.Chain, logger)
	a.Store = workflow.NewStore(logger)
	workflow.BindAlerts(a.Errors, a.Store)
	a.Errors.AddCallback(func(err *errors.AppError) {
		a.Metrics.ErrorHandled(err.Type.String())
	})
	a.Validator = validation.NewValidator(logger, cfg.Registry.StrictNames)

	if err := a.openOutput(); err != nil {
		return nil, err
	}
	if err := a.openJournal(); err != nil {
		return nil, err
	}
	if err := a.openPool(ctx); err != nil {
		return nil, err
	}
	if err := a.openWallet(ctx); err != nil {
		return nil, err
	}

	a.Contract, err = registry.NewContract(
		common.HexToAddress(cfg.Registry.Contract),
		a.Pool,
		retry.NewRetrier(cfg.Retry, logger),
		cfg.Registry.ReceiptPollInterval,
		logger,
	)
	if err != nil {
		return nil, err
	}

	a.Sessions = wallet.NewSessionManager(a.provider, logger)
	a.Watcher = wallet.NewChainWatcher(a.Sessions, cfg.Wallet.WatchInterval, logger)
	a.Coordinator = a.buildCoordinator()
	// 逆序关闭时先于连接池执行
	a.closers = append(a.closers, func(context.Context) error {
		a.Coordinator.Close()
		return nil
	})
	return a, nil
}

// openOutput 事件输出，订阅状态存储
func (a *App) openOutput() error {
	var kafka *output.KafkaSettings
	if a.Config.Output.Kafka != nil {
		kafka = &output.KafkaSettings{
			Brokers: a.Config.Output.Kafka.Brokers,
			Topics:  a.Config.Output.Kafka.Topics,
		}
	}

	out, err := output.NewOutputWithConfig(a.Config.Output.Format, a.Config.Output.Directory, kafka, a.Logger)
	if err != nil {
		return errors.ErrOutputFailed.Wrap(err)
	}
	a.Output = out

	unsubscribe := a.Store.Subscribe(output.Forwarder(out, a.Logger))
	a.closers = append(a.closers, func(context.Context) error {
		unsubscribe()
		return out.Close()
	})
	return nil
}

func (a *App) openJournal() error {
	j, err := journal.Open(a.Config.Journal.Path, a.Logger)
	if err != nil {
		return errors.ErrStorageFailed.Wrap(err)
	}
	a.Journal = j
	a.closers = append(a.closers, func(context.Context) error { return j.Close() })
	return nil
}

func (a *App) openPool(ctx context.Context) error {
	a.Pool = connection.NewConnectionPool(a.Config.ReadNodes(), connection.DialEthClient, a.Logger)
	a.closers = append(a.closers, func(context.Context) error { return a.Pool.Close() })
	if err := a.Pool.Initialize(ctx); err != nil {
		return errors.ErrProvider.Wrap(err).WithComponent("connection_pool")
	}
	return nil
}

// openWallet 私钥优先，其次外部钱包RPC，都未配置时视为未安装钱包
func (a *App) openWallet(ctx context.Context) error {
	w := a.Config.Wallet
	switch {
	case w.PrivateKey != "":
		p, err := wallet.DialKeyProvider(ctx, a.Config.WalletRPCURL(), w.PrivateKey, a.Logger)
		if err != nil {
			return err
		}
		a.provider = p
	case w.RPCURL != "":
		p, err := wallet.DialRPCProvider(ctx, w.RPCURL, a.Logger)
		if err != nil {
			return err
		}
		a.provider = p
	default:
		a.Logger.Info("未配置钱包，只能浏览注册表")
		return nil
	}

	provider := a.provider
	a.closers = append(a.closers, func(context.Context) error {
		provider.Close()
		return nil
	})
	return nil
}

func (a *App) buildCoordinator() *workflow.Coordinator {
	cfg := a.Config
	reader := registry.NewReader(a.Contract, cfg.Registry.Workers, a.Logger)
	refresher := workflow.NewRefresher(reader, a.Store, a.Metrics, a.Logger)

	deps := workflow.Deps{
		Session:   a.Sessions,
		Gate:      a.Guard,
		Registry:  a.Contract,
		Validator: a.Validator,
		Store:     a.Store,
		Refresher: refresher,
		Journal:   a.Journal,
		Errors:    a.Errors,
		Metrics:   a.Metrics,
		Logger:    a.Logger,
	}

	registrar := workflow.NewRegistrar(deps, cfg.Registry.RefreshDelay, workflow.AfterFunc)
	updater := workflow.NewRecordUpdater(deps)
	return workflow.NewCoordinator(a.Sessions, a.Guard, a.Store, refresher, registrar, updater, a.Errors, a.Logger)
}

// Start 启动后台任务并读取已授权会话；读取失败时后台任务照常运行，由链变更监听重新推导会话
func (a *App) Start(ctx context.Context, watch bool) error {
	a.Pool.StartHealthCheck(ctx)
	if watch && a.Sessions.HasProvider() {
		a.Watcher.Start(ctx)
	}
	return a.Coordinator.Init(ctx)
}

// RegisterShutdown 注册停机处理
func (a *App) RegisterShutdown(gs *shutdown.GracefulShutdown) {
	gs.RegisterShutdownFunc("chain_watcher", func(context.Context) error {
		a.Watcher.Stop()
		return nil
	}, shutdown.OrderStopWatchers)
	gs.RegisterShutdownFunc("resources", a.closeAll, shutdown.OrderCloseOutputs)
}

// Close 释放全部资源
func (a *App) Close(ctx context.Context) error {
	if a.Watcher != nil {
		a.Watcher.Stop()
	}
	return a.closeAll(ctx)
}

// closeAll 按打开的逆序关闭，只执行一次
func (a *App) closeAll(ctx context.Context) error {
	closers := a.closers
	a.closers = nil

	var firstErr error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			a.Logger.WithError(err).Warn("关闭资源失败")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if a.logCloser != nil {
		a.logCloser.Close()
		a.logCloser = nil
	}
	return firstErr
}

// APIServer 创建HTTP服务，gs 非 nil 时健康检查会反映停机状态
func (a *App) APIServer(configs *api.ConfigManager, gs *shutdown.GracefulShutdown) *api.Server {
	opts := api.Options{
		History:    a.Journal,
		Metrics:    a.Metrics.Handler(),
		Configs:    configs,
		LogManager: a.LogManager,
		Errors:     a.Errors,
		Nodes:      a.Pool,
		Validator:  a.Validator,
		TLD:        a.Config.Registry.TLD,
		Mode:       a.Config.API.Mode,
	}
	if gs != nil {
		opts.Shutdown = gs
	}
	return api.NewServer(a.Coordinator, a.Store, a.Guard, opts, a.Logger)
}
