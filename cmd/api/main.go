package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"w3up/internal/api"
	"w3up/internal/app"
	"w3up/internal/config"
	"w3up/internal/shutdown"
)

var (
	configPath = flag.String("config", "", "配置文件路径")
	host       = flag.String("host", "", "监听地址，覆盖配置")
	port       = flag.Int("port", 0, "API 服务端口，覆盖配置")
	verbose    = flag.Bool("verbose", false, "详细输出")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}
	if *host != "" {
		cfg.API.Host = *host
	}
	if *port > 0 {
		cfg.API.Port = *port
	}

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化失败: %v\n", err)
		os.Exit(1)
	}
	logger := a.Logger

	gs := shutdown.NewGracefulShutdown(30*time.Second, logger)
	a.RegisterShutdown(gs)

	// 配置了数据库时开放配置管理接口
	var configs *api.ConfigManager
	if dsn := os.Getenv(config.EnvPrefix + "_DB_DSN"); dsn != "" {
		dbConfig, err := config.NewDatabaseConfig(dsn, logger)
		if err != nil {
			logger.Warnf("连接配置数据库失败，配置接口不可用: %v", err)
		} else {
			configs = api.NewConfigManager(dbConfig, logger)
			gs.RegisterCloser("config_db", dbConfig, shutdown.OrderCloseProviders)
		}
	}

	server := a.APIServer(configs, gs)
	gs.RegisterShutdownFunc("api_server", server.Stop, shutdown.OrderStopAPI)

	if err := a.Start(gs.Context(), true); err != nil {
		logger.Warnf("读取钱包会话失败: %v", err)
	}

	gs.Start()
	go func() {
		if err := server.Start(cfg.API.Addr()); err != nil {
			logger.Errorf("启动服务器失败: %v", err)
			gs.Shutdown()
		}
	}()

	if err := gs.Wait(); err != nil {
		logger.WithError(err).Error("服务器关闭时发生错误")
		os.Exit(1)
	}
}
