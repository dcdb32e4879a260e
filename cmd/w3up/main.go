package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"w3up/internal/app"
	"w3up/internal/config"
	"w3up/internal/errors"
	"w3up/internal/journal"
	"w3up/internal/logging"
	"w3up/internal/shutdown"
	"w3up/pkg/models"

	"github.com/spf13/cobra"
)

var (
	configFile string
	verbose    bool
	record     string
	limit      int
	txTimeout  time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "w3up",
		Short:         "链上域名注册客户端",
		Long:          `连接钱包，在目标链上注册域名并写入记录，浏览已注册的域名`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "配置文件路径 (为空时使用默认配置和W3UP_*环境变量)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")
	rootCmd.PersistentFlags().DurationVar(&txTimeout, "timeout", 5*time.Minute, "等待交易确认的超时时间")

	mintCmd := &cobra.Command{
		Use:   "mint <name>",
		Short: "注册域名并写入记录",
		Args:  cobra.ExactArgs(1),
		RunE:  runMint,
	}
	mintCmd.Flags().StringVar(&record, "record", "", "域名记录")

	historyCmd := &cobra.Command{
		Use:   "history [name]",
		Short: "查看本地交易流水",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&limit, "limit", 20, "显示条数")

	networkCmd := &cobra.Command{
		Use:   "network",
		Short: "查看当前网络",
		RunE:  runNetwork,
	}
	networkCmd.AddCommand(&cobra.Command{
		Use:   "switch",
		Short: "切换到目标网络",
		RunE:  runSwitchNetwork,
	})

	rootCmd.AddCommand(
		&cobra.Command{Use: "connect", Short: "连接钱包", RunE: runConnect},
		&cobra.Command{Use: "session", Short: "查看当前会话", RunE: runSession},
		networkCmd,
		&cobra.Command{Use: "price <name>", Short: "查询域名价格", Args: cobra.ExactArgs(1), RunE: runPrice},
		mintCmd,
		&cobra.Command{Use: "set-record <name> <record>", Short: "更新域名记录", Args: cobra.ExactArgs(2), RunE: runSetRecord},
		&cobra.Command{Use: "list", Short: "列出已注册域名", RunE: runList},
		historyCmd,
		&cobra.Command{Use: "watch", Short: "持续输出状态事件", RunE: runWatch},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %s\n", describe(err))
		os.Exit(1)
	}
}

// describe 面向用户的错误描述
func describe(err error) string {
	appErr, ok := errors.As(err)
	if !ok {
		return err.Error()
	}
	msg := appErr.UserMessage()
	if appErr.Type == errors.ErrorTypeNoWallet {
		msg += "，安装地址: " + errors.WalletInstallURL
	}
	if appErr.Cause != nil && !errors.IsUserFacing(appErr) {
		msg += fmt.Sprintf(" (%v)", appErr.Cause)
	}
	return msg
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// withApp 组装客户端并读取已有会话
func withApp(ctx context.Context, watch bool, fn func(a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if err := a.Start(ctx, watch); err != nil {
		return err
	}
	return fn(a)
}

func printSession(a *app.App, session models.Session) {
	fmt.Println("👛 钱包会话")
	fmt.Println(strings.Repeat("=", 50))
	if !session.IsConnected() {
		fmt.Printf("%-12s: %s\n", "账户", "未连接")
	} else {
		fmt.Printf("%-12s: %s\n", "账户", session.ShortAccount())
		fmt.Printf("%-12s: %s\n", "浏览器", a.Guard.Target().AddressURL(session.AccountHex()))
	}
	fmt.Printf("%-12s: %s\n", "网络", a.Guard.Describe(session))
	if session.HasChain() && !a.Guard.IsOnTargetNetwork(session) {
		fmt.Printf("⚠️  当前不在 %s 上，请执行 w3up network switch\n", a.Guard.Target().ChainName)
	}
}

func runConnect(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), false, func(a *app.App) error {
		session, err := a.Coordinator.Connect(cmd.Context())
		if err != nil {
			return err
		}
		printSession(a, session)
		return nil
	})
}

func runSession(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), false, func(a *app.App) error {
		printSession(a, a.Store.Snapshot().Session)
		return nil
	})
}

func runNetwork(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), false, func(a *app.App) error {
		state := a.Store.Snapshot()
		target := a.Guard.Target()
		fmt.Printf("%-12s: %s (%s)\n", "目标网络", target.ChainName, target.ChainID)
		fmt.Printf("%-12s: %s\n", "当前网络", state.NetworkLabel)
		fmt.Printf("%-12s: %v\n", "已在目标链", state.OnTarget)
		return nil
	})
}

func runSwitchNetwork(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), false, func(a *app.App) error {
		if err := a.Coordinator.SwitchNetwork(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("✅ 已切换到 %s\n", a.Guard.Target().ChainName)
		return nil
	})
}

func runPrice(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	name := args[0]
	length := models.DomainLength(name)
	if length < models.MinDomainLength {
		return errors.ErrDomainTooShort.Wrap(nil)
	}
	if length > models.MaxDomainLength {
		return errors.ErrDomainTooLong.Wrap(nil)
	}

	fmt.Printf("%s%s: %s %s\n", name, cfg.Registry.TLD, models.PriceFor(length).String(), cfg.Chain.NativeCurrency.Symbol)
	return nil
}

func printTx(a *app.App, tx *models.TxRecord) {
	if tx == nil {
		return
	}
	fmt.Printf("  %-10s %-8s %s\n", tx.Kind, tx.Status, a.Guard.Target().TxURL(tx.Hash))
}

func runMint(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), txTimeout)
	defer cancel()

	return withApp(ctx, false, func(a *app.App) error {
		result, err := a.Coordinator.Mint(ctx, models.DomainRequest{Name: args[0], Record: record})
		if result != nil {
			printTx(a, result.RegisterTx)
			printTx(a, result.RecordTx)
		}
		if err != nil {
			return err
		}
		fmt.Printf("✅ %s%s 注册成功，价格 %s %s\n", result.Name, a.Config.Registry.TLD,
			result.Price.String(), a.Guard.Target().NativeCurrency.Symbol)
		return nil
	})
}

func runSetRecord(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), txTimeout)
	defer cancel()

	return withApp(ctx, false, func(a *app.App) error {
		tx, err := a.Coordinator.UpdateRecord(ctx, models.DomainRequest{Name: args[0], Record: args[1]})
		printTx(a, tx)
		if err != nil {
			return err
		}
		fmt.Printf("✅ %s%s 记录已更新\n", args[0], a.Config.Registry.TLD)
		return nil
	})
}

func runList(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), false, func(a *app.App) error {
		state := a.Store.Snapshot()
		if !state.Session.IsConnected() {
			return errors.ErrNotConnected
		}

		fmt.Printf("📜 已注册域名 (%d)\n", len(state.Mints))
		fmt.Println(strings.Repeat("=", 50))
		for _, m := range state.Mints {
			rec := m.Record
			if !m.HasRecord() {
				rec = "-"
			}
			fmt.Printf("%-4d %-16s %-14s %s\n", m.ID, m.FullName(a.Config.Registry.TLD), models.ShortAddress(m.Owner.Hex()), rec)
		}
		return nil
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closer, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	j, err := journal.Open(cfg.Journal.Path, logger)
	if err != nil {
		return errors.ErrStorageFailed.Wrap(err)
	}
	defer j.Close()

	var records []models.TxRecord
	if len(args) == 1 {
		records, err = j.ByName(args[0], limit)
	} else {
		records, err = j.History(limit)
	}
	if err != nil {
		return errors.ErrStorageFailed.Wrap(err)
	}

	stats, err := j.GetStats()
	if err != nil {
		return errors.ErrStorageFailed.Wrap(err)
	}

	fmt.Println("🧾 交易流水")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("总计 %d，成功 %d，失败 %d，待确认 %d\n", stats.Total, stats.Succeeded, stats.Failed, stats.Pending)
	for _, r := range records {
		fmt.Printf("%s  %-10s %-8s %-12s %s\n", r.SubmittedAt.Format("2006-01-02 15:04:05"), r.Kind, r.Status, r.Name, cfg.Chain.TxURL(r.Hash))
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	gs := shutdown.NewGracefulShutdown(15*time.Second, a.Logger)
	a.RegisterShutdown(gs)

	a.Store.Subscribe(func(event models.Event) {
		line := fmt.Sprintf("[%s] %-16s phase=%s", event.Time.Format("15:04:05"), event.Type, event.State.Phase)
		if event.Message != "" {
			line += " " + event.Message
		}
		if event.Tx != nil {
			line += fmt.Sprintf(" tx=%s status=%s", event.Tx.Hash, event.Tx.Status)
		}
		fmt.Println(line)
	})

	gs.Start()
	if err := a.Start(gs.Context(), true); err != nil {
		gs.Shutdown()
		return err
	}

	fmt.Println("👀 监听中，按 Ctrl+C 退出")
	return gs.Wait()
}
