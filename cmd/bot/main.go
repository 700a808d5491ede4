package main

import (
	"context"
	"equity-cycle-bot/internal/bot"
	"equity-cycle-bot/internal/config"
	"equity-cycle-bot/internal/exchange"
	"equity-cycle-bot/internal/filters"
	"equity-cycle-bot/internal/logger"
	"equity-cycle-bot/internal/metrics"
	"equity-cycle-bot/internal/models"
	"equity-cycle-bot/internal/persistence"
	"equity-cycle-bot/internal/reporter"
	"equity-cycle-bot/internal/storage"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	paperMode  bool
	recentN    int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "equity-cycle-bot",
		Short: "周期性股票交易机器人",
		Long: `equity-cycle-bot 按 控制 -> 买入 -> 卖出 -> 控制 的顺序循环运行:
刷新账户数据、筛选并买入候选股票、对持仓挂出逐步调价的限价卖单。`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "配置文件路径")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(killSwitchCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 加载 .env 和 JSON 配置，并按配置初始化全局日志
func loadConfig(overrides func(*models.Config)) (*models.Config, error) {
	// 为了在加载配置时就能记录日志，先使用默认配置初始化
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("无法加载配置文件: %w", err)
	}
	if overrides != nil {
		overrides(cfg)
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}

	logger.InitLogger(cfg.LogConfig)
	return cfg, nil
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "启动交易机器人",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(func(c *models.Config) {
				if paperMode {
					c.Paper = true
				}
			})
			if err != nil {
				return err
			}
			defer logger.S().Sync()
			return runBot(cfg)
		},
	}
	cmd.Flags().BoolVar(&paperMode, "paper", false, "使用内存模拟券商 (覆盖配置文件)")
	return cmd
}

func runBot(cfg *models.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("打开数据库失败: %w", err)
	}
	defer repo.Close()

	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	if ledger != nil {
		defer ledger.Close()
	}

	var (
		data    exchange.DataProvider
		gateway exchange.OrderGateway
		paper   *exchange.PaperBroker
	)
	if cfg.Paper {
		paper, err = newPaperBroker(cfg)
		if err != nil {
			return err
		}
		go paper.RunPriceFeed(ctx, models.Millis(cfg.PaperTickMs), cfg.PaperMaxStepPerc, uint64(time.Now().UnixNano()))
		data, gateway = paper, paper
		logger.S().Info("模拟模式已启用，所有订单在内存中撮合。")
	} else {
		broker := newTrading212(cfg)
		data, gateway = exchange.NewProvider(broker, newFinnhub(cfg)), broker
		logger.S().Infof("实盘模式，券商环境: %s", cfg.Environment)
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.L().Error("metrics 服务异常退出", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.S().Infof("metrics 服务监听于 %s", cfg.MetricsAddr)
	}

	b := bot.NewCycleBot(cfg, bot.Deps{Data: data, Gateway: gateway, Repo: repo, Ledger: ledger}, logger.L())
	runErr := b.Run(ctx)
	logger.S().Info("机器人已停止")

	if paper != nil {
		balance, err := paper.FetchBalance(context.Background())
		if err == nil {
			reporter.SessionReport(os.Stdout, reporter.CalculateSession(cfg.PaperCash, *balance, paper.Trades()))
		}
	}
	return runErr
}

// openLedger 打开 sqlite 订单账本，ledger_path 为 "off" 时返回 nil
func openLedger(cfg *models.Config) (*storage.Ledger, error) {
	if cfg.LedgerPath == "" || cfg.LedgerPath == "off" {
		return nil, nil
	}
	ledger, err := storage.Open(cfg.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("打开订单账本失败: %w", err)
	}
	return ledger, nil
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func newPaperBroker(cfg *models.Config) (*exchange.PaperBroker, error) {
	listings, err := exchange.LoadPaperListings(cfg.PaperListingsFile)
	if err != nil {
		return nil, fmt.Errorf("加载模拟证券列表失败: %w", err)
	}
	paper := exchange.NewPaperBroker(cfg.PaperCash, logger.ForWorker("paper"))
	paper.SetMinimumMarketCap(filters.MarketCapFloor(cfg.FilterStrictness, cfg.MinimumMarketCap))
	for _, l := range listings {
		paper.AddListing(l)
	}
	return paper, nil
}

func newTrading212(cfg *models.Config) *exchange.Trading212Client {
	timeout := time.Duration(cfg.HTTPTimeoutSec) * time.Second
	return exchange.NewTrading212Client(cfg.Trading212APIKey, cfg.Environment, cfg.Trading212BaseURL, timeout, logger.ForWorker("trading212"))
}

func newFinnhub(cfg *models.Config) *exchange.FinnhubClient {
	timeout := time.Duration(cfg.HTTPTimeoutSec) * time.Second
	floor := filters.MarketCapFloor(cfg.FilterStrictness, cfg.MinimumMarketCap)
	return exchange.NewFinnhubClient(cfg.FinnhubAPIKey, cfg.FinnhubBaseURL, floor, timeout, logger.ForWorker("finnhub"))
}

func killSwitchCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "killswitch",
		Short: "撤销所有挂单并以市价卖出全部持仓",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("紧急清仓会卖出全部持仓，请使用 --yes 确认")
			}
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			defer logger.S().Sync()
			if cfg.Paper {
				return errors.New("模拟券商只存在于 run 进程内，无法清仓")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			broker := newTrading212(cfg)
			res, err := bot.KillSwitch(ctx, broker, broker, models.Millis(cfg.Timing.KillSwitchPacingMs), logger.ForWorker("killswitch"))
			if res != nil {
				fmt.Printf("已撤单 %d (失败 %d)，已卖出持仓 %d (失败 %d)\n",
					res.OrdersCancelled, res.CancelFailures, res.PositionsSold, res.SellFailures)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "确认执行")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "显示最近的账户快照和周期记录",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			defer logger.S().Sync()

			repo, err := persistence.NewBadgerRepository(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("打开数据库失败: %w", err)
			}
			defer repo.Close()

			snap, err := repo.ReadAccountSnapshot()
			if err != nil {
				return err
			}
			reporter.AccountStatus(os.Stdout, snap)

			records, err := repo.LoadRecentCycles(recentN)
			if err != nil {
				return err
			}
			reporter.RecentCycles(os.Stdout, records)

			ledger, err := openLedger(cfg)
			if err != nil {
				return err
			}
			if ledger == nil {
				return nil
			}
			defer ledger.Close()
			if len(records) > 0 {
				latest := records[0].CycleID
				entries, err := ledger.OrdersForCycle(latest)
				if err != nil {
					return err
				}
				reporter.OrderLedger(os.Stdout, latest, entries)
			}
			counts, err := ledger.CountBySide()
			if err != nil {
				return err
			}
			fmt.Printf("累计已下单: 买入 %d, 卖出 %d\n", counts[storage.SideBuy], counts[storage.SideSell])
			return nil
		},
	}
	cmd.Flags().IntVarP(&recentN, "limit", "n", 10, "显示的周期数量")
	return cmd
}
