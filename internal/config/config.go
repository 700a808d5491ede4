package config

import (
	"encoding/json"
	"equity-cycle-bot/internal/models"
	"fmt"
	"os"
	"sort"
	"strings"
)

// 密钥对应的环境变量
const (
	EnvTrading212APIKey = "T212_API_KEY"
	EnvFinnhubAPIKey    = "FINNHUB_API_KEY"
)

// LoadConfig 从指定路径加载JSON配置文件，填充默认值，读取环境变量中的密钥并校验
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	cfg := &models.Config{}
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	ApplyDefaults(cfg)
	ApplyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 返回一份全部使用默认值的配置
func Default() *models.Config {
	cfg := &models.Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults 为未设置的字段填充默认值
func ApplyDefaults(cfg *models.Config) {
	setStr(&cfg.Environment, "demo")
	setStr(&cfg.DBPath, "./data/bot.db")
	setStr(&cfg.LedgerPath, "./data/orders.sqlite")
	setInt(&cfg.HTTPTimeoutSec, 10)

	setFloat(&cfg.PaperCash, 10000)
	setInt(&cfg.PaperTickMs, 5_000)
	setFloat(&cfg.PaperMaxStepPerc, 0.5)

	setInt(&cfg.ShoppingTimeSec, 300)
	setInt(&cfg.MinimumBuys, 3)
	setFloat(&cfg.MinimumMarketCap, 2000)
	if cfg.FilterStrictness == "" {
		cfg.FilterStrictness = models.FilterLight
	}
	setFloat(&cfg.SpendFraction, 0.05)
	setInt(&cfg.TickerTargetCount, 10)
	setInt(&cfg.SellEscalationPasses, 6)
	setInt(&cfg.OrderAttempts, 2)

	t := &cfg.Timing
	setInt(&t.MarketClosedSleepMs, 3600_000)
	setInt(&t.BalanceBackoffMs, 20_000)
	setInt(&t.InstrumentsBackoffMs, 20_000)
	setInt(&t.PositionsSettleMs, 10_000)
	setInt(&t.PositionsBackoffMs, 10_000)
	setInt(&t.LimitOrdersBackoffMs, 60_000)
	setInt(&t.BuyPacingMs, 5_000)
	setInt(&t.SellSettleMs, 20_000)
	setInt(&t.SellArmWaitMs, 180_000)
	setInt(&t.SellPostBuyWaitMs, 180_000)
	setInt(&t.EscalationSettleMs, 30_000)
	setInt(&t.EscalationPacingMs, 20_000)
	setInt(&t.PlacementPacingMs, 10_000)
	setInt(&t.CancelPacingMs, 10_000)
	setInt(&t.CancelRetryMs, 5_000)
	setInt(&t.KillSwitchPacingMs, 2_000)

	l := &cfg.LogConfig
	setStr(&l.Level, "info")
	setStr(&l.Output, "console")
	setInt(&l.MaxSize, 100)
	setInt(&l.MaxBackups, 5)
	setInt(&l.MaxAge, 30)
}

// ApplyEnv 从环境变量读取密钥 (调用方应先执行 godotenv.Load)
func ApplyEnv(cfg *models.Config) {
	if v := strings.TrimSpace(os.Getenv(EnvTrading212APIKey)); v != "" {
		cfg.Trading212APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvFinnhubAPIKey)); v != "" {
		cfg.FinnhubAPIKey = v
	}
}

// Validate 检查配置，一次性返回所有错误
func Validate(cfg *models.Config) error {
	var errs []string

	if cfg.Environment != "demo" && cfg.Environment != "live" {
		errs = append(errs, fmt.Sprintf("environment must be demo or live, got %q", cfg.Environment))
	}
	if !cfg.Paper {
		if cfg.Trading212APIKey == "" {
			errs = append(errs, EnvTrading212APIKey+" must be set unless paper mode is enabled")
		}
		if cfg.FinnhubAPIKey == "" {
			errs = append(errs, EnvFinnhubAPIKey+" must be set unless paper mode is enabled")
		}
	}
	if cfg.Paper {
		if cfg.PaperListingsFile == "" {
			errs = append(errs, "paper_listings_file must be set in paper mode")
		}
		if cfg.PaperCash <= 0 {
			errs = append(errs, "paper_cash must be positive")
		}
		if cfg.PaperTickMs <= 0 {
			errs = append(errs, "paper_tick_ms must be positive")
		}
	}
	if cfg.DBPath == "" {
		errs = append(errs, "db_path must be set")
	}
	if cfg.HTTPTimeoutSec <= 0 {
		errs = append(errs, "http_timeout_sec must be positive")
	}

	if cfg.ShoppingTimeSec <= 0 {
		errs = append(errs, "shopping_time_sec must be positive")
	}
	if cfg.MinimumBuys <= 0 {
		errs = append(errs, "minimum_buys must be positive")
	}
	if cfg.MinimumMarketCap < 0 {
		errs = append(errs, "minimum_market_cap cannot be negative")
	}
	if cfg.FilterStrictness != models.FilterStrong && cfg.FilterStrictness != models.FilterLight {
		errs = append(errs, fmt.Sprintf("filter_strictness must be STRONG or LIGHT, got %q", cfg.FilterStrictness))
	}
	if cfg.SpendFraction < 0 || cfg.SpendFraction >= 1 {
		errs = append(errs, "spend_fraction must be in [0, 1)")
	}
	if cfg.TickerTargetCount <= 0 {
		errs = append(errs, "ticker_target_count must be positive")
	}
	if cfg.SellEscalationPasses <= 0 {
		errs = append(errs, "sell_escalation_passes must be positive")
	}
	if cfg.OrderAttempts <= 0 {
		errs = append(errs, "order_attempts must be positive")
	}

	timings := map[string]int{
		"market_closed_sleep_ms":  cfg.Timing.MarketClosedSleepMs,
		"balance_backoff_ms":      cfg.Timing.BalanceBackoffMs,
		"instruments_backoff_ms":  cfg.Timing.InstrumentsBackoffMs,
		"positions_settle_ms":     cfg.Timing.PositionsSettleMs,
		"positions_backoff_ms":    cfg.Timing.PositionsBackoffMs,
		"limit_orders_backoff_ms": cfg.Timing.LimitOrdersBackoffMs,
		"buy_pacing_ms":           cfg.Timing.BuyPacingMs,
		"sell_settle_ms":          cfg.Timing.SellSettleMs,
		"sell_arm_wait_ms":        cfg.Timing.SellArmWaitMs,
		"sell_post_buy_wait_ms":   cfg.Timing.SellPostBuyWaitMs,
		"escalation_settle_ms":    cfg.Timing.EscalationSettleMs,
		"escalation_pacing_ms":    cfg.Timing.EscalationPacingMs,
		"placement_pacing_ms":     cfg.Timing.PlacementPacingMs,
		"cancel_pacing_ms":        cfg.Timing.CancelPacingMs,
		"cancel_retry_ms":         cfg.Timing.CancelRetryMs,
		"kill_switch_pacing_ms":   cfg.Timing.KillSwitchPacingMs,
	}
	for name, v := range timings {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("timing.%s cannot be negative", name))
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs) // timings 来自 map，排序保证输出稳定
		return fmt.Errorf("配置校验失败:\n - %s", strings.Join(errs, "\n - "))
	}
	return nil
}

func setStr(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}
