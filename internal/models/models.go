package models

import (
	"fmt"
	"time"
)

// FilterStrictness 定义候选股票筛选的严格程度
type FilterStrictness string

const (
	FilterStrong FilterStrictness = "STRONG"
	FilterLight  FilterStrictness = "LIGHT"
)

// Config 结构体定义了机器人的所有配置参数
// 启动时构建一次，之后只读
type Config struct {
	Environment       string `json:"environment"`                   // 券商账户环境: "demo" 或 "live"
	Paper             bool   `json:"paper"`                         // 是否使用内存模拟券商
	DBPath            string `json:"db_path"`                       // 数据库目录路径 (快照与周期日志)
	LedgerPath        string `json:"ledger_path"`                   // sqlite 订单账本文件，"off" 表示不记录
	MetricsAddr       string `json:"metrics_addr,omitempty"`        // 例如 ":9102"，为空则不启动 /metrics
	Trading212BaseURL string `json:"trading212_base_url,omitempty"` // 覆盖环境默认的API地址
	FinnhubBaseURL    string `json:"finnhub_base_url,omitempty"`
	HTTPTimeoutSec    int    `json:"http_timeout_sec"`

	// 密钥只从环境变量读取，不写入JSON文件
	Trading212APIKey string `json:"-"`
	FinnhubAPIKey    string `json:"-"`

	// 模拟券商
	PaperCash         float64 `json:"paper_cash"`          // 初始资金
	PaperListingsFile string  `json:"paper_listings_file"` // 证券列表 JSON 文件
	PaperTickMs       int     `json:"paper_tick_ms"`       // 价格随机游走间隔
	PaperMaxStepPerc  float64 `json:"paper_max_step_perc"` // 每次最大波动 (%)

	// 买入阶段
	ShoppingTimeSec           int              `json:"shopping_time_sec"`             // 筛选候选股票的时间预算 (秒)
	MinimumBuys               int              `json:"minimum_buys"`                  // 候选列表达到该数量即停止筛选
	MinimumMarketCap          float64          `json:"minimum_market_cap"`            // 最小市值 (百万)
	FilterStrictness          FilterStrictness `json:"filter_strictness"`             // STRONG 或 LIGHT
	SpendFraction             float64          `json:"spend_fraction"`                // 每个周期保留的可用资金比例
	TickerTargetCount         int              `json:"ticker_target_count"`           // 可用资金平均分配到的股票数量
	StopBuyerOnEmptyShortlist bool             `json:"stop_buyer_on_empty_shortlist"` // 候选列表为空时是否停止买入协程

	// 卖出阶段
	SellEscalationPasses int `json:"sell_escalation_passes"`

	// 单项操作 (下单、撤单) 的最大尝试次数
	OrderAttempts int `json:"order_attempts"`

	Timing    TimingConfig `json:"timing"`
	LogConfig LogConfig    `json:"log"`
}

// TimingConfig 定义所有节流延迟与重试退避时间 (毫秒)
type TimingConfig struct {
	MarketClosedSleepMs  int `json:"market_closed_sleep_ms"`
	BalanceBackoffMs     int `json:"balance_backoff_ms"`
	InstrumentsBackoffMs int `json:"instruments_backoff_ms"`
	PositionsSettleMs    int `json:"positions_settle_ms"` // 每次获取持仓前的等待
	PositionsBackoffMs   int `json:"positions_backoff_ms"`
	LimitOrdersBackoffMs int `json:"limit_orders_backoff_ms"`
	BuyPacingMs          int `json:"buy_pacing_ms"`
	SellSettleMs         int `json:"sell_settle_ms"`
	SellArmWaitMs        int `json:"sell_arm_wait_ms"`      // 初始卖单挂出后、交给买入阶段前的等待
	SellPostBuyWaitMs    int `json:"sell_post_buy_wait_ms"` // 买入完成后的等待
	EscalationSettleMs   int `json:"escalation_settle_ms"`
	EscalationPacingMs   int `json:"escalation_pacing_ms"`
	PlacementPacingMs    int `json:"placement_pacing_ms"`
	CancelPacingMs       int `json:"cancel_pacing_ms"`
	CancelRetryMs        int `json:"cancel_retry_ms"`
	KillSwitchPacingMs   int `json:"kill_switch_pacing_ms"`
}

// Millis 将毫秒配置值转换为 time.Duration
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// ShoppingTime 返回买入阶段的筛选时间预算
func (c *Config) ShoppingTime() time.Duration {
	return time.Duration(c.ShoppingTimeSec) * time.Second
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// APIError 券商与数据源返回的错误信息
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error 实现 error 接口
func (e *APIError) Error() string {
	return fmt.Sprintf("API Error: status=%d, code=%s, msg=%s", e.Status, e.Code, e.Message)
}
