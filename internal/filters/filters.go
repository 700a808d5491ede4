package filters

import (
	"equity-cycle-bot/internal/models"

	"go.uber.org/zap"
)

// Predicate 判断候选公司是否可以进入买入列表
type Predicate interface {
	Passes(company *models.CandidateCompany) bool
}

// PredicateFunc 允许普通函数作为 Predicate 使用
type PredicateFunc func(company *models.CandidateCompany) bool

// Passes 实现 Predicate 接口
func (f PredicateFunc) Passes(company *models.CandidateCompany) bool {
	return f(company)
}

// 筛选阈值
const (
	minVolumeToMarketCapPerc = 0.1
	minBeta                  = 0.5
)

// Default 默认筛选器: 市值、成交量、波动率、当日表现，STRONG 模式下追加内部人交易检查
type Default struct {
	strictness       models.FilterStrictness
	minimumMarketCap float64
	logger           *zap.Logger
}

// NewDefault 创建默认筛选器。minimumMarketCap 以百万为单位。
func NewDefault(strictness models.FilterStrictness, minimumMarketCap float64, logger *zap.Logger) *Default {
	return &Default{strictness: strictness, minimumMarketCap: minimumMarketCap, logger: logger}
}

// MarketCapFloor 返回给定严格程度下的最小市值: LIGHT 模式为一半
func MarketCapFloor(strictness models.FilterStrictness, minimumMarketCap float64) float64 {
	if strictness == models.FilterLight {
		return minimumMarketCap / 2
	}
	return minimumMarketCap
}

type check struct {
	name string
	fn   func(*models.CandidateCompany) bool
}

// Passes 依次执行各项检查，任一失败即返回 false
func (d *Default) Passes(c *models.CandidateCompany) bool {
	log := d.logger.With(zap.String("ticker", c.Instrument.Ticker))

	checks := []check{
		{"market_cap", d.marketCap},
		{"volume", volume},
		{"volatility", volatility},
		{"daily_performance", dailyPerformance},
	}
	if d.strictness == models.FilterStrong {
		checks = append(checks, check{"insider_activity", insiderActivity})
	}

	for _, chk := range checks {
		if !chk.fn(c) {
			log.Debug("筛选未通过", zap.String("filter", chk.name))
			return false
		}
	}
	log.Debug("筛选通过")
	return true
}

func (d *Default) marketCap(c *models.CandidateCompany) bool {
	return c.Profile.MarketCapitalization >= MarketCapFloor(d.strictness, d.minimumMarketCap)
}

// volume 10日均量 * 当前价 / 市值 * 100 必须大于 0.1，缺少指标视为失败
func volume(c *models.CandidateCompany) bool {
	avg := c.Financials.Metric.AvgVolume10Day
	if avg == nil || c.Profile.MarketCapitalization <= 0 {
		return false
	}
	ratio := *avg * c.Quote.Current / c.Profile.MarketCapitalization * 100
	return ratio > minVolumeToMarketCapPerc
}

func volatility(c *models.CandidateCompany) bool {
	return c.Financials.Metric.Beta >= minBeta
}

func dailyPerformance(c *models.CandidateCompany) bool {
	return c.Quote.Current > c.Quote.Open
}

// insiderActivity 无数据时通过，否则内部人净买入必须为正
func insiderActivity(c *models.CandidateCompany) bool {
	if c.InsiderTransactions == nil {
		return true
	}
	var total int64
	for _, t := range c.InsiderTransactions {
		total += t.Change
	}
	return total > 0
}
