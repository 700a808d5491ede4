package exchange

import (
	"context"
	"equity-cycle-bot/internal/models"
)

// Provider 将券商账户数据与行情数据源组合为一个 DataProvider
type Provider struct {
	BrokerData
	market MarketData
}

// NewProvider 创建组合数据源
func NewProvider(broker BrokerData, market MarketData) *Provider {
	return &Provider{BrokerData: broker, market: market}
}

// IsMarketOpen 委托给行情数据源
func (p *Provider) IsMarketOpen(ctx context.Context) bool {
	return p.market.IsMarketOpen(ctx)
}

// FetchCandidateDetails 委托给行情数据源
func (p *Provider) FetchCandidateDetails(ctx context.Context, instrument models.Instrument) (*models.CandidateCompany, error) {
	return p.market.FetchCandidateDetails(ctx, instrument)
}
