package exchange

import (
	"context"
	"equity-cycle-bot/internal/models"
)

// BrokerData 定义了从券商读取账户数据的方法
type BrokerData interface {
	FetchInstruments(ctx context.Context) ([]models.Instrument, error)
	FetchBalance(ctx context.Context) (*models.Balance, error)
	FetchPositions(ctx context.Context) ([]models.Position, error)
	FetchOpenOrders(ctx context.Context) ([]models.LimitOrder, error)
}

// MarketData 定义了行情与基本面数据源
type MarketData interface {
	// IsMarketOpen 获取失败时返回 false
	IsMarketOpen(ctx context.Context) bool
	// FetchCandidateDetails 返回 ErrNotFound 表示该股票不值得继续评估
	FetchCandidateDetails(ctx context.Context, instrument models.Instrument) (*models.CandidateCompany, error)
}

// DataProvider 是控制协程与买卖阶段使用的全部只读数据
type DataProvider interface {
	BrokerData
	MarketData
}

// OrderGateway 定义了下单与撤单的方法。数量带符号: 正数买入，负数卖出。
// 这使得机器人可以在真实券商与模拟券商之间切换。
type OrderGateway interface {
	PlaceLimitOrder(ctx context.Context, ticker string, limitPrice, quantity float64) (*models.LimitOrder, error)
	PlaceMarketOrder(ctx context.Context, ticker string, quantity float64) (*models.MarketOrder, error)
	CancelOrder(ctx context.Context, id int64) error
	ListOpenOrders(ctx context.Context) ([]models.LimitOrder, error)
}
