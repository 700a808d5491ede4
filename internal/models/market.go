package models

import "time"

// Instrument 券商可交易的证券
type Instrument struct {
	Ticker            string  `json:"ticker"`
	Name              string  `json:"name"`
	ShortName         string  `json:"shortName,omitempty"`
	ISIN              string  `json:"isin"`
	Type              string  `json:"type"` // 资产类别, e.g. STOCK, ETF
	CurrencyCode      string  `json:"currencyCode"`
	MaxOpenQuantity   float64 `json:"maxOpenQuantity"`
	MinTradeQuantity  float64 `json:"minTradeQuantity"`
	AddedOn           string  `json:"addedOn"`
	WorkingScheduleID int64   `json:"workingScheduleId"`
}

// Position 定义了持仓信息
type Position struct {
	Ticker          string  `json:"ticker"`
	Quantity        float64 `json:"quantity"`
	AveragePrice    float64 `json:"averagePrice"`
	CurrentPrice    float64 `json:"currentPrice"`
	MaxBuy          float64 `json:"maxBuy"`
	MaxSell         float64 `json:"maxSell"`
	PPL             float64 `json:"ppl"` // 未实现盈亏
	InitialFillDate string  `json:"initialFillDate"`
}

// LimitOrder 券商上的挂单。数量带符号: 正数为买单，负数为卖单
type LimitOrder struct {
	ID             int64    `json:"id"`
	Ticker         string   `json:"ticker"`
	Quantity       float64  `json:"quantity"`
	LimitPrice     *float64 `json:"limitPrice,omitempty"`
	StopPrice      *float64 `json:"stopPrice,omitempty"`
	FilledQuantity float64  `json:"filledQuantity"`
	Status         string   `json:"status"`
	Type           string   `json:"type"`
	Strategy       string   `json:"strategy"`
	CreationTime   string   `json:"creationTime"`
}

// IsSell 判断是否为卖单
func (o LimitOrder) IsSell() bool {
	return o.Quantity < 0
}

// Price 返回限价，没有限价时返回0
func (o LimitOrder) Price() float64 {
	if o.LimitPrice == nil {
		return 0
	}
	return *o.LimitPrice
}

// MarketOrder 市价单的返回结果
type MarketOrder struct {
	ID             int64    `json:"id"`
	Ticker         string   `json:"ticker"`
	Quantity       float64  `json:"quantity"`
	FilledQuantity float64  `json:"filledQuantity"`
	FilledValue    *float64 `json:"filledValue,omitempty"`
	Status         string   `json:"status"`
	Type           string   `json:"type"`
	CreationTime   string   `json:"creationTime"`
}

// Balance 账户资金快照
type Balance struct {
	Free     float64 `json:"free"`
	Invested float64 `json:"invested"`
	Blocked  float64 `json:"blocked"`
	PieCash  float64 `json:"pieCash"`
	Total    float64 `json:"total"`
	Result   float64 `json:"result"` // 已实现盈亏
	PPL      float64 `json:"ppl"`    // 未实现盈亏
}

// AccountSnapshot 控制协程每次刷新后保存的账户快照
type AccountSnapshot struct {
	CycleID     string       `json:"cycle_id"`
	TakenAt     time.Time    `json:"taken_at"`
	Balance     Balance      `json:"balance"`
	Positions   []Position   `json:"positions"`
	LimitOrders []LimitOrder `json:"limit_orders"`
}
