package models

import "time"

// MovementDirection 当前价格相对于持仓均价的方向
type MovementDirection string

const (
	DirectionUp   MovementDirection = "UP"
	DirectionDown MovementDirection = "DOWN"
)

// SystemLimitOrder 在一个卖出周期内跟踪某个持仓的退出订单。
// 每个周期每个ticker最多只有一个。
type SystemLimitOrder struct {
	CreatedAt  time.Time         `json:"created_at"`
	Direction  MovementDirection `json:"direction"`
	Attempts   int               `json:"attempts"`
	LimitOrder LimitOrder        `json:"limit_order"`
}

// Ticker 返回订单的ticker
func (s *SystemLimitOrder) Ticker() string {
	return s.LimitOrder.Ticker
}

// BuyRecord 周期内的一次买入记录
type BuyRecord struct {
	Ticker     string  `json:"ticker"`
	Quantity   float64 `json:"quantity"`
	LimitPrice float64 `json:"limit_price"`
	OrderID    int64   `json:"order_id,omitempty"`
	Placed     bool    `json:"placed"`
}

// SellRecord 卖出周期结束时 SystemLimitOrder 的最终状态
type SellRecord struct {
	Ticker     string            `json:"ticker"`
	Direction  MovementDirection `json:"direction"`
	Attempts   int               `json:"attempts"`
	Quantity   float64           `json:"quantity"`
	LimitPrice float64           `json:"limit_price"`
	OrderID    int64             `json:"order_id,omitempty"`
	Placed     bool              `json:"placed"`
}

// CycleRecord 一个完整周期 (Control -> Buy -> Sell -> Control) 的日志记录
type CycleRecord struct {
	CycleID     string       `json:"cycle_id"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	FreeCash    float64      `json:"free_cash"`
	Positions   int          `json:"positions"`
	Shortlisted []string     `json:"shortlisted,omitempty"`
	Buys        []BuyRecord  `json:"buys,omitempty"`
	Sells       []SellRecord `json:"sells,omitempty"`
}
