package exchange

import (
	"context"
	"equity-cycle-bot/internal/models"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	paperStatusNew    = "NEW"
	paperStatusFilled = "FILLED"
	epsilon           = 1e-9
)

// PaperListing 模拟券商中一只证券的全部数据
type PaperListing struct {
	Instrument models.Instrument           `json:"instrument"`
	Profile    models.CompanyProfile       `json:"profile"`
	Quote      models.Quote                `json:"quote"`
	Financials models.Financials           `json:"financials"`
	Insider    []models.InsiderTransaction `json:"insider,omitempty"`
}

// PaperTrade 记录一笔模拟成交
type PaperTrade struct {
	OrderID  int64
	Ticker   string
	Quantity float64 // 带符号
	Price    float64
	Realized float64 // 卖出时的已实现盈亏
	Time     time.Time
}

type paperPosition struct {
	quantity  float64
	avgPrice  float64
	firstFill time.Time
}

// PaperBroker 实现了 DataProvider 和 OrderGateway 接口，在内存中模拟券商行为。
// 限价单在价格穿越时成交，可成交的限价单在下单时立即成交。
type PaperBroker struct {
	mu sync.Mutex

	cash     float64
	blocked  float64 // 买单冻结资金
	realized float64

	listings    map[string]*PaperListing
	order       []string // 上架顺序
	positions   map[string]*paperPosition
	orders      map[int64]*models.LimitOrder
	nextOrderID int64
	marketOpen  bool
	trades      []PaperTrade

	minimumMarketCap float64
	now              func() time.Time
	logger           *zap.Logger
}

// NewPaperBroker 创建一个新的模拟券商，市场默认开盘
func NewPaperBroker(initialCash float64, logger *zap.Logger) *PaperBroker {
	return &PaperBroker{
		cash:        initialCash,
		listings:    make(map[string]*PaperListing),
		positions:   make(map[string]*paperPosition),
		orders:      make(map[int64]*models.LimitOrder),
		nextOrderID: 1,
		marketOpen:  true,
		now:         time.Now,
		logger:      logger,
	}
}

// SetMinimumMarketCap 设置候选公司的最小市值 (百万)
func (e *PaperBroker) SetMinimumMarketCap(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.minimumMarketCap = v
}

// AddListing 上架一只证券
func (e *PaperBroker) AddListing(l PaperListing) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := l
	if _, ok := e.listings[l.Instrument.Ticker]; !ok {
		e.order = append(e.order, l.Instrument.Ticker)
	}
	e.listings[l.Instrument.Ticker] = &cp
}

// SeedPosition 直接写入一个持仓，用于初始化模拟账户
func (e *PaperBroker) SeedPosition(ticker string, quantity, avgPrice float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[ticker] = &paperPosition{quantity: quantity, avgPrice: avgPrice, firstFill: e.now()}
}

// SetMarketOpen 设置市场开盘状态
func (e *PaperBroker) SetMarketOpen(open bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.marketOpen = open
}

// SetPrice 是模拟的核心，更新当前价格并触发挂单成交检查
func (e *PaperBroker) SetPrice(ticker string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.listings[ticker]
	if !ok {
		return
	}
	q := &l.Quote
	q.Current = price
	if q.Open == 0 {
		q.Open = price
	}
	if price > q.High {
		q.High = price
	}
	if q.Low == 0 || price < q.Low {
		q.Low = price
	}
	q.Timestamp = e.now().Unix()

	e.checkLimitOrdersAtPrice(ticker, price)
}

// checkLimitOrdersAtPrice 按订单ID顺序检查挂单是否能在指定价格成交。必须在持有锁的情况下调用。
func (e *PaperBroker) checkLimitOrdersAtPrice(ticker string, price float64) {
	ids := make([]int64, 0, len(e.orders))
	for id, o := range e.orders {
		if o.Ticker == ticker {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		o := e.orders[id]
		if crosses(o, price) {
			e.fillLimitOrder(o)
		}
	}
}

func crosses(o *models.LimitOrder, price float64) bool {
	if price <= 0 {
		return false
	}
	if o.IsSell() {
		return price >= o.Price()
	}
	return price <= o.Price()
}

// fillLimitOrder 以限价成交并从挂单中移除。必须在持有锁的情况下调用。
func (e *PaperBroker) fillLimitOrder(o *models.LimitOrder) {
	if !o.IsSell() {
		e.blocked -= o.Quantity * o.Price()
		if e.blocked < epsilon {
			e.blocked = 0
		}
	}
	e.applyFill(o.ID, o.Ticker, o.Quantity, o.Price())
	o.Status = paperStatusFilled
	o.FilledQuantity = o.Quantity
	delete(e.orders, o.ID)
}

// applyFill 更新现金、持仓与已实现盈亏。必须在持有锁的情况下调用。
func (e *PaperBroker) applyFill(id int64, ticker string, quantity, price float64) {
	pos := e.positions[ticker]
	trade := PaperTrade{OrderID: id, Ticker: ticker, Quantity: quantity, Price: price, Time: e.now()}

	if quantity > 0 {
		e.cash -= quantity * price
		if pos == nil {
			pos = &paperPosition{firstFill: e.now()}
			e.positions[ticker] = pos
		}
		total := pos.quantity + quantity
		pos.avgPrice = (pos.avgPrice*pos.quantity + price*quantity) / total
		pos.quantity = total
	} else if pos != nil {
		sellQty := math.Min(-quantity, pos.quantity)
		e.cash += sellQty * price
		trade.Realized = (price - pos.avgPrice) * sellQty
		e.realized += trade.Realized
		pos.quantity -= sellQty
		if pos.quantity <= epsilon {
			delete(e.positions, ticker)
		}
	}

	e.trades = append(e.trades, trade)
	e.logger.Info("模拟成交",
		zap.Int64("orderID", id),
		zap.String("ticker", ticker),
		zap.Float64("quantity", quantity),
		zap.Float64("price", price))
}

// pendingSell 返回某只证券挂出的卖单总量 (正数)。必须在持有锁的情况下调用。
func (e *PaperBroker) pendingSell(ticker string) float64 {
	total := 0.0
	for _, o := range e.orders {
		if o.Ticker == ticker && o.IsSell() {
			total += -o.Quantity
		}
	}
	return total
}

func (e *PaperBroker) currentPrice(ticker string) float64 {
	if l, ok := e.listings[ticker]; ok {
		return l.Quote.Current
	}
	return 0
}

// --- BrokerData 接口实现 ---

// FetchInstruments 按上架顺序返回全部证券
func (e *PaperBroker) FetchInstruments(ctx context.Context) ([]models.Instrument, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Instrument, 0, len(e.order))
	for _, t := range e.order {
		out = append(out, e.listings[t].Instrument)
	}
	return out, nil
}

// FetchBalance 计算账户资金
func (e *PaperBroker) FetchBalance(ctx context.Context) (*models.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	invested, value := 0.0, 0.0
	for t, p := range e.positions {
		invested += p.quantity * p.avgPrice
		value += p.quantity * e.currentPrice(t)
	}
	return &models.Balance{
		Free:     e.cash - e.blocked,
		Blocked:  e.blocked,
		Invested: invested,
		Total:    e.cash + value,
		Result:   e.realized,
		PPL:      value - invested,
	}, nil
}

// FetchPositions 返回全部持仓，MaxSell 扣除已挂出的卖单
func (e *PaperBroker) FetchPositions(ctx context.Context) ([]models.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tickers := make([]string, 0, len(e.positions))
	for t := range e.positions {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	out := make([]models.Position, 0, len(tickers))
	for _, t := range tickers {
		p := e.positions[t]
		current := e.currentPrice(t)
		out = append(out, models.Position{
			Ticker:          t,
			Quantity:        p.quantity,
			AveragePrice:    p.avgPrice,
			CurrentPrice:    current,
			MaxSell:         math.Max(0, p.quantity-e.pendingSell(t)),
			PPL:             (current - p.avgPrice) * p.quantity,
			InitialFillDate: p.firstFill.Format(time.RFC3339),
		})
	}
	return out, nil
}

// FetchOpenOrders 按订单ID顺序返回全部挂单
func (e *PaperBroker) FetchOpenOrders(ctx context.Context) ([]models.LimitOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.LimitOrder, 0, len(e.orders))
	for _, o := range e.orders {
		cp := *o
		price := o.Price()
		cp.LimitPrice = &price
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- MarketData 接口实现 ---

// IsMarketOpen 返回模拟的开盘状态
func (e *PaperBroker) IsMarketOpen(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.marketOpen
}

// FetchCandidateDetails 返回上架时提供的公司数据
func (e *PaperBroker) FetchCandidateDetails(ctx context.Context, instrument models.Instrument) (*models.CandidateCompany, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.listings[instrument.Ticker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, instrument.Ticker)
	}
	if l.Profile.MarketCapitalization < e.minimumMarketCap {
		return nil, fmt.Errorf("%w: %s 市值低于下限", ErrNotFound, instrument.Ticker)
	}
	return &models.CandidateCompany{
		Instrument:          instrument,
		Profile:             l.Profile,
		Quote:               l.Quote,
		Financials:          l.Financials,
		InsiderTransactions: append([]models.InsiderTransaction(nil), l.Insider...),
	}, nil
}

// --- OrderGateway 接口实现 ---

// PlaceLimitOrder 下限价单
func (e *PaperBroker) PlaceLimitOrder(ctx context.Context, ticker string, limitPrice, quantity float64) (*models.LimitOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if strings.Contains(strings.ToLower(ticker), "vusa") {
		return nil, fmt.Errorf("%w: 忽略 %s 的限价单请求", ErrOrderRejected, ticker)
	}
	if _, ok := e.listings[ticker]; !ok {
		return nil, fmt.Errorf("%w: 未知 ticker %s", ErrOrderRejected, ticker)
	}
	if quantity == 0 || limitPrice <= 0 {
		return nil, fmt.Errorf("%w: %s 数量 %v 或价格 %v 无效", ErrOrderRejected, ticker, quantity, limitPrice)
	}

	if quantity > 0 {
		cost := quantity * limitPrice
		if cost > e.cash-e.blocked+epsilon {
			return nil, fmt.Errorf("%w: %s 资金不足", ErrOrderRejected, ticker)
		}
		e.blocked += cost
	} else {
		held := 0.0
		if p := e.positions[ticker]; p != nil {
			held = p.quantity
		}
		if -quantity > held-e.pendingSell(ticker)+epsilon {
			return nil, fmt.Errorf("%w: %s 可卖数量不足", ErrOrderRejected, ticker)
		}
	}

	price := limitPrice
	o := &models.LimitOrder{
		ID:           e.nextOrderID,
		Ticker:       ticker,
		Quantity:     quantity,
		LimitPrice:   &price,
		Status:       paperStatusNew,
		Type:         "LIMIT",
		Strategy:     "QUANTITY",
		CreationTime: e.now().Format(time.RFC3339),
	}
	e.nextOrderID++
	e.orders[o.ID] = o

	if crosses(o, e.currentPrice(ticker)) {
		e.fillLimitOrder(o)
	}

	cp := *o
	cpPrice := price
	cp.LimitPrice = &cpPrice
	return &cp, nil
}

// PlaceMarketOrder 以当前价立即成交
func (e *PaperBroker) PlaceMarketOrder(ctx context.Context, ticker string, quantity float64) (*models.MarketOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	price := e.currentPrice(ticker)
	if price <= 0 {
		return nil, fmt.Errorf("%w: %s 无报价", ErrOrderRejected, ticker)
	}
	if quantity > 0 && quantity*price > e.cash-e.blocked+epsilon {
		return nil, fmt.Errorf("%w: %s 资金不足", ErrOrderRejected, ticker)
	}
	if quantity < 0 {
		p := e.positions[ticker]
		if p == nil || -quantity > p.quantity-e.pendingSell(ticker)+epsilon {
			return nil, fmt.Errorf("%w: %s 可卖数量不足", ErrOrderRejected, ticker)
		}
	}

	id := e.nextOrderID
	e.nextOrderID++
	e.applyFill(id, ticker, quantity, price)

	value := math.Abs(quantity) * price
	return &models.MarketOrder{
		ID:             id,
		Ticker:         ticker,
		Quantity:       quantity,
		FilledQuantity: quantity,
		FilledValue:    &value,
		Status:         paperStatusFilled,
		Type:           "MARKET",
		CreationTime:   e.now().Format(time.RFC3339),
	}, nil
}

// CancelOrder 撤销挂单并释放冻结资金
func (e *PaperBroker) CancelOrder(ctx context.Context, id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[id]
	if !ok {
		return fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	if !o.IsSell() {
		e.blocked -= o.Quantity * o.Price()
		if e.blocked < epsilon {
			e.blocked = 0
		}
	}
	delete(e.orders, id)
	return nil
}

// ListOpenOrders 与 FetchOpenOrders 相同
func (e *PaperBroker) ListOpenOrders(ctx context.Context) ([]models.LimitOrder, error) {
	return e.FetchOpenOrders(ctx)
}

// Trades 返回全部模拟成交记录
func (e *PaperBroker) Trades() []PaperTrade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]PaperTrade(nil), e.trades...)
}
