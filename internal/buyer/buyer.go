package buyer

import (
	"context"
	"equity-cycle-bot/internal/exchange"
	"equity-cycle-bot/internal/filters"
	"equity-cycle-bot/internal/handoff"
	"equity-cycle-bot/internal/metrics"
	"equity-cycle-bot/internal/models"
	"equity-cycle-bot/internal/persistence"
	"equity-cycle-bot/internal/pricing"
	"equity-cycle-bot/internal/retry"
	"equity-cycle-bot/internal/state"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrStoppedOnEmptyShortlist 配置了 stop_buyer_on_empty_shortlist 时，空候选列表会让买入阶段退出
var ErrStoppedOnEmptyShortlist = errors.New("buy stage stopped after an empty shortlist")

var errBudgetElapsed = errors.New("shopping time budget elapsed")

// Recorder 接收买入阶段的事件
type Recorder interface {
	Shortlisted(cycleID string, tickers []string)
	BuyPlaced(cycleID string, rec models.BuyRecord)
}

// Stage 买入阶段: 筛选候选股票，等待卖出阶段就绪后下买单
type Stage struct {
	cfg       *models.Config
	data      exchange.MarketData
	gateway   exchange.OrderGateway
	state     *state.MarketState
	graph     *handoff.Graph
	snapshots persistence.SnapshotStore
	filter    filters.Predicate
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time
}

// New 创建买入阶段
func New(cfg *models.Config, data exchange.MarketData, gateway exchange.OrderGateway, st *state.MarketState,
	graph *handoff.Graph, snapshots persistence.SnapshotStore, filter filters.Predicate, recorder Recorder, logger *zap.Logger) *Stage {
	return &Stage{
		cfg:       cfg,
		data:      data,
		gateway:   gateway,
		state:     st,
		graph:     graph,
		snapshots: snapshots,
		filter:    filter,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// Run 循环执行买入周期，直到 ctx 被取消或空列表时按配置退出
func (s *Stage) Run(ctx context.Context) error {
	s.logger.Info("买入阶段已启动")
	for {
		if err := s.RunCycle(ctx); err != nil {
			return err
		}
	}
}

// RunCycle 执行一个买入周期
func (s *Stage) RunCycle(ctx context.Context) error {
	if err := s.graph.ControlToBuy.Wait(ctx); err != nil {
		return err
	}
	cycleID := s.state.CycleID()
	log := s.logger.With(zap.String("cycle_id", cycleID))
	log.Info("收到控制协程的开始信号")

	previous, err := s.snapshots.ReadBuyList()
	if err != nil {
		log.Warn("读取上一周期买入列表失败", zap.Error(err))
	}

	list, err := s.shortlist(ctx, previous, log)
	if err != nil {
		return err
	}
	metrics.SetShortlisted(len(list))
	s.recorder.Shortlisted(cycleID, tickers(list))

	if len(list) == 0 {
		log.Info("本周期没有候选股票，等待卖出阶段")
		if err := s.graph.SellToBuy.Wait(ctx); err != nil {
			return err
		}
		if err := s.handBack(ctx, log); err != nil {
			return err
		}
		if s.cfg.StopBuyerOnEmptyShortlist {
			log.Error("候选列表为空，买入阶段按配置退出")
			return ErrStoppedOnEmptyShortlist
		}
		return nil
	}

	if err := s.snapshots.WriteBuyList(list); err != nil {
		log.Warn("写入买入列表失败", zap.Error(err))
	}

	if err := s.graph.SellToBuy.Wait(ctx); err != nil {
		return err
	}
	log.Info("卖出阶段就绪，开始执行买入", zap.Int("candidates", len(list)))

	if err := s.execute(ctx, cycleID, list, log); err != nil {
		return err
	}
	return s.handBack(ctx, log)
}

// handBack 通知卖出阶段买入已完成
func (s *Stage) handBack(ctx context.Context, log *zap.Logger) error {
	err := s.graph.BuyToSell.Send(ctx)
	if errors.Is(err, handoff.ErrStopped) {
		return err
	}
	if err != nil {
		log.Warn("通知卖出阶段失败", zap.Error(err))
	}
	return nil
}

// shortlist 遍历证券列表直到时间预算用完或达到最少买入数量
func (s *Stage) shortlist(ctx context.Context, previous []models.CandidateCompany, log *zap.Logger) ([]models.CandidateCompany, error) {
	deadline := s.now().Add(s.cfg.ShoppingTime())
	var list []models.CandidateCompany

	for _, instrument := range s.state.SnapshotInstruments() {
		if len(list) >= s.cfg.MinimumBuys {
			log.Info("买入列表已满")
			break
		}
		if !s.now().Before(deadline) {
			log.Info("筛选时间已用完", zap.Int("candidates", len(list)))
			break
		}

		ilog := log.With(zap.String("ticker", instrument.Ticker))
		company, err := s.fetchCandidate(ctx, instrument, deadline)
		if ctx.Err() != nil {
			return nil, handoff.ErrStopped
		}

		reason := ""
		switch {
		case err != nil:
			reason = "fetch_failed"
			ilog.Debug("获取公司数据失败", zap.Error(err))
		case company.Quote.Current == 0:
			reason = "zero_price"
		case !s.filter.Passes(company):
			reason = "filtered"
		}
		if reason != "" {
			ilog.Debug("跳过", zap.String("reason", reason))
			if err := s.pace(ctx, deadline); err != nil {
				return nil, err
			}
			continue
		}

		if containsTicker(previous, instrument.Ticker) {
			ilog.Debug("上一周期已在买入列表中，跳过")
			continue
		}

		list = append(list, *company)
		ilog.Info("加入买入列表", zap.Int("size", len(list)))
	}
	return list, nil
}

// fetchCandidate 暂时性错误重试一次，ErrNotFound 直接放弃。重试等待不超过剩余的时间预算，预算用完后不再重试
func (s *Stage) fetchCandidate(ctx context.Context, instrument models.Instrument, deadline time.Time) (*models.CandidateCompany, error) {
	var company *models.CandidateCompany
	var permanent error
	policy := retry.Attempts(s.cfg.OrderAttempts, s.budgeted(deadline))

	err := retry.Do(ctx, policy, func(attempt int) error {
		if attempt > 1 && !s.now().Before(deadline) {
			permanent = errBudgetElapsed
			return nil
		}
		c, err := s.data.FetchCandidateDetails(ctx, instrument)
		if errors.Is(err, exchange.ErrNotFound) {
			permanent = err
			return nil
		}
		if err != nil {
			return err
		}
		company = c
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	if permanent != nil {
		return nil, permanent
	}
	return company, nil
}

// budgeted 返回筛选间隔，不超过剩余的时间预算
func (s *Stage) budgeted(deadline time.Time) time.Duration {
	d := models.Millis(s.cfg.Timing.BuyPacingMs)
	if remaining := deadline.Sub(s.now()); remaining < d {
		d = remaining
	}
	return d
}

// pace 筛选间隔
func (s *Stage) pace(ctx context.Context, deadline time.Time) error {
	if err := retry.Sleep(ctx, s.budgeted(deadline)); err != nil {
		return handoff.ErrStopped
	}
	return nil
}

// execute 为每个候选股票下限价买单。失败时以高 0.01 的价格重试，仍失败则跳过。
func (s *Stage) execute(ctx context.Context, cycleID string, list []models.CandidateCompany, log *zap.Logger) error {
	balance := s.state.Balance()
	spend := pricing.SpendPerTicker(balance.Free, s.cfg.SpendFraction, s.cfg.TickerTargetCount)
	pacing := models.Millis(s.cfg.Timing.BuyPacingMs)

	placed := 0
	for _, company := range list {
		ticker := company.Instrument.Ticker
		ilog := log.With(zap.String("ticker", ticker))

		quantity := pricing.BuyQuantity(spend, company.Quote.Current, company.Instrument.MaxOpenQuantity)
		if quantity <= 0 {
			ilog.Info("可用资金不足以买入，跳过", zap.Float64("spend", spend))
			continue
		}

		rec := models.BuyRecord{Ticker: ticker, Quantity: quantity, LimitPrice: pricing.BuyLimitPrice(company.Quote.Current)}
		attempts := s.cfg.OrderAttempts
		if attempts < 1 {
			attempts = 1
		}
		for attempt := 1; attempt <= attempts; attempt++ {
			if attempt > 1 {
				rec.LimitPrice = pricing.BuyRetryPrice(rec.LimitPrice)
			}
			order, err := s.gateway.PlaceLimitOrder(ctx, ticker, rec.LimitPrice, quantity)
			if ctx.Err() != nil {
				return handoff.ErrStopped
			}
			if err == nil {
				rec.Placed = true
				rec.OrderID = order.ID
				metrics.OrderPlaced(metrics.SideBuy)
				ilog.Info("买单已创建", zap.Float64("quantity", quantity), zap.Float64("limit_price", rec.LimitPrice), zap.Int64("order_id", order.ID))
			} else {
				metrics.OrderFailed(metrics.SideBuy)
				ilog.Warn("创建买单失败", zap.Int("attempt", attempt), zap.Float64("limit_price", rec.LimitPrice), zap.Error(err))
			}
			if err := retry.Sleep(ctx, pacing); err != nil {
				return handoff.ErrStopped
			}
			if rec.Placed {
				break
			}
		}

		if rec.Placed {
			placed++
		}
		s.recorder.BuyPlaced(cycleID, rec)
	}

	log.Info("买入完成", zap.Int("placed", placed), zap.Int("candidates", len(list)))
	return nil
}

func containsTicker(list []models.CandidateCompany, ticker string) bool {
	for _, c := range list {
		if strings.EqualFold(c.Instrument.Ticker, ticker) {
			return true
		}
	}
	return false
}

func tickers(list []models.CandidateCompany) []string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.Instrument.Ticker)
	}
	return out
}
