package seller

import (
	"context"
	"equity-cycle-bot/internal/exchange"
	"equity-cycle-bot/internal/handoff"
	"equity-cycle-bot/internal/metrics"
	"equity-cycle-bot/internal/models"
	"equity-cycle-bot/internal/pricing"
	"equity-cycle-bot/internal/retry"
	"equity-cycle-bot/internal/state"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Recorder 接收卖单状态
type Recorder interface {
	SellPlaced(cycleID string, rec models.SellRecord)
}

// PositionSource 用于在每轮调价前获取最新持仓
type PositionSource interface {
	FetchPositions(ctx context.Context) ([]models.Position, error)
}

// Stage 卖出阶段: 撤销旧卖单、挂初始卖单、交给买入阶段，然后按价格表多轮调价
type Stage struct {
	cfg       *models.Config
	positions PositionSource
	gateway   exchange.OrderGateway
	state     *state.MarketState
	graph     *handoff.Graph
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	tracked []*models.SystemLimitOrder
}

// New 创建卖出阶段
func New(cfg *models.Config, positions PositionSource, gateway exchange.OrderGateway, st *state.MarketState,
	graph *handoff.Graph, recorder Recorder, logger *zap.Logger) *Stage {
	return &Stage{
		cfg:       cfg,
		positions: positions,
		gateway:   gateway,
		state:     st,
		graph:     graph,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// Tracked 返回当前周期跟踪的卖单副本
func (s *Stage) Tracked() []models.SystemLimitOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SystemLimitOrder, 0, len(s.tracked))
	for _, o := range s.tracked {
		out = append(out, *o)
	}
	return out
}

// Run 循环执行卖出周期，直到 ctx 被取消
func (s *Stage) Run(ctx context.Context) error {
	s.logger.Info("卖出阶段已启动")
	for {
		if err := s.RunCycle(ctx); err != nil {
			return err
		}
	}
}

// RunCycle 执行一个卖出周期
func (s *Stage) RunCycle(ctx context.Context) error {
	t := s.cfg.Timing

	if err := s.graph.ControlToSell.Wait(ctx); err != nil {
		return err
	}
	cycleID := s.state.CycleID()
	log := s.logger.With(zap.String("cycle_id", cycleID))
	log.Info("收到控制协程的开始信号")

	if err := s.sleep(ctx, t.SellSettleMs); err != nil {
		return err
	}
	if err := s.cancelSellOrders(ctx, log); err != nil {
		return err
	}

	// 撤单后可卖数量才准确
	positions := s.refreshPositions(ctx, log)

	// 每个周期重新创建跟踪列表，尝试次数从0开始
	tracked, err := s.placeInitialOrders(ctx, cycleID, positions, log)
	if err != nil {
		return err
	}
	s.setTracked(tracked)
	metrics.SetTrackedSellOrders(len(tracked))

	if err := s.sleep(ctx, t.SellArmWaitMs); err != nil {
		return err
	}
	if err := s.cancelSellOrders(ctx, log); err != nil {
		return err
	}

	log.Info("通知买入阶段")
	if err := s.send(ctx, s.graph.SellToBuy, log); err != nil {
		return err
	}
	if err := s.graph.BuyToSell.Wait(ctx); err != nil {
		return err
	}
	log.Info("买入阶段已完成，开始调价")
	if err := s.sleep(ctx, t.SellPostBuyWaitMs); err != nil {
		return err
	}

	for pass := 0; pass < s.cfg.SellEscalationPasses; pass++ {
		if err := s.escalate(ctx, cycleID, pass, tracked, log); err != nil {
			return err
		}
	}

	log.Info("调价完成，通知控制协程", zap.Int("tracked", len(tracked)))
	return s.send(ctx, s.graph.SellToControl, log)
}

func (s *Stage) setTracked(tracked []*models.SystemLimitOrder) {
	s.mu.Lock()
	s.tracked = tracked
	s.mu.Unlock()
}

func (s *Stage) sleep(ctx context.Context, ms int) error {
	if err := retry.Sleep(ctx, models.Millis(ms)); err != nil {
		return handoff.ErrStopped
	}
	return nil
}

func (s *Stage) send(ctx context.Context, sig *handoff.Signal, log *zap.Logger) error {
	err := sig.Send(ctx)
	if errors.Is(err, handoff.ErrStopped) {
		return err
	}
	if err != nil {
		log.Warn("发送信号失败", zap.String("signal", sig.Name()), zap.Error(err))
	}
	return nil
}

// cancelSellOrders 撤销所有卖单 (数量为负)，买单保持不变。每个撤单失败后重试一次。
func (s *Stage) cancelSellOrders(ctx context.Context, log *zap.Logger) error {
	t := s.cfg.Timing
	policy := retry.Attempts(s.cfg.OrderAttempts, models.Millis(t.CancelRetryMs))

	var orders []models.LimitOrder
	err := retry.Do(ctx, policy, func(int) error {
		var err error
		orders, err = s.gateway.ListOpenOrders(ctx)
		return err
	}, nil)
	if ctx.Err() != nil {
		return handoff.ErrStopped
	}
	if err != nil {
		log.Warn("获取挂单失败，跳过撤单", zap.Error(err))
		return nil
	}

	for _, order := range orders {
		if !order.IsSell() {
			continue
		}
		olog := log.With(zap.String("ticker", order.Ticker), zap.Int64("order_id", order.ID))
		err := retry.Do(ctx, policy, func(int) error {
			return s.gateway.CancelOrder(ctx, order.ID)
		}, func(attempt int, err error) {
			olog.Warn("撤单失败，重试", zap.Error(err))
		})
		if ctx.Err() != nil {
			return handoff.ErrStopped
		}
		metrics.Cancelled(err == nil)
		if err != nil {
			olog.Warn("撤单失败，跳过", zap.Error(err))
		} else {
			olog.Debug("撤单成功")
		}
		if err := s.sleep(ctx, t.CancelPacingMs); err != nil {
			return err
		}
	}
	return nil
}

// placeSell 下限价卖单，失败后重试一次
func (s *Stage) placeSell(ctx context.Context, ticker string, price, quantity float64) (*models.LimitOrder, error) {
	var order *models.LimitOrder
	policy := retry.Attempts(s.cfg.OrderAttempts, models.Millis(s.cfg.Timing.PlacementPacingMs))
	err := retry.Do(ctx, policy, func(int) error {
		var err error
		order, err = s.gateway.PlaceLimitOrder(ctx, ticker, price, -quantity)
		return err
	}, nil)
	if err != nil {
		metrics.OrderFailed(metrics.SideSell)
		return nil, err
	}
	metrics.OrderPlaced(metrics.SideSell)
	return order, nil
}

// placeInitialOrders 为每个持仓挂当前价 +1% 的卖单，失败的持仓本周期不再跟踪
func (s *Stage) placeInitialOrders(ctx context.Context, cycleID string, positions []models.Position, log *zap.Logger) ([]*models.SystemLimitOrder, error) {
	var tracked []*models.SystemLimitOrder

	for _, pos := range positions {
		plog := log.With(zap.String("ticker", pos.Ticker))
		quantity := pricing.SellQuantity(pos)
		if quantity <= 0 {
			plog.Debug("没有可卖数量，跳过")
			continue
		}

		price := pricing.InitialSellPrice(pos)
		order, err := s.placeSell(ctx, pos.Ticker, price, quantity)
		if ctx.Err() != nil {
			return nil, handoff.ErrStopped
		}
		if err != nil {
			plog.Warn("创建初始卖单失败，本周期跳过", zap.Error(err))
			s.recorder.SellPlaced(cycleID, models.SellRecord{
				Ticker:     pos.Ticker,
				Direction:  pricing.Direction(pos),
				Quantity:   quantity,
				LimitPrice: price,
			})
		} else {
			slo := &models.SystemLimitOrder{
				CreatedAt:  s.now(),
				Direction:  pricing.Direction(pos),
				Attempts:   0,
				LimitOrder: *order,
			}
			tracked = append(tracked, slo)
			s.record(cycleID, slo, quantity, price, true)
			plog.Info("初始卖单已创建", zap.String("direction", string(slo.Direction)), zap.Float64("limit_price", price))
		}

		if err := s.sleep(ctx, s.cfg.Timing.PlacementPacingMs); err != nil {
			return nil, err
		}
	}
	return tracked, nil
}

// escalate 执行一轮调价: 撤单、刷新持仓，然后按方向和尝试次数重新挂单
func (s *Stage) escalate(ctx context.Context, cycleID string, pass int, tracked []*models.SystemLimitOrder, log *zap.Logger) error {
	t := s.cfg.Timing
	plog := log.With(zap.Int("pass", pass))

	if err := s.cancelSellOrders(ctx, plog); err != nil {
		return err
	}
	if err := s.sleep(ctx, t.EscalationSettleMs); err != nil {
		return err
	}

	positions := s.refreshPositions(ctx, plog)

	for _, slo := range tracked {
		olog := plog.With(zap.String("ticker", slo.Ticker()))
		pos, ok := matchPosition(positions, slo.Ticker())
		if !ok {
			// 本轮跳过，但继续跟踪
			olog.Debug("没有唯一匹配的持仓，本轮跳过")
			continue
		}
		quantity := pricing.SellQuantity(pos)
		if quantity <= 0 {
			olog.Debug("没有可卖数量，本轮跳过")
			continue
		}

		s.mu.Lock()
		slo.Direction = pricing.Direction(pos)
		attempts := slo.Attempts
		s.mu.Unlock()

		price := pricing.EscalationPrice(slo.Direction, attempts, pos)
		order, err := s.placeSell(ctx, pos.Ticker, price, quantity)
		if ctx.Err() != nil {
			return handoff.ErrStopped
		}

		s.mu.Lock()
		if err == nil {
			slo.LimitOrder = *order
		}
		slo.Attempts++
		s.mu.Unlock()

		if err != nil {
			olog.Warn("调价卖单失败", zap.Int("attempts", attempts), zap.Error(err))
		} else {
			olog.Info("调价卖单已创建", zap.String("direction", string(slo.Direction)),
				zap.Int("attempts", attempts), zap.Float64("limit_price", price))
		}
		s.record(cycleID, slo, quantity, price, err == nil)

		if err := s.sleep(ctx, t.EscalationPacingMs); err != nil {
			return err
		}
	}
	return nil
}

// refreshPositions 获取最新持仓并写回共享状态，失败时使用共享状态中的持仓
func (s *Stage) refreshPositions(ctx context.Context, log *zap.Logger) []models.Position {
	if s.positions != nil {
		positions, err := s.positions.FetchPositions(ctx)
		if err == nil {
			s.state.SetPositions(positions)
			return positions
		}
		log.Warn("刷新持仓失败，使用上次的数据", zap.Error(err))
	}
	return s.state.SnapshotPositions()
}

// record 上报一次下单结果。下单失败时不带订单ID，slo 中保留的是已撤销的旧订单
func (s *Stage) record(cycleID string, slo *models.SystemLimitOrder, quantity, price float64, placed bool) {
	s.mu.Lock()
	rec := models.SellRecord{
		Ticker:     slo.Ticker(),
		Direction:  slo.Direction,
		Attempts:   slo.Attempts,
		Quantity:   quantity,
		LimitPrice: price,
		Placed:     placed,
	}
	if placed {
		rec.OrderID = slo.LimitOrder.ID
	}
	s.mu.Unlock()
	s.recorder.SellPlaced(cycleID, rec)
}

// matchPosition 按ticker (不区分大小写) 查找持仓，必须恰好匹配一个
func matchPosition(positions []models.Position, ticker string) (models.Position, bool) {
	var found models.Position
	n := 0
	for _, p := range positions {
		if strings.EqualFold(p.Ticker, ticker) {
			found = p
			n++
		}
	}
	return found, n == 1
}
