package control

import (
	"context"
	"equity-cycle-bot/internal/exchange"
	"equity-cycle-bot/internal/handoff"
	"equity-cycle-bot/internal/metrics"
	"equity-cycle-bot/internal/models"
	"equity-cycle-bot/internal/persistence"
	"equity-cycle-bot/internal/retry"
	"equity-cycle-bot/internal/state"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// Recorder 接收周期开始与结束事件 (通常是 journal.Journal)
type Recorder interface {
	CycleStarted(cycleID string, freeCash float64, positions int)
	CycleCompleted(cycleID string)
}

// Coordinator 控制协程: 等待开市、刷新共享状态、通知买卖阶段、等待卖出阶段结束
type Coordinator struct {
	cfg       *models.Config
	data      exchange.DataProvider
	state     *state.MarketState
	graph     *handoff.Graph
	snapshots persistence.SnapshotStore
	recorder  Recorder
	logger    *zap.Logger

	shuffle    func([]models.Instrument)
	newCycleID func() string
	onComplete func(cycleID string)
	now        func() time.Time

	// 交替使用新数据和快照，控制API调用量
	fetchFreshInstruments bool
}

// Option 配置 Coordinator 的可选行为
type Option func(*Coordinator)

// WithShuffle 替换证券列表的随机排序函数
func WithShuffle(fn func([]models.Instrument)) Option {
	return func(c *Coordinator) { c.shuffle = fn }
}

// WithCycleIDs 替换周期ID生成器
func WithCycleIDs(fn func() string) Option {
	return func(c *Coordinator) { c.newCycleID = fn }
}

// WithCycleHook 在每个周期结束 (收到卖出阶段信号) 后调用
func WithCycleHook(fn func(cycleID string)) Option {
	return func(c *Coordinator) { c.onComplete = fn }
}

// New 创建控制协程
func New(cfg *models.Config, data exchange.DataProvider, st *state.MarketState, graph *handoff.Graph,
	snapshots persistence.SnapshotStore, recorder Recorder, logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:                   cfg,
		data:                  data,
		state:                 st,
		graph:                 graph,
		snapshots:             snapshots,
		recorder:              recorder,
		logger:                logger,
		shuffle:               shuffleInstruments,
		newCycleID:            NewCycleID,
		now:                   time.Now,
		fetchFreshInstruments: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewCycleID 返回一个短的周期ID (uuid 的 base62 编码)
func NewCycleID() string {
	id := uuid.New()
	return base62.EncodeToString(id[:])
}

func shuffleInstruments(instruments []models.Instrument) {
	rand.Shuffle(len(instruments), func(i, j int) {
		instruments[i], instruments[j] = instruments[j], instruments[i]
	})
}

// Run 循环执行周期，直到 ctx 被取消 (返回 handoff.ErrStopped)
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("控制协程已启动")
	for {
		if err := c.RunCycle(ctx); err != nil {
			return err
		}
	}
}

// RunCycle 执行一个完整的控制周期
func (c *Coordinator) RunCycle(ctx context.Context) error {
	if err := c.waitMarketOpen(ctx); err != nil {
		return err
	}

	cycleID := c.newCycleID()
	c.state.BeginCycle(cycleID)
	log := c.logger.With(zap.String("cycle_id", cycleID))
	log.Info("开始刷新共享状态")

	if err := c.refresh(ctx, log); err != nil {
		return err
	}

	balance := c.state.Balance()
	positions := c.state.SnapshotPositions()
	c.recorder.CycleStarted(cycleID, balance.Free, len(positions))
	c.writeAccountSnapshot(cycleID, balance, positions, log)

	log.Info("数据已更新，通知买入和卖出阶段")
	c.notify(ctx, c.graph.ControlToBuy, log)
	c.notify(ctx, c.graph.ControlToSell, log)

	if err := c.graph.SellToControl.Wait(ctx); err != nil {
		return err
	}
	log.Info("收到卖出阶段完成信号")

	c.recorder.CycleCompleted(cycleID)
	metrics.CycleCompleted()
	if c.onComplete != nil {
		c.onComplete(cycleID)
	}
	return nil
}

// waitMarketOpen 休市时长时间休眠后重新检查，这不是错误
func (c *Coordinator) waitMarketOpen(ctx context.Context) error {
	for !c.data.IsMarketOpen(ctx) {
		c.logger.Info("市场休市，休眠后重新检查", zap.Duration("sleep", models.Millis(c.cfg.Timing.MarketClosedSleepMs)))
		if err := retry.Sleep(ctx, models.Millis(c.cfg.Timing.MarketClosedSleepMs)); err != nil {
			return handoff.ErrStopped
		}
	}
	return nil
}

// refresh 依次刷新余额、证券列表、持仓和挂单，每一步无限重试直到成功
func (c *Coordinator) refresh(ctx context.Context, log *zap.Logger) error {
	t := c.cfg.Timing

	steps := []struct {
		name    string
		backoff time.Duration
		fn      func() error
	}{
		{"balance", models.Millis(t.BalanceBackoffMs), func() error {
			b, err := c.data.FetchBalance(ctx)
			if err != nil {
				return err
			}
			c.state.SetBalance(*b)
			metrics.SetFreeCash(b.Free)
			return nil
		}},
		{"instruments", models.Millis(t.InstrumentsBackoffMs), func() error {
			instruments, err := c.loadInstruments(ctx, log)
			if err != nil {
				return err
			}
			c.state.SetInstruments(instruments)
			return nil
		}},
		{"positions", models.Millis(t.PositionsBackoffMs), func() error {
			// 持仓数据在订单变动后需要一点时间才稳定
			if err := retry.Sleep(ctx, models.Millis(t.PositionsSettleMs)); err != nil {
				return err
			}
			positions, err := c.data.FetchPositions(ctx)
			if err != nil {
				return err
			}
			c.state.SetPositions(positions)
			return nil
		}},
		{"limit_orders", models.Millis(t.LimitOrdersBackoffMs), func() error {
			orders, err := c.data.FetchOpenOrders(ctx)
			if err != nil {
				return err
			}
			c.state.SetLimitOrders(orders)
			return nil
		}},
	}

	for _, step := range steps {
		err := retry.Do(ctx, retry.Unbounded(step.backoff), func(int) error { return step.fn() },
			func(attempt int, err error) {
				metrics.RefreshRetry(step.name)
				log.Warn("刷新失败，稍后重试", zap.String("collection", step.name), zap.Int("attempt", attempt), zap.Error(err))
			})
		if err != nil {
			return handoff.ErrStopped
		}
		log.Debug("刷新完成", zap.String("collection", step.name))
	}
	return nil
}

// loadInstruments 交替获取新证券列表和读取当天的快照。快照缺失或过期时获取新数据。
func (c *Coordinator) loadInstruments(ctx context.Context, log *zap.Logger) ([]models.Instrument, error) {
	if !c.fetchFreshInstruments {
		instruments, valid, err := c.snapshots.ReadInstrumentSnapshot()
		switch {
		case err != nil:
			log.Warn("读取证券快照失败，获取新数据", zap.Error(err))
		case !valid || len(instruments) == 0:
			log.Info("证券快照缺失或已过期，获取新数据")
		default:
			c.fetchFreshInstruments = true
			log.Info("使用证券快照", zap.Int("count", len(instruments)))
			return instruments, nil
		}
	}

	instruments, err := c.data.FetchInstruments(ctx)
	if err != nil {
		return nil, err
	}
	c.shuffle(instruments)
	if err := c.snapshots.WriteInstrumentSnapshot(instruments); err != nil {
		log.Warn("写入证券快照失败", zap.Error(err))
	}
	c.fetchFreshInstruments = false
	log.Info("已获取新证券列表", zap.Int("count", len(instruments)))
	return instruments, nil
}

func (c *Coordinator) writeAccountSnapshot(cycleID string, balance models.Balance, positions []models.Position, log *zap.Logger) {
	snap := &models.AccountSnapshot{
		CycleID:     cycleID,
		TakenAt:     c.now(),
		Balance:     balance,
		Positions:   positions,
		LimitOrders: c.state.SnapshotLimitOrders(),
	}
	if err := c.snapshots.WriteAccountSnapshot(snap); err != nil {
		log.Warn("写入账户快照失败", zap.Error(err))
	}
}

// notify 发送失败只记录日志
func (c *Coordinator) notify(ctx context.Context, sig *handoff.Signal, log *zap.Logger) {
	if err := sig.Send(ctx); err != nil {
		log.Warn("通知失败", zap.String("signal", sig.Name()), zap.Error(err))
		return
	}
	log.Debug("已通知", zap.String("signal", sig.Name()))
}
