package bot

import (
	"bytes"
	"context"
	"equity-cycle-bot/internal/buyer"
	"equity-cycle-bot/internal/control"
	"equity-cycle-bot/internal/exchange"
	"equity-cycle-bot/internal/filters"
	"equity-cycle-bot/internal/handoff"
	"equity-cycle-bot/internal/journal"
	"equity-cycle-bot/internal/models"
	"equity-cycle-bot/internal/persistence"
	"equity-cycle-bot/internal/reporter"
	"equity-cycle-bot/internal/seller"
	"equity-cycle-bot/internal/state"
	"equity-cycle-bot/internal/storage"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// Deps 是机器人依赖的外部组件
type Deps struct {
	Data    exchange.DataProvider
	Gateway exchange.OrderGateway
	Repo    persistence.Repository
	Filter  filters.Predicate // 为空时使用默认筛选器
	Ledger  *storage.Ledger   // 可为空

	ControlOptions []control.Option
	OnCycle        func(cycleID string) // 每个周期结束后调用，可为空
}

// worker 是一个长期运行的协程
type worker interface {
	Run(ctx context.Context) error
}

// CycleBot 连接共享状态、信号图和三个工作协程，并监督它们的运行
type CycleBot struct {
	config  *models.Config
	state   *state.MarketState
	graph   *handoff.Graph
	journal *journal.Journal
	workers map[string]worker
	onCycle func(cycleID string)
	logger  *zap.Logger

	mutex     sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	err       error
}

// NewCycleBot 创建机器人实例
func NewCycleBot(cfg *models.Config, deps Deps, logger *zap.Logger) *CycleBot {
	st := state.NewMarketState()
	graph := handoff.NewGraph()
	jr := journal.New(deps.Repo, logger.With(zap.String("worker", "journal")))

	filter := deps.Filter
	if filter == nil {
		filter = filters.NewDefault(cfg.FilterStrictness, cfg.MinimumMarketCap, logger.With(zap.String("worker", "filter")))
	}

	b := &CycleBot{
		config:  cfg,
		state:   st,
		graph:   graph,
		journal: jr,
		onCycle: deps.OnCycle,
		logger:  logger,
	}

	rec := &recorder{Journal: jr, ledger: deps.Ledger, logger: logger}
	opts := append([]control.Option{control.WithCycleHook(b.logCycleSummary)}, deps.ControlOptions...)
	b.workers = map[string]worker{
		"control": control.New(cfg, deps.Data, st, graph, deps.Repo, jr, logger.With(zap.String("worker", "control")), opts...),
		"buy":     buyer.New(cfg, deps.Data, deps.Gateway, st, graph, deps.Repo, filter, rec, logger.With(zap.String("worker", "buy"))),
		"sell":    seller.New(cfg, deps.Data, deps.Gateway, st, graph, rec, logger.With(zap.String("worker", "sell"))),
	}
	return b
}

// State 返回共享状态
func (b *CycleBot) State() *state.MarketState {
	return b.state
}

// Journal 返回周期日志
func (b *CycleBot) Journal() *journal.Journal {
	return b.journal
}

// Start 启动周期日志和三个工作协程
func (b *CycleBot) Start(ctx context.Context) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.isRunning {
		return fmt.Errorf("机器人已在运行")
	}
	b.isRunning = true

	ctx, b.cancel = context.WithCancel(ctx)
	b.journal.Start()
	for name, w := range b.workers {
		b.wg.Add(1)
		go b.supervise(ctx, name, w)
	}
	b.logger.Info("周期交易机器人已启动")
	return nil
}

// Wait 阻塞直到所有工作协程退出，返回第一个非正常退出的错误
func (b *CycleBot) Wait() error {
	b.wg.Wait()
	b.journal.Stop()

	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.isRunning = false
	return b.err
}

// Stop 通知所有工作协程退出
func (b *CycleBot) Stop() {
	b.mutex.Lock()
	cancel := b.cancel
	b.mutex.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run 启动机器人并阻塞到 ctx 被取消或某个工作协程失败
func (b *CycleBot) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}
	return b.Wait()
}

// supervise 运行一个工作协程。ctx 取消是正常退出；其他错误或 panic 会停止整个机器人，
// 交给外部进程管理器重启，而不是留下一个不完整的信号图。
func (b *CycleBot) supervise(ctx context.Context, name string, w worker) {
	defer b.wg.Done()
	log := b.logger.With(zap.String("worker", name))

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s 协程 panic: %v", name, r)
				log.Error("工作协程 panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			}
		}()
		return w.Run(ctx)
	}()

	switch {
	case err == nil, errors.Is(err, handoff.ErrStopped):
		log.Info("工作协程已退出")
	default:
		if errors.Is(err, buyer.ErrStoppedOnEmptyShortlist) {
			// 没有买入阶段，卖出阶段下个周期会一直等待买入信号
			log.Error("买入阶段按配置退出，停止机器人", zap.Error(err))
		} else {
			log.Error("工作协程异常退出，停止机器人", zap.Error(err))
		}
		b.mutex.Lock()
		if b.err == nil {
			b.err = err
		}
		b.mutex.Unlock()
		b.Stop()
	}
}

// logCycleSummary 在周期结束时输出买卖明细表
func (b *CycleBot) logCycleSummary(cycleID string) {
	if rec := b.journal.Current(); rec != nil && rec.CycleID == cycleID {
		var buf bytes.Buffer
		reporter.CycleSummary(&buf, rec)
		b.logger.Info("周期完成\n"+buf.String(), zap.String("cycle_id", cycleID))
	}
	if b.onCycle != nil {
		b.onCycle(cycleID)
	}
}

// recorder 把买卖记录同时写入周期日志和订单账本
type recorder struct {
	*journal.Journal
	ledger *storage.Ledger
	logger *zap.Logger
}

func (r *recorder) BuyPlaced(cycleID string, rec models.BuyRecord) {
	r.Journal.BuyPlaced(cycleID, rec)
	if r.ledger == nil {
		return
	}
	if err := r.ledger.RecordBuy(cycleID, rec); err != nil {
		r.logger.Warn("写入订单账本失败", zap.String("ticker", rec.Ticker), zap.Error(err))
	}
}

func (r *recorder) SellPlaced(cycleID string, rec models.SellRecord) {
	r.Journal.SellPlaced(cycleID, rec)
	if r.ledger == nil {
		return
	}
	if err := r.ledger.RecordSell(cycleID, rec); err != nil {
		r.logger.Warn("写入订单账本失败", zap.String("ticker", rec.Ticker), zap.Error(err))
	}
}
