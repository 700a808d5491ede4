package reporter

import (
	"equity-cycle-bot/internal/exchange"
	"equity-cycle-bot/internal/models"
	"equity-cycle-bot/internal/storage"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const timeLayout = "2006-01-02 15:04:05"

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	return t
}

// CycleSummary 打印一个周期的买入和卖出明细
func CycleSummary(w io.Writer, rec *models.CycleRecord) {
	if rec == nil {
		return
	}

	buys := newTable(w, fmt.Sprintf("周期 %s 买入", rec.CycleID))
	buys.AppendHeader(table.Row{"Ticker", "数量", "限价", "订单ID", "状态"})
	placed := 0
	for _, b := range rec.Buys {
		status := "失败"
		if b.Placed {
			status = "已下单"
			placed++
		}
		buys.AppendRow(table.Row{b.Ticker, b.Quantity, fmt.Sprintf("%.4f", b.LimitPrice), b.OrderID, status})
	}
	buys.AppendFooter(table.Row{"合计", "", "", "", fmt.Sprintf("%d/%d", placed, len(rec.Buys))})
	buys.Render()

	sells := newTable(w, fmt.Sprintf("周期 %s 卖出", rec.CycleID))
	sells.AppendHeader(table.Row{"Ticker", "方向", "尝试次数", "数量", "最后限价", "订单ID", "状态"})
	for _, s := range rec.Sells {
		status := "失败"
		if s.Placed {
			status = "已下单"
		}
		sells.AppendRow(table.Row{s.Ticker, s.Direction, s.Attempts, s.Quantity, fmt.Sprintf("%.4f", s.LimitPrice), s.OrderID, status})
	}
	sells.AppendFooter(table.Row{"合计", "", "", "", "", "", len(rec.Sells)})
	sells.Render()
}

// AccountStatus 打印账户资金、持仓和挂单
func AccountStatus(w io.Writer, snap *models.AccountSnapshot) {
	if snap == nil {
		fmt.Fprintln(w, "没有账户快照")
		return
	}

	bal := newTable(w, fmt.Sprintf("账户 (周期 %s, %s)", snap.CycleID, snap.TakenAt.Format(timeLayout)))
	bal.AppendHeader(table.Row{"可用", "已投资", "冻结", "总额", "已实现盈亏", "未实现盈亏"})
	bal.AppendRow(table.Row{
		money(snap.Balance.Free), money(snap.Balance.Invested), money(snap.Balance.Blocked),
		money(snap.Balance.Total), money(snap.Balance.Result), money(snap.Balance.PPL),
	})
	bal.Render()

	pos := newTable(w, "持仓")
	pos.AppendHeader(table.Row{"Ticker", "数量", "可卖", "均价", "现价", "盈亏"})
	for _, p := range snap.Positions {
		pos.AppendRow(table.Row{p.Ticker, p.Quantity, p.MaxSell, money(p.AveragePrice), money(p.CurrentPrice), money(p.PPL)})
	}
	pos.Render()

	orders := newTable(w, "挂单")
	orders.AppendHeader(table.Row{"ID", "Ticker", "方向", "数量", "限价", "状态"})
	for _, o := range snap.LimitOrders {
		side := "BUY"
		if o.IsSell() {
			side = "SELL"
		}
		orders.AppendRow(table.Row{o.ID, o.Ticker, side, o.Quantity, money(o.Price()), o.Status})
	}
	orders.Render()
}

// RecentCycles 打印最近的周期记录，最新的在前
func RecentCycles(w io.Writer, records []models.CycleRecord) {
	t := newTable(w, "最近周期")
	t.AppendHeader(table.Row{"周期", "开始", "耗时", "可用资金", "持仓", "入选", "买入", "卖出"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})
	for _, r := range records {
		duration := "进行中"
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Truncate(time.Second).String()
		}
		t.AppendRow(table.Row{r.CycleID, r.StartedAt.Format(timeLayout), duration, money(r.FreeCash), r.Positions, len(r.Shortlisted), len(r.Buys), len(r.Sells)})
	}
	t.Render()
}

// OrderLedger 打印订单账本中的每一次下单尝试
func OrderLedger(w io.Writer, cycleID string, entries []storage.OrderEntry) {
	t := newTable(w, fmt.Sprintf("周期 %s 订单账本", cycleID))
	t.AppendHeader(table.Row{"时间", "方向", "Ticker", "数量", "限价", "订单ID", "调价方向", "尝试次数", "状态"})
	for _, e := range entries {
		status := "失败"
		if e.Placed {
			status = "已下单"
		}
		t.AppendRow(table.Row{e.CreatedAt.Format(timeLayout), e.Side, e.Ticker, e.Quantity, fmt.Sprintf("%.4f", e.LimitPrice), e.OrderID, e.Direction, e.Attempts, status})
	}
	t.Render()
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// SessionMetrics 模拟盘运行的绩效统计
type SessionMetrics struct {
	InitialCash      float64
	FinalBalance     float64
	TotalProfit      float64
	ProfitPercentage float64
	TotalTrades      int
	ClosingTrades    int
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	AvgProfitLoss    float64
	MaxDrawdown      float64
}

// CalculateSession 根据模拟盘的成交记录和当前余额计算绩效
func CalculateSession(initialCash float64, balance models.Balance, trades []exchange.PaperTrade) *SessionMetrics {
	m := &SessionMetrics{InitialCash: initialCash, TotalTrades: len(trades)}

	var totalProfit, totalLoss float64
	equity := []float64{initialCash}
	running := initialCash
	for _, trade := range trades {
		// 只有卖出成交会产生已实现盈亏
		if trade.Quantity >= 0 {
			continue
		}
		m.ClosingTrades++
		if trade.Realized > 0 {
			m.WinningTrades++
			totalProfit += trade.Realized
		} else {
			m.LosingTrades++
			totalLoss += trade.Realized
		}
		running += trade.Realized
		equity = append(equity, running)
	}

	if m.ClosingTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.ClosingTrades) * 100
	}
	if m.LosingTrades > 0 && m.WinningTrades > 0 {
		avgWin := totalProfit / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		if avgLoss > 0 {
			m.AvgProfitLoss = avgWin / avgLoss
		}
	}

	m.FinalBalance = balance.Total
	m.TotalProfit = m.FinalBalance - m.InitialCash
	if m.InitialCash != 0 {
		m.ProfitPercentage = (m.TotalProfit / m.InitialCash) * 100
	}
	m.MaxDrawdown = calculateMaxDrawdown(equity) * 100
	return m
}

// SessionReport 打印模拟盘绩效
func SessionReport(w io.Writer, m *SessionMetrics) {
	t := newTable(w, "模拟盘结果报告")
	t.AppendRows([]table.Row{
		{"初始资金", money(m.InitialCash)},
		{"最终资金", money(m.FinalBalance)},
		{"总利润", money(m.TotalProfit)},
		{"收益率", fmt.Sprintf("%.2f%%", m.ProfitPercentage)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"总成交次数", m.TotalTrades},
		{"平仓次数", m.ClosingTrades},
		{"盈利次数", m.WinningTrades},
		{"亏损次数", m.LosingTrades},
		{"胜率", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"平均盈亏比", fmt.Sprintf("%.2f", m.AvgProfitLoss)},
		{"最大回撤", fmt.Sprintf("%.2f%%", m.MaxDrawdown)},
	})
	t.Render()
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}
