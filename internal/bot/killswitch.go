package bot

import (
	"context"
	"equity-cycle-bot/internal/exchange"
	"equity-cycle-bot/internal/retry"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// KillSwitchResult 汇总紧急清仓的结果
type KillSwitchResult struct {
	OrdersCancelled  int
	CancelFailures   int
	PositionsSold    int
	SellFailures     int
	PositionsSkipped int
}

// KillSwitch 撤销所有挂单，然后以市价卖出全部持仓。单个订单失败只记录日志。
func KillSwitch(ctx context.Context, data exchange.BrokerData, gateway exchange.OrderGateway, pacing time.Duration, logger *zap.Logger) (*KillSwitchResult, error) {
	logger.Warn("-------------- 紧急清仓开始 --------------")
	res := &KillSwitchResult{}

	orders, err := gateway.ListOpenOrders(ctx)
	if err != nil {
		return res, fmt.Errorf("获取挂单失败: %w", err)
	}
	for _, o := range orders {
		if err := gateway.CancelOrder(ctx, o.ID); err != nil {
			res.CancelFailures++
			logger.Warn("撤单失败", zap.Int64("order_id", o.ID), zap.String("ticker", o.Ticker), zap.Error(err))
		} else {
			res.OrdersCancelled++
			logger.Info("已撤单", zap.Int64("order_id", o.ID), zap.String("ticker", o.Ticker))
		}
		if err := retry.Sleep(ctx, pacing); err != nil {
			return res, err
		}
	}

	positions, err := data.FetchPositions(ctx)
	if err != nil {
		return res, fmt.Errorf("获取持仓失败: %w", err)
	}
	for _, p := range positions {
		if p.Quantity <= 0 {
			res.PositionsSkipped++
			continue
		}
		if _, err := gateway.PlaceMarketOrder(ctx, p.Ticker, -p.Quantity); err != nil {
			res.SellFailures++
			logger.Warn("市价卖出失败", zap.String("ticker", p.Ticker), zap.Float64("quantity", p.Quantity), zap.Error(err))
		} else {
			res.PositionsSold++
			logger.Info("已市价卖出", zap.String("ticker", p.Ticker), zap.Float64("quantity", p.Quantity))
		}
		if err := retry.Sleep(ctx, pacing); err != nil {
			return res, err
		}
	}

	logger.Warn("-------------- 紧急清仓完成 --------------",
		zap.Int("orders_cancelled", res.OrdersCancelled),
		zap.Int("positions_sold", res.PositionsSold))
	return res, nil
}
