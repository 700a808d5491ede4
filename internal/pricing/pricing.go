package pricing

import (
	"equity-cycle-bot/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PercIncrease 返回 price 上浮 perc% 后的价格
func PercIncrease(price, perc float64) float64 {
	p := decimal.NewFromFloat(price)
	return p.Add(p.Mul(decimal.NewFromFloat(perc)).Div(hundred)).InexactFloat64()
}

// PercDecrease 返回 price 下调 perc% 后的价格
func PercDecrease(price, perc float64) float64 {
	p := decimal.NewFromFloat(price)
	return p.Sub(p.Mul(decimal.NewFromFloat(perc)).Div(hundred)).InexactFloat64()
}

// RoundDown 向下截断到指定小数位
func RoundDown(value float64, places int32) float64 {
	return decimal.NewFromFloat(value).Truncate(places).InexactFloat64()
}

// SpendPerTicker 计算每只股票的买入预算:
// free * (1 - spendFraction) / targetCount
func SpendPerTicker(free, spendFraction float64, targetCount int) float64 {
	if targetCount <= 0 || free <= 0 {
		return 0
	}
	if spendFraction < 0 {
		spendFraction = 0
	}
	if spendFraction > 1 {
		spendFraction = 1
	}
	keep := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(spendFraction))
	return decimal.NewFromFloat(free).Mul(keep).Div(decimal.NewFromInt(int64(targetCount))).InexactFloat64()
}

// BuyQuantity 买入数量 = min(预算/价格 向下取两位小数, 最大持仓数量)
// maxOpenQuantity <= 0 表示券商未提供上限
func BuyQuantity(spend, price, maxOpenQuantity float64) float64 {
	if price <= 0 || spend <= 0 {
		return 0
	}
	qty := decimal.NewFromFloat(spend).Div(decimal.NewFromFloat(price)).Truncate(2).InexactFloat64()
	if maxOpenQuantity > 0 && qty > maxOpenQuantity {
		return maxOpenQuantity
	}
	return qty
}

// BuyLimitPrice 买单限价: 当前价下调 0.1%
func BuyLimitPrice(current float64) float64 {
	return PercDecrease(current, 0.1)
}

// BuyRetryPrice 第二次买入尝试的限价，比上一次高 0.01
func BuyRetryPrice(previous float64) float64 {
	return decimal.NewFromFloat(previous).Add(decimal.NewFromFloat(0.01)).InexactFloat64()
}

// SellQuantity 卖出数量 = min(持仓数量, 最大可卖数量)
func SellQuantity(pos models.Position) float64 {
	if pos.MaxSell < pos.Quantity {
		return pos.MaxSell
	}
	return pos.Quantity
}

// Direction 当前价不高于均价时为 DOWN，否则为 UP
func Direction(pos models.Position) models.MovementDirection {
	diff := decimal.NewFromFloat(pos.AveragePrice).Sub(decimal.NewFromFloat(pos.CurrentPrice))
	if diff.Sign() >= 0 {
		return models.DirectionDown
	}
	return models.DirectionUp
}

// InitialSellPrice 初始卖单限价: 当前价上浮 1%
func InitialSellPrice(pos models.Position) float64 {
	return PercIncrease(pos.CurrentPrice, 1.0)
}

// EscalationPrice 根据方向和已尝试次数 (本轮递增之前的值) 计算卖单限价。
//
//	DOWN: 0-2 保本(均价)  3-4 当前价-0.01%  >=5 当前价-0.05%
//	UP:   0-1 +0.5%  2-3 +0.25%  4-5 +0.1%  >=6 当前价
func EscalationPrice(dir models.MovementDirection, attempts int, pos models.Position) float64 {
	if dir == models.DirectionDown {
		switch {
		case attempts <= 2:
			return pos.AveragePrice
		case attempts <= 4:
			return PercDecrease(pos.CurrentPrice, 0.01)
		default:
			return PercDecrease(pos.CurrentPrice, 0.05)
		}
	}

	switch {
	case attempts <= 1:
		return PercIncrease(pos.CurrentPrice, 0.5)
	case attempts <= 3:
		return PercIncrease(pos.CurrentPrice, 0.25)
	case attempts <= 5:
		return PercIncrease(pos.CurrentPrice, 0.1)
	default:
		return pos.CurrentPrice
	}
}
