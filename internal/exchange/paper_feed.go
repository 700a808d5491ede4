package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// LoadPaperListings 从 JSON 文件读取模拟券商的证券列表
func LoadPaperListings(path string) ([]PaperListing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var listings []PaperListing
	if err := json.Unmarshal(data, &listings); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	return listings, nil
}

// Step 将每只证券的价格随机移动不超过 maxStepPerc%，价格保留两位小数
func (e *PaperBroker) Step(rng *rand.Rand, maxStepPerc float64) {
	e.mu.Lock()
	tickers := append([]string(nil), e.order...)
	prices := make([]float64, len(tickers))
	for i, t := range tickers {
		prices[i] = e.listings[t].Quote.Current
	}
	e.mu.Unlock()

	for i, t := range tickers {
		if prices[i] <= 0 {
			continue
		}
		move := (rng.Float64()*2 - 1) * maxStepPerc / 100
		next := decimal.NewFromFloat(prices[i]).Mul(decimal.NewFromFloat(1 + move)).Round(2)
		if next.Sign() <= 0 {
			continue
		}
		e.SetPrice(t, next.InexactFloat64())
	}
}

// RunPriceFeed 按固定间隔随机游走价格，直到 ctx 结束
func (e *PaperBroker) RunPriceFeed(ctx context.Context, interval time.Duration, maxStepPerc float64, seed uint64) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Step(rng, maxStepPerc)
		}
	}
}
