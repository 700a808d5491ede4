package exchange

import (
	"context"
	"encoding/json"
	"equity-cycle-bot/internal/models"
	"equity-cycle-bot/internal/retry"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const finnhubDefaultURL = "https://finnhub.io/api/v1"

// FinnhubClient 实现了 MarketData 接口，提供市场状态与候选公司数据
type FinnhubClient struct {
	apiKey           string
	baseURL          string
	httpClient       *http.Client
	minimumMarketCap float64
	statusRetry      retry.Policy
	logger           *zap.Logger
}

// NewFinnhubClient 创建一个新的 FinnhubClient。minimumMarketCap 以百万为单位。
func NewFinnhubClient(apiKey, baseURL string, minimumMarketCap float64, timeout time.Duration, logger *zap.Logger) *FinnhubClient {
	if baseURL == "" {
		baseURL = finnhubDefaultURL
	}
	return &FinnhubClient{
		apiKey:           apiKey,
		baseURL:          strings.TrimRight(baseURL, "/"),
		httpClient:       &http.Client{Timeout: timeout},
		minimumMarketCap: minimumMarketCap,
		statusRetry:      retry.Attempts(2, time.Second),
		logger:           logger,
	}
}

// ConvertTicker 将券商 ticker 转换为数据源 ticker，例如 "aapl_US_EQ" -> "AAPL"
func ConvertTicker(ticker string) string {
	t := strings.TrimSuffix(ticker, "_US_EQ")
	t = strings.TrimSuffix(t, "_EQ")
	return strings.ToUpper(t)
}

// getJSON 发送 GET 请求并解析 JSON 响应
func (c *FinnhubClient) getJSON(ctx context.Context, endpoint string, params url.Values, v interface{}) error {
	fullURL := c.baseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("X-Finnhub-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: 执行请求失败: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: 读取响应体失败: %v", ErrRequestFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, endpoint, err)
	}
	return nil
}

// IsMarketOpen 查询美股市场是否开盘，失败时重试一次，仍失败则返回 false
func (c *FinnhubClient) IsMarketOpen(ctx context.Context) bool {
	var status struct {
		IsOpen  bool   `json:"isOpen"`
		Session string `json:"session"`
	}
	err := retry.Do(ctx, c.statusRetry, func(int) error {
		return c.getJSON(ctx, "/stock/market-status", url.Values{"exchange": {"US"}}, &status)
	}, func(attempt int, err error) {
		c.logger.Warn("获取市场状态失败，准备重试", zap.Int("attempt", attempt), zap.Error(err))
	})
	if err != nil {
		c.logger.Error("获取市场状态失败，视为休市", zap.Error(err))
		return false
	}
	return status.IsOpen
}

// FetchCandidateDetails 获取公司概况、报价、基本面与内部人交易数据。
// 市值低于下限时返回 ErrNotFound。
func (c *FinnhubClient) FetchCandidateDetails(ctx context.Context, instrument models.Instrument) (*models.CandidateCompany, error) {
	symbol := ConvertTicker(instrument.Ticker)
	params := url.Values{"symbol": {symbol}}

	var profile models.CompanyProfile
	if err := c.getJSON(ctx, "/stock/profile2", params, &profile); err != nil {
		return nil, fmt.Errorf("获取 %s 公司概况失败: %w", symbol, err)
	}
	if profile.Ticker == "" && profile.Name == "" {
		return nil, fmt.Errorf("%w: %s 无公司概况", ErrNotFound, symbol)
	}
	if profile.MarketCapitalization < c.minimumMarketCap {
		return nil, fmt.Errorf("%w: %s 市值 %.0fm 低于下限", ErrNotFound, symbol, profile.MarketCapitalization)
	}

	var quote models.Quote
	if err := c.getJSON(ctx, "/quote", params, &quote); err != nil {
		return nil, fmt.Errorf("获取 %s 报价失败: %w", symbol, err)
	}

	var financials models.Financials
	metricParams := url.Values{"symbol": {symbol}, "metric": {"all"}}
	if err := c.getJSON(ctx, "/stock/metric", metricParams, &financials); err != nil {
		return nil, fmt.Errorf("获取 %s 基本面数据失败: %w", symbol, err)
	}

	// 内部人交易数据可选，失败不影响候选
	var insider struct {
		Data   []models.InsiderTransaction `json:"data"`
		Symbol string                      `json:"symbol"`
	}
	if err := c.getJSON(ctx, "/stock/insider-transactions", params, &insider); err != nil {
		c.logger.Debug("获取内部人交易数据失败", zap.String("symbol", symbol), zap.Error(err))
		insider.Data = nil
	}

	return &models.CandidateCompany{
		Instrument:          instrument,
		Profile:             profile,
		Quote:               quote,
		Financials:          financials,
		InsiderTransactions: insider.Data,
	}, nil
}
