package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"equity-cycle-bot/internal/models"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	trading212DemoURL = "https://demo.trading212.com"
	trading212LiveURL = "https://live.trading212.com"
	trading212Prefix  = "/api/v0/equity"
)

// Trading212Client 实现了 BrokerData 和 OrderGateway 接口，用于与 Trading212 券商交互
type Trading212Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTrading212Client 创建一个新的 Trading212Client 实例。
// baseURL 为空时根据 environment 选择 demo 或 live 地址。
func NewTrading212Client(apiKey, environment, baseURL string, timeout time.Duration, logger *zap.Logger) *Trading212Client {
	if baseURL == "" {
		baseURL = trading212DemoURL
		if environment == "live" {
			baseURL = trading212LiveURL
		}
	}
	return &Trading212Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// doRequest 是一个通用的请求处理函数，用于向 Trading212 API 发送请求
func (c *Trading212Client) doRequest(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, error) {
	fullURL := c.baseURL + trading212Prefix + endpoint

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
		c.logger.Debug("发送请求", zap.String("method", method), zap.String("url", fullURL), zap.ByteString("body", data))
		body = bytes.NewReader(data)
	} else {
		c.logger.Debug("发送请求", zap.String("method", method), zap.String("url", fullURL))
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: 执行请求失败: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: 读取响应体失败: %v", ErrRequestFailed, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}
	return respBody, statusError(resp.StatusCode, respBody)
}

// statusError 将非 2xx 响应转换为带哨兵错误的 APIError
func statusError(status int, body []byte) error {
	apiErr := &models.APIError{Status: status}
	if json.Unmarshal(body, apiErr) != nil || (apiErr.Code == "" && apiErr.Message == "") {
		apiErr.Message = strings.TrimSpace(string(body))
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrRateLimited, apiErr)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
	default:
		return fmt.Errorf("%w: %w", ErrRequestFailed, apiErr)
	}
}

func decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// --- BrokerData 接口实现 ---

// FetchInstruments 获取全部可交易证券
func (c *Trading212Client) FetchInstruments(ctx context.Context) ([]models.Instrument, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/metadata/instruments", nil)
	if err != nil {
		return nil, err
	}
	var instruments []models.Instrument
	if err := decode(data, &instruments); err != nil {
		return nil, err
	}
	return instruments, nil
}

// FetchBalance 获取账户资金
func (c *Trading212Client) FetchBalance(ctx context.Context) (*models.Balance, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/account/cash", nil)
	if err != nil {
		return nil, err
	}
	var balance models.Balance
	if err := decode(data, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// FetchPositions 获取全部持仓
func (c *Trading212Client) FetchPositions(ctx context.Context) ([]models.Position, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/portfolio", nil)
	if err != nil {
		return nil, err
	}
	var positions []models.Position
	if err := decode(data, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// FetchOpenOrders 获取全部挂单
func (c *Trading212Client) FetchOpenOrders(ctx context.Context) ([]models.LimitOrder, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/orders", nil)
	if err != nil {
		return nil, err
	}
	var orders []models.LimitOrder
	if err := decode(data, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// --- OrderGateway 接口实现 ---

// ListOpenOrders 与 FetchOpenOrders 相同
func (c *Trading212Client) ListOpenOrders(ctx context.Context) ([]models.LimitOrder, error) {
	return c.FetchOpenOrders(ctx)
}

// PlaceLimitOrder 下限价单，当日有效
func (c *Trading212Client) PlaceLimitOrder(ctx context.Context, ticker string, limitPrice, quantity float64) (*models.LimitOrder, error) {
	// VUSA 不接受限价单
	if strings.Contains(strings.ToLower(ticker), "vusa") {
		return nil, fmt.Errorf("%w: 忽略 %s 的限价单请求", ErrOrderRejected, ticker)
	}

	payload := map[string]interface{}{
		"quantity":     quantity,
		"ticker":       ticker,
		"limitPrice":   limitPrice,
		"timeValidity": "DAY",
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/orders/limit", payload)
	if err != nil {
		return nil, orderError(ticker, err)
	}

	var order models.LimitOrder
	if err := decode(data, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// PlaceMarketOrder 下市价单
func (c *Trading212Client) PlaceMarketOrder(ctx context.Context, ticker string, quantity float64) (*models.MarketOrder, error) {
	payload := map[string]interface{}{
		"quantity": quantity,
		"ticker":   ticker,
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/orders/market", payload)
	if err != nil {
		return nil, orderError(ticker, err)
	}

	var order models.MarketOrder
	if err := decode(data, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelOrder 撤销指定订单
func (c *Trading212Client) CancelOrder(ctx context.Context, id int64) error {
	_, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/orders/%d", id), nil)
	return err
}

// orderError 4xx 视为券商拒单，其余保持原样以便上层重试
func orderError(ticker string, err error) error {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s: %w", ErrOrderRejected, ticker, err)
	}
	return err
}
