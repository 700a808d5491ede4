package exchange

import (
	"context"
	"encoding/json"
	"equity-cycle-bot/internal/models"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]interface{}
}

type fakeTrading212 struct {
	sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeTrading212) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization")}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&rec.Body)
	}
	f.Lock()
	f.requests = append(f.requests, rec)
	f.Unlock()
	f.handler(w, r)
}

func (f *fakeTrading212) last() recordedRequest {
	f.Lock()
	defer f.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestTrading212(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Trading212Client, *fakeTrading212) {
	fake := &fakeTrading212{handler: handler}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewTrading212Client("secret", "demo", srv.URL, time.Second, zap.NewNop()), fake
}

func TestTrading212BaseURLByEnvironment(t *testing.T) {
	assert.Equal(t, trading212DemoURL, NewTrading212Client("k", "demo", "", time.Second, zap.NewNop()).baseURL)
	assert.Equal(t, trading212LiveURL, NewTrading212Client("k", "live", "", time.Second, zap.NewNop()).baseURL)
}

func TestTrading212FetchPositions(t *testing.T) {
	c, fake := newTestTrading212(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"ticker":"AAPL_US_EQ","quantity":2.5,"averagePrice":150,"currentPrice":155,"maxSell":2.5,"ppl":12.5}]`))
	})

	positions, err := c.FetchPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL_US_EQ", positions[0].Ticker)
	assert.Equal(t, 2.5, positions[0].MaxSell)

	req := fake.last()
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/api/v0/equity/portfolio", req.Path)
	assert.Equal(t, "secret", req.Auth)
}

func TestTrading212FetchBalance(t *testing.T) {
	c, _ := newTestTrading212(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v0/equity/account/cash", r.URL.Path)
		_, _ = w.Write([]byte(`{"free":10000,"invested":500,"blocked":0,"pieCash":0,"total":10500,"result":3,"ppl":-2}`))
	})

	b, err := c.FetchBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Balance{Free: 10000, Invested: 500, Total: 10500, Result: 3, PPL: -2}, *b)
}

func TestTrading212PlaceLimitOrder(t *testing.T) {
	c, fake := newTestTrading212(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":42,"ticker":"AAPL_US_EQ","quantity":-2,"limitPrice":151.5,"status":"NEW","type":"LIMIT"}`))
	})

	order, err := c.PlaceLimitOrder(context.Background(), "AAPL_US_EQ", 151.5, -2)
	require.NoError(t, err)
	assert.Equal(t, int64(42), order.ID)
	assert.True(t, order.IsSell())
	assert.Equal(t, 151.5, order.Price())

	req := fake.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/v0/equity/orders/limit", req.Path)
	assert.Equal(t, "DAY", req.Body["timeValidity"])
	assert.Equal(t, -2.0, req.Body["quantity"])
	assert.Equal(t, 151.5, req.Body["limitPrice"])
}

func TestTrading212RefusesVUSALimitOrders(t *testing.T) {
	c, fake := newTestTrading212(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	})

	_, err := c.PlaceLimitOrder(context.Background(), "VUSAl_EQ", 80, 1)
	require.ErrorIs(t, err, ErrOrderRejected)
	fake.Lock()
	defer fake.Unlock()
	assert.Empty(t, fake.requests)
}

func TestTrading212ErrorMapping(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	c, _ := newTestTrading212(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"code":"BusinessException","message":"nope"}`))
	})

	_, err := c.FetchOpenOrders(context.Background())
	require.ErrorIs(t, err, ErrRateLimited)

	status.Store(http.StatusNotFound)
	err = c.CancelOrder(context.Background(), 7)
	require.ErrorIs(t, err, ErrNotFound)

	status.Store(http.StatusBadRequest)
	_, err = c.PlaceLimitOrder(context.Background(), "AAPL_US_EQ", 1, 1)
	require.ErrorIs(t, err, ErrOrderRejected)
	var apiErr *models.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "nope", apiErr.Message)

	status.Store(http.StatusInternalServerError)
	_, err = c.PlaceMarketOrder(context.Background(), "AAPL_US_EQ", 1)
	require.ErrorIs(t, err, ErrRequestFailed)
	assert.NotErrorIs(t, err, ErrOrderRejected)
}

func TestTrading212CancelOrder(t *testing.T) {
	c, fake := newTestTrading212(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.CancelOrder(context.Background(), 99))
	req := fake.last()
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "/api/v0/equity/orders/99", req.Path)
}

func TestTrading212DecodeError(t *testing.T) {
	c, _ := newTestTrading212(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})

	_, err := c.FetchInstruments(context.Background())
	require.ErrorIs(t, err, ErrDecode)
}
