package exchange

import (
	"context"
	"equity-cycle-bot/internal/models"
	"equity-cycle-bot/internal/retry"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFinnhub(t *testing.T, mux *http.ServeMux) *FinnhubClient {
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := NewFinnhubClient("token", srv.URL, 1000, time.Second, zap.NewNop())
	c.statusRetry = retry.Attempts(2, time.Millisecond)
	return c
}

func TestConvertTicker(t *testing.T) {
	assert.Equal(t, "AAPL", ConvertTicker("AAPL_US_EQ"))
	assert.Equal(t, "RR", ConvertTicker("rr_EQ"))
	assert.Equal(t, "MSFT", ConvertTicker("msft"))
}

func TestIsMarketOpenRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/stock/market-status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "US", r.URL.Query().Get("exchange"))
		assert.Equal(t, "token", r.Header.Get("X-Finnhub-Token"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"exchange":"US","isOpen":true,"session":"regular"}`))
	})
	c := newTestFinnhub(t, mux)

	assert.True(t, c.IsMarketOpen(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestIsMarketOpenFailsSoft(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/stock/market-status", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := newTestFinnhub(t, mux)

	assert.False(t, c.IsMarketOpen(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

func candidateMux(marketCap string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/stock/profile2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"Apple Inc","ticker":"AAPL","marketCapitalization":` + marketCap + `}`))
	})
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"c":190.5,"h":191,"l":188,"o":189,"pc":187,"t":1700000000}`))
	})
	mux.HandleFunc("/stock/metric", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"AAPL","metricType":"all","metric":{"10DayAverageTradingVolume":55.2,"beta":1.2,"52WeekHigh":199,"52WeekLow":120}}`))
	})
	mux.HandleFunc("/stock/insider-transactions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"AAPL","data":[{"name":"X","change":100},{"name":"Y","change":-40}]}`))
	})
	return mux
}

func TestFetchCandidateDetails(t *testing.T) {
	c := newTestFinnhub(t, candidateMux("2900000"))

	company, err := c.FetchCandidateDetails(context.Background(), models.Instrument{Ticker: "AAPL_US_EQ", MaxOpenQuantity: 50})
	require.NoError(t, err)

	assert.Equal(t, "AAPL_US_EQ", company.Instrument.Ticker)
	assert.Equal(t, 2900000.0, company.Profile.MarketCapitalization)
	assert.Equal(t, 190.5, company.Quote.Current)
	assert.Equal(t, 189.0, company.Quote.Open)
	require.NotNil(t, company.Financials.Metric.AvgVolume10Day)
	assert.Equal(t, 55.2, *company.Financials.Metric.AvgVolume10Day)
	assert.Equal(t, 1.2, company.Financials.Metric.Beta)
	assert.Len(t, company.InsiderTransactions, 2)
}

func TestFetchCandidateDetailsBelowMarketCap(t *testing.T) {
	c := newTestFinnhub(t, candidateMux("500"))

	_, err := c.FetchCandidateDetails(context.Background(), models.Instrument{Ticker: "AAPL_US_EQ"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFetchCandidateDetailsInsiderOptional(t *testing.T) {
	mux := candidateMux("2900000")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/stock/insider-transactions" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	c := NewFinnhubClient("token", srv.URL, 1000, time.Second, zap.NewNop())

	company, err := c.FetchCandidateDetails(context.Background(), models.Instrument{Ticker: "AAPL_US_EQ"})
	require.NoError(t, err)
	assert.Nil(t, company.InsiderTransactions)
}

func TestFetchCandidateDetailsQuoteFailure(t *testing.T) {
	mux := candidateMux("2900000")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/quote" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	c := NewFinnhubClient("token", srv.URL, 1000, time.Second, zap.NewNop())

	_, err := c.FetchCandidateDetails(context.Background(), models.Instrument{Ticker: "AAPL_US_EQ"})
	require.ErrorIs(t, err, ErrRateLimited)
}
