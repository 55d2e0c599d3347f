package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/commodity-dashboard/internal/market"
)

const intradayBody = `{
  "Meta Data": {"1. Information": "Intraday (5min)", "2. Symbol": "GLD", "6. Time Zone": "US/Eastern"},
  "Time Series (5min)": {
    "2024-03-01 15:55:00": {"1. open": "199.0", "4. close": "199.50", "5. volume": "1200"},
    "2024-03-01 16:00:00": {"1. open": "199.5", "4. close": "200.00", "5. volume": "3400"},
    "2024-03-01 15:50:00": {"1. open": "198.0", "4. close": "198.75", "5. volume": "800"}
  }
}`

const dailyBody = `{
  "Meta Data": {"2. Symbol": "USO", "5. Time Zone": "US/Eastern"},
  "Time Series (Daily)": {
    "2024-02-28": {"4. close": "35.10", "5. volume": "100"},
    "2024-02-29": {"4. close": "35.60", "5. volume": "200"},
    "2024-03-01": {"4. close": "36.00", "5. volume": "300"}
  }
}`

type fakeUpstream struct {
	mu      sync.Mutex
	status  int
	body    string
	queries []url.Values
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.queries = append(f.queries, r.URL.Query())
	status, body := f.status, f.body
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (f *fakeUpstream) lastQuery() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

func newTestAdapter(t *testing.T, up *fakeUpstream) *AlphaVantageAdapter {
	t.Helper()
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)

	av, err := NewAlphaVantageAdapter(AlphaVantageConfig{APIKey: "test-key", BaseURL: srv.URL, TimeoutSeconds: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = av.Close() })
	return av
}

var gold = market.Instrument{Key: "GC=F", Name: "Gold", BasePrice: 2040, Volatility: 0.005, ProxySymbol: "GLD", Scale: 10.2}

func TestNewAlphaVantageAdapterRequiresKey(t *testing.T) {
	_, err := NewAlphaVantageAdapter(AlphaVantageConfig{})
	assert.Error(t, err)
}

func TestFetchLatest(t *testing.T) {
	up := &fakeUpstream{body: intradayBody}
	av := newTestAdapter(t, up)

	q, err := av.FetchLatest(context.Background(), gold)
	require.NoError(t, err)

	assert.Equal(t, "GC=F", q.InstrumentKey)
	assert.Equal(t, 200.00, q.Price)
	assert.Equal(t, int64(3400), q.Volume)
	assert.Equal(t, market.SourceAlphaVantage, q.Source)
	assert.Equal(t, 16, q.ObservedAt.Hour())

	query := up.lastQuery()
	assert.Equal(t, "TIME_SERIES_INTRADAY", query.Get("function"))
	assert.Equal(t, "GLD", query.Get("symbol"))
	assert.Equal(t, "5min", query.Get("interval"))
	assert.Equal(t, "test-key", query.Get("apikey"))
}

func TestFetchHistoryOrdersAndTrims(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		spec       market.WindowSpec
		wantPrices []float64
		wantQuery  map[string]string
	}{
		{
			name: "intraday newest two",
			body: intradayBody,
			spec: market.WindowSpec{Function: market.FunctionIntraday, APIInterval: "5min", OutputSize: market.OutputCompact, MaxPoints: 2},
			wantPrices: []float64{199.50, 200.00},
			wantQuery:  map[string]string{"function": "TIME_SERIES_INTRADAY", "interval": "5min", "outputsize": "compact"},
		},
		{
			name: "daily full window",
			body: dailyBody,
			spec: market.Period{Key: "6M", Days: 180, Interval: "daily"}.Spec(),
			wantPrices: []float64{35.10, 35.60, 36.00},
			wantQuery:  map[string]string{"function": "TIME_SERIES_DAILY", "outputsize": "full"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUpstream{body: tt.body}
			av := newTestAdapter(t, up)

			points, err := av.FetchHistory(context.Background(), gold, tt.spec)
			require.NoError(t, err)

			prices := make([]float64, len(points))
			for i, p := range points {
				prices[i] = p.Price
			}
			assert.Equal(t, tt.wantPrices, prices)
			for i := 1; i < len(points); i++ {
				assert.True(t, points[i].Time.After(points[i-1].Time), "points must be chronological")
			}

			query := up.lastQuery()
			for k, v := range tt.wantQuery {
				assert.Equal(t, v, query.Get(k), k)
			}
			if tt.spec.Function != market.FunctionIntraday {
				assert.Empty(t, query.Get("interval"))
			}
		})
	}
}

func TestFailureKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   FailureKind
	}{
		{"error message on 200", 200, `{"Error Message": "Invalid API call."}`, FailureProvider},
		{"note on 200", 200, `{"Note": "Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute"}`, FailureRateLimited},
		{"information on 200", 200, `{"Information": "API rate limit reached"}`, FailureRateLimited},
		{"missing series label", 200, `{"Meta Data": {}}`, FailureMalformed},
		{"empty series", 200, `{"Time Series (5min)": {}}`, FailureMalformed},
		{"missing close", 200, `{"Time Series (5min)": {"2024-03-01 16:00:00": {"1. open": "1"}}}`, FailureMalformed},
		{"not json", 200, `<html>oops</html>`, FailureMalformed},
		{"server error", 503, `{}`, FailureTransport},
		{"not found", 404, `{"Error Message": "ignored"}`, FailureTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			av := newTestAdapter(t, &fakeUpstream{status: tt.status, body: tt.body})

			_, err := av.FetchLatest(context.Background(), gold)
			require.Error(t, err)

			var qe *QuoteError
			require.ErrorAs(t, err, &qe)
			assert.Equal(t, tt.want, qe.Kind)
			assert.Equal(t, "GLD", qe.Symbol)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestTransportFailureOnUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	av, err := NewAlphaVantageAdapter(AlphaVantageConfig{APIKey: "k", BaseURL: base, TimeoutSeconds: 1})
	require.NoError(t, err)

	_, err = av.FetchHistory(context.Background(), gold, market.Interval{Key: "1d", APIInterval: "daily"}.Spec())
	assert.Equal(t, FailureTransport, KindOf(err))
}

func TestDailyCapExhaustion(t *testing.T) {
	up := &fakeUpstream{body: intradayBody}
	srv := httptest.NewServer(up)
	defer srv.Close()

	av, err := NewAlphaVantageAdapter(AlphaVantageConfig{APIKey: "k", BaseURL: srv.URL, DailyCap: 1})
	require.NoError(t, err)

	_, err = av.FetchLatest(context.Background(), gold)
	require.NoError(t, err)

	_, err = av.FetchLatest(context.Background(), gold)
	assert.Equal(t, FailureRateLimited, KindOf(err))

	used, total, reset := av.GetBudgetStatus()
	assert.Equal(t, 1, used)
	assert.Equal(t, 1, total)
	assert.True(t, reset.After(time.Now()))
}

func TestSeriesLabel(t *testing.T) {
	assert.Equal(t, "Time Series (15min)", seriesLabel(market.WindowSpec{Function: market.FunctionIntraday, APIInterval: "15min"}))
	assert.Equal(t, "Time Series (Daily)", seriesLabel(market.WindowSpec{Function: market.FunctionDaily}))
	assert.Equal(t, "Weekly Time Series", seriesLabel(market.WindowSpec{Function: market.FunctionWeekly}))
	assert.Equal(t, "Monthly Time Series", seriesLabel(market.WindowSpec{Function: market.FunctionMonthly}))
}
