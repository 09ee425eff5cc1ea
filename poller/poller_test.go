package poller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kisflow/config"
	"kisflow/internal/channel"
	"kisflow/models"
)

type staticTokens struct{ token string }

func (s staticTokens) Token(ctx context.Context) (string, error) {
	return s.token, nil
}

func testChannels() *channel.Channels {
	return channel.NewChannels(config.ChannelsConfig{
		RawBuffer:     16,
		SignalBuffer:  16,
		OrderBuffer:   16,
		PersistBuffer: 16,
	})
}

func TestMarketOpen(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"monday mid-session", time.Date(2026, 3, 2, 11, 0, 0, 0, seoul), true},
		{"session open", time.Date(2026, 3, 2, 9, 0, 0, 0, seoul), true},
		{"session close", time.Date(2026, 3, 2, 15, 45, 0, 0, seoul), true},
		{"after close", time.Date(2026, 3, 2, 15, 46, 0, 0, seoul), false},
		{"before open", time.Date(2026, 3, 2, 8, 59, 0, 0, seoul), false},
		{"saturday", time.Date(2026, 3, 7, 11, 0, 0, 0, seoul), false},
		{"sunday", time.Date(2026, 3, 8, 11, 0, 0, 0, seoul), false},
	}
	for _, tc := range cases {
		if got := marketOpen(tc.at); got != tc.want {
			t.Errorf("%s: marketOpen = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFetchQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":1331.45}}]}}`))
	}))
	defer srv.Close()

	price, err := fetchQuote(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if price != 1331.45 {
		t.Errorf("price = %v, want 1331.45", price)
	}
}

func TestFetchQuoteMissingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"error":"not found"}}`))
	}))
	defer srv.Close()

	if _, err := fetchQuote(context.Background(), srv.Client(), srv.URL); err == nil {
		t.Error("expected error for a response without a price")
	}
}

func TestExchangeRatePollerEmitsRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":1330.2}}]}}`))
	}))
	defer srv.Close()

	ch := testChannels()
	p := NewExchangeRatePoller(config.ExchangeRatePollerConfig{
		Enabled:     true,
		IntervalSec: 60,
		QuoteURL:    srv.URL,
	}, ch)

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case rec := <-ch.Persist:
		rate, ok := rec.(*models.ExchangeRateRecord)
		if !ok {
			t.Fatalf("record is %T, want *ExchangeRateRecord", rec)
		}
		if rate.Currency != "USD/KRW" || rate.Rate != 1330.2 {
			t.Errorf("record = %s %v, want USD/KRW 1330.2", rate.Currency, rate.Rate)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exchange rate record")
	}

	cancel()
	p.Stop()
}

func TestGlobalIndexPollerEmitsPerSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":5100.5}}]}}`))
	}))
	defer srv.Close()

	ch := testChannels()
	p := NewGlobalIndexPoller(config.GlobalIndexPollerConfig{
		Enabled:     true,
		IntervalSec: 60,
		QuoteURL:    srv.URL + "/%s",
		Symbols:     map[string]string{"SP500F": "ES=F", "NASDAQ100F": "NQ=F"},
	}, ch)

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	got := map[string]float64{}
	for i := 0; i < 2; i++ {
		select {
		case rec := <-ch.Persist:
			idx, ok := rec.(*models.GlobalIndexRecord)
			if !ok {
				t.Fatalf("record is %T, want *GlobalIndexRecord", rec)
			}
			got[idx.Code] = idx.Value
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for index records")
		}
	}

	cancel()
	p.Stop()

	if got["SP500F"] != 5100.5 || got["NASDAQ100F"] != 5100.5 {
		t.Errorf("records = %v, want both symbols at 5100.5", got)
	}
}

func TestNavPollerEmitsDuringMarketHours(t *testing.T) {
	var gotTrID, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTrID = r.Header.Get("tr_id")
		gotAuth = r.Header.Get("authorization")
		w.Write([]byte(`{"rt_cd":"0","output":{"nav":"35010.5500","stck_prpr":"35050"}}`))
	}))
	defer srv.Close()

	ch := testChannels()
	p := NewNavPoller(
		config.NavPollerConfig{Enabled: true, Instrument: "069500", RequestsPerSec: 100, IdleSec: 60},
		config.BrokerConfig{Mode: "virtual", VirtualBaseURL: srv.URL, AppKey: "k", AppSecret: "s", RequestTimeoutSec: 5},
		staticTokens{token: "tok-1"},
		ch,
	)
	p.now = func() time.Time { return time.Date(2026, 3, 2, 11, 0, 0, 0, seoul) }

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case rec := <-ch.Persist:
		nav, ok := rec.(*models.NavRecord)
		if !ok {
			t.Fatalf("record is %T, want *NavRecord", rec)
		}
		if nav.Code != "069500" || nav.Nav != 35010.55 || nav.Price != 35050 {
			t.Errorf("record = %+v, want 069500 nav 35010.55 price 35050", nav)
		}
		if nav.Disparity != disparity(35050, 35010.55) {
			t.Errorf("disparity = %v, want %v", nav.Disparity, disparity(35050, 35010.55))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for nav record")
	}

	cancel()
	p.Stop()

	if gotTrID != navTrID {
		t.Errorf("tr_id = %s, want %s", gotTrID, navTrID)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("authorization = %s, want Bearer tok-1", gotAuth)
	}
}

func TestNavPollerIdlesOutsideMarketHours(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"rt_cd":"0","output":{"nav":"1","stck_prpr":"1"}}`))
	}))
	defer srv.Close()

	ch := testChannels()
	p := NewNavPoller(
		config.NavPollerConfig{Enabled: true, Instrument: "069500", RequestsPerSec: 100, IdleSec: 1},
		config.BrokerConfig{Mode: "virtual", VirtualBaseURL: srv.URL, RequestTimeoutSec: 5},
		staticTokens{token: "t"},
		ch,
	)
	p.now = func() time.Time { return time.Date(2026, 3, 1, 11, 0, 0, 0, seoul) } // sunday

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	cancel()
	p.Stop()

	if hits != 0 {
		t.Errorf("endpoint hit %d times on a closed market, want 0", hits)
	}
}

func TestDisparityRounding(t *testing.T) {
	if got := disparity(35050, 35010.55); got != 0.1127 {
		t.Errorf("disparity = %v, want 0.1127", got)
	}
	if got := disparity(100, 0); got != 0 {
		t.Errorf("disparity with zero nav = %v, want 0", got)
	}
}

func TestBalancePollerLogsSummary(t *testing.T) {
	var gotTrID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTrID = r.Header.Get("tr_id")
		if r.URL.Query().Get("CANO") != "12345678" {
			t.Errorf("CANO = %s, want 12345678", r.URL.Query().Get("CANO"))
		}
		w.Write([]byte(`{"rt_cd":"0","output1":[{"pdno":"069500","prdt_name":"KODEX 200","hldg_qty":"3","pchs_avg_pric":"35000","evlu_amt":"105600"}],"output2":[{"dnca_tot_amt":"1834995","tot_evlu_amt":"1940595","evlu_pfls_smtl_amt":"600"}]}`))
	}))
	defer srv.Close()

	p := NewBalancePoller(
		config.BalancePollerConfig{Enabled: true, IntervalSec: 60},
		config.BrokerConfig{
			Mode: "virtual", VirtualBaseURL: srv.URL,
			AccountNo: "12345678", AccountProductCode: "01", RequestTimeoutSec: 5,
		},
		staticTokens{token: "t"},
	)
	p.ctx = context.Background()
	p.now = func() time.Time { return time.Date(2026, 3, 2, 11, 0, 0, 0, seoul) }

	if err := p.pollOnce(p.log.WithComponent("poller")); err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if gotTrID != balanceTrIDVirtual {
		t.Errorf("tr_id = %s, want %s", gotTrID, balanceTrIDVirtual)
	}
}

func TestBalancePollerRejectedQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rt_cd":"1","msg1":"expired token"}`))
	}))
	defer srv.Close()

	p := NewBalancePoller(
		config.BalancePollerConfig{Enabled: true, IntervalSec: 60},
		config.BrokerConfig{Mode: "virtual", VirtualBaseURL: srv.URL, RequestTimeoutSec: 5},
		staticTokens{token: "t"},
	)
	p.ctx = context.Background()

	if err := p.pollOnce(p.log.WithComponent("poller")); err == nil {
		t.Error("expected error for rejected balance query")
	}
}
