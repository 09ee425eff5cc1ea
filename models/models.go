package models

import (
	"time"
)

// RecordKind identifies the persistence routing for a decoded record.
type RecordKind string

const (
	KindTrade      RecordKind = "TRADE"
	KindOrderBook  RecordKind = "ORDERBOOK"
	KindFutures    RecordKind = "FUTURES"
	KindNav        RecordKind = "NAV"
	KindExchange   RecordKind = "EXCHANGE"
	KindGlobal     RecordKind = "GLOBAL"
	KindPaperTrade RecordKind = "PAPER_TRADE"
)

// Record is implemented by every value that can be routed through the
// persistence queue.
type Record interface {
	Kind() RecordKind
}

// RawMessage represents a verbatim feed message as received from the
// realtime websocket. Received is the wall-clock capture time; the
// exchange timestamp inside the payload is time-of-day only.
type RawMessage struct {
	Payload  string
	Received time.Time
}

// TradeRecord is a decoded realtime trade print (tr_id H0STCNT0).
type TradeRecord struct {
	Code      string
	TradeTime string // exchange time-of-day, HHMMSS
	Price     int64
	Change    int64
	Rate      float64
	Ask1      int64
	Bid1      int64
	Volume    int64
	CumVolume int64
	CumValue  int64
	AskRem    int64
	BidRem    int64
	Timestamp time.Time
}

func (TradeRecord) Kind() RecordKind { return KindTrade }

// OrderBookRecord is a decoded ten-level order book snapshot
// (tr_id H0STASP0) together with the derived pressure analytics.
// Level arrays are ordered best to worst and always hold ten entries,
// zero-filled when the feed sends fewer.
type OrderBookRecord struct {
	Code      string
	BookTime  string // exchange time-of-day, HHMMSS
	AskPrice  [10]int64
	BidPrice  [10]int64
	AskVolume [10]int64
	BidVolume [10]int64

	TotalAskQty int64
	TotalBidQty int64

	// Derived analytics.
	WapAsk         int64
	WapBid         int64
	ImbalanceRatio float64
	ResistanceWall int64
	SupportWall    int64
	MaxAskVol      int64
	MaxBidVol      int64

	Timestamp time.Time
}

func (OrderBookRecord) Kind() RecordKind { return KindOrderBook }

// FuturesRecord is a decoded index-future trade print (tr_id H0FCCNT0).
type FuturesRecord struct {
	Code         string
	TradeTime    string
	Price        float64
	Volume       int64
	CumVolume    int64
	OpenInterest int64
	TheoryPrice  float64
	Basis        float64
	Timestamp    time.Time
}

func (FuturesRecord) Kind() RecordKind { return KindFutures }

// Tick is the minimal trade view forwarded to the strategy engine.
type Tick struct {
	Code      string
	Price     int64
	Timestamp time.Time
}

// Bar is a one-minute OHLC summary of ticks. Minute is the bar label
// in "2006-01-02 15:04" form; a bar is sealed exactly once, when the
// first tick of the following minute arrives.
type Bar struct {
	Minute string
	Open   int64
	High   int64
	Low    int64
	Close  int64
}

// Action is the side of an order intent.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// OrderIntent is emitted by the strategy engine and consumed exactly
// once by the execution simulator. Stage is the position-sizing tier
// (b1 first entry, b2 martingale add, s1 exit).
type OrderIntent struct {
	ID        string
	Code      string
	Action    Action
	Stage     string
	Price     int64
	Timestamp time.Time
}

// FillRecord captures one simulated execution against the virtual
// ledger.
type FillRecord struct {
	ID           string
	Code         string
	Action       Action
	Stage        string
	Price        int64
	Quantity     int64
	Notional     float64
	Fee          float64
	BalanceAfter float64
	Profit       float64 // realized P&L, 0 for buys
	Timestamp    time.Time
}

func (FillRecord) Kind() RecordKind { return KindPaperTrade }

// NavRecord carries an ETF indicative NAV sample and the market-price
// disparity in percent.
type NavRecord struct {
	Code      string
	Price     float64
	Nav       float64
	Disparity float64
	Timestamp time.Time
}

func (NavRecord) Kind() RecordKind { return KindNav }

// ExchangeRateRecord is a periodic USD/KRW sample.
type ExchangeRateRecord struct {
	Currency  string
	Rate      float64
	Timestamp time.Time
}

func (ExchangeRateRecord) Kind() RecordKind { return KindExchange }

// GlobalIndexRecord is a periodic overseas index-future sample.
type GlobalIndexRecord struct {
	Code      string
	Value     float64
	Timestamp time.Time
}

func (GlobalIndexRecord) Kind() RecordKind { return KindGlobal }
