package storage

import (
	"time"

	"kisflow/models"
)

// TradeRow mirrors the kodex200_trade table.
type TradeRow struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Code      string    `gorm:"column:code;size:12;index"`
	TradeTime string    `gorm:"column:trade_time;size:6"`
	Price     int64     `gorm:"column:price"`
	Change    int64     `gorm:"column:price_change"`
	Rate      float64   `gorm:"column:rate"`
	Ask1      int64     `gorm:"column:ask1"`
	Bid1      int64     `gorm:"column:bid1"`
	Volume    int64     `gorm:"column:volume"`
	CumVolume int64     `gorm:"column:cum_volume"`
	CumValue  int64     `gorm:"column:cum_value"`
	AskRem    int64     `gorm:"column:ask_rem"`
	BidRem    int64     `gorm:"column:bid_rem"`
	Timestamp time.Time `gorm:"column:ts;index"`
}

func (TradeRow) TableName() string { return "kodex200_trade" }

// OrderBookRow mirrors the kodex200_hoga table: ten price/volume
// levels per side plus the derived pressure analytics.
type OrderBookRow struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	Code     string `gorm:"column:code;size:12;index"`
	BookTime string `gorm:"column:book_time;size:6"`

	AskPrice1  int64 `gorm:"column:ask_price1"`
	AskPrice2  int64 `gorm:"column:ask_price2"`
	AskPrice3  int64 `gorm:"column:ask_price3"`
	AskPrice4  int64 `gorm:"column:ask_price4"`
	AskPrice5  int64 `gorm:"column:ask_price5"`
	AskPrice6  int64 `gorm:"column:ask_price6"`
	AskPrice7  int64 `gorm:"column:ask_price7"`
	AskPrice8  int64 `gorm:"column:ask_price8"`
	AskPrice9  int64 `gorm:"column:ask_price9"`
	AskPrice10 int64 `gorm:"column:ask_price10"`

	BidPrice1  int64 `gorm:"column:bid_price1"`
	BidPrice2  int64 `gorm:"column:bid_price2"`
	BidPrice3  int64 `gorm:"column:bid_price3"`
	BidPrice4  int64 `gorm:"column:bid_price4"`
	BidPrice5  int64 `gorm:"column:bid_price5"`
	BidPrice6  int64 `gorm:"column:bid_price6"`
	BidPrice7  int64 `gorm:"column:bid_price7"`
	BidPrice8  int64 `gorm:"column:bid_price8"`
	BidPrice9  int64 `gorm:"column:bid_price9"`
	BidPrice10 int64 `gorm:"column:bid_price10"`

	AskVolume1  int64 `gorm:"column:ask_volume1"`
	AskVolume2  int64 `gorm:"column:ask_volume2"`
	AskVolume3  int64 `gorm:"column:ask_volume3"`
	AskVolume4  int64 `gorm:"column:ask_volume4"`
	AskVolume5  int64 `gorm:"column:ask_volume5"`
	AskVolume6  int64 `gorm:"column:ask_volume6"`
	AskVolume7  int64 `gorm:"column:ask_volume7"`
	AskVolume8  int64 `gorm:"column:ask_volume8"`
	AskVolume9  int64 `gorm:"column:ask_volume9"`
	AskVolume10 int64 `gorm:"column:ask_volume10"`

	BidVolume1  int64 `gorm:"column:bid_volume1"`
	BidVolume2  int64 `gorm:"column:bid_volume2"`
	BidVolume3  int64 `gorm:"column:bid_volume3"`
	BidVolume4  int64 `gorm:"column:bid_volume4"`
	BidVolume5  int64 `gorm:"column:bid_volume5"`
	BidVolume6  int64 `gorm:"column:bid_volume6"`
	BidVolume7  int64 `gorm:"column:bid_volume7"`
	BidVolume8  int64 `gorm:"column:bid_volume8"`
	BidVolume9  int64 `gorm:"column:bid_volume9"`
	BidVolume10 int64 `gorm:"column:bid_volume10"`

	TotalAskQty int64 `gorm:"column:total_ask_qty"`
	TotalBidQty int64 `gorm:"column:total_bid_qty"`

	WapAsk         int64     `gorm:"column:wap_ask"`
	WapBid         int64     `gorm:"column:wap_bid"`
	ImbalanceRatio float64   `gorm:"column:imbalance_ratio"`
	ResistanceWall int64     `gorm:"column:resistance_wall"`
	SupportWall    int64     `gorm:"column:support_wall"`
	Timestamp      time.Time `gorm:"column:ts;index"`
}

func (OrderBookRow) TableName() string { return "kodex200_hoga" }

// FuturesRow mirrors the kospi200_futures table.
type FuturesRow struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	Code         string    `gorm:"column:code;size:12;index"`
	TradeTime    string    `gorm:"column:trade_time;size:6"`
	Price        float64   `gorm:"column:price"`
	Volume       int64     `gorm:"column:volume"`
	CumVolume    int64     `gorm:"column:cum_volume"`
	OpenInterest int64     `gorm:"column:open_interest"`
	TheoryPrice  float64   `gorm:"column:theory_price"`
	Basis        float64   `gorm:"column:basis"`
	Timestamp    time.Time `gorm:"column:ts;index"`
}

func (FuturesRow) TableName() string { return "kospi200_futures" }

// NavRow mirrors the kodex200_nav table.
type NavRow struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Code      string    `gorm:"column:code;size:12;index"`
	Price     float64   `gorm:"column:price"`
	Nav       float64   `gorm:"column:nav"`
	Disparity float64   `gorm:"column:disparity"`
	Timestamp time.Time `gorm:"column:ts;index"`
}

func (NavRow) TableName() string { return "kodex200_nav" }

// PaperTradeRow mirrors the paper_trade_history table.
type PaperTradeRow struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	FillID       string    `gorm:"column:fill_id;size:36;uniqueIndex"`
	Code         string    `gorm:"column:code;size:12;index"`
	Action       string    `gorm:"column:action;size:4"`
	Stage        string    `gorm:"column:stage;size:8"`
	Price        int64     `gorm:"column:price"`
	Quantity     int64     `gorm:"column:quantity"`
	Notional     float64   `gorm:"column:notional"`
	Fee          float64   `gorm:"column:fee"`
	BalanceAfter float64   `gorm:"column:balance_after"`
	Profit       float64   `gorm:"column:profit"`
	Timestamp    time.Time `gorm:"column:ts;index"`
}

func (PaperTradeRow) TableName() string { return "paper_trade_history" }

// ExchangeRateRow mirrors the exchange_rate table.
type ExchangeRateRow struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Currency  string    `gorm:"column:currency;size:8;index"`
	Rate      float64   `gorm:"column:rate"`
	Timestamp time.Time `gorm:"column:ts;index"`
}

func (ExchangeRateRow) TableName() string { return "exchange_rate" }

// GlobalIndexRow mirrors the global_index table.
type GlobalIndexRow struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Code      string    `gorm:"column:code;size:16;index"`
	Value     float64   `gorm:"column:value"`
	Timestamp time.Time `gorm:"column:ts;index"`
}

func (GlobalIndexRow) TableName() string { return "global_index" }

func newTradeRow(rec *models.TradeRecord) *TradeRow {
	return &TradeRow{
		Code:      rec.Code,
		TradeTime: rec.TradeTime,
		Price:     rec.Price,
		Change:    rec.Change,
		Rate:      rec.Rate,
		Ask1:      rec.Ask1,
		Bid1:      rec.Bid1,
		Volume:    rec.Volume,
		CumVolume: rec.CumVolume,
		CumValue:  rec.CumValue,
		AskRem:    rec.AskRem,
		BidRem:    rec.BidRem,
		Timestamp: rec.Timestamp,
	}
}

func newOrderBookRow(rec *models.OrderBookRecord) *OrderBookRow {
	row := &OrderBookRow{
		Code:           rec.Code,
		BookTime:       rec.BookTime,
		TotalAskQty:    rec.TotalAskQty,
		TotalBidQty:    rec.TotalBidQty,
		WapAsk:         rec.WapAsk,
		WapBid:         rec.WapBid,
		ImbalanceRatio: rec.ImbalanceRatio,
		ResistanceWall: rec.ResistanceWall,
		SupportWall:    rec.SupportWall,
		Timestamp:      rec.Timestamp,
	}

	ap := [...]*int64{&row.AskPrice1, &row.AskPrice2, &row.AskPrice3, &row.AskPrice4, &row.AskPrice5,
		&row.AskPrice6, &row.AskPrice7, &row.AskPrice8, &row.AskPrice9, &row.AskPrice10}
	bp := [...]*int64{&row.BidPrice1, &row.BidPrice2, &row.BidPrice3, &row.BidPrice4, &row.BidPrice5,
		&row.BidPrice6, &row.BidPrice7, &row.BidPrice8, &row.BidPrice9, &row.BidPrice10}
	av := [...]*int64{&row.AskVolume1, &row.AskVolume2, &row.AskVolume3, &row.AskVolume4, &row.AskVolume5,
		&row.AskVolume6, &row.AskVolume7, &row.AskVolume8, &row.AskVolume9, &row.AskVolume10}
	bv := [...]*int64{&row.BidVolume1, &row.BidVolume2, &row.BidVolume3, &row.BidVolume4, &row.BidVolume5,
		&row.BidVolume6, &row.BidVolume7, &row.BidVolume8, &row.BidVolume9, &row.BidVolume10}
	for i := 0; i < 10; i++ {
		*ap[i] = rec.AskPrice[i]
		*bp[i] = rec.BidPrice[i]
		*av[i] = rec.AskVolume[i]
		*bv[i] = rec.BidVolume[i]
	}
	return row
}

func newFuturesRow(rec *models.FuturesRecord) *FuturesRow {
	return &FuturesRow{
		Code:         rec.Code,
		TradeTime:    rec.TradeTime,
		Price:        rec.Price,
		Volume:       rec.Volume,
		CumVolume:    rec.CumVolume,
		OpenInterest: rec.OpenInterest,
		TheoryPrice:  rec.TheoryPrice,
		Basis:        rec.Basis,
		Timestamp:    rec.Timestamp,
	}
}

func newNavRow(rec *models.NavRecord) *NavRow {
	return &NavRow{
		Code:      rec.Code,
		Price:     rec.Price,
		Nav:       rec.Nav,
		Disparity: rec.Disparity,
		Timestamp: rec.Timestamp,
	}
}

func newPaperTradeRow(rec *models.FillRecord) *PaperTradeRow {
	return &PaperTradeRow{
		FillID:       rec.ID,
		Code:         rec.Code,
		Action:       string(rec.Action),
		Stage:        rec.Stage,
		Price:        rec.Price,
		Quantity:     rec.Quantity,
		Notional:     rec.Notional,
		Fee:          rec.Fee,
		BalanceAfter: rec.BalanceAfter,
		Profit:       rec.Profit,
		Timestamp:    rec.Timestamp,
	}
}

func newExchangeRateRow(rec *models.ExchangeRateRecord) *ExchangeRateRow {
	return &ExchangeRateRow{Currency: rec.Currency, Rate: rec.Rate, Timestamp: rec.Timestamp}
}

func newGlobalIndexRow(rec *models.GlobalIndexRecord) *GlobalIndexRow {
	return &GlobalIndexRow{Code: rec.Code, Value: rec.Value, Timestamp: rec.Timestamp}
}
