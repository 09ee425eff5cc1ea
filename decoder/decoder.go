package decoder

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"kisflow/internal/channel"
	"kisflow/logger"
	"kisflow/models"
)

// Realtime topic identifiers on the broker feed.
const (
	trTrade     = "H0STCNT0"
	trOrderBook = "H0STASP0"
	trFutures   = "H0FCCNT0"
)

// Decoder consumes raw feed frames, parses them into typed records and
// routes them onward: trade prints go to both the signal queue and the
// persistence queue, order books and futures go to persistence only.
// Malformed frames are counted and dropped; one bad message never
// stops the stream.
type Decoder struct {
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewDecoder(ch *channel.Channels) *Decoder {
	return &Decoder{
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

func (d *Decoder) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("decoder already running")
	}
	d.running = true
	d.ctx = ctx
	d.mu.Unlock()

	d.log.WithComponent("decoder").Info("starting decoder")
	d.wg.Add(1)
	go d.consume()
	d.log.WithComponent("decoder").Info("decoder started successfully")
	return nil
}

func (d *Decoder) Stop() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	d.log.WithComponent("decoder").Info("stopping decoder")
	d.wg.Wait()
	d.log.WithComponent("decoder").Info("decoder stopped")
}

func (d *Decoder) consume() {
	defer d.wg.Done()
	log := d.log.WithComponent("decoder").WithFields(logger.Fields{"worker": "consume"})

	for {
		select {
		case raw := <-d.channels.Raw:
			if err := d.dispatch(raw); err != nil {
				logger.IncrementParseDrop()
				log.WithError(err).WithFields(logger.Fields{
					"payload_prefix": prefix(raw.Payload, 48),
				}).Debug("dropping unparseable frame")
			}
		case <-d.ctx.Done():
			return
		}
	}
}

// dispatch splits a frame into its header and body and routes by
// topic. Frames with fewer than four pipe segments carry no body and
// are dropped. Unknown topics are skipped silently.
func (d *Decoder) dispatch(raw models.RawMessage) error {
	// Subscription acks and PINGPONG arrive as JSON on the same socket.
	if strings.HasPrefix(raw.Payload, "{") {
		return nil
	}

	parts := strings.Split(raw.Payload, "|")
	if len(parts) < 4 {
		return fmt.Errorf("frame has %d segments, need 4", len(parts))
	}

	trID := parts[1]
	fields := strings.Split(parts[3], "^")

	switch trID {
	case trTrade:
		rec := parseTrade(parts[2], fields, raw.Received)
		tick := models.Tick{Code: rec.Code, Price: rec.Price, Timestamp: rec.Timestamp}
		if !d.channels.SendSignal(d.ctx, tick) {
			return nil
		}
		d.channels.SendPersist(d.ctx, rec)
	case trOrderBook:
		d.channels.SendPersist(d.ctx, parseOrderBook(parts[2], fields, raw.Received))
	case trFutures:
		d.channels.SendPersist(d.ctx, parseFutures(parts[2], fields, raw.Received))
	}
	return nil
}

// parseTrade decodes a stock execution print. The instrument code
// comes from the frame header. Positional fields are zipped against
// the table, truncating to whichever side is shorter: fields beyond
// the body stay zero, surplus fields are ignored.
func parseTrade(code string, f []string, received time.Time) *models.TradeRecord {
	return &models.TradeRecord{
		Code:      code,
		TradeTime: fieldAt(f, 0),
		Price:     toInt(fieldAt(f, 1)),
		Change:    toInt(fieldAt(f, 3)),
		Rate:      toFloat(fieldAt(f, 4)),
		Ask1:      toInt(fieldAt(f, 5)),
		Bid1:      toInt(fieldAt(f, 6)),
		Volume:    toInt(fieldAt(f, 7)),
		CumVolume: toInt(fieldAt(f, 9)),
		CumValue:  toInt(fieldAt(f, 10)),
		AskRem:    toInt(fieldAt(f, 11)),
		BidRem:    toInt(fieldAt(f, 12)),
		Timestamp: received,
	}
}

// parseOrderBook decodes a ten-level depth snapshot. On the wire ask
// prices run level 10 down to 1 and bids 1 up to 10; both sides are
// stored best-level first. The level arrays always hold ten entries,
// zero-filled for positions the body does not carry.
func parseOrderBook(code string, f []string, received time.Time) *models.OrderBookRecord {
	rec := &models.OrderBookRecord{
		Code:      code,
		BookTime:  fieldAt(f, 0),
		Timestamp: received,
	}
	for i := 0; i < 10; i++ {
		rec.AskPrice[i] = toInt(fieldAt(f, 11-i))  // fields 2..11 hold asks 10->1
		rec.BidPrice[i] = toInt(fieldAt(f, 12+i))  // fields 12..21 hold bids 1->10
		rec.AskVolume[i] = toInt(fieldAt(f, 31-i)) // fields 22..31 hold ask vols 10->1
		rec.BidVolume[i] = toInt(fieldAt(f, 32+i)) // fields 32..41 hold bid vols 1->10
	}
	rec.TotalAskQty = toInt(fieldAt(f, 42))
	rec.TotalBidQty = toInt(fieldAt(f, 43))

	computeDepthStats(rec)
	return rec
}

// computeDepthStats derives the volume-weighted prices, the wall
// levels and the bid/ask imbalance from a decoded snapshot.
func computeDepthStats(rec *models.OrderBookRecord) {
	var askQty, bidQty, askNotional, bidNotional int64
	for i := 0; i < 10; i++ {
		askQty += rec.AskVolume[i]
		bidQty += rec.BidVolume[i]
		askNotional += rec.AskPrice[i] * rec.AskVolume[i]
		bidNotional += rec.BidPrice[i] * rec.BidVolume[i]

		if rec.AskVolume[i] > rec.MaxAskVol {
			rec.MaxAskVol = rec.AskVolume[i]
			rec.ResistanceWall = rec.AskPrice[i]
		}
		if rec.BidVolume[i] > rec.MaxBidVol {
			rec.MaxBidVol = rec.BidVolume[i]
			rec.SupportWall = rec.BidPrice[i]
		}
	}
	if askQty > 0 {
		rec.WapAsk = int64(math.Round(float64(askNotional) / float64(askQty)))
	}
	if bidQty > 0 {
		rec.WapBid = int64(math.Round(float64(bidNotional) / float64(bidQty)))
	}

	// The ratio comes from the summed level quantities, not the wire
	// totals, which can disagree with the levels mid-update.
	denom := askQty
	if denom < 1 {
		denom = 1
	}
	ratio := float64(bidQty) / float64(denom)
	rec.ImbalanceRatio = math.Round(ratio*100) / 100
}

// parseFutures decodes an index futures print. The contract code comes
// from the frame header, not the body.
func parseFutures(code string, f []string, received time.Time) *models.FuturesRecord {
	return &models.FuturesRecord{
		Code:         code,
		TradeTime:    fieldAt(f, 0),
		Price:        toFloat(fieldAt(f, 1)),
		Volume:       toInt(fieldAt(f, 5)),
		CumVolume:    toInt(fieldAt(f, 6)),
		OpenInterest: toInt(fieldAt(f, 9)),
		TheoryPrice:  toFloat(fieldAt(f, 11)),
		Basis:        toFloat(fieldAt(f, 16)),
		Timestamp:    received,
	}
}

// fieldAt returns the body field at position i, or the empty string
// when the body is shorter than the field table.
func fieldAt(f []string, i int) string {
	if i >= len(f) {
		return ""
	}
	return f[i]
}

// toInt coerces a wire field, treating anything unparseable as zero.
// The feed pads some fields with blanks outside trading hours.
func toInt(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func toFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
