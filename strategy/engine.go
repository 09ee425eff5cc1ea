package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"kisflow/config"
	"kisflow/internal/channel"
	"kisflow/logger"
	"kisflow/models"
)

const minuteLayout = "2006-01-02 15:04"

// Stage labels carried on order intents. The execution side sizes buys
// by looking the stage up in the allocation map.
const (
	StageFirstEntry = "b1"
	StageExit       = "s1"
)

type positionState int

const (
	stateEmpty positionState = iota
	stateHolding
)

// barAccum collects the ticks of the minute currently in progress.
type barAccum struct {
	minute string
	open   int64
	high   int64
	low    int64
	close  int64
}

// Engine turns the tick stream into minute bars, evaluates the band
// and oscillator on each bar close and runs the EMPTY/HOLDING position
// machine. Intents go to the order queue; fills are somebody else's
// problem.
type Engine struct {
	cfg      config.StrategyConfig
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	bars    []models.Bar
	current *barAccum

	state      positionState
	entryPrice int64
}

func NewEngine(cfg config.StrategyConfig, ch *channel.Channels) *Engine {
	return &Engine{
		cfg:      cfg,
		channels: ch,
		ctx:      context.Background(),
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		state:    stateEmpty,
	}
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("signal engine already running")
	}
	e.running = true
	e.ctx = ctx
	e.mu.Unlock()

	log := e.log.WithComponent("strategy").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"instrument":  e.cfg.Instrument,
		"bar_window":  e.cfg.BarWindow,
		"band_window": e.cfg.BandWindow,
	}).Info("starting signal engine")

	e.wg.Add(1)
	go e.consume()

	log.Info("signal engine started successfully")
	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	e.log.WithComponent("strategy").Info("stopping signal engine")
	e.wg.Wait()
	e.log.WithComponent("strategy").Info("signal engine stopped")
}

func (e *Engine) consume() {
	defer e.wg.Done()
	for {
		select {
		case tick := <-e.channels.Signal:
			e.HandleTick(tick)
		case <-e.ctx.Done():
			return
		}
	}
}

// HandleTick processes one trade print. The take-profit exit is
// checked on every tick, before any bar bookkeeping, so a spike inside
// a minute exits immediately rather than waiting for the bar to close.
func (e *Engine) HandleTick(tick models.Tick) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if tick.Code != e.cfg.Instrument {
		return
	}

	if e.state == stateHolding {
		target := float64(e.entryPrice) * (1 + e.cfg.TakeProfit)
		if float64(tick.Price) >= target {
			e.emitIntent(models.ActionSell, StageExit, tick.Price, tick.Timestamp)
			e.state = stateEmpty
			e.entryPrice = 0
		}
	}

	e.aggregate(tick)
}

// aggregate folds the tick into the in-progress minute bar, sealing
// the previous bar when the minute label changes. Bars are never
// fabricated for empty minutes.
func (e *Engine) aggregate(tick models.Tick) {
	minute := tick.Timestamp.Format(minuteLayout)

	if e.current == nil {
		e.current = &barAccum{minute: minute, open: tick.Price, high: tick.Price, low: tick.Price, close: tick.Price}
		return
	}

	if minute != e.current.minute {
		sealed := models.Bar{
			Minute: e.current.minute,
			Open:   e.current.open,
			High:   e.current.high,
			Low:    e.current.low,
			Close:  e.current.close,
		}
		e.bars = append(e.bars, sealed)
		if len(e.bars) > e.cfg.BarWindow {
			e.bars = e.bars[len(e.bars)-e.cfg.BarWindow:]
		}
		e.onBarClose(sealed, tick.Timestamp)

		e.current = &barAccum{minute: minute, open: tick.Price, high: tick.Price, low: tick.Price, close: tick.Price}
		return
	}

	if tick.Price > e.current.high {
		e.current.high = tick.Price
	}
	if tick.Price < e.current.low {
		e.current.low = tick.Price
	}
	e.current.close = tick.Price
}

// onBarClose evaluates the entry condition against the freshly sealed
// bar. Nothing is evaluated until a full band window of bars exists.
func (e *Engine) onBarClose(bar models.Bar, at time.Time) {
	if len(e.bars) < e.cfg.BandWindow {
		return
	}
	if e.state != stateEmpty {
		return
	}

	closes := make([]int64, 0, e.cfg.BandWindow)
	for _, b := range e.bars[len(e.bars)-e.cfg.BandWindow:] {
		closes = append(closes, b.Close)
	}

	lower := lowerBand(closes, e.cfg.BandMultiplier)
	osc := oscillator(closes, e.cfg.OscillatorPeriod)

	e.log.WithComponent("strategy").WithFields(logger.Fields{
		"minute":     bar.Minute,
		"close":      bar.Close,
		"lower_band": lower,
		"oscillator": osc,
	}).Debug("bar closed")

	if float64(bar.Close) < lower && osc < e.cfg.OversoldThreshold {
		e.emitIntent(models.ActionBuy, StageFirstEntry, bar.Close, at)
		e.state = stateHolding
		e.entryPrice = bar.Close
	}
}

func (e *Engine) emitIntent(action models.Action, stage string, price int64, at time.Time) {
	intent := models.OrderIntent{
		ID:        uuid.NewString(),
		Code:      e.cfg.Instrument,
		Action:    action,
		Stage:     stage,
		Price:     price,
		Timestamp: at,
	}
	if !e.channels.SendOrder(e.ctx, intent) {
		return
	}
	e.log.WithComponent("strategy").WithFields(logger.Fields{
		"intent_id": intent.ID,
		"action":    action,
		"stage":     stage,
		"price":     price,
	}).Info("order intent emitted")
}

// Bars returns a copy of the sealed bar series, oldest first.
func (e *Engine) Bars() []models.Bar {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Bar, len(e.bars))
	copy(out, e.bars)
	return out
}

// Holding reports whether a position is open and at what entry price.
func (e *Engine) Holding() (bool, int64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == stateHolding, e.entryPrice
}
