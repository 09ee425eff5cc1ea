package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kisflow/config"
	"kisflow/internal/channel"
	"kisflow/logger"
	"kisflow/models"
)

// position is one instrument's holding in the virtual ledger.
type position struct {
	quantity int64
	avgCost  decimal.Decimal
}

// Simulator consumes order intents and fills them instantly against a
// virtual cash ledger at the intent price. All money math runs in
// decimals; binary floats drift on repeated fee arithmetic.
type Simulator struct {
	cfg      config.PaperConfig
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	cash      decimal.Decimal
	feeRate   decimal.Decimal
	capital   decimal.Decimal
	positions map[string]*position
}

func NewSimulator(cfg config.PaperConfig, ch *channel.Channels) *Simulator {
	return &Simulator{
		cfg:       cfg,
		channels:  ch,
		ctx:       context.Background(),
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
		cash:      decimal.NewFromFloat(cfg.InitialCapital),
		feeRate:   decimal.NewFromFloat(cfg.FeeRate),
		capital:   decimal.NewFromFloat(cfg.InitialCapital),
		positions: make(map[string]*position),
	}
}

func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("execution simulator already running")
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	log := s.log.WithComponent("broker").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"initial_capital": s.cfg.InitialCapital,
		"fee_rate":        s.cfg.FeeRate,
	}).Info("starting execution simulator")

	s.wg.Add(1)
	go s.consume()

	log.Info("execution simulator started successfully")
	return nil
}

func (s *Simulator) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.log.WithComponent("broker").Info("stopping execution simulator")
	s.wg.Wait()
	s.log.WithComponent("broker").Info("execution simulator stopped")
}

func (s *Simulator) consume() {
	defer s.wg.Done()
	for {
		select {
		case intent := <-s.channels.Order:
			s.Execute(intent)
		case <-s.ctx.Done():
			return
		}
	}
}

// Execute fills one intent against the ledger. Rejections leave the
// ledger untouched and emit nothing.
func (s *Simulator) Execute(intent models.OrderIntent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch intent.Action {
	case models.ActionBuy:
		s.executeBuy(intent)
	case models.ActionSell:
		s.executeSell(intent)
	default:
		s.log.WithComponent("broker").WithFields(logger.Fields{
			"intent_id": intent.ID,
			"action":    intent.Action,
		}).Warn("skipping intent with unknown action")
	}
}

func (s *Simulator) executeBuy(intent models.OrderIntent) {
	log := s.log.WithComponent("broker").WithFields(logger.Fields{
		"intent_id": intent.ID,
		"code":      intent.Code,
		"stage":     intent.Stage,
		"price":     intent.Price,
	})

	fraction, ok := s.cfg.Allocations[intent.Stage]
	if !ok {
		log.Warn("rejecting buy with unknown allocation stage")
		return
	}

	price := decimal.NewFromInt(intent.Price)
	notionalTarget := s.capital.Mul(decimal.NewFromFloat(fraction))
	qty := notionalTarget.Div(price).IntPart()
	if qty < 1 {
		qty = 1
	}

	qtyDec := decimal.NewFromInt(qty)
	notional := price.Mul(qtyDec)
	fee := notional.Mul(s.feeRate)
	cost := notional.Add(fee)

	if s.cash.LessThan(cost) {
		log.WithFields(logger.Fields{
			"cost": cost.String(),
			"cash": s.cash.String(),
		}).Warn("rejecting buy, insufficient cash")
		return
	}

	s.cash = s.cash.Sub(cost)

	pos := s.positions[intent.Code]
	if pos == nil {
		pos = &position{}
		s.positions[intent.Code] = pos
	}
	// Weighted average cost across the prior holding and the new lot.
	prior := pos.avgCost.Mul(decimal.NewFromInt(pos.quantity))
	pos.quantity += qty
	pos.avgCost = prior.Add(notional).Div(decimal.NewFromInt(pos.quantity))

	s.record(intent, qty, notional, fee, decimal.Zero)
	log.WithFields(logger.Fields{
		"quantity": qty,
		"avg_cost": pos.avgCost.String(),
		"cash":     s.cash.String(),
	}).Info("buy filled")
}

func (s *Simulator) executeSell(intent models.OrderIntent) {
	log := s.log.WithComponent("broker").WithFields(logger.Fields{
		"intent_id": intent.ID,
		"code":      intent.Code,
		"stage":     intent.Stage,
		"price":     intent.Price,
	})

	pos := s.positions[intent.Code]
	if pos == nil || pos.quantity == 0 {
		log.Warn("rejecting sell, no open position")
		return
	}

	price := decimal.NewFromInt(intent.Price)
	qty := pos.quantity
	qtyDec := decimal.NewFromInt(qty)
	notional := price.Mul(qtyDec)
	fee := notional.Mul(s.feeRate)
	proceeds := notional.Sub(fee)
	profit := proceeds.Sub(pos.avgCost.Mul(qtyDec))

	s.cash = s.cash.Add(proceeds)
	pos.quantity = 0
	pos.avgCost = decimal.Zero

	s.record(intent, qty, notional, fee, profit)
	log.WithFields(logger.Fields{
		"quantity": qty,
		"profit":   profit.String(),
		"cash":     s.cash.String(),
	}).Info("sell filled")
}

// record emits the fill to the persistence queue.
func (s *Simulator) record(intent models.OrderIntent, qty int64, notional, fee, profit decimal.Decimal) {
	fill := &models.FillRecord{
		ID:           uuid.NewString(),
		Code:         intent.Code,
		Action:       intent.Action,
		Stage:        intent.Stage,
		Price:        intent.Price,
		Quantity:     qty,
		Notional:     notional.InexactFloat64(),
		Fee:          fee.InexactFloat64(),
		BalanceAfter: s.cash.InexactFloat64(),
		Profit:       profit.InexactFloat64(),
		Timestamp:    intent.Timestamp,
	}
	s.channels.SendPersist(s.ctx, fill)
}

// Cash returns the current ledger balance.
func (s *Simulator) Cash() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cash
}

// Position returns the held quantity and average cost for a code.
func (s *Simulator) Position(code string) (int64, decimal.Decimal) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos := s.positions[code]
	if pos == nil {
		return 0, decimal.Zero
	}
	return pos.quantity, pos.avgCost
}
