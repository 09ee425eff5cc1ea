package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kisflow/config"
	"kisflow/internal/channel"
	"kisflow/logger"
	"kisflow/models"
)

// Inserter is the slice of the database client the sink needs.
type Inserter interface {
	Create(value interface{}) error
}

// Sink drains the persistence queue into the database. A failed insert
// is logged and skipped after a short pause; the drain loop itself
// never stops on data errors.
type Sink struct {
	cfg      config.StorageConfig
	db       Inserter
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewSink(cfg config.StorageConfig, db Inserter, ch *channel.Channels) *Sink {
	return &Sink{
		cfg:      cfg,
		db:       db,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("storage sink already running")
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	s.log.WithComponent("storage").Info("starting storage sink")
	s.wg.Add(1)
	go s.drain()
	s.log.WithComponent("storage").Info("storage sink started successfully")
	return nil
}

func (s *Sink) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.log.WithComponent("storage").Info("stopping storage sink")
	s.wg.Wait()
	s.log.WithComponent("storage").Info("storage sink stopped")
}

func (s *Sink) drain() {
	defer s.wg.Done()
	log := s.log.WithComponent("storage").WithFields(logger.Fields{"worker": "drain"})

	pause := time.Duration(s.cfg.InsertRetryPauseMs) * time.Millisecond

	for {
		select {
		case rec := <-s.channels.Persist:
			if err := s.Insert(rec); err != nil {
				log.WithError(err).WithFields(logger.Fields{
					"kind": rec.Kind(),
				}).Error("insert failed, skipping record")
				select {
				case <-time.After(pause):
				case <-s.ctx.Done():
					return
				}
				continue
			}
			logger.IncrementDBWrite()
		case <-s.ctx.Done():
			return
		}
	}
}

// Insert maps one record to its table row and writes it. Records of a
// kind without a table are ignored.
func (s *Sink) Insert(rec models.Record) error {
	switch r := rec.(type) {
	case *models.TradeRecord:
		return s.db.Create(newTradeRow(r))
	case *models.OrderBookRecord:
		return s.db.Create(newOrderBookRow(r))
	case *models.FuturesRecord:
		return s.db.Create(newFuturesRow(r))
	case *models.NavRecord:
		return s.db.Create(newNavRow(r))
	case *models.FillRecord:
		return s.db.Create(newPaperTradeRow(r))
	case *models.ExchangeRateRecord:
		return s.db.Create(newExchangeRateRow(r))
	case *models.GlobalIndexRecord:
		return s.db.Create(newGlobalIndexRow(r))
	default:
		return nil
	}
}
