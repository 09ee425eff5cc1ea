package poller

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"kisflow/config"
	"kisflow/internal/channel"
	"kisflow/logger"
	"kisflow/models"
)

// GlobalIndexPoller samples a set of overseas index tickers on a fixed
// interval, one persistence record per symbol per round.
type GlobalIndexPoller struct {
	cfg      config.GlobalIndexPollerConfig
	channels *channel.Channels
	client   *http.Client
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewGlobalIndexPoller(cfg config.GlobalIndexPollerConfig, ch *channel.Channels) *GlobalIndexPoller {
	return &GlobalIndexPoller{
		cfg:      cfg,
		channels: ch,
		client:   &http.Client{Timeout: 10 * time.Second},
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

func (p *GlobalIndexPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("global index poller already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	p.log.WithComponent("poller").WithFields(logger.Fields{
		"poller":       "global_index",
		"interval_sec": p.cfg.IntervalSec,
		"symbols":      len(p.cfg.Symbols),
	}).Info("starting global index poller")

	p.wg.Add(1)
	go p.loop()
	return nil
}

func (p *GlobalIndexPoller) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	p.wg.Wait()
	p.log.WithComponent("poller").WithFields(logger.Fields{"poller": "global_index"}).Info("global index poller stopped")
}

func (p *GlobalIndexPoller) loop() {
	defer p.wg.Done()
	log := p.log.WithComponent("poller").WithFields(logger.Fields{"poller": "global_index"})

	ticker := time.NewTicker(time.Duration(p.cfg.IntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		p.pollOnce(log)
		select {
		case <-ticker.C:
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *GlobalIndexPoller) pollOnce(log *logger.Entry) {
	for code, ticker := range p.cfg.Symbols {
		if p.ctx.Err() != nil {
			return
		}
		value, err := fetchQuote(p.ctx, p.client, fmt.Sprintf(p.cfg.QuoteURL, ticker))
		if err != nil {
			if p.ctx.Err() == nil {
				log.WithError(err).WithFields(logger.Fields{"symbol": ticker}).Warn("index quote fetch failed")
			}
			continue
		}
		p.channels.SendPersist(p.ctx, &models.GlobalIndexRecord{
			Code:      code,
			Value:     value,
			Timestamp: time.Now(),
		})
	}
}
