package poller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"kisflow/config"
	"kisflow/internal/channel"
	"kisflow/logger"
	"kisflow/models"
)

const quotePricePath = "chart.result.0.meta.regularMarketPrice"

// fetchQuote pulls one last-price quote from a chart-style endpoint.
func fetchQuote(ctx context.Context, client *http.Client, url string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("quote endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}

	price := gjson.GetBytes(body, quotePricePath)
	if !price.Exists() {
		return 0, fmt.Errorf("quote response missing %s", quotePricePath)
	}
	return price.Float(), nil
}

// ExchangeRatePoller samples the USD/KRW rate on a fixed interval and
// feeds it to the persistence queue.
type ExchangeRatePoller struct {
	cfg      config.ExchangeRatePollerConfig
	channels *channel.Channels
	client   *http.Client
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewExchangeRatePoller(cfg config.ExchangeRatePollerConfig, ch *channel.Channels) *ExchangeRatePoller {
	return &ExchangeRatePoller{
		cfg:      cfg,
		channels: ch,
		client:   &http.Client{Timeout: 10 * time.Second},
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

func (p *ExchangeRatePoller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("exchange rate poller already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	p.log.WithComponent("poller").WithFields(logger.Fields{
		"poller":       "exchange_rate",
		"interval_sec": p.cfg.IntervalSec,
	}).Info("starting exchange rate poller")

	p.wg.Add(1)
	go p.loop()
	return nil
}

func (p *ExchangeRatePoller) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	p.wg.Wait()
	p.log.WithComponent("poller").WithFields(logger.Fields{"poller": "exchange_rate"}).Info("exchange rate poller stopped")
}

func (p *ExchangeRatePoller) loop() {
	defer p.wg.Done()
	log := p.log.WithComponent("poller").WithFields(logger.Fields{"poller": "exchange_rate"})

	interval := time.Duration(p.cfg.IntervalSec) * time.Second
	ticker := time.NewTicker(interval)
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

func (p *ExchangeRatePoller) pollOnce(log *logger.Entry) {
	rate, err := fetchQuote(p.ctx, p.client, p.cfg.QuoteURL)
	if err != nil {
		if p.ctx.Err() == nil {
			log.WithError(err).Warn("exchange rate fetch failed")
		}
		return
	}
	p.channels.SendPersist(p.ctx, &models.ExchangeRateRecord{
		Currency:  "USD/KRW",
		Rate:      rate,
		Timestamp: time.Now(),
	})
}
