package poller

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"kisflow/config"
	"kisflow/internal/channel"
	"kisflow/logger"
	"kisflow/models"
)

const navTrID = "FHPST02400000"

// TokenSource supplies the REST bearer token. Satisfied by
// auth.Manager.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// NavPoller samples the ETF's indicative NAV through the broker's
// quote endpoint during market hours. The cadence is governed by a
// rate limiter rather than a ticker so bursts after a stall stay
// within the broker's per-second quota.
type NavPoller struct {
	cfg      config.NavPollerConfig
	broker   config.BrokerConfig
	tokens   TokenSource
	channels *channel.Channels
	client   *http.Client
	limiter  *rate.Limiter
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	now      func() time.Time
	log      *logger.Log
}

func NewNavPoller(cfg config.NavPollerConfig, broker config.BrokerConfig, tokens TokenSource, ch *channel.Channels) *NavPoller {
	return &NavPoller{
		cfg:      cfg,
		broker:   broker,
		tokens:   tokens,
		channels: ch,
		client:   &http.Client{Timeout: time.Duration(broker.RequestTimeoutSec) * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		wg:       &sync.WaitGroup{},
		now:      time.Now,
		log:      logger.GetLogger(),
	}
}

func (p *NavPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("nav poller already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	p.log.WithComponent("poller").WithFields(logger.Fields{
		"poller":           "nav",
		"instrument":       p.cfg.Instrument,
		"requests_per_sec": p.cfg.RequestsPerSec,
	}).Info("starting nav poller")

	p.wg.Add(1)
	go p.loop()
	return nil
}

func (p *NavPoller) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	p.wg.Wait()
	p.log.WithComponent("poller").WithFields(logger.Fields{"poller": "nav"}).Info("nav poller stopped")
}

func (p *NavPoller) loop() {
	defer p.wg.Done()
	log := p.log.WithComponent("poller").WithFields(logger.Fields{"poller": "nav"})

	idle := time.Duration(p.cfg.IdleSec) * time.Second

	for {
		if p.ctx.Err() != nil {
			return
		}

		if !marketOpen(p.now()) {
			select {
			case <-time.After(idle):
				continue
			case <-p.ctx.Done():
				return
			}
		}

		if err := p.limiter.Wait(p.ctx); err != nil {
			return
		}

		if err := p.pollOnce(); err != nil {
			if p.ctx.Err() == nil {
				log.WithError(err).Warn("nav fetch failed")
			}
		}
	}
}

func (p *NavPoller) pollOnce() error {
	token, err := p.tokens.Token(p.ctx)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/uapi/etfetn/v1/quotations/inquire-price?fid_cond_mrkt_div_code=J&fid_input_iscd=%s",
		p.broker.BaseURL(), p.cfg.Instrument)
	req, err := http.NewRequestWithContext(p.ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", p.broker.AppKey)
	req.Header.Set("appsecret", p.broker.AppSecret)
	req.Header.Set("tr_id", navTrID)
	req.Header.Set("custtype", "P")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nav endpoint returned status %d", resp.StatusCode)
	}
	if rt := gjson.GetBytes(body, "rt_cd").String(); rt != "0" {
		return fmt.Errorf("nav query rejected: rt_cd=%s msg=%s", rt, gjson.GetBytes(body, "msg1").String())
	}

	nav := gjson.GetBytes(body, "output.nav").Float()
	price := gjson.GetBytes(body, "output.stck_prpr").Float()
	if nav == 0 {
		return fmt.Errorf("nav missing in response")
	}

	p.channels.SendPersist(p.ctx, &models.NavRecord{
		Code:      p.cfg.Instrument,
		Price:     price,
		Nav:       nav,
		Disparity: disparity(price, nav),
		Timestamp: p.now(),
	})
	return nil
}

// disparity is the market-price premium over NAV in percent, rounded
// to four decimals.
func disparity(price, nav float64) float64 {
	if nav == 0 {
		return 0
	}
	return math.Round((price-nav)/nav*100*10000) / 10000
}
