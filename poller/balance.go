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
	"kisflow/logger"
)

// Balance inquiry tr_ids differ between the real and the virtual
// trading domains.
const (
	balanceTrIDReal    = "TTTC8434R"
	balanceTrIDVirtual = "VTTC8434R"
)

// BalancePoller periodically reads the brokerage account balance and
// logs a cash/valuation summary with one row per holding. It persists
// nothing; the account snapshot is an operator's eyeball check against
// the virtual ledger.
type BalancePoller struct {
	cfg     config.BalancePollerConfig
	broker  config.BrokerConfig
	tokens  TokenSource
	client  *http.Client
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	now     func() time.Time
	log     *logger.Log
}

func NewBalancePoller(cfg config.BalancePollerConfig, broker config.BrokerConfig, tokens TokenSource) *BalancePoller {
	return &BalancePoller{
		cfg:    cfg,
		broker: broker,
		tokens: tokens,
		client: &http.Client{Timeout: time.Duration(broker.RequestTimeoutSec) * time.Second},
		wg:     &sync.WaitGroup{},
		now:    time.Now,
		log:    logger.GetLogger(),
	}
}

func (p *BalancePoller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("balance poller already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	p.log.WithComponent("poller").WithFields(logger.Fields{
		"poller":       "balance",
		"interval_sec": p.cfg.IntervalSec,
	}).Info("starting balance poller")

	p.wg.Add(1)
	go p.loop()
	return nil
}

func (p *BalancePoller) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	p.wg.Wait()
	p.log.WithComponent("poller").WithFields(logger.Fields{"poller": "balance"}).Info("balance poller stopped")
}

func (p *BalancePoller) loop() {
	defer p.wg.Done()
	log := p.log.WithComponent("poller").WithFields(logger.Fields{"poller": "balance"})

	ticker := time.NewTicker(time.Duration(p.cfg.IntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		if marketOpen(p.now()) {
			if err := p.pollOnce(log); err != nil && p.ctx.Err() == nil {
				log.WithError(err).Warn("balance inquiry failed")
			}
		}
		select {
		case <-ticker.C:
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *BalancePoller) trID() string {
	if p.broker.Mode == "real" {
		return balanceTrIDReal
	}
	return balanceTrIDVirtual
}

func (p *BalancePoller) pollOnce(log *logger.Entry) error {
	token, err := p.tokens.Token(p.ctx)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/uapi/domestic-stock/v1/trading/inquire-balance"+
		"?CANO=%s&ACNT_PRDT_CD=%s&AFHR_FLPR_YN=N&OFL_YN=&INQR_DVSN=02&UNPR_DVSN=01"+
		"&FUND_STTL_ICLD_YN=N&FNCG_AMT_AUTO_RDPT_YN=N&PRCS_DVSN=00&CTX_AREA_FK100=&CTX_AREA_NK100=",
		p.broker.BaseURL(), p.broker.AccountNo, p.broker.AccountProductCode)
	req, err := http.NewRequestWithContext(p.ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", p.broker.AppKey)
	req.Header.Set("appsecret", p.broker.AppSecret)
	req.Header.Set("tr_id", p.trID())
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
		return fmt.Errorf("balance endpoint returned status %d", resp.StatusCode)
	}
	if rt := gjson.GetBytes(body, "rt_cd").String(); rt != "0" {
		return fmt.Errorf("balance query rejected: rt_cd=%s msg=%s", rt, gjson.GetBytes(body, "msg1").String())
	}

	summary := gjson.GetBytes(body, "output2.0")
	log.WithFields(logger.Fields{
		"cash":      summary.Get("dnca_tot_amt").String(),
		"valuation": summary.Get("tot_evlu_amt").String(),
		"pnl":       summary.Get("evlu_pfls_smtl_amt").String(),
	}).Info("account balance")

	gjson.GetBytes(body, "output1").ForEach(func(_, holding gjson.Result) bool {
		log.WithFields(logger.Fields{
			"code":      holding.Get("pdno").String(),
			"name":      holding.Get("prdt_name").String(),
			"quantity":  holding.Get("hldg_qty").String(),
			"avg_price": holding.Get("pchs_avg_pric").String(),
			"valuation": holding.Get("evlu_amt").String(),
		}).Info("account holding")
		return true
	})
	return nil
}
