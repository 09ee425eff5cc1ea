package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kisflow/config"
	"kisflow/internal/channel"
	"kisflow/logger"
	"kisflow/models"
)

// KeySource supplies the websocket approval key. Satisfied by
// auth.Manager.
type KeySource interface {
	ApprovalKey(ctx context.Context) (string, error)
}

// Connector maintains the realtime websocket session with the broker,
// registers the configured topics and relays every inbound message
// verbatim into the raw queue. Parsing and filtering belong to the
// decoder; the relay is loss-free.
type Connector struct {
	cfg      config.FeedConfig
	keys     KeySource
	channels *channel.Channels
	ctx      context.Context
	cancel   context.CancelFunc
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewConnector(cfg config.FeedConfig, keys KeySource, ch *channel.Channels) *Connector {
	return &Connector{
		cfg:      cfg,
		keys:     keys,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Start establishes the websocket connection and begins relaying. If
// the connection drops it is re-established after a fixed backoff
// until the context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("feed connector already running")
	}
	c.running = true
	// Own cancel scope so the feed can be stopped ahead of the rest of
	// the pipeline during shutdown.
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	log := c.log.WithComponent("feed").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"url":           c.cfg.URL,
		"subscriptions": len(c.cfg.Subscriptions),
	}).Info("starting feed connector")

	c.wg.Add(1)
	go c.stream()

	log.Info("feed connector started successfully")
	return nil
}

// Stop tears down the websocket session and waits for the relay
// goroutine to finish.
func (c *Connector) Stop() {
	c.mu.Lock()
	c.running = false
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.log.WithComponent("feed").Info("stopping feed connector")
	c.wg.Wait()
	c.log.WithComponent("feed").Info("feed connector stopped")
}

// stream handles the connect / subscribe / relay lifecycle and
// reconnection.
func (c *Connector) stream() {
	defer c.wg.Done()
	log := c.log.WithComponent("feed").WithFields(logger.Fields{"worker": "stream"})

	backoff := time.Duration(c.cfg.BackoffSec) * time.Second

	for {
		if c.ctx.Err() != nil {
			return
		}

		conn, err := c.connect()
		if err != nil {
			log.WithError(err).Warn("failed to connect websocket, retrying")
			logger.IncrementRetryCount()
			select {
			case <-time.After(backoff):
				continue
			case <-c.ctx.Done():
				return
			}
		}

		log.Info("websocket connected, relaying messages")
		c.relay(conn)
		conn.Close()

		if c.ctx.Err() != nil {
			return
		}
		log.WithFields(logger.Fields{"backoff_sec": c.cfg.BackoffSec}).Warn("websocket lost, reconnecting")
		logger.IncrementRetryCount()
		select {
		case <-time.After(backoff):
		case <-c.ctx.Done():
			return
		}
	}
}

// connect dials the feed endpoint and sends one subscription request
// per configured topic using the current approval key.
func (c *Connector) connect() (*websocket.Conn, error) {
	key, err := c.keys.ApprovalKey(c.ctx)
	if err != nil {
		return nil, fmt.Errorf("approval key unavailable: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(c.ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	for _, sub := range c.cfg.Subscriptions {
		payload := subscriptionPayload(key, sub)
		if err := conn.WriteJSON(payload); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe %s/%s: %w", sub.TrID, sub.TrKey, err)
		}
		c.log.WithComponent("feed").WithFields(logger.Fields{
			"tr_id":  sub.TrID,
			"tr_key": sub.TrKey,
		}).Info("topic subscribed")
	}

	return conn, nil
}

// relay pushes every inbound message into the raw queue until the
// socket errors or the context is cancelled. The push blocks when the
// queue is full; letting the feed connection back up is the accepted
// degradation, not dropping data.
func (c *Connector) relay(conn *websocket.Conn) {
	log := c.log.WithComponent("feed").WithFields(logger.Fields{"worker": "relay"})

	// Unblock the blocking read when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-c.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				log.WithError(err).Warn("websocket read error")
			}
			return
		}

		raw := models.RawMessage{
			Payload:  string(msg),
			Received: time.Now(),
		}
		if !c.channels.SendRaw(c.ctx, raw) {
			return
		}
		logger.IncrementFeedRead(len(msg))
	}
}

// subscriptionPayload builds the broker's topic registration frame.
func subscriptionPayload(approvalKey string, sub config.SubscriptionConfig) map[string]interface{} {
	return map[string]interface{}{
		"header": map[string]string{
			"approval_key": approvalKey,
			"custtype":     "P",
			"tr_type":      "1",
			"content-type": "utf-8",
		},
		"body": map[string]interface{}{
			"input": map[string]string{
				"tr_id":  sub.TrID,
				"tr_key": sub.TrKey,
			},
		},
	}
}

// MarshalSubscription renders the registration frame as JSON. Exposed
// for diagnostics tooling and tests.
func MarshalSubscription(approvalKey string, sub config.SubscriptionConfig) (string, error) {
	data, err := json.Marshal(subscriptionPayload(approvalKey, sub))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
