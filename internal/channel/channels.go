package channel

import (
	"context"
	"sync"
	"time"

	"kisflow/config"
	"kisflow/logger"
	"kisflow/models"
)

type ChannelStats struct {
	RawSent     int64
	SignalSent  int64
	OrderSent   int64
	PersistSent int64
}

// Channels owns the four bounded queues connecting the pipeline
// stages: raw feed messages, strategy ticks, order intents and
// persistence records. All sends block when the target queue is full;
// backpressure is the flow-control mechanism, the only escape hatch is
// context cancellation.
type Channels struct {
	Raw     chan models.RawMessage
	Signal  chan models.Tick
	Order   chan models.OrderIntent
	Persist chan models.Record

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(cfg config.ChannelsConfig) *Channels {
	log := logger.GetLogger()

	c := &Channels{
		Raw:     make(chan models.RawMessage, cfg.RawBuffer),
		Signal:  make(chan models.Tick, cfg.SignalBuffer),
		Order:   make(chan models.OrderIntent, cfg.OrderBuffer),
		Persist: make(chan models.Record, cfg.PersistBuffer),
		log:     log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"raw_buffer":     cfg.RawBuffer,
		"signal_buffer":  cfg.SignalBuffer,
		"order_buffer":   cfg.OrderBuffer,
		"persist_buffer": cfg.PersistBuffer,
	}).Info("channels initialized")

	return c
}

// SendRaw enqueues a verbatim feed message. Blocks while the raw queue
// is full; the feed connection backing up is an accepted degradation.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawMessage) bool {
	select {
	case c.Raw <- msg:
		c.statsMutex.Lock()
		c.stats.RawSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channels) SendSignal(ctx context.Context, tick models.Tick) bool {
	select {
	case c.Signal <- tick:
		c.statsMutex.Lock()
		c.stats.SignalSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channels) SendOrder(ctx context.Context, intent models.OrderIntent) bool {
	select {
	case c.Order <- intent:
		c.statsMutex.Lock()
		c.stats.OrderSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channels) SendPersist(ctx context.Context, rec models.Record) bool {
	select {
	case c.Persist <- rec:
		c.statsMutex.Lock()
		c.stats.PersistSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	}
}

// WaitPersistDrained blocks until the persistence queue is empty or
// the timeout elapses. Returns false on timeout; the caller decides
// whether to proceed anyway.
func (c *Channels) WaitPersistDrained(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for len(c.Persist) > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
	return true
}

// StartMetricsReporting periodically logs queue depths and send
// counters until the context is cancelled.
func (c *Channels) StartMetricsReporting(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.logChannelStats()
			}
		}
	}()
}

func (c *Channels) logChannelStats() {
	c.statsMutex.RLock()
	stats := c.stats
	c.statsMutex.RUnlock()

	c.log.WithComponent("channels").WithFields(logger.Fields{
		"raw_sent":        stats.RawSent,
		"signal_sent":     stats.SignalSent,
		"order_sent":      stats.OrderSent,
		"persist_sent":    stats.PersistSent,
		"raw_len":         len(c.Raw),
		"raw_cap":         cap(c.Raw),
		"signal_len":      len(c.Signal),
		"signal_cap":      cap(c.Signal),
		"order_len":       len(c.Order),
		"order_cap":       cap(c.Order),
		"persist_len":     len(c.Persist),
		"persist_cap":     cap(c.Persist),
	}).Info("channel statistics")
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

func (c *Channels) Close() {
	close(c.Raw)
	close(c.Signal)
	close(c.Order)
	close(c.Persist)
	c.log.WithComponent("channels").Info("all channels closed")
}
